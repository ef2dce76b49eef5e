//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package value

import (
	"math"
	"time"

	"github.com/uber/aresquery/utils"
)

// DefaultBounds is the bounds string of a half-open range.
const DefaultBounds = "[)"

// Range is an interval over numbers or times. A nil endpoint is unbounded and its side is
// always open.
type Range struct {
	kind   Kind
	start  interface{}
	end    interface{}
	bounds string
}

// NewNumberRange creates a number range. Endpoints are nil, float64, or any Go number;
// infinite endpoints are treated as unbounded.
func NewNumberRange(start, end interface{}, bounds string) (*Range, error) {
	return newRange(NumberRangeKind, start, end, bounds)
}

// NewTimeRange creates a time range. Endpoints are nil or time.Time.
func NewTimeRange(start, end interface{}, bounds string) (*Range, error) {
	return newRange(TimeRangeKind, start, end, bounds)
}

// NewRange creates a range of the given range kind.
func NewRange(kind Kind, start, end interface{}, bounds string) (*Range, error) {
	return newRange(kind, start, end, bounds)
}

// MustNewRange is NewRange that panics on invalid input.
func MustNewRange(kind Kind, start, end interface{}, bounds string) *Range {
	r, err := newRange(kind, start, end, bounds)
	if err != nil {
		panic(err)
	}
	return r
}

func newRange(kind Kind, start, end interface{}, bounds string) (*Range, error) {
	if !kind.IsRange() {
		return nil, utils.ConstructionError("invalid range kind %s", kind)
	}
	if bounds == "" {
		bounds = DefaultBounds
	}
	if len(bounds) != 2 || (bounds[0] != '[' && bounds[0] != '(') || (bounds[1] != ']' && bounds[1] != ')') {
		return nil, utils.ConstructionError("invalid range bounds %q", bounds)
	}

	var err error
	if start, err = normalizeEndpoint(kind, start); err != nil {
		return nil, err
	}
	if end, err = normalizeEndpoint(kind, end); err != nil {
		return nil, err
	}

	b := []byte(bounds)
	if start == nil {
		b[0] = '('
	}
	if end == nil {
		b[1] = ')'
	}
	if start != nil && end != nil && Compare(start, end) > 0 {
		return nil, utils.ConstructionError("range start %s is after end %s", ToString(start), ToString(end))
	}
	return &Range{kind: kind, start: start, end: end, bounds: string(b)}, nil
}

func normalizeEndpoint(kind Kind, v interface{}) (interface{}, error) {
	v = Normalize(v)
	if v == nil {
		return nil, nil
	}
	switch kind {
	case NumberRangeKind:
		f, ok := v.(float64)
		if !ok {
			return nil, utils.ConstructionError("number range endpoint must be a number, got %v", v)
		}
		if math.IsNaN(f) {
			return nil, utils.ConstructionError("number range endpoint can not be NaN")
		}
		if math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil
	case TimeRangeKind:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := ParseTime(t)
			if err != nil {
				return nil, utils.ConstructionError("invalid time range endpoint %q", t)
			}
			return parsed, nil
		}
		return nil, utils.ConstructionError("time range endpoint must be a time, got %v", v)
	}
	return nil, utils.ConstructionError("invalid range kind %s", kind)
}

// Kind returns NUMBER_RANGE or TIME_RANGE.
func (r *Range) Kind() Kind {
	return r.kind
}

// Start returns the start endpoint, nil when unbounded.
func (r *Range) Start() interface{} {
	return r.start
}

// End returns the end endpoint, nil when unbounded.
func (r *Range) End() interface{} {
	return r.end
}

// Bounds returns the bounds string, one of "[)", "[]", "(]", "()".
func (r *Range) Bounds() string {
	return r.bounds
}

// OpenStart tells whether the start endpoint is excluded.
func (r *Range) OpenStart() bool {
	return r.bounds[0] == '('
}

// OpenEnd tells whether the end endpoint is excluded.
func (r *Range) OpenEnd() bool {
	return r.bounds[1] == ')'
}

// IsEmpty tells whether the range contains nothing.
func (r *Range) IsEmpty() bool {
	if r.start == nil || r.end == nil {
		return false
	}
	return Compare(r.start, r.end) == 0 && r.bounds != "[]"
}

// Degenerate tells whether the range contains exactly one point.
func (r *Range) Degenerate() bool {
	return r.start != nil && r.end != nil && Compare(r.start, r.end) == 0 && r.bounds == "[]"
}

// Contains tells whether v falls into the range. v may be an endpoint value or a range.
func (r *Range) Contains(v interface{}) bool {
	if other, ok := v.(*Range); ok {
		if other.kind != r.kind {
			return false
		}
		return compareStarts(r, other) <= 0 && compareEnds(r, other) >= 0
	}
	v = Normalize(v)
	if v == nil || KindOf(v).RangeKind() != r.kind {
		return false
	}
	if r.start != nil {
		c := Compare(v, r.start)
		if c < 0 || (c == 0 && r.OpenStart()) {
			return false
		}
	}
	if r.end != nil {
		c := Compare(v, r.end)
		if c > 0 || (c == 0 && r.OpenEnd()) {
			return false
		}
	}
	return true
}

// compareStarts orders start endpoints. Unbounded is smallest; at a tie a closed start
// sorts before an open one.
func compareStarts(a, b *Range) int {
	switch {
	case a.start == nil && b.start == nil:
		return 0
	case a.start == nil:
		return -1
	case b.start == nil:
		return 1
	}
	if c := Compare(a.start, b.start); c != 0 {
		return c
	}
	switch {
	case a.OpenStart() == b.OpenStart():
		return 0
	case a.OpenStart():
		return 1
	}
	return -1
}

// compareEnds orders end endpoints. Unbounded is largest; at a tie a closed end sorts
// after an open one.
func compareEnds(a, b *Range) int {
	switch {
	case a.end == nil && b.end == nil:
		return 0
	case a.end == nil:
		return 1
	case b.end == nil:
		return -1
	}
	if c := Compare(a.end, b.end); c != 0 {
		return c
	}
	switch {
	case a.OpenEnd() == b.OpenEnd():
		return 0
	case a.OpenEnd():
		return -1
	}
	return 1
}

func build(kind Kind, start interface{}, startBound byte, end interface{}, endBound byte) *Range {
	r, err := newRange(kind, start, end, string([]byte{startBound, endBound}))
	if err != nil {
		return nil
	}
	return r
}

// Intersect returns the overlap of two ranges, or nil when they do not overlap.
func (r *Range) Intersect(other *Range) *Range {
	if other == nil || other.kind != r.kind {
		return nil
	}
	startFrom, endFrom := r, r
	if compareStarts(other, r) > 0 {
		startFrom = other
	}
	if compareEnds(other, r) < 0 {
		endFrom = other
	}
	if startFrom.start != nil && endFrom.end != nil {
		c := Compare(startFrom.start, endFrom.end)
		if c > 0 || (c == 0 && (startFrom.OpenStart() || endFrom.OpenEnd())) {
			return nil
		}
	}
	return build(r.kind, startFrom.start, startFrom.bounds[0], endFrom.end, endFrom.bounds[1])
}

// Intersects tells whether two ranges share at least one point.
func (r *Range) Intersects(other *Range) bool {
	return r.Intersect(other) != nil
}

// Adjacent tells whether two ranges touch at an endpoint without overlapping, with
// exactly one of the touching sides closed.
func (r *Range) Adjacent(other *Range) bool {
	if other == nil || other.kind != r.kind {
		return false
	}
	touch := func(a, b *Range) bool {
		return a.end != nil && b.start != nil && Compare(a.end, b.start) == 0 && a.OpenEnd() != b.OpenStart()
	}
	return touch(r, other) || touch(other, r)
}

// Mergeable tells whether two ranges intersect or are adjacent.
func (r *Range) Mergeable(other *Range) bool {
	return r.Intersects(other) || r.Adjacent(other)
}

// Union returns the union of two mergeable ranges, or nil.
func (r *Range) Union(other *Range) *Range {
	if !r.Mergeable(other) {
		return nil
	}
	return r.Extend(other)
}

// Extend returns the smallest range covering both ranges, ignoring gaps.
func (r *Range) Extend(other *Range) *Range {
	if other == nil || other.kind != r.kind {
		return nil
	}
	startFrom, endFrom := r, r
	if compareStarts(other, r) < 0 {
		startFrom = other
	}
	if compareEnds(other, r) > 0 {
		endFrom = other
	}
	return build(r.kind, startFrom.start, startFrom.bounds[0], endFrom.end, endFrom.bounds[1])
}

// Subtract returns the pieces of r not covered by other.
func (r *Range) Subtract(other *Range) []*Range {
	if !r.Intersects(other) {
		return []*Range{r}
	}
	var pieces []*Range
	if compareStarts(r, other) < 0 {
		endBound := byte(')')
		if other.OpenStart() {
			endBound = ']'
		}
		if piece := build(r.kind, r.start, r.bounds[0], other.start, endBound); piece != nil && !piece.IsEmpty() {
			pieces = append(pieces, piece)
		}
	}
	if compareEnds(r, other) > 0 {
		startBound := byte('(')
		if other.OpenEnd() {
			startBound = '['
		}
		if piece := build(r.kind, other.end, startBound, r.end, r.bounds[1]); piece != nil && !piece.IsEmpty() {
			pieces = append(pieces, piece)
		}
	}
	return pieces
}

// Equals compares two ranges.
func (r *Range) Equals(other *Range) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.kind == other.kind && r.bounds == other.bounds && Equals(r.start, other.start) && Equals(r.end, other.end)
}

// String renders the range like [1,5).
func (r *Range) String() string {
	return string(r.bounds[0]) + ToString(r.start) + "," + ToString(r.end) + string(r.bounds[1])
}
