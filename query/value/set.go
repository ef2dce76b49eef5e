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
	"sort"
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/uber/aresquery/utils"
)

// Set is an immutable, insertion ordered, homogeneous collection of values keyed by their
// canonical string. Sets of ranges are kept as a sorted list of disjoint, non-adjacent
// ranges.
type Set struct {
	elementKind Kind
	elements    *linkedhashmap.Map
}

// NewSet creates a set of the given element kind. Null elements are allowed.
func NewSet(elementKind Kind, elements []interface{}) (*Set, error) {
	if elementKind.IsSet() || elementKind == DatasetKind {
		return nil, utils.ConstructionError("invalid set element kind %s", elementKind)
	}
	m := linkedhashmap.New()
	for _, e := range elements {
		e = Normalize(e)
		if e != nil && elementKind != UnknownKind && KindOf(e) != elementKind {
			return nil, utils.ConstructionError("set of %s can not hold %s", elementKind, KindOf(e))
		}
		if elementKind == UnknownKind && e != nil {
			elementKind = KindOf(e)
		}
		m.Put(ToString(e), e)
	}
	s := &Set{elementKind: elementKind, elements: m}
	if elementKind.IsRange() {
		s = s.unifyRanges()
	}
	return s, nil
}

// MustNewSet is NewSet that panics on invalid input.
func MustNewSet(elementKind Kind, elements ...interface{}) *Set {
	s, err := NewSet(elementKind, elements)
	if err != nil {
		panic(err)
	}
	return s
}

// SetFromValue wraps a scalar or a range into a single element set. Sets are returned as is.
func SetFromValue(v interface{}) *Set {
	if s, ok := v.(*Set); ok {
		return s
	}
	s, err := NewSet(KindOf(v), []interface{}{v})
	if err != nil {
		return nil
	}
	return s
}

func fromList(elementKind Kind, elements []interface{}) *Set {
	m := linkedhashmap.New()
	for _, e := range elements {
		m.Put(ToString(e), e)
	}
	return &Set{elementKind: elementKind, elements: m}
}

// unifyRanges sorts range elements and merges the mergeable ones.
func (s *Set) unifyRanges() *Set {
	ranges := make([]*Range, 0, s.elements.Size())
	for _, e := range s.elements.Values() {
		if r, ok := e.(*Range); ok && !r.IsEmpty() {
			ranges = append(ranges, r)
		}
	}
	sort.SliceStable(ranges, func(i, j int) bool {
		return compareStarts(ranges[i], ranges[j]) < 0
	})
	var merged []interface{}
	var current *Range
	for _, r := range ranges {
		if current == nil {
			current = r
			continue
		}
		if u := current.Union(r); u != nil {
			current = u
			continue
		}
		merged = append(merged, current)
		current = r
	}
	if current != nil {
		merged = append(merged, current)
	}
	return fromList(s.elementKind, merged)
}

// Kind returns the set kind, SET/<element kind>.
func (s *Set) Kind() Kind {
	return SetOf(s.elementKind)
}

// ElementKind returns the kind of the elements.
func (s *Set) ElementKind() Kind {
	return s.elementKind
}

// Elements returns the elements in insertion order.
func (s *Set) Elements() []interface{} {
	return s.elements.Values()
}

// Size returns the number of elements.
func (s *Set) Size() int {
	return s.elements.Size()
}

// Empty tells whether the set holds no element.
func (s *Set) Empty() bool {
	return s.elements.Empty()
}

// Contains tells whether v is a member. For range sets v may be an endpoint value or a
// range, and membership means containment by one of the ranges. A set argument is
// contained when all its elements are.
func (s *Set) Contains(v interface{}) bool {
	v = Normalize(v)
	if other, ok := v.(*Set); ok {
		for _, e := range other.Elements() {
			if !s.Contains(e) {
				return false
			}
		}
		return true
	}
	if s.elementKind.IsRange() && v != nil {
		for _, e := range s.elements.Values() {
			if e.(*Range).Contains(v) {
				return true
			}
		}
		return false
	}
	_, found := s.elements.Get(ToString(v))
	return found
}

// Add returns a new set including v.
func (s *Set) Add(v interface{}) (*Set, error) {
	v = Normalize(v)
	kind := KindOf(v)
	if v != nil && s.elementKind != UnknownKind && kind != s.elementKind {
		return nil, utils.ConstructionError("can not add %s to set of %s", kind, s.elementKind)
	}
	elementKind := s.elementKind
	if elementKind == UnknownKind {
		elementKind = kind
	}
	return NewSet(elementKind, append(s.Elements(), v))
}

// Remove returns a new set without v. For range sets the removed range is subtracted from
// the members.
func (s *Set) Remove(v interface{}) *Set {
	v = Normalize(v)
	if r, ok := v.(*Range); ok && s.elementKind.IsRange() {
		var rest []interface{}
		for _, e := range s.elements.Values() {
			for _, piece := range e.(*Range).Subtract(r) {
				rest = append(rest, piece)
			}
		}
		return fromList(s.elementKind, rest)
	}
	key := ToString(v)
	var rest []interface{}
	for _, k := range s.elements.Keys() {
		if k.(string) == key {
			continue
		}
		e, _ := s.elements.Get(k)
		rest = append(rest, e)
	}
	return fromList(s.elementKind, rest)
}

// Union returns the union of two sets of the same element kind, or nil.
func (s *Set) Union(other *Set) *Set {
	kind, ok := unionKind(s.elementKind, other.elementKind)
	if !ok {
		return nil
	}
	u, err := NewSet(kind, append(s.Elements(), other.Elements()...))
	if err != nil {
		return nil
	}
	return u
}

// Intersect returns the intersection of two sets of the same element kind, or nil.
func (s *Set) Intersect(other *Set) *Set {
	kind, ok := unionKind(s.elementKind, other.elementKind)
	if !ok {
		return nil
	}
	var kept []interface{}
	if kind.IsRange() {
		for _, a := range s.elements.Values() {
			for _, b := range other.elements.Values() {
				if r := a.(*Range).Intersect(b.(*Range)); r != nil {
					kept = append(kept, r)
				}
			}
		}
		i, err := NewSet(kind, kept)
		if err != nil {
			return nil
		}
		return i
	}
	for _, e := range s.elements.Values() {
		if other.Contains(e) {
			kept = append(kept, e)
		}
	}
	return fromList(kind, kept)
}

func unionKind(a, b Kind) (Kind, bool) {
	switch {
	case a == b:
		return a, true
	case a == UnknownKind || a == NullKind:
		return b, true
	case b == UnknownKind || b == NullKind:
		return a, true
	}
	return UnknownKind, false
}

// Promote converts a set of numbers or times into a set of degenerate ranges.
func (s *Set) Promote() *Set {
	rangeKind := s.elementKind.RangeKind()
	if rangeKind == s.elementKind {
		return s
	}
	ranges := make([]interface{}, 0, s.Size())
	for _, e := range s.elements.Values() {
		if e == nil {
			continue
		}
		ranges = append(ranges, MustNewRange(rangeKind, e, e, "[]"))
	}
	return MustNewSet(rangeKind, ranges...)
}

// Simplify unwraps a single element set into its element, and a range set whose members
// are all single points back into a set of points.
func (s *Set) Simplify() interface{} {
	if s.elementKind.IsRange() {
		allPoints := true
		for _, e := range s.elements.Values() {
			if !e.(*Range).Degenerate() {
				allPoints = false
				break
			}
		}
		if allPoints && !s.Empty() {
			points := make([]interface{}, 0, s.Size())
			for _, e := range s.elements.Values() {
				points = append(points, e.(*Range).Start())
			}
			return MustNewSet(s.elementKind.EndpointKind(), points...).Simplify()
		}
	}
	if s.Size() == 1 {
		return s.elements.Values()[0]
	}
	return s
}

// Equals compares two sets ignoring element order.
func (s *Set) Equals(other *Set) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Size() != other.Size() {
		return false
	}
	if s.Size() > 0 && s.elementKind != other.elementKind {
		return false
	}
	for _, k := range s.elements.Keys() {
		if _, found := other.elements.Get(k); !found {
			return false
		}
	}
	return true
}

// String renders the set like {a,b}.
func (s *Set) String() string {
	parts := make([]string, 0, s.Size())
	for _, e := range s.elements.Values() {
		parts = append(parts, ToString(e))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// GeneralUnion unions two values that are sets, ranges or scalars of compatible kinds,
// promoting points into ranges when one side holds ranges. The result is simplified.
// ok is false when the values can not be combined.
func GeneralUnion(a, b interface{}) (result interface{}, ok bool) {
	sa, sb, ok := alignSets(a, b)
	if !ok {
		return nil, false
	}
	u := sa.Union(sb)
	if u == nil {
		return nil, false
	}
	return u.Simplify(), true
}

// GeneralIntersect is GeneralUnion for intersections.
func GeneralIntersect(a, b interface{}) (result interface{}, ok bool) {
	sa, sb, ok := alignSets(a, b)
	if !ok {
		return nil, false
	}
	i := sa.Intersect(sb)
	if i == nil {
		return nil, false
	}
	return i.Simplify(), true
}

func alignSets(a, b interface{}) (*Set, *Set, bool) {
	sa, sb := SetFromValue(a), SetFromValue(b)
	if sa == nil || sb == nil {
		return nil, nil, false
	}
	ka, kb := sa.elementKind, sb.elementKind
	if ka != kb && ka != UnknownKind && kb != UnknownKind && ka != NullKind && kb != NullKind {
		switch {
		case ka.IsRange() && kb.RangeKind() == ka:
			sb = sb.Promote()
		case kb.IsRange() && ka.RangeKind() == kb:
			sa = sa.Promote()
		default:
			return nil, nil, false
		}
	}
	return sa, sb, true
}
