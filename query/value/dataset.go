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
	"strconv"
	"strings"
	"sync"

	"github.com/caio/go-tdigest/v4"
	"github.com/uber/aresquery/utils"
)

// Sort directions.
const (
	Ascending  = "ascending"
	Descending = "descending"
)

// Datum is one row of a dataset, keyed by column name.
type Datum map[string]interface{}

// Copy returns a shallow copy of the row.
func (d Datum) Copy() Datum {
	c := make(Datum, len(d)+1)
	for k, v := range d {
		c[k] = v
	}
	return c
}

// AttributeInfo describes one column of a dataset.
type AttributeInfo struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"type" yaml:"type"`
	// Special marks columns a backend treats differently, e.g. unique or histogram.
	Special string `json:"special,omitempty" yaml:"special,omitempty"`
	// Datasetype describes the nested columns of a DATASET column.
	Datasetype []AttributeInfo `json:"datasetType,omitempty" yaml:"-"`
}

// Dataset is an immutable, ordered collection of rows. Every transformation returns a new
// dataset and rows are never mutated in place.
type Dataset struct {
	rows       []Datum
	keys       []string
	suppressed bool

	attributesOnce sync.Once
	attributes     []AttributeInfo
}

// NewDataset creates a dataset over the given rows.
func NewDataset(rows []Datum) *Dataset {
	return &Dataset{rows: rows}
}

// NewDatasetWithAttributes creates a dataset whose column description is already known.
func NewDatasetWithAttributes(rows []Datum, attributes []AttributeInfo) *Dataset {
	ds := &Dataset{rows: rows}
	ds.attributesOnce.Do(func() {
		ds.attributes = attributes
	})
	return ds
}

func (ds *Dataset) derive(rows []Datum) *Dataset {
	return &Dataset{rows: rows, keys: ds.keys, suppressed: ds.suppressed}
}

// WithKeys returns a dataset declaring the given key columns.
func (ds *Dataset) WithKeys(keys ...string) *Dataset {
	out := ds.derive(ds.rows)
	out.keys = keys
	return out
}

// Suppressed returns a dataset excluded from default serialization. Used for the nested
// datasets carrying group membership.
func (ds *Dataset) Suppressed() *Dataset {
	out := ds.derive(ds.rows)
	out.suppressed = true
	return out
}

// IsSuppressed tells whether the dataset is excluded from default serialization.
func (ds *Dataset) IsSuppressed() bool {
	return ds.suppressed
}

// Rows returns the rows. Callers must not mutate them.
func (ds *Dataset) Rows() []Datum {
	return ds.rows
}

// Keys returns the declared key columns.
func (ds *Dataset) Keys() []string {
	return ds.keys
}

// Len returns the number of rows.
func (ds *Dataset) Len() int {
	return len(ds.rows)
}

// Attributes returns the column descriptions, computed from the first row carrying each
// column on first use.
func (ds *Dataset) Attributes() []AttributeInfo {
	ds.attributesOnce.Do(func() {
		ds.attributes = inferAttributes(ds.rows)
	})
	return ds.attributes
}

// Attribute looks up one column description.
func (ds *Dataset) Attribute(name string) (AttributeInfo, bool) {
	for _, a := range ds.Attributes() {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeInfo{}, false
}

func inferAttributes(rows []Datum) []AttributeInfo {
	var attributes []AttributeInfo
	index := map[string]int{}
	for _, row := range rows {
		names := make([]string, 0, len(row))
		for name := range row {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := row[name]
			kind := KindOf(v)
			i, seen := index[name]
			if seen {
				if attributes[i].Kind == NullKind && kind != NullKind {
					attributes[i] = attributeOf(name, v)
				}
				continue
			}
			if kind == UnknownKind {
				continue
			}
			index[name] = len(attributes)
			attributes = append(attributes, attributeOf(name, v))
		}
	}
	return attributes
}

func attributeOf(name string, v interface{}) AttributeInfo {
	a := AttributeInfo{Name: name, Kind: KindOf(v)}
	switch nested := v.(type) {
	case *Dataset:
		a.Datasetype = nested.Attributes()
	case Lazy:
		if a.Kind == DatasetKind {
			a.Datasetype = nested.Attributes()
		}
	}
	return a
}

// RowFn computes a value from a row.
type RowFn func(row Datum) (interface{}, error)

// Filter keeps the rows for which fn returns true.
func (ds *Dataset) Filter(fn RowFn) (*Dataset, error) {
	kept := make([]Datum, 0, len(ds.rows))
	for _, row := range ds.rows {
		v, err := fn(row)
		if err != nil {
			return nil, err
		}
		if b, ok := v.(bool); ok && b {
			kept = append(kept, row)
		}
	}
	return ds.derive(kept), nil
}

// Apply adds or replaces the column name with the value of fn on every row.
func (ds *Dataset) Apply(name string, fn RowFn) (*Dataset, error) {
	values := make([]interface{}, len(ds.rows))
	for i, row := range ds.rows {
		v, err := fn(row)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return ds.ApplyValues(name, values)
}

// ApplyValues adds or replaces the column name with precomputed values, one per row.
func (ds *Dataset) ApplyValues(name string, values []interface{}) (*Dataset, error) {
	if len(values) != len(ds.rows) {
		return nil, utils.StackError(nil, "expected %d values for column %s, got %d", len(ds.rows), name, len(values))
	}
	rows := make([]Datum, len(ds.rows))
	for i, row := range ds.rows {
		c := row.Copy()
		c[name] = values[i]
		rows[i] = c
	}
	return ds.derive(rows), nil
}

// Sort orders the rows by the value of fn, stable. Nulls come first when ascending and
// last when descending.
func (ds *Dataset) Sort(fn RowFn, direction string) (*Dataset, error) {
	type keyed struct {
		key interface{}
		row Datum
	}
	items := make([]keyed, len(ds.rows))
	for i, row := range ds.rows {
		v, err := fn(row)
		if err != nil {
			return nil, err
		}
		items[i] = keyed{key: v, row: row}
	}
	descending := direction == Descending
	sort.SliceStable(items, func(i, j int) bool {
		c := Compare(items[i].key, items[j].key)
		if descending {
			return c > 0
		}
		return c < 0
	})
	rows := make([]Datum, len(items))
	for i, item := range items {
		rows[i] = item.row
	}
	return ds.derive(rows), nil
}

// Limit keeps at most n rows. The same dataset is returned when it is already short enough.
func (ds *Dataset) Limit(n int) *Dataset {
	if n < 0 || len(ds.rows) <= n {
		return ds
	}
	return ds.derive(ds.rows[:n])
}

// Select keeps only the named columns.
func (ds *Dataset) Select(names []string) *Dataset {
	rows := make([]Datum, len(ds.rows))
	for i, row := range ds.rows {
		c := make(Datum, len(names))
		for _, name := range names {
			if v, ok := row[name]; ok {
				c[name] = v
			}
		}
		rows[i] = c
	}
	out := ds.derive(rows)
	var keys []string
	for _, k := range ds.keys {
		for _, name := range names {
			if k == name {
				keys = append(keys, k)
			}
		}
	}
	out.keys = keys
	return out
}

// SplitKey is one grouping column of a split.
type SplitKey struct {
	Name string
	Fn   RowFn
}

// Split groups rows by the values of the split keys. The result holds one row per
// distinct key combination in first appearance order, with the key columns and, when
// dataName is not empty, a suppressed nested dataset of the member rows.
func (ds *Dataset) Split(splits []SplitKey, dataName string) (*Dataset, error) {
	type group struct {
		key  Datum
		rows []Datum
	}
	var groups []*group
	index := map[string]*group{}
	for _, row := range ds.rows {
		key := make(Datum, len(splits)+1)
		parts := make([]string, len(splits))
		for i, split := range splits {
			v, err := split.Fn(row)
			if err != nil {
				return nil, err
			}
			key[split.Name] = v
			parts[i] = strconv.Quote(keyOf(v))
		}
		groupKey := strings.Join(parts, "\x00")
		g, ok := index[groupKey]
		if !ok {
			g = &group{key: key}
			index[groupKey] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, row)
	}

	rows := make([]Datum, len(groups))
	keys := make([]string, len(splits))
	for i, split := range splits {
		keys[i] = split.Name
	}
	for i, g := range groups {
		if dataName != "" {
			g.key[dataName] = (&Dataset{rows: g.rows}).Suppressed()
		}
		rows[i] = g.key
	}
	return &Dataset{rows: rows, keys: keys}, nil
}

// Count returns the number of rows.
func (ds *Dataset) Count() float64 {
	return float64(len(ds.rows))
}

// Sum adds the numeric values of fn. Null values are skipped.
func (ds *Dataset) Sum(fn RowFn) (interface{}, error) {
	sum := 0.0
	for _, row := range ds.rows {
		v, err := fn(row)
		if err != nil {
			return nil, err
		}
		if f, ok := Normalize(v).(float64); ok {
			sum += f
		}
	}
	return sum, nil
}

// Min returns the smallest non null value of fn, or nil.
func (ds *Dataset) Min(fn RowFn) (interface{}, error) {
	return ds.extreme(fn, -1)
}

// Max returns the largest non null value of fn, or nil.
func (ds *Dataset) Max(fn RowFn) (interface{}, error) {
	return ds.extreme(fn, 1)
}

func (ds *Dataset) extreme(fn RowFn, sign int) (interface{}, error) {
	var best interface{}
	for _, row := range ds.rows {
		v, err := fn(row)
		if err != nil {
			return nil, err
		}
		v = Normalize(v)
		if v == nil {
			continue
		}
		if best == nil || Compare(v, best)*sign > 0 {
			best = v
		}
	}
	return best, nil
}

// Average returns the mean of the numeric values of fn, or nil when the dataset is empty.
func (ds *Dataset) Average(fn RowFn) (interface{}, error) {
	if len(ds.rows) == 0 {
		return nil, nil
	}
	sum, err := ds.Sum(fn)
	if err != nil {
		return nil, err
	}
	return sum.(float64) / float64(len(ds.rows)), nil
}

// CountDistinct returns the number of distinct values of fn.
func (ds *Dataset) CountDistinct(fn RowFn) (interface{}, error) {
	seen := map[string]struct{}{}
	for _, row := range ds.rows {
		v, err := fn(row)
		if err != nil {
			return nil, err
		}
		v = Normalize(v)
		seen[keyOf(v)] = struct{}{}
	}
	return float64(len(seen)), nil
}

// Quantile estimates the p-quantile of the numeric values of fn with a t-digest.
func (ds *Dataset) Quantile(fn RowFn, p float64) (interface{}, error) {
	digest, err := tdigest.New(tdigest.Compression(100))
	if err != nil {
		return nil, utils.StackError(err, "failed to create digest")
	}
	n := 0
	for _, row := range ds.rows {
		v, err := fn(row)
		if err != nil {
			return nil, err
		}
		f, ok := Normalize(v).(float64)
		if !ok {
			continue
		}
		if err := digest.Add(f); err != nil {
			return nil, utils.StackError(err, "failed to add %v to digest", f)
		}
		n++
	}
	if n == 0 {
		return nil, nil
	}
	return digest.Quantile(p), nil
}

// keyOf identifies a value by its kind and string form, so 1 and "1" stay apart.
func keyOf(v interface{}) string {
	return string(KindOf(v)) + ":" + ToString(v)
}

// Join merges the rows of two datasets on their key columns. Each side must declare
// exactly one key; on column conflicts the right side wins, unmatched rows pass through.
func (ds *Dataset) Join(other *Dataset) (*Dataset, error) {
	if len(ds.keys) != 1 || len(other.keys) != 1 {
		return nil, utils.ConstructionError("join needs exactly one key on each side, got %d and %d",
			len(ds.keys), len(other.keys))
	}
	leftKey, rightKey := ds.keys[0], other.keys[0]
	rightIndex := map[string][]Datum{}
	var rightOrder []string
	for _, row := range other.rows {
		k := keyOf(row[rightKey])
		if _, ok := rightIndex[k]; !ok {
			rightOrder = append(rightOrder, k)
		}
		rightIndex[k] = append(rightIndex[k], row)
	}

	matched := map[string]bool{}
	var rows []Datum
	for _, left := range ds.rows {
		k := keyOf(left[leftKey])
		rights, ok := rightIndex[k]
		if !ok {
			rows = append(rows, left)
			continue
		}
		matched[k] = true
		for _, right := range rights {
			merged := left.Copy()
			for name, v := range right {
				if name == rightKey {
					continue
				}
				merged[name] = v
			}
			rows = append(rows, merged)
		}
	}
	for _, k := range rightOrder {
		if matched[k] {
			continue
		}
		for _, right := range rightIndex[k] {
			row := right.Copy()
			if rightKey != leftKey {
				row[leftKey] = row[rightKey]
				delete(row, rightKey)
			}
			rows = append(rows, row)
		}
	}
	return &Dataset{rows: rows, keys: ds.keys}, nil
}

// Equals compares two datasets row by row.
func (ds *Dataset) Equals(other *Dataset) bool {
	if ds == nil || other == nil {
		return ds == other
	}
	if len(ds.rows) != len(other.rows) {
		return false
	}
	for i, row := range ds.rows {
		o := other.rows[i]
		if len(row) != len(o) {
			return false
		}
		for k, v := range row {
			ov, ok := o[k]
			if !ok || !Equals(v, ov) {
				return false
			}
		}
	}
	return true
}

// String renders a short description of the dataset.
func (ds *Dataset) String() string {
	return "Dataset(" + strconv.Itoa(len(ds.rows)) + ")"
}

