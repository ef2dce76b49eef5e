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
	"strconv"
	"strings"
	"time"
)

// Kind is the type tag of a value.
type Kind string

// Kinds of values.
const (
	UnknownKind     Kind = ""
	NullKind        Kind = "NULL"
	BooleanKind     Kind = "BOOLEAN"
	NumberKind      Kind = "NUMBER"
	StringKind      Kind = "STRING"
	TimeKind        Kind = "TIME"
	NumberRangeKind Kind = "NUMBER_RANGE"
	TimeRangeKind   Kind = "TIME_RANGE"
	DatasetKind     Kind = "DATASET"

	setPrefix = "SET/"
)

// ISOFormat is the canonical time format used for keys and serialization.
const ISOFormat = "2006-01-02T15:04:05.000Z"

// SetOf returns the set kind of the given element kind.
func SetOf(elementKind Kind) Kind {
	return Kind(setPrefix + string(elementKind))
}

// IsSet tells whether the kind is a set kind.
func (k Kind) IsSet() bool {
	return strings.HasPrefix(string(k), setPrefix)
}

// ElementKind returns the element kind of a set kind, or the kind itself.
func (k Kind) ElementKind() Kind {
	if k.IsSet() {
		return Kind(strings.TrimPrefix(string(k), setPrefix))
	}
	return k
}

// IsRange tells whether the kind is one of the range kinds.
func (k Kind) IsRange() bool {
	return k == NumberRangeKind || k == TimeRangeKind
}

// RangeKind returns the range kind whose endpoints have kind k.
func (k Kind) RangeKind() Kind {
	switch k {
	case NumberKind:
		return NumberRangeKind
	case TimeKind:
		return TimeRangeKind
	}
	return k
}

// EndpointKind returns the kind of the endpoints of a range kind.
func (k Kind) EndpointKind() Kind {
	switch k {
	case NumberRangeKind:
		return NumberKind
	case TimeRangeKind:
		return TimeKind
	}
	return k
}

// Compatible tells whether values of the two kinds can be compared with each other.
// Unknown and null kinds are compatible with everything.
func Compatible(a, b Kind) bool {
	if a == UnknownKind || b == UnknownKind || a == NullKind || b == NullKind {
		return true
	}
	return a == b
}

// Lazy is a value held by a remote system and only computed when read, such as a source
// stored in a dataset column.
type Lazy interface {
	Kind() Kind
	Attributes() []AttributeInfo
}

// KindOf returns the kind of a runtime value. Values of foreign types report UnknownKind.
func KindOf(v interface{}) Kind {
	switch t := v.(type) {
	case nil:
		return NullKind
	case bool:
		return BooleanKind
	case float64:
		return NumberKind
	case string:
		return StringKind
	case time.Time:
		return TimeKind
	case *Range:
		return t.Kind()
	case *Set:
		return t.Kind()
	case *Dataset:
		return DatasetKind
	case Lazy:
		return t.Kind()
	}
	return UnknownKind
}

// Normalize converts Go numeric types into float64 and leaves other values untouched.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	}
	return v
}

// Equals compares two values structurally.
func Equals(a, b interface{}) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool, string:
		return a == b
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case *Range:
		y, ok := b.(*Range)
		return ok && x.Equals(y)
	case *Set:
		y, ok := b.(*Set)
		return ok && x.Equals(y)
	case *Dataset:
		y, ok := b.(*Dataset)
		return ok && x.Equals(y)
	}
	return false
}

var kindRank = map[Kind]int{
	NullKind:        0,
	BooleanKind:     1,
	NumberKind:      2,
	TimeKind:        3,
	StringKind:      4,
	NumberRangeKind: 5,
	TimeRangeKind:   6,
}

// Compare orders two values. Null sorts before everything, values of different kinds
// are ordered by kind.
func Compare(a, b interface{}) int {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		ra, oka := kindRank[ka]
		rb, okb := kindRank[kb]
		if !oka {
			ra = len(kindRank)
		}
		if !okb {
			rb = len(kindRank)
		}
		if ra != rb {
			return ra - rb
		}
		return strings.Compare(string(ka), string(kb))
	}

	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		y := b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		}
		return 0
	case *Range:
		y := b.(*Range)
		if c := compareStarts(x, y); c != 0 {
			return c
		}
		return compareEnds(x, y)
	}
	return strings.Compare(ToString(a), ToString(b))
}

// ToString renders a value into its canonical string form, also used as a grouping key.
func ToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return FormatNumber(t)
	case string:
		return t
	case time.Time:
		return FormatTime(t)
	case *Range:
		return t.String()
	case *Set:
		return t.String()
	case *Dataset:
		return t.String()
	}
	return ""
}

// FormatNumber renders a number without trailing zeros.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatTime renders a time as an ISO-8601 UTC string with milliseconds.
func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOFormat)
}

// ParseTime parses an ISO-8601 time string.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, e := time.ParseInLocation(layout, s, time.UTC); e == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
