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

package expr

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

var regexpCache sync.Map

// CompileRegexp compiles a regular expression once and caches it.
func CompileRegexp(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexpCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, utils.ConstructionError("invalid regular expression %q", pattern)
	}
	regexpCache.Store(pattern, re)
	return re, nil
}

// IsScalarAction tells whether the action maps one value to another without looking at
// rows, so that ComputeScalar can evaluate it.
func IsScalarAction(a Action) bool {
	return !Nests(a) && a.Op() != OpLimit && a.Op() != OpSelect && a.Op() != OpJoin
}

// ComputeScalar evaluates a scalar action on an input value, given the values of its
// operands in the order of Operands.
func ComputeScalar(a Action, input interface{}, operands []interface{}) (interface{}, error) {
	switch t := a.(type) {
	case *ArithmeticAction:
		x, xok := input.(float64)
		y, yok := operands[0].(float64)
		if !xok || !yok {
			return nil, nil
		}
		switch t.Operator {
		case OpAdd:
			return x + y, nil
		case OpSubtract:
			return x - y, nil
		case OpMultiply:
			return x * y, nil
		case OpDivide:
			return x / y, nil
		case OpPower:
			return math.Pow(x, y), nil
		}
	case *ComparisonAction:
		return compare(t.Operator, input, operands[0]), nil
	case *BooleanAction:
		x, _ := input.(bool)
		y, _ := operands[0].(bool)
		if t.Operator == OpAnd {
			return x && y, nil
		}
		return x || y, nil
	case *NotAction:
		x, _ := input.(bool)
		return !x, nil
	case *ConcatAction:
		x, xok := input.(string)
		y, yok := operands[0].(string)
		if !xok || !yok {
			return nil, nil
		}
		return x + y, nil
	case *ContainsAction:
		x, xok := input.(string)
		y, yok := operands[0].(string)
		if !xok || !yok {
			return false, nil
		}
		if t.IgnoreCase {
			return strings.Contains(strings.ToLower(x), strings.ToLower(y)), nil
		}
		return strings.Contains(x, y), nil
	case *MatchAction:
		x, ok := input.(string)
		if !ok {
			return false, nil
		}
		re, err := CompileRegexp(t.Regexp)
		if err != nil {
			return nil, err
		}
		return re.MatchString(x), nil
	case *SubstrAction:
		x, ok := input.(string)
		if !ok {
			return nil, nil
		}
		runes := []rune(x)
		start := clamp(t.Position, 0, len(runes))
		end := clamp(t.Position+t.Length, start, len(runes))
		return string(runes[start:end]), nil
	case *ExtractAction:
		x, ok := input.(string)
		if !ok {
			return nil, nil
		}
		re, err := CompileRegexp(t.Regexp)
		if err != nil {
			return nil, err
		}
		match := re.FindStringSubmatch(x)
		switch {
		case match == nil:
			return nil, nil
		case len(match) > 1:
			return match[1], nil
		}
		return match[0], nil
	case *LengthAction:
		x, ok := input.(string)
		if !ok {
			return nil, nil
		}
		return float64(len([]rune(x))), nil
	case *FallbackAction:
		if input == nil {
			return operands[0], nil
		}
		return input, nil
	case *AbsoluteAction:
		x, ok := input.(float64)
		if !ok {
			return nil, nil
		}
		return math.Abs(x), nil
	case *TimeBucketAction:
		x, loc, ok, err := timeInput(input, t.Timezone)
		if !ok || err != nil {
			return nil, err
		}
		start, end, err := t.Duration.Bucket(x, loc)
		if err != nil {
			return nil, err
		}
		return value.NewTimeRange(start, end, value.DefaultBounds)
	case *TimeFloorAction:
		x, loc, ok, err := timeInput(input, t.Timezone)
		if !ok || err != nil {
			return nil, err
		}
		return t.Duration.Floor(x, loc)
	case *TimeShiftAction:
		x, loc, ok, err := timeInput(input, t.Timezone)
		if !ok || err != nil {
			return nil, err
		}
		return t.Duration.Shift(x, loc, t.Step), nil
	case *TimeRangeAction:
		x, loc, ok, err := timeInput(input, t.Timezone)
		if !ok || err != nil {
			return nil, err
		}
		other := t.Duration.Shift(x, loc, t.Step)
		if other.Before(x) {
			return value.NewTimeRange(other, x, value.DefaultBounds)
		}
		return value.NewTimeRange(x, other, value.DefaultBounds)
	case *TimePartAction:
		x, loc, ok, err := timeInput(input, t.Timezone)
		if !ok || err != nil {
			return nil, err
		}
		return common.TimePart(x, t.Part, loc)
	case *NumberBucketAction:
		x, ok := input.(float64)
		if !ok {
			return nil, nil
		}
		return BucketNumber(x, t.Size, t.Offset)
	}
	return nil, utils.StackError(nil, "%s is not a scalar action", a.Op())
}

// BucketNumber returns the range of width size, shifted by offset, that contains x.
func BucketNumber(x, size, offset float64) (*value.Range, error) {
	start := math.Floor((x-offset)/size)*size + offset
	return value.NewNumberRange(start, start+size, value.DefaultBounds)
}

func timeInput(input interface{}, timezone string) (time.Time, *time.Location, bool, error) {
	x, ok := input.(time.Time)
	if !ok {
		return time.Time{}, nil, false, nil
	}
	loc, err := common.ParseTimezone(timezone)
	if err != nil {
		return time.Time{}, nil, false, err
	}
	return x, loc, true, nil
}

func clamp(n, low, high int) int {
	if n < low {
		return low
	}
	if n > high {
		return high
	}
	return n
}

func compare(op Op, x, y interface{}) bool {
	switch op {
	case OpIs:
		return value.Equals(x, y)
	case OpIn:
		switch container := y.(type) {
		case *value.Set:
			return container.Contains(x)
		case *value.Range:
			return container.Contains(x)
		case nil:
			return x == nil
		}
		return value.Equals(x, y)
	}
	if x == nil || y == nil || value.KindOf(x) != value.KindOf(y) {
		return false
	}
	c := value.Compare(x, y)
	switch op {
	case OpLessThan:
		return c < 0
	case OpLessThanOrEqual:
		return c <= 0
	case OpGreaterThan:
		return c > 0
	case OpGreaterThanOrEqual:
		return c >= 0
	}
	return false
}
