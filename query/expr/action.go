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
	"fmt"
	"strconv"
	"strings"

	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/value"
)

// Op names an action.
type Op string

// Action operators.
const (
	OpAdd                Op = "add"
	OpSubtract           Op = "subtract"
	OpMultiply           Op = "multiply"
	OpDivide             Op = "divide"
	OpPower              Op = "power"
	OpIs                 Op = "is"
	OpLessThan           Op = "lessThan"
	OpLessThanOrEqual    Op = "lessThanOrEqual"
	OpGreaterThan        Op = "greaterThan"
	OpGreaterThanOrEqual Op = "greaterThanOrEqual"
	OpIn                 Op = "in"
	OpAnd                Op = "and"
	OpOr                 Op = "or"
	OpNot                Op = "not"
	OpConcat             Op = "concat"
	OpContains           Op = "contains"
	OpMatch              Op = "match"
	OpSubstr             Op = "substr"
	OpExtract            Op = "extract"
	OpLength             Op = "length"
	OpFallback           Op = "fallback"
	OpAbsolute           Op = "absolute"
	OpTimeBucket         Op = "timeBucket"
	OpTimeFloor          Op = "timeFloor"
	OpTimeShift          Op = "timeShift"
	OpTimeRange          Op = "timeRange"
	OpTimePart           Op = "timePart"
	OpNumberBucket       Op = "numberBucket"
	OpFilter             Op = "filter"
	OpSplit              Op = "split"
	OpApply              Op = "apply"
	OpSort               Op = "sort"
	OpLimit              Op = "limit"
	OpSelect             Op = "select"
	OpCount              Op = "count"
	OpSum                Op = "sum"
	OpMin                Op = "min"
	OpMax                Op = "max"
	OpAverage            Op = "average"
	OpCountDistinct      Op = "countDistinct"
	OpQuantile           Op = "quantile"
	OpJoin               Op = "join"
)

// Action is one step of a chain. The set of variants is closed.
type Action interface {
	action()
	Op() Op
	String() string
}

// ArithmeticAction is add, subtract, multiply, divide or power.
type ArithmeticAction struct {
	Operator   Op
	Expression Expression
}

// ComparisonAction is is, in, lessThan, lessThanOrEqual, greaterThan or greaterThanOrEqual.
type ComparisonAction struct {
	Operator   Op
	Expression Expression
}

// BooleanAction is and or or.
type BooleanAction struct {
	Operator   Op
	Expression Expression
}

// NotAction negates a boolean.
type NotAction struct{}

// ConcatAction appends a string.
type ConcatAction struct {
	Expression Expression
}

// ContainsAction tests for a substring.
type ContainsAction struct {
	Expression Expression
	IgnoreCase bool
}

// MatchAction tests a string against a regular expression.
type MatchAction struct {
	Regexp string
}

// SubstrAction takes Length characters from Position, zero based.
type SubstrAction struct {
	Position int
	Length   int
}

// ExtractAction returns the first capture group of a regular expression, or the whole
// match when there is no group.
type ExtractAction struct {
	Regexp string
}

// LengthAction returns the number of characters of a string.
type LengthAction struct{}

// FallbackAction replaces null with the value of its expression.
type FallbackAction struct {
	Expression Expression
}

// AbsoluteAction returns the absolute value of a number.
type AbsoluteAction struct{}

// TimeBucketAction maps a time to the bucket of Duration containing it.
type TimeBucketAction struct {
	Duration common.Duration
	Timezone string
}

// TimeFloorAction rounds a time down to a multiple of Duration.
type TimeFloorAction struct {
	Duration common.Duration
	Timezone string
}

// TimeShiftAction moves a time by Step durations.
type TimeShiftAction struct {
	Duration common.Duration
	Step     int
	Timezone string
}

// TimeRangeAction builds the range between a time and the time shifted by Step durations.
type TimeRangeAction struct {
	Duration common.Duration
	Step     int
	Timezone string
}

// TimePartAction extracts a calendar component from a time.
type TimePartAction struct {
	Part     string
	Timezone string
}

// NumberBucketAction maps a number to the range of width Size containing it.
type NumberBucketAction struct {
	Size   float64
	Offset float64
}

// FilterAction keeps the rows for which Expression is true.
type FilterAction struct {
	Expression Expression
}

// SplitKey is one grouping key of a split.
type SplitKey struct {
	Name       string
	Expression Expression
}

// SplitAction groups rows by its keys. DataName, when set, names the nested dataset of the
// members of each group.
type SplitAction struct {
	Keys     []SplitKey
	DataName string
}

// ApplyAction adds a computed column.
type ApplyAction struct {
	Name       string
	Expression Expression
}

// SortAction orders rows.
type SortAction struct {
	Expression Expression
	Direction  string
}

// LimitAction keeps the first Limit rows.
type LimitAction struct {
	Limit int
}

// SelectAction keeps the named columns.
type SelectAction struct {
	Attributes []string
}

// AggregateAction reduces a dataset to one value: count, sum, min, max, average or
// countDistinct. Expression is nil for count.
type AggregateAction struct {
	Operator   Op
	Expression Expression
}

// QuantileAction estimates a quantile of a numeric expression over a dataset.
type QuantileAction struct {
	Expression  Expression
	Probability float64
}

// JoinAction merges two datasets on their keys.
type JoinAction struct {
	Expression Expression
}

func (*ArithmeticAction) action()   {}
func (*ComparisonAction) action()   {}
func (*BooleanAction) action()      {}
func (*NotAction) action()          {}
func (*ConcatAction) action()       {}
func (*ContainsAction) action()     {}
func (*MatchAction) action()        {}
func (*SubstrAction) action()       {}
func (*ExtractAction) action()      {}
func (*LengthAction) action()       {}
func (*FallbackAction) action()     {}
func (*AbsoluteAction) action()     {}
func (*TimeBucketAction) action()   {}
func (*TimeFloorAction) action()    {}
func (*TimeShiftAction) action()    {}
func (*TimeRangeAction) action()    {}
func (*TimePartAction) action()     {}
func (*NumberBucketAction) action() {}
func (*FilterAction) action()       {}
func (*SplitAction) action()        {}
func (*ApplyAction) action()        {}
func (*SortAction) action()         {}
func (*LimitAction) action()        {}
func (*SelectAction) action()       {}
func (*AggregateAction) action()    {}
func (*QuantileAction) action()     {}
func (*JoinAction) action()         {}

// Op implementations.
func (a *ArithmeticAction) Op() Op { return a.Operator }
func (a *ComparisonAction) Op() Op { return a.Operator }
func (a *BooleanAction) Op() Op    { return a.Operator }
func (*NotAction) Op() Op          { return OpNot }
func (*ConcatAction) Op() Op       { return OpConcat }
func (*ContainsAction) Op() Op     { return OpContains }
func (*MatchAction) Op() Op        { return OpMatch }
func (*SubstrAction) Op() Op       { return OpSubstr }
func (*ExtractAction) Op() Op      { return OpExtract }
func (*LengthAction) Op() Op       { return OpLength }
func (*FallbackAction) Op() Op     { return OpFallback }
func (*AbsoluteAction) Op() Op     { return OpAbsolute }
func (*TimeBucketAction) Op() Op   { return OpTimeBucket }
func (*TimeFloorAction) Op() Op    { return OpTimeFloor }
func (*TimeShiftAction) Op() Op    { return OpTimeShift }
func (*TimeRangeAction) Op() Op    { return OpTimeRange }
func (*TimePartAction) Op() Op     { return OpTimePart }
func (*NumberBucketAction) Op() Op { return OpNumberBucket }
func (*FilterAction) Op() Op       { return OpFilter }
func (*SplitAction) Op() Op        { return OpSplit }
func (*ApplyAction) Op() Op        { return OpApply }
func (*SortAction) Op() Op         { return OpSort }
func (*LimitAction) Op() Op        { return OpLimit }
func (*SelectAction) Op() Op       { return OpSelect }
func (a *AggregateAction) Op() Op  { return a.Operator }
func (*QuantileAction) Op() Op     { return OpQuantile }
func (*JoinAction) Op() Op         { return OpJoin }

// Add adds a number.
func Add(e Expression) Action { return &ArithmeticAction{Operator: OpAdd, Expression: e} }

// Subtract subtracts a number.
func Subtract(e Expression) Action { return &ArithmeticAction{Operator: OpSubtract, Expression: e} }

// Multiply multiplies by a number.
func Multiply(e Expression) Action { return &ArithmeticAction{Operator: OpMultiply, Expression: e} }

// Divide divides by a number.
func Divide(e Expression) Action { return &ArithmeticAction{Operator: OpDivide, Expression: e} }

// Power raises to a power.
func Power(e Expression) Action { return &ArithmeticAction{Operator: OpPower, Expression: e} }

// Is tests for equality.
func Is(e Expression) Action { return &ComparisonAction{Operator: OpIs, Expression: e} }

// In tests for membership in a set or a range.
func In(e Expression) Action { return &ComparisonAction{Operator: OpIn, Expression: e} }

// LessThan compares.
func LessThan(e Expression) Action { return &ComparisonAction{Operator: OpLessThan, Expression: e} }

// LessThanOrEqual compares.
func LessThanOrEqual(e Expression) Action {
	return &ComparisonAction{Operator: OpLessThanOrEqual, Expression: e}
}

// GreaterThan compares.
func GreaterThan(e Expression) Action {
	return &ComparisonAction{Operator: OpGreaterThan, Expression: e}
}

// GreaterThanOrEqual compares.
func GreaterThanOrEqual(e Expression) Action {
	return &ComparisonAction{Operator: OpGreaterThanOrEqual, Expression: e}
}

// And conjoins.
func And(e Expression) Action { return &BooleanAction{Operator: OpAnd, Expression: e} }

// Or disjoins.
func Or(e Expression) Action { return &BooleanAction{Operator: OpOr, Expression: e} }

// Not negates.
func Not() Action { return &NotAction{} }

// Concat appends a string.
func Concat(e Expression) Action { return &ConcatAction{Expression: e} }

// Contains tests for a substring.
func Contains(e Expression, ignoreCase bool) Action {
	return &ContainsAction{Expression: e, IgnoreCase: ignoreCase}
}

// Match tests against a regular expression.
func Match(regexp string) Action { return &MatchAction{Regexp: regexp} }

// Substr takes a substring.
func Substr(position, length int) Action { return &SubstrAction{Position: position, Length: length} }

// Extract extracts with a regular expression.
func Extract(regexp string) Action { return &ExtractAction{Regexp: regexp} }

// Length measures a string.
func Length() Action { return &LengthAction{} }

// Fallback replaces null.
func Fallback(e Expression) Action { return &FallbackAction{Expression: e} }

// Absolute takes the absolute value.
func Absolute() Action { return &AbsoluteAction{} }

// TimeBucket buckets times.
func TimeBucket(d common.Duration, timezone string) Action {
	return &TimeBucketAction{Duration: d, Timezone: timezone}
}

// TimeFloor floors times.
func TimeFloor(d common.Duration, timezone string) Action {
	return &TimeFloorAction{Duration: d, Timezone: timezone}
}

// TimeShift shifts times.
func TimeShift(d common.Duration, step int, timezone string) Action {
	return &TimeShiftAction{Duration: d, Step: step, Timezone: timezone}
}

// TimeRange builds a time range starting or ending at a time.
func TimeRange(d common.Duration, step int, timezone string) Action {
	return &TimeRangeAction{Duration: d, Step: step, Timezone: timezone}
}

// TimePart extracts a time part.
func TimePart(part, timezone string) Action { return &TimePartAction{Part: part, Timezone: timezone} }

// NumberBucket buckets numbers.
func NumberBucket(size, offset float64) Action { return &NumberBucketAction{Size: size, Offset: offset} }

// Filter filters rows.
func Filter(e Expression) Action { return &FilterAction{Expression: e} }

// Split groups rows on a single key.
func Split(e Expression, name, dataName string) Action {
	return &SplitAction{Keys: []SplitKey{{Name: name, Expression: e}}, DataName: dataName}
}

// SplitMulti groups rows on several keys.
func SplitMulti(keys []SplitKey, dataName string) Action {
	return &SplitAction{Keys: append([]SplitKey(nil), keys...), DataName: dataName}
}

// Apply adds a column.
func Apply(name string, e Expression) Action { return &ApplyAction{Name: name, Expression: e} }

// Sort orders rows.
func Sort(e Expression, direction string) Action {
	if direction == "" {
		direction = value.Ascending
	}
	return &SortAction{Expression: e, Direction: direction}
}

// Limit keeps the first n rows.
func Limit(n int) Action { return &LimitAction{Limit: n} }

// Select keeps columns.
func Select(attributes ...string) Action { return &SelectAction{Attributes: attributes} }

// Count counts rows.
func Count() Action { return &AggregateAction{Operator: OpCount} }

// Sum adds a numeric expression over rows.
func Sum(e Expression) Action { return &AggregateAction{Operator: OpSum, Expression: e} }

// Min takes the smallest value over rows.
func Min(e Expression) Action { return &AggregateAction{Operator: OpMin, Expression: e} }

// Max takes the largest value over rows.
func Max(e Expression) Action { return &AggregateAction{Operator: OpMax, Expression: e} }

// Average averages a numeric expression over rows.
func Average(e Expression) Action { return &AggregateAction{Operator: OpAverage, Expression: e} }

// CountDistinct counts distinct values over rows.
func CountDistinct(e Expression) Action {
	return &AggregateAction{Operator: OpCountDistinct, Expression: e}
}

// Quantile estimates a quantile over rows.
func Quantile(e Expression, probability float64) Action {
	return &QuantileAction{Expression: e, Probability: probability}
}

// Join joins with another dataset.
func Join(e Expression) Action { return &JoinAction{Expression: e} }

// Operands returns the sub-expressions of an action in a fixed order.
func Operands(a Action) []Expression {
	switch t := a.(type) {
	case *ArithmeticAction:
		return []Expression{t.Expression}
	case *ComparisonAction:
		return []Expression{t.Expression}
	case *BooleanAction:
		return []Expression{t.Expression}
	case *ConcatAction:
		return []Expression{t.Expression}
	case *ContainsAction:
		return []Expression{t.Expression}
	case *FallbackAction:
		return []Expression{t.Expression}
	case *FilterAction:
		return []Expression{t.Expression}
	case *SplitAction:
		operands := make([]Expression, len(t.Keys))
		for i, k := range t.Keys {
			operands[i] = k.Expression
		}
		return operands
	case *ApplyAction:
		return []Expression{t.Expression}
	case *SortAction:
		return []Expression{t.Expression}
	case *AggregateAction:
		if t.Expression == nil {
			return nil
		}
		return []Expression{t.Expression}
	case *QuantileAction:
		return []Expression{t.Expression}
	case *JoinAction:
		return []Expression{t.Expression}
	}
	return nil
}

// WithOperands returns a copy of the action with its sub-expressions replaced, in the
// order of Operands.
func WithOperands(a Action, operands []Expression) Action {
	switch t := a.(type) {
	case *ArithmeticAction:
		return &ArithmeticAction{Operator: t.Operator, Expression: operands[0]}
	case *ComparisonAction:
		return &ComparisonAction{Operator: t.Operator, Expression: operands[0]}
	case *BooleanAction:
		return &BooleanAction{Operator: t.Operator, Expression: operands[0]}
	case *ConcatAction:
		return &ConcatAction{Expression: operands[0]}
	case *ContainsAction:
		return &ContainsAction{Expression: operands[0], IgnoreCase: t.IgnoreCase}
	case *FallbackAction:
		return &FallbackAction{Expression: operands[0]}
	case *FilterAction:
		return &FilterAction{Expression: operands[0]}
	case *SplitAction:
		keys := make([]SplitKey, len(t.Keys))
		for i, k := range t.Keys {
			keys[i] = SplitKey{Name: k.Name, Expression: operands[i]}
		}
		return &SplitAction{Keys: keys, DataName: t.DataName}
	case *ApplyAction:
		return &ApplyAction{Name: t.Name, Expression: operands[0]}
	case *SortAction:
		return &SortAction{Expression: operands[0], Direction: t.Direction}
	case *AggregateAction:
		if t.Expression == nil {
			return t
		}
		return &AggregateAction{Operator: t.Operator, Expression: operands[0]}
	case *QuantileAction:
		return &QuantileAction{Expression: operands[0], Probability: t.Probability}
	case *JoinAction:
		return &JoinAction{Expression: operands[0]}
	}
	return a
}

// Nests tells whether the operands of the action are evaluated once per row of the
// dataset the action applies to, one scope deeper than the chain.
func Nests(a Action) bool {
	switch a.(type) {
	case *FilterAction, *SplitAction, *ApplyAction, *SortAction, *AggregateAction, *QuantileAction:
		return true
	}
	return false
}

// IsAggregate tells whether the action reduces a dataset to a single value.
func IsAggregate(a Action) bool {
	switch a.(type) {
	case *AggregateAction, *QuantileAction:
		return true
	}
	return false
}

func call(op Op, args ...string) string {
	return string(op) + "(" + strings.Join(args, ",") + ")"
}

func (a *ArithmeticAction) String() string { return call(a.Operator, a.Expression.String()) }
func (a *ComparisonAction) String() string { return call(a.Operator, a.Expression.String()) }
func (a *BooleanAction) String() string    { return call(a.Operator, a.Expression.String()) }
func (a *NotAction) String() string        { return call(OpNot) }
func (a *ConcatAction) String() string     { return call(OpConcat, a.Expression.String()) }
func (a *ContainsAction) String() string {
	if a.IgnoreCase {
		return call(OpContains, a.Expression.String(), "ignoreCase")
	}
	return call(OpContains, a.Expression.String())
}
func (a *MatchAction) String() string { return call(OpMatch, strconv.Quote(a.Regexp)) }
func (a *SubstrAction) String() string {
	return call(OpSubstr, strconv.Itoa(a.Position), strconv.Itoa(a.Length))
}
func (a *ExtractAction) String() string  { return call(OpExtract, strconv.Quote(a.Regexp)) }
func (a *LengthAction) String() string   { return call(OpLength) }
func (a *FallbackAction) String() string { return call(OpFallback, a.Expression.String()) }
func (a *AbsoluteAction) String() string { return call(OpAbsolute) }
func (a *TimeBucketAction) String() string {
	return call(OpTimeBucket, timeArgs(a.Duration, nil, a.Timezone)...)
}
func (a *TimeFloorAction) String() string {
	return call(OpTimeFloor, timeArgs(a.Duration, nil, a.Timezone)...)
}
func (a *TimeShiftAction) String() string {
	return call(OpTimeShift, timeArgs(a.Duration, &a.Step, a.Timezone)...)
}
func (a *TimeRangeAction) String() string {
	return call(OpTimeRange, timeArgs(a.Duration, &a.Step, a.Timezone)...)
}
func (a *TimePartAction) String() string {
	if a.Timezone != "" {
		return call(OpTimePart, a.Part, strconv.Quote(a.Timezone))
	}
	return call(OpTimePart, a.Part)
}
func (a *NumberBucketAction) String() string {
	if a.Offset != 0 {
		return call(OpNumberBucket, value.FormatNumber(a.Size), value.FormatNumber(a.Offset))
	}
	return call(OpNumberBucket, value.FormatNumber(a.Size))
}
func (a *FilterAction) String() string { return call(OpFilter, a.Expression.String()) }
func (a *SplitAction) String() string {
	args := make([]string, 0, len(a.Keys)+1)
	for _, k := range a.Keys {
		args = append(args, strconv.Quote(k.Name)+":"+k.Expression.String())
	}
	if a.DataName != "" {
		args = append(args, strconv.Quote(a.DataName))
	}
	return call(OpSplit, args...)
}
func (a *ApplyAction) String() string {
	return call(OpApply, strconv.Quote(a.Name), a.Expression.String())
}
func (a *SortAction) String() string  { return call(OpSort, a.Expression.String(), a.Direction) }
func (a *LimitAction) String() string { return call(OpLimit, strconv.Itoa(a.Limit)) }
func (a *SelectAction) String() string {
	args := make([]string, len(a.Attributes))
	for i, name := range a.Attributes {
		args[i] = strconv.Quote(name)
	}
	return call(OpSelect, args...)
}
func (a *AggregateAction) String() string {
	if a.Expression == nil {
		return call(a.Operator)
	}
	return call(a.Operator, a.Expression.String())
}
func (a *QuantileAction) String() string {
	return call(OpQuantile, a.Expression.String(), value.FormatNumber(a.Probability))
}
func (a *JoinAction) String() string { return call(OpJoin, a.Expression.String()) }

func timeArgs(d common.Duration, step *int, timezone string) []string {
	args := []string{d.String()}
	if step != nil {
		args = append(args, strconv.Itoa(*step))
	}
	if timezone != "" {
		args = append(args, strconv.Quote(timezone))
	}
	return args
}

// actionParams renders the parameters of an action that are not sub-expressions.
func actionParams(a Action) string {
	switch t := a.(type) {
	case *ContainsAction:
		return strconv.FormatBool(t.IgnoreCase)
	case *MatchAction:
		return t.Regexp
	case *SubstrAction:
		return fmt.Sprintf("%d/%d", t.Position, t.Length)
	case *ExtractAction:
		return t.Regexp
	case *TimeBucketAction:
		return t.Duration.String() + "/" + t.Timezone
	case *TimeFloorAction:
		return t.Duration.String() + "/" + t.Timezone
	case *TimeShiftAction:
		return fmt.Sprintf("%s/%d/%s", t.Duration, t.Step, t.Timezone)
	case *TimeRangeAction:
		return fmt.Sprintf("%s/%d/%s", t.Duration, t.Step, t.Timezone)
	case *TimePartAction:
		return t.Part + "/" + t.Timezone
	case *NumberBucketAction:
		return value.FormatNumber(t.Size) + "/" + value.FormatNumber(t.Offset)
	case *SplitAction:
		names := make([]string, 0, len(t.Keys)+1)
		for _, k := range t.Keys {
			names = append(names, strconv.Quote(k.Name))
		}
		return strings.Join(names, ",") + "/" + t.DataName
	case *ApplyAction:
		return t.Name
	case *SortAction:
		return t.Direction
	case *LimitAction:
		return strconv.Itoa(t.Limit)
	case *SelectAction:
		return strings.Join(t.Attributes, ",")
	case *QuantileAction:
		return value.FormatNumber(t.Probability)
	}
	return ""
}
