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
	"time"

	"github.com/uber/aresquery/query/value"
)

var reversedComparison = map[Op]Op{
	OpIs:                 OpIs,
	OpLessThan:           OpGreaterThan,
	OpLessThanOrEqual:    OpGreaterThanOrEqual,
	OpGreaterThan:        OpLessThan,
	OpGreaterThanOrEqual: OpLessThanOrEqual,
}

func isNumber(ex Expression, f float64) bool {
	v, ok := LiteralValue(ex)
	return ok && v == f
}

// additive returns the signed literal of an add or subtract action.
func additive(a *ArithmeticAction) (float64, bool) {
	v, ok := LiteralValue(a.Expression)
	f, isNum := v.(float64)
	if !ok || !isNum {
		return 0, false
	}
	switch a.Operator {
	case OpAdd:
		return f, true
	case OpSubtract:
		return -f, true
	}
	return 0, false
}

func simplifyArithmetic(current Expression, a *ArithmeticAction) (Expression, error) {
	switch a.Operator {
	case OpAdd, OpSubtract:
		if isNumber(a.Expression, 0) {
			return current, nil
		}
	case OpMultiply, OpDivide, OpPower:
		if isNumber(a.Expression, 1) {
			return current, nil
		}
	}
	if a.Operator == OpMultiply && isNumber(a.Expression, 0) {
		return Literal(0), nil
	}

	_, operandIsLiteral := LiteralValue(a.Expression)
	if v, ok := LiteralValue(current); ok && !operandIsLiteral && (a.Operator == OpAdd || a.Operator == OpMultiply) {
		return performAction(a.Expression, &ArithmeticAction{Operator: a.Operator, Expression: Literal(v)})
	}

	c, ok := current.(*ChainExpression)
	if !ok {
		return Chain(current, a), nil
	}
	prev, ok := c.Last().(*ArithmeticAction)
	if !ok {
		return Chain(current, a), nil
	}
	if x, ok := additive(prev); ok {
		if y, ok := additive(a); ok {
			return performAction(c.Prefix(), Add(Literal(x+y)))
		}
		if k, ok := LiteralValue(a.Expression); ok && a.Operator == OpMultiply {
			if f, isNum := k.(float64); isNum {
				scaled, err := performAction(c.Prefix(), a)
				if err != nil {
					return nil, err
				}
				return performAction(scaled, Add(Literal(x*f)))
			}
		}
	}
	if prev.Operator == OpMultiply && a.Operator == OpMultiply {
		x, xok := LiteralValue(prev.Expression)
		y, yok := LiteralValue(a.Expression)
		fx, fxok := x.(float64)
		fy, fyok := y.(float64)
		if xok && yok && fxok && fyok {
			return performAction(c.Prefix(), Multiply(Literal(fx*fy)))
		}
	}
	return Chain(current, a), nil
}

// comparisonRange turns a comparison against a number or a time into the range of
// values it accepts.
func comparisonRange(op Op, v interface{}) (*value.Range, bool) {
	switch v.(type) {
	case float64, time.Time:
	default:
		return nil, false
	}
	kind := value.KindOf(v).RangeKind()
	var r *value.Range
	var err error
	switch op {
	case OpLessThan:
		r, err = value.NewRange(kind, nil, v, "()")
	case OpLessThanOrEqual:
		r, err = value.NewRange(kind, nil, v, "(]")
	case OpGreaterThan:
		r, err = value.NewRange(kind, v, nil, "()")
	case OpGreaterThanOrEqual:
		r, err = value.NewRange(kind, v, nil, "[)")
	default:
		return nil, false
	}
	return r, err == nil
}

func simplifyComparison(current Expression, a *ComparisonAction) (Expression, error) {
	v, operandIsLiteral := LiteralValue(a.Expression)
	if cv, ok := LiteralValue(current); ok && !operandIsLiteral {
		if reversed, found := reversedComparison[a.Operator]; found {
			return performAction(a.Expression, &ComparisonAction{Operator: reversed, Expression: Literal(cv)})
		}
	}
	if !operandIsLiteral {
		return Chain(current, a), nil
	}

	if r, ok := comparisonRange(a.Operator, v); ok {
		return performAction(current, In(Literal(r)))
	}

	switch a.Operator {
	case OpIn:
		if s, ok := v.(*value.Set); ok && s.Empty() {
			return False(), nil
		}
		if r, ok := v.(*value.Range); ok && r.IsEmpty() {
			return False(), nil
		}
	case OpIs:
		if r, ok := v.(*value.Range); ok {
			if c, isChain := current.(*ChainExpression); isChain && isBucketOf(c.Last(), r) {
				return performAction(c.Prefix(), In(Literal(r)))
			}
		}
	}
	return Chain(current, a), nil
}

// isBucketOf tells whether r is exactly one of the buckets produced by a bucketing action.
func isBucketOf(a Action, r *value.Range) bool {
	switch a.(type) {
	case *TimeBucketAction, *NumberBucketAction:
	default:
		return false
	}
	if r.Start() == nil {
		return false
	}
	bucket, err := ComputeScalar(a, r.Start(), nil)
	if err != nil {
		return false
	}
	b, ok := bucket.(*value.Range)
	return ok && b.Equals(r)
}

func simplifyBoolean(current Expression, a *BooleanAction) (Expression, error) {
	if v, ok := LiteralValue(a.Expression); ok {
		if b, isBool := v.(bool); isBool {
			if b == (a.Operator == OpAnd) {
				return current, nil
			}
			return Literal(b), nil
		}
	}
	if v, ok := LiteralValue(current); ok {
		if b, isBool := v.(bool); isBool {
			if b == (a.Operator == OpAnd) {
				return a.Expression, nil
			}
			return Literal(b), nil
		}
	}
	if Equals(current, a.Expression) {
		return current, nil
	}

	merged, ok, err := mergeMembership(current, a.Expression, a.Operator)
	if ok || err != nil {
		return merged, err
	}
	if c, isChain := current.(*ChainExpression); isChain {
		if prev, same := c.Last().(*BooleanAction); same && prev.Operator == a.Operator {
			merged, ok, err := mergeMembership(prev.Expression, a.Expression, a.Operator)
			if err != nil {
				return nil, err
			}
			if ok {
				return performAction(c.Prefix(), &BooleanAction{Operator: a.Operator, Expression: merged})
			}
		}
	}
	return Chain(current, a), nil
}

// membership splits x.is(literal) and x.in(literal) into x and the literal.
func membership(ex Expression) (Expression, interface{}, bool) {
	c, ok := ex.(*ChainExpression)
	if !ok {
		return nil, nil, false
	}
	cmp, ok := c.Last().(*ComparisonAction)
	if !ok || (cmp.Operator != OpIs && cmp.Operator != OpIn) {
		return nil, nil, false
	}
	v, ok := LiteralValue(cmp.Expression)
	if !ok || v == nil {
		return nil, nil, false
	}
	if cmp.Operator == OpIs {
		switch v.(type) {
		case *value.Range, *value.Set, *value.Dataset:
			return nil, nil, false
		}
	}
	return c.Prefix(), v, true
}

// mergeMembership combines two membership tests on the same operand into one, through
// a set intersection for and, a set union for or.
func mergeMembership(left, right Expression, op Op) (Expression, bool, error) {
	operand, lv, ok := membership(left)
	if !ok {
		return nil, false, nil
	}
	other, rv, ok := membership(right)
	if !ok || !Equals(operand, other) {
		return nil, false, nil
	}
	var combined interface{}
	if op == OpAnd {
		combined, ok = value.GeneralIntersect(lv, rv)
	} else {
		combined, ok = value.GeneralUnion(lv, rv)
	}
	if !ok {
		return nil, false, nil
	}
	switch combined.(type) {
	case *value.Set, *value.Range:
	default:
		combined = value.SetFromValue(combined)
	}
	merged, err := performAction(operand, In(Literal(combined)))
	return merged, err == nil, err
}

func simplifyNot(current Expression) (Expression, error) {
	c, ok := current.(*ChainExpression)
	if !ok {
		return Chain(current, Not()), nil
	}
	switch prev := c.Last().(type) {
	case *NotAction:
		return c.Prefix(), nil
	case *BooleanAction:
		left, err := performAction(c.Prefix(), Not())
		if err != nil {
			return nil, err
		}
		right, err := performAction(prev.Expression, Not())
		if err != nil {
			return nil, err
		}
		flipped := OpOr
		if prev.Operator == OpOr {
			flipped = OpAnd
		}
		return performAction(left, &BooleanAction{Operator: flipped, Expression: right})
	}
	return Chain(current, Not()), nil
}

func simplifyFilter(current Expression, a *FilterAction) (Expression, error) {
	if IsLiteral(a.Expression, true) {
		return current, nil
	}
	c, ok := current.(*ChainExpression)
	if !ok {
		return Chain(current, a), nil
	}
	switch prev := c.Last().(type) {
	case *FilterAction:
		both, err := performAction(prev.Expression, And(a.Expression))
		if err != nil {
			return nil, err
		}
		return performAction(c.Prefix(), Filter(both))
	case *ApplyAction:
		if !ReferencesColumn(a.Expression, prev.Name) {
			return moveBefore(c, a)
		}
	case *SortAction:
		return moveBefore(c, a)
	}
	return Chain(current, a), nil
}

// moveBefore performs a ahead of the last action of c.
func moveBefore(c *ChainExpression, a Action) (Expression, error) {
	moved, err := performAction(c.Prefix(), a)
	if err != nil {
		return nil, err
	}
	return performAction(moved, c.Last())
}

func simplifyApply(current Expression, a *ApplyAction) (Expression, error) {
	if c, ok := current.(*ChainExpression); ok {
		if _, isLimit := c.Last().(*LimitAction); isLimit {
			return moveBefore(c, a)
		}
	}
	return Chain(current, a), nil
}

func simplifySort(current Expression, a *SortAction) (Expression, error) {
	if c, ok := current.(*ChainExpression); ok {
		if prev, isSort := c.Last().(*SortAction); isSort && Equals(prev.Expression, a.Expression) {
			return performAction(c.Prefix(), a)
		}
	}
	return Chain(current, a), nil
}

func simplifyLimit(current Expression, a *LimitAction) (Expression, error) {
	if v, ok := LiteralValue(current); ok {
		if ds, isDataset := v.(*value.Dataset); isDataset {
			return Literal(ds.Limit(a.Limit)), nil
		}
	}
	if c, ok := current.(*ChainExpression); ok {
		if prev, isLimit := c.Last().(*LimitAction); isLimit {
			if prev.Limit <= a.Limit {
				return current, nil
			}
			return performAction(c.Prefix(), a)
		}
	}
	return Chain(current, a), nil
}

func simplifyAggregate(current Expression, a *AggregateAction) (Expression, error) {
	if v, ok := LiteralValue(current); ok && a.Operator == OpCount {
		if ds, isDataset := v.(*value.Dataset); isDataset {
			return Literal(ds.Count()), nil
		}
	}
	return Chain(current, a), nil
}
