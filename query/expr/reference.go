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
	"regexp"

	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

// FullType is the type of an expression. Datasets also carry the types of their columns.
type FullType struct {
	Kind       value.Kind
	Datasetype map[string]FullType
	Remote     string
}

// TypeContext is one scope seen during reference checking: the columns of the row a
// reference with no ^ resolves against, and the enclosing scope.
type TypeContext struct {
	Datasetype map[string]FullType
	Remote     string
	Parent     *TypeContext
}

// TypeOf returns the full type of a runtime value.
func TypeOf(v interface{}) FullType {
	switch t := v.(type) {
	case Source:
		return FullType{Kind: t.Kind(), Datasetype: AttributesType(t.Attributes()), Remote: t.Remote()}
	case *value.Dataset:
		return FullType{Kind: value.DatasetKind, Datasetype: AttributesType(t.Attributes())}
	}
	return FullType{Kind: value.KindOf(v)}
}

// AttributesType converts column descriptions into a dataset type.
func AttributesType(attributes []value.AttributeInfo) map[string]FullType {
	datasetype := make(map[string]FullType, len(attributes))
	for _, a := range attributes {
		t := FullType{Kind: a.Kind}
		if a.Kind == value.DatasetKind {
			t.Datasetype = AttributesType(a.Datasetype)
		}
		datasetype[a.Name] = t
	}
	return datasetype
}

// DatumContext builds the top scope from the values of a datum.
func DatumContext(datum value.Datum) *TypeContext {
	datasetype := make(map[string]FullType, len(datum))
	for name, v := range datum {
		datasetype[name] = TypeOf(v)
	}
	return &TypeContext{Datasetype: datasetype}
}

// ReferenceCheck verifies that every reference of ex resolves in the scopes built from
// datum and returns a copy of the tree with reference types and remotes filled in.
func ReferenceCheck(ex Expression, datum value.Datum) (Expression, error) {
	checked, _, err := ReferenceCheckInContext(ex, DatumContext(datum))
	return checked, err
}

// ReferenceCheckInContext is ReferenceCheck against an explicit scope, also returning the
// type of the expression.
func ReferenceCheckInContext(ex Expression, ctx *TypeContext) (Expression, FullType, error) {
	switch t := ex.(type) {
	case *LiteralExpression:
		return t, TypeOf(t.Value), nil
	case *RefExpression:
		scope := ctx
		for i := 0; i < t.Nest; i++ {
			if scope == nil {
				break
			}
			scope = scope.Parent
		}
		if scope == nil {
			return nil, FullType{}, utils.ConstructionError("went too deep on %s", t)
		}
		found, ok := scope.Datasetype[t.Name]
		if !ok {
			return nil, FullType{}, utils.TypeError("could not resolve %s", t)
		}
		if t.Type != value.UnknownKind && !typeMatches(t.Type, found.Kind) {
			return nil, FullType{}, utils.TypeError("type mismatch in reference %s, found %s", t, found.Kind)
		}
		if found.Remote == "" {
			found.Remote = scope.Remote
		}
		return &RefExpression{Name: t.Name, Nest: t.Nest, Type: found.Kind, Remote: found.Remote}, found, nil
	case *ExternalExpression:
		return t, TypeOf(t.Source), nil
	case *ChainExpression:
		root, current, err := ReferenceCheckInContext(t.Expression, ctx)
		if err != nil {
			return nil, FullType{}, err
		}
		actions := make([]Action, len(t.Actions))
		for i, a := range t.Actions {
			if actions[i], current, err = checkAction(a, current, ctx); err != nil {
				return nil, FullType{}, err
			}
		}
		return &ChainExpression{Expression: root, Actions: actions}, current, nil
	}
	return nil, FullType{}, utils.ConstructionError("unknown expression %v", ex)
}

func typeMatches(declared, found value.Kind) bool {
	return declared == found || found == value.NullKind || found == value.UnknownKind
}

func checkAction(a Action, input FullType, ctx *TypeContext) (Action, FullType, error) {
	operandCtx := ctx
	if Nests(a) {
		if !isKind(input.Kind, value.DatasetKind) {
			return nil, FullType{}, utils.TypeError("%s must be applied to a DATASET, got %s", a.Op(), input.Kind)
		}
		operandCtx = &TypeContext{Datasetype: input.Datasetype, Remote: input.Remote, Parent: ctx}
	}

	operands := Operands(a)
	checked := make([]Expression, len(operands))
	types := make([]FullType, len(operands))
	for i, operand := range operands {
		var err error
		if checked[i], types[i], err = ReferenceCheckInContext(operand, operandCtx); err != nil {
			return nil, FullType{}, err
		}
	}
	if len(operands) > 0 {
		a = WithOperands(a, checked)
	}

	output, err := actionType(a, input, types)
	if err != nil {
		return nil, FullType{}, err
	}
	return a, output, nil
}

// isKind tells whether found is acceptable where want is expected.
func isKind(found value.Kind, want ...value.Kind) bool {
	if found == value.UnknownKind || found == value.NullKind {
		return true
	}
	for _, w := range want {
		if found == w {
			return true
		}
	}
	return false
}

func scalar(kind value.Kind) FullType {
	return FullType{Kind: kind}
}

func actionType(a Action, input FullType, operands []FullType) (FullType, error) {
	mismatch := func(what string, got value.Kind) (FullType, error) {
		return FullType{}, utils.TypeError("%s must have %s input, got %s", a.Op(), what, got)
	}
	switch t := a.(type) {
	case *ArithmeticAction:
		if !isKind(input.Kind, value.NumberKind) {
			return mismatch("NUMBER", input.Kind)
		}
		if !isKind(operands[0].Kind, value.NumberKind) {
			return mismatch("NUMBER", operands[0].Kind)
		}
		return scalar(value.NumberKind), nil
	case *ComparisonAction:
		operand := operands[0].Kind
		switch t.Operator {
		case OpIs:
			if !value.Compatible(input.Kind, operand) && !value.Compatible(input.Kind.RangeKind(), operand) {
				return FullType{}, utils.TypeError("is expression must have matching types, got %s and %s", input.Kind, operand)
			}
		case OpIn:
			element := operand.ElementKind()
			if !value.Compatible(input.Kind, element) && !value.Compatible(input.Kind.RangeKind(), element) &&
				!value.Compatible(input.Kind.ElementKind(), element) {
				return FullType{}, utils.TypeError("in expression must have matching types, got %s and %s", input.Kind, operand)
			}
		default:
			if !isKind(input.Kind, value.NumberKind, value.TimeKind, value.StringKind) {
				return mismatch("NUMBER, TIME or STRING", input.Kind)
			}
			if !value.Compatible(input.Kind, operand) {
				return FullType{}, utils.TypeError("%s expression must have matching types, got %s and %s", t.Operator, input.Kind, operand)
			}
		}
		return scalar(value.BooleanKind), nil
	case *BooleanAction:
		if !isKind(input.Kind, value.BooleanKind) || !isKind(operands[0].Kind, value.BooleanKind) {
			return mismatch("BOOLEAN", input.Kind)
		}
		return scalar(value.BooleanKind), nil
	case *NotAction:
		if !isKind(input.Kind, value.BooleanKind) {
			return mismatch("BOOLEAN", input.Kind)
		}
		return scalar(value.BooleanKind), nil
	case *ConcatAction:
		if !isKind(input.Kind, value.StringKind) || !isKind(operands[0].Kind, value.StringKind) {
			return mismatch("STRING", input.Kind)
		}
		return scalar(value.StringKind), nil
	case *ContainsAction:
		if !isKind(input.Kind, value.StringKind) || !isKind(operands[0].Kind, value.StringKind) {
			return mismatch("STRING", input.Kind)
		}
		return scalar(value.BooleanKind), nil
	case *MatchAction:
		if !isKind(input.Kind, value.StringKind) {
			return mismatch("STRING", input.Kind)
		}
		if _, err := regexp.Compile(t.Regexp); err != nil {
			return FullType{}, utils.ConstructionError("invalid regular expression %q", t.Regexp)
		}
		return scalar(value.BooleanKind), nil
	case *ExtractAction:
		if !isKind(input.Kind, value.StringKind) {
			return mismatch("STRING", input.Kind)
		}
		if _, err := regexp.Compile(t.Regexp); err != nil {
			return FullType{}, utils.ConstructionError("invalid regular expression %q", t.Regexp)
		}
		return scalar(value.StringKind), nil
	case *SubstrAction:
		if !isKind(input.Kind, value.StringKind) {
			return mismatch("STRING", input.Kind)
		}
		return scalar(value.StringKind), nil
	case *LengthAction:
		if !isKind(input.Kind, value.StringKind) {
			return mismatch("STRING", input.Kind)
		}
		return scalar(value.NumberKind), nil
	case *FallbackAction:
		if !value.Compatible(input.Kind, operands[0].Kind) {
			return FullType{}, utils.TypeError("fallback must have matching types, got %s and %s", input.Kind, operands[0].Kind)
		}
		if input.Kind == value.NullKind {
			return operands[0], nil
		}
		return input, nil
	case *AbsoluteAction:
		if !isKind(input.Kind, value.NumberKind) {
			return mismatch("NUMBER", input.Kind)
		}
		return scalar(value.NumberKind), nil
	case *TimeBucketAction:
		return timeType(a, input, t.Duration, t.Timezone, value.TimeRangeKind)
	case *TimeFloorAction:
		return timeType(a, input, t.Duration, t.Timezone, value.TimeKind)
	case *TimeShiftAction:
		return timeType(a, input, t.Duration, t.Timezone, value.TimeKind)
	case *TimeRangeAction:
		return timeType(a, input, t.Duration, t.Timezone, value.TimeRangeKind)
	case *TimePartAction:
		if !isKind(input.Kind, value.TimeKind) {
			return mismatch("TIME", input.Kind)
		}
		if !common.IsTimePart(t.Part) {
			return FullType{}, utils.ConstructionError("unsupported time part %s", t.Part)
		}
		if _, err := common.ParseTimezone(t.Timezone); err != nil {
			return FullType{}, err
		}
		return scalar(value.NumberKind), nil
	case *NumberBucketAction:
		if !isKind(input.Kind, value.NumberKind) {
			return mismatch("NUMBER", input.Kind)
		}
		if t.Size <= 0 {
			return FullType{}, utils.ConstructionError("number bucket size must be positive, got %v", t.Size)
		}
		return scalar(value.NumberRangeKind), nil
	case *FilterAction:
		if !isKind(operands[0].Kind, value.BooleanKind) {
			return FullType{}, utils.TypeError("filter expression must be a BOOLEAN, got %s", operands[0].Kind)
		}
		return input, nil
	case *SplitAction:
		if len(t.Keys) == 0 {
			return FullType{}, utils.ConstructionError("split must have at least one key")
		}
		datasetype := make(map[string]FullType, len(t.Keys)+1)
		for i, k := range t.Keys {
			if operands[i].Kind == value.DatasetKind {
				return FullType{}, utils.TypeError("can not split on a DATASET")
			}
			datasetype[k.Name] = scalar(operands[i].Kind)
		}
		if t.DataName != "" {
			datasetype[t.DataName] = input
		}
		return FullType{Kind: value.DatasetKind, Datasetype: datasetype, Remote: input.Remote}, nil
	case *ApplyAction:
		if t.Name == "" {
			return FullType{}, utils.ConstructionError("apply must have a name")
		}
		datasetype := copyDatasetype(input.Datasetype)
		datasetype[t.Name] = operands[0]
		return FullType{Kind: value.DatasetKind, Datasetype: datasetype, Remote: input.Remote}, nil
	case *SortAction:
		if t.Direction != value.Ascending && t.Direction != value.Descending {
			return FullType{}, utils.ConstructionError("sort direction must be ascending or descending, got %q", t.Direction)
		}
		if operands[0].Kind == value.DatasetKind {
			return FullType{}, utils.TypeError("can not sort on a DATASET")
		}
		return input, nil
	case *LimitAction:
		if !isKind(input.Kind, value.DatasetKind) {
			return mismatch("DATASET", input.Kind)
		}
		if t.Limit < 0 {
			return FullType{}, utils.ConstructionError("limit must be non negative, got %d", t.Limit)
		}
		return input, nil
	case *SelectAction:
		if !isKind(input.Kind, value.DatasetKind) {
			return mismatch("DATASET", input.Kind)
		}
		datasetype := make(map[string]FullType, len(t.Attributes))
		for _, name := range t.Attributes {
			column, ok := input.Datasetype[name]
			if !ok && input.Datasetype != nil {
				return FullType{}, utils.TypeError("unknown attribute %s in select", name)
			}
			datasetype[name] = column
		}
		return FullType{Kind: value.DatasetKind, Datasetype: datasetype, Remote: input.Remote}, nil
	case *AggregateAction:
		switch t.Operator {
		case OpCount:
			return scalar(value.NumberKind), nil
		case OpMin, OpMax:
			if !isKind(operands[0].Kind, value.NumberKind, value.TimeKind) {
				return mismatch("NUMBER or TIME", operands[0].Kind)
			}
			return scalar(operands[0].Kind), nil
		case OpCountDistinct:
			return scalar(value.NumberKind), nil
		}
		if !isKind(operands[0].Kind, value.NumberKind) {
			return mismatch("NUMBER", operands[0].Kind)
		}
		return scalar(value.NumberKind), nil
	case *QuantileAction:
		if t.Probability < 0 || t.Probability > 1 {
			return FullType{}, utils.ConstructionError("quantile probability must be in [0,1], got %v", t.Probability)
		}
		return scalar(value.NumberKind), nil
	case *JoinAction:
		if !isKind(input.Kind, value.DatasetKind) || !isKind(operands[0].Kind, value.DatasetKind) {
			return mismatch("DATASET", input.Kind)
		}
		datasetype := copyDatasetype(input.Datasetype)
		for name, column := range operands[0].Datasetype {
			datasetype[name] = column
		}
		return FullType{Kind: value.DatasetKind, Datasetype: datasetype, Remote: input.Remote}, nil
	}
	return FullType{}, utils.ConstructionError("unknown action %v", a)
}

func timeType(a Action, input FullType, d common.Duration, timezone string, output value.Kind) (FullType, error) {
	if !isKind(input.Kind, value.TimeKind) {
		return FullType{}, utils.TypeError("%s must have TIME input, got %s", a.Op(), input.Kind)
	}
	if d.IsZero() {
		return FullType{}, utils.ConstructionError("%s must have a duration", a.Op())
	}
	if _, err := common.ParseTimezone(timezone); err != nil {
		return FullType{}, err
	}
	if (a.Op() == OpTimeBucket || a.Op() == OpTimeFloor) && !d.IsFloorable() {
		return FullType{}, utils.ConstructionError("%s duration %s is not floorable", a.Op(), d)
	}
	return scalar(output), nil
}

func copyDatasetype(datasetype map[string]FullType) map[string]FullType {
	c := make(map[string]FullType, len(datasetype)+1)
	for name, column := range datasetype {
		c[name] = column
	}
	return c
}

// outputKind computes the kind an action produces from the kind of its input, without
// looking at operand types beyond what they declare.
func outputKind(a Action, input value.Kind) value.Kind {
	operands := Operands(a)
	types := make([]FullType, len(operands))
	for i, operand := range operands {
		types[i] = FullType{Kind: operand.Kind()}
	}
	t, err := actionType(a, FullType{Kind: input}, types)
	if err != nil {
		return value.UnknownKind
	}
	if a.Op() == OpFallback && t.Kind == value.UnknownKind {
		return input
	}
	return t.Kind
}
