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
	"encoding/json"

	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

// expressionJSON is the wire form of an expression.
type expressionJSON struct {
	Op         string          `json:"op"`
	Value      interface{}     `json:"value,omitempty"`
	Type       value.Kind      `json:"type,omitempty"`
	Name       string          `json:"name,omitempty"`
	Nest       int             `json:"nest,omitempty"`
	External   json.RawMessage `json:"external,omitempty"`
	Expression json.RawMessage `json:"expression,omitempty"`
	Actions    []actionJSON    `json:"actions,omitempty"`
}

// actionJSON is the wire form of an action. Only the fields of the action kind are set.
type actionJSON struct {
	Action      Op              `json:"action"`
	Expression  json.RawMessage `json:"expression,omitempty"`
	IgnoreCase  bool            `json:"ignoreCase,omitempty"`
	Regexp      string          `json:"regexp,omitempty"`
	Position    *int            `json:"position,omitempty"`
	Length      *int            `json:"length,omitempty"`
	Duration    string          `json:"duration,omitempty"`
	Step        int             `json:"step,omitempty"`
	Timezone    string          `json:"timezone,omitempty"`
	Part        string          `json:"part,omitempty"`
	Size        float64         `json:"size,omitempty"`
	Offset      float64         `json:"offset,omitempty"`
	Splits      []splitJSON     `json:"splits,omitempty"`
	DataName    string          `json:"dataName,omitempty"`
	Name        string          `json:"name,omitempty"`
	Direction   string          `json:"direction,omitempty"`
	Limit       *int            `json:"limit,omitempty"`
	Attributes  []string        `json:"attributes,omitempty"`
	Probability float64         `json:"probability,omitempty"`
}

type splitJSON struct {
	Name       string          `json:"name"`
	Expression json.RawMessage `json:"expression"`
}

// ToJSON encodes an expression. Externals are encoded with their own JSON form when they
// have one, their string form otherwise.
func ToJSON(ex Expression) ([]byte, error) {
	js, err := encodeExpression(ex)
	if err != nil {
		return nil, err
	}
	return json.Marshal(js)
}

// FromJSON decodes an expression encoded by ToJSON. Externals can not be decoded; they
// enter an expression through the context of a query.
func FromJSON(data []byte) (Expression, error) {
	var js expressionJSON
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, utils.ConstructionError("malformed expression: %v", err)
	}
	return decodeExpression(js)
}

func encodeExpression(ex Expression) (expressionJSON, error) {
	switch t := ex.(type) {
	case *LiteralExpression:
		js := expressionJSON{Op: "literal", Value: value.ToJSON(t.Value)}
		if t.Value != nil {
			js.Type = value.KindOf(t.Value)
		}
		return js, nil
	case *RefExpression:
		return expressionJSON{Op: "ref", Name: t.Name, Nest: t.Nest, Type: t.Type}, nil
	case *ExternalExpression:
		raw, err := externalJSON(t.Source)
		if err != nil {
			return expressionJSON{}, err
		}
		return expressionJSON{Op: "external", External: raw}, nil
	case *ChainExpression:
		root, err := marshalExpression(t.Expression)
		if err != nil {
			return expressionJSON{}, err
		}
		js := expressionJSON{Op: "chain", Expression: root, Actions: make([]actionJSON, len(t.Actions))}
		for i, a := range t.Actions {
			if js.Actions[i], err = encodeAction(a); err != nil {
				return expressionJSON{}, err
			}
		}
		return js, nil
	}
	return expressionJSON{}, utils.StackError(nil, "unknown expression %T", ex)
}

func externalJSON(source Source) (json.RawMessage, error) {
	if m, ok := source.(json.Marshaler); ok {
		return m.MarshalJSON()
	}
	return json.Marshal(source.String())
}

func marshalExpression(ex Expression) (json.RawMessage, error) {
	if ex == nil {
		return nil, nil
	}
	js, err := encodeExpression(ex)
	if err != nil {
		return nil, err
	}
	return json.Marshal(js)
}

func encodeAction(a Action) (actionJSON, error) {
	js := actionJSON{Action: a.Op()}
	operands := Operands(a)
	if _, isSplit := a.(*SplitAction); !isSplit && len(operands) == 1 {
		raw, err := marshalExpression(operands[0])
		if err != nil {
			return js, err
		}
		js.Expression = raw
	}
	switch t := a.(type) {
	case *ContainsAction:
		js.IgnoreCase = t.IgnoreCase
	case *MatchAction:
		js.Regexp = t.Regexp
	case *ExtractAction:
		js.Regexp = t.Regexp
	case *SubstrAction:
		position, length := t.Position, t.Length
		js.Position, js.Length = &position, &length
	case *TimeBucketAction:
		js.Duration, js.Timezone = t.Duration.String(), t.Timezone
	case *TimeFloorAction:
		js.Duration, js.Timezone = t.Duration.String(), t.Timezone
	case *TimeShiftAction:
		js.Duration, js.Step, js.Timezone = t.Duration.String(), t.Step, t.Timezone
	case *TimeRangeAction:
		js.Duration, js.Step, js.Timezone = t.Duration.String(), t.Step, t.Timezone
	case *TimePartAction:
		js.Part, js.Timezone = t.Part, t.Timezone
	case *NumberBucketAction:
		js.Size, js.Offset = t.Size, t.Offset
	case *SplitAction:
		js.DataName = t.DataName
		for _, k := range t.Keys {
			raw, err := marshalExpression(k.Expression)
			if err != nil {
				return js, err
			}
			js.Splits = append(js.Splits, splitJSON{Name: k.Name, Expression: raw})
		}
	case *ApplyAction:
		js.Name = t.Name
	case *SortAction:
		js.Direction = t.Direction
	case *LimitAction:
		limit := t.Limit
		js.Limit = &limit
	case *SelectAction:
		js.Attributes = t.Attributes
	case *QuantileAction:
		js.Probability = t.Probability
	}
	return js, nil
}

func decodeExpression(js expressionJSON) (Expression, error) {
	switch js.Op {
	case "literal":
		v, err := value.FromJSON(js.Type, js.Value)
		if err != nil {
			return nil, err
		}
		return Literal(v), nil
	case "ref":
		if js.Name == "" {
			return nil, utils.ConstructionError("ref must have a name")
		}
		if js.Nest < 0 {
			return nil, utils.ConstructionError("ref %s has a negative nest", js.Name)
		}
		return &RefExpression{Name: js.Name, Nest: js.Nest, Type: js.Type}, nil
	case "external":
		return nil, utils.ConstructionError("externals can not be decoded, bind them in the context")
	case "chain":
		root, err := unmarshalExpression(js.Expression, "chain")
		if err != nil {
			return nil, err
		}
		if len(js.Actions) == 0 {
			return nil, utils.ConstructionError("chain must have actions")
		}
		actions := make([]Action, len(js.Actions))
		for i, a := range js.Actions {
			if actions[i], err = decodeAction(a); err != nil {
				return nil, err
			}
		}
		return Chain(root, actions...), nil
	}
	return nil, utils.ConstructionError("unknown expression op %q", js.Op)
}

func unmarshalExpression(raw json.RawMessage, owner string) (Expression, error) {
	if len(raw) == 0 {
		return nil, utils.ConstructionError("%s must have an expression", owner)
	}
	var js expressionJSON
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, utils.ConstructionError("malformed expression in %s: %v", owner, err)
	}
	return decodeExpression(js)
}

func decodeAction(js actionJSON) (Action, error) {
	owner := string(js.Action)
	operand := func() (Expression, error) {
		return unmarshalExpression(js.Expression, owner)
	}
	duration := func() (common.Duration, error) {
		return common.ParseDuration(js.Duration)
	}

	switch js.Action {
	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpPower:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return &ArithmeticAction{Operator: js.Action, Expression: e}, nil
	case OpIs, OpIn, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return &ComparisonAction{Operator: js.Action, Expression: e}, nil
	case OpAnd, OpOr:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return &BooleanAction{Operator: js.Action, Expression: e}, nil
	case OpNot:
		return Not(), nil
	case OpConcat:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return Concat(e), nil
	case OpContains:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return Contains(e, js.IgnoreCase), nil
	case OpMatch:
		if _, err := CompileRegexp(js.Regexp); err != nil {
			return nil, err
		}
		return Match(js.Regexp), nil
	case OpExtract:
		if _, err := CompileRegexp(js.Regexp); err != nil {
			return nil, err
		}
		return Extract(js.Regexp), nil
	case OpSubstr:
		if js.Position == nil || js.Length == nil {
			return nil, utils.ConstructionError("substr must have a position and a length")
		}
		return Substr(*js.Position, *js.Length), nil
	case OpLength:
		return Length(), nil
	case OpFallback:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return Fallback(e), nil
	case OpAbsolute:
		return Absolute(), nil
	case OpTimeBucket, OpTimeFloor, OpTimeShift, OpTimeRange:
		d, err := duration()
		if err != nil {
			return nil, err
		}
		switch js.Action {
		case OpTimeBucket:
			return TimeBucket(d, js.Timezone), nil
		case OpTimeFloor:
			return TimeFloor(d, js.Timezone), nil
		case OpTimeShift:
			return TimeShift(d, js.Step, js.Timezone), nil
		}
		return TimeRange(d, js.Step, js.Timezone), nil
	case OpTimePart:
		if !common.IsTimePart(js.Part) {
			return nil, utils.ConstructionError("unknown time part %q", js.Part)
		}
		return TimePart(js.Part, js.Timezone), nil
	case OpNumberBucket:
		if js.Size <= 0 {
			return nil, utils.ConstructionError("numberBucket size must be positive")
		}
		return NumberBucket(js.Size, js.Offset), nil
	case OpFilter:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return Filter(e), nil
	case OpSplit:
		if len(js.Splits) == 0 {
			return nil, utils.ConstructionError("split must have keys")
		}
		keys := make([]SplitKey, len(js.Splits))
		for i, s := range js.Splits {
			e, err := unmarshalExpression(s.Expression, owner)
			if err != nil {
				return nil, err
			}
			keys[i] = SplitKey{Name: s.Name, Expression: e}
		}
		return SplitMulti(keys, js.DataName), nil
	case OpApply:
		if js.Name == "" {
			return nil, utils.ConstructionError("apply must have a name")
		}
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return Apply(js.Name, e), nil
	case OpSort:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return Sort(e, js.Direction), nil
	case OpLimit:
		if js.Limit == nil || *js.Limit < 0 {
			return nil, utils.ConstructionError("limit must be a non negative number")
		}
		return Limit(*js.Limit), nil
	case OpSelect:
		return Select(js.Attributes...), nil
	case OpCount:
		return Count(), nil
	case OpSum, OpMin, OpMax, OpAverage, OpCountDistinct:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return &AggregateAction{Operator: js.Action, Expression: e}, nil
	case OpQuantile:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return Quantile(e, js.Probability), nil
	case OpJoin:
		e, err := operand()
		if err != nil {
			return nil, err
		}
		return Join(e), nil
	}
	return nil, utils.ConstructionError("unknown action %q", js.Action)
}
