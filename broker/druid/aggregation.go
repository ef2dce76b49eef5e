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

package druid

import (
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
)

var arithmeticFns = map[expr.Op]string{
	expr.OpAdd:      "+",
	expr.OpSubtract: "-",
	expr.OpMultiply: "*",
	expr.OpDivide:   "quotient",
	expr.OpPower:    "pow",
}

// aggregatedAttribute returns the attribute an aggregate reads.
func (c *compiler) aggregatedAttribute(ex expr.Expression) (broker.AttributeConfig, string, error) {
	ref, ok := ex.(*expr.RefExpression)
	if !ok {
		return broker.AttributeConfig{}, "", unsupported("can only aggregate attributes, got %s", ex)
	}
	attribute, err := c.attribute(ref)
	if err != nil {
		return broker.AttributeConfig{}, "", err
	}
	return attribute, c.column(ref.Name), nil
}

// aggregation compiles one aggregate into druid aggregators and the post aggregators
// computing its value from them.
func (c *compiler) aggregation(name string, aggregate expr.Action) ([]*Aggregation, []*PostAggregation, error) {
	switch t := aggregate.(type) {
	case *expr.AggregateAction:
		if t.Operator == expr.OpCount {
			return []*Aggregation{{Type: "count", Name: name}}, nil, nil
		}
		attribute, column, err := c.aggregatedAttribute(t.Expression)
		if err != nil {
			return nil, nil, err
		}
		numeric := attribute.Type == value.NumberKind && attribute.Special == ""
		switch t.Operator {
		case expr.OpSum:
			if numeric {
				return []*Aggregation{{Type: "doubleSum", Name: name, FieldName: column}}, nil, nil
			}
		case expr.OpMin, expr.OpMax:
			prefix := "double"
			if column == TimeColumn {
				prefix = "long"
			} else if !numeric {
				break
			}
			suffix := "Min"
			if t.Operator == expr.OpMax {
				suffix = "Max"
			}
			return []*Aggregation{{Type: prefix + suffix, Name: name, FieldName: column}}, nil, nil
		case expr.OpAverage:
			if !numeric {
				break
			}
			sum, count := name+"!sum", name+"!count"
			return []*Aggregation{
					{Type: "doubleSum", Name: sum, FieldName: column},
					{Type: "count", Name: count},
				}, []*PostAggregation{{
					Type: "arithmetic",
					Name: name,
					Fn:   arithmeticFns[expr.OpDivide],
					Fields: []*PostAggregation{
						{Type: "fieldAccess", FieldName: sum},
						{Type: "fieldAccess", FieldName: count},
					},
				}}, nil
		case expr.OpCountDistinct:
			if c.config.ExactResultsOnly {
				return nil, nil, unsupported("countDistinct is approximate and %s wants exact results", c.config.Name)
			}
			switch attribute.Special {
			case broker.SpecialUnique:
				return []*Aggregation{{Type: "hyperUnique", Name: name, FieldName: column}}, nil, nil
			case "":
				return []*Aggregation{{Type: "cardinality", Name: name, Fields: []string{column}, Round: true}}, nil, nil
			}
		}
		return nil, nil, unsupported("can not compute %s over %s", aggregate, attribute.Name)
	case *expr.QuantileAction:
		if c.config.ExactResultsOnly {
			return nil, nil, unsupported("quantile is approximate and %s wants exact results", c.config.Name)
		}
		attribute, column, err := c.aggregatedAttribute(t.Expression)
		if err != nil {
			return nil, nil, err
		}
		if attribute.Special != broker.SpecialHistogram {
			return nil, nil, unsupported("quantile needs a histogram attribute, %s is not one", attribute.Name)
		}
		histogram := name + "!histogram"
		return []*Aggregation{{Type: "approxHistogramFold", Name: histogram, FieldName: column}},
			[]*PostAggregation{{Type: "quantile", Name: name, FieldName: histogram, Probability: t.Probability}}, nil
	}
	return nil, nil, unsupported("%s is not an aggregate", aggregate)
}

// aggregations compiles every aggregation and post aggregation of the external.
func (c *compiler) aggregations() ([]*Aggregation, []*PostAggregation, error) {
	var aggregations []*Aggregation
	var implied, posts []*PostAggregation
	for _, a := range c.ext.Aggregations() {
		compiled, post, err := c.aggregation(a.Name, a.Aggregate)
		if err != nil {
			return nil, nil, err
		}
		if a.Filter != nil {
			filter, err := c.filter(a.Filter)
			if err != nil {
				return nil, nil, err
			}
			for i, aggregation := range compiled {
				compiled[i] = &Aggregation{Type: "filtered", Filter: filter, Aggregator: aggregation}
			}
		}
		aggregations = append(aggregations, compiled...)
		implied = append(implied, post...)
	}
	for _, p := range c.ext.PostAggregations() {
		post, err := c.postAggregator(p.Expression)
		if err != nil {
			return nil, nil, err
		}
		post.Name = p.Name
		posts = append(posts, post)
	}
	return aggregations, append(implied, posts...), nil
}

func (c *compiler) isOutput(name string) bool {
	for _, p := range c.ext.PostAggregations() {
		if p.Name == name {
			return true
		}
	}
	for _, o := range c.ext.Outputs() {
		if o == name {
			return true
		}
	}
	return false
}

// postAggregator compiles arithmetic over aggregations and earlier outputs.
func (c *compiler) postAggregator(ex expr.Expression) (*PostAggregation, error) {
	switch t := ex.(type) {
	case *expr.LiteralExpression:
		if f, ok := t.Value.(float64); ok {
			return &PostAggregation{Type: "constant", Value: f}, nil
		}
	case *expr.RefExpression:
		if t.Nest != 0 {
			break
		}
		if a, ok := c.ext.Aggregation(t.Name); ok {
			if aggregate, ok := a.Aggregate.(*expr.AggregateAction); ok && aggregate.Operator == expr.OpCountDistinct {
				return &PostAggregation{Type: "hyperUniqueCardinality", FieldName: t.Name}, nil
			}
			return &PostAggregation{Type: "fieldAccess", FieldName: t.Name}, nil
		}
		if c.isOutput(t.Name) {
			return &PostAggregation{Type: "fieldAccess", FieldName: t.Name}, nil
		}
	case *expr.ChainExpression:
		current, err := c.postAggregator(t.Expression)
		if err != nil {
			return nil, err
		}
		for _, a := range t.Actions {
			arithmetic, ok := a.(*expr.ArithmeticAction)
			if !ok {
				return nil, unsupported("can not compute %s after aggregation", a)
			}
			operand, err := c.postAggregator(arithmetic.Expression)
			if err != nil {
				return nil, err
			}
			current = &PostAggregation{
				Type:   "arithmetic",
				Fn:     arithmeticFns[arithmetic.Operator],
				Fields: []*PostAggregation{current, operand},
			}
		}
		return current, nil
	}
	return nil, unsupported("can not compute %s after aggregation", ex)
}

func (c *compiler) isSplitKey(name string) bool {
	if split := c.ext.Split(); split != nil {
		for _, k := range split.Keys {
			if k.Name == name {
				return true
			}
		}
	}
	return false
}

func not(h *Having) *Having {
	return &Having{Type: "not", HavingSpec: h}
}

func either(specs []*Having) *Having {
	if len(specs) == 1 {
		return specs[0]
	}
	return &Having{Type: "or", HavingSpecs: specs}
}

// rangeHaving keeps the rows whose output falls into r.
func rangeHaving(name string, r *value.Range) (*Having, error) {
	var specs []*Having
	if start, ok := r.Start().(float64); ok {
		lower := &Having{Type: "greaterThan", Aggregation: name, Value: start}
		if !r.OpenStart() {
			lower = not(&Having{Type: "lessThan", Aggregation: name, Value: start})
		}
		specs = append(specs, lower)
	}
	if end, ok := r.End().(float64); ok {
		upper := &Having{Type: "lessThan", Aggregation: name, Value: end}
		if !r.OpenEnd() {
			upper = not(&Having{Type: "greaterThan", Aggregation: name, Value: end})
		}
		specs = append(specs, upper)
	}
	switch len(specs) {
	case 0:
		return nil, unsupported("can not filter %s on %s", name, r)
	case 1:
		return specs[0], nil
	}
	return &Having{Type: "and", HavingSpecs: specs}, nil
}

// having compiles a filter on the rows of a split.
func (c *compiler) having(ex expr.Expression) (*Having, error) {
	chain, ok := ex.(*expr.ChainExpression)
	if !ok {
		return nil, unsupported("can not filter groups on %s", ex)
	}
	prefix := chain.Prefix()
	switch a := chain.Last().(type) {
	case *expr.BooleanAction:
		left, err := c.having(prefix)
		if err != nil {
			return nil, err
		}
		right, err := c.having(a.Expression)
		if err != nil {
			return nil, err
		}
		return &Having{Type: string(a.Operator), HavingSpecs: []*Having{left, right}}, nil
	case *expr.NotAction:
		inner, err := c.having(prefix)
		if err != nil {
			return nil, err
		}
		return not(inner), nil
	case *expr.ComparisonAction:
		ref, isRef := prefix.(*expr.RefExpression)
		v, isLiteral := expr.LiteralValue(a.Expression)
		if !isRef || !isLiteral || ref.Nest != 0 {
			break
		}
		if c.isSplitKey(ref.Name) {
			return dimensionHaving(ref.Name, a.Operator, v)
		}
		return outputHaving(ref.Name, a.Operator, v)
	}
	return nil, unsupported("can not filter groups on %s", ex)
}

func dimensionHaving(name string, op expr.Op, v interface{}) (*Having, error) {
	selector := func(v interface{}) *Having {
		return &Having{Type: "dimSelector", Dimension: name, Value: dimensionValue(v)}
	}
	switch t := v.(type) {
	case *value.Set:
		if op == expr.OpIn && !t.ElementKind().IsRange() && t.Size() > 0 {
			specs := make([]*Having, 0, t.Size())
			for _, e := range t.Elements() {
				specs = append(specs, selector(e))
			}
			return either(specs), nil
		}
	case *value.Range:
	default:
		if op == expr.OpIs {
			return selector(v), nil
		}
	}
	return nil, unsupported("can not filter groups on %s.%s(%v)", name, op, v)
}

func outputHaving(name string, op expr.Op, v interface{}) (*Having, error) {
	if f, ok := v.(float64); ok {
		switch op {
		case expr.OpIs:
			return &Having{Type: "equalTo", Aggregation: name, Value: f}, nil
		case expr.OpGreaterThan:
			return &Having{Type: "greaterThan", Aggregation: name, Value: f}, nil
		case expr.OpLessThan:
			return &Having{Type: "lessThan", Aggregation: name, Value: f}, nil
		case expr.OpGreaterThanOrEqual:
			return not(&Having{Type: "lessThan", Aggregation: name, Value: f}), nil
		case expr.OpLessThanOrEqual:
			return not(&Having{Type: "greaterThan", Aggregation: name, Value: f}), nil
		}
	}
	if op == expr.OpIn || op == expr.OpIs {
		switch t := v.(type) {
		case *value.Range:
			return rangeHaving(name, t)
		case *value.Set:
			if t.Size() == 0 {
				break
			}
			specs := make([]*Having, 0, t.Size())
			for _, e := range t.Elements() {
				var spec *Having
				var err error
				switch element := e.(type) {
				case float64:
					spec = &Having{Type: "equalTo", Aggregation: name, Value: element}
				case *value.Range:
					spec, err = rangeHaving(name, element)
				default:
					err = unsupported("can not compare %s with %v", name, e)
				}
				if err != nil {
					return nil, err
				}
				specs = append(specs, spec)
			}
			return either(specs), nil
		}
	}
	return nil, unsupported("can not filter groups on %s.%s(%v)", name, op, v)
}
