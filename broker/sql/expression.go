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

package sql

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
)

var arithmeticOperators = map[expr.Op]string{
	expr.OpAdd:      "+",
	expr.OpSubtract: "-",
	expr.OpMultiply: "*",
}

var comparisonOperators = map[expr.Op]string{
	expr.OpIs:                 "=",
	expr.OpLessThan:           "<",
	expr.OpLessThanOrEqual:    "<=",
	expr.OpGreaterThan:        ">",
	expr.OpGreaterThanOrEqual: ">=",
}

// compiler translates the parts of one external into SQL fragments.
type compiler struct {
	dialect Dialect
	ext     *broker.External
	config  *broker.SourceConfig
	// names resolves references to the outputs and keys of a split or total.
	names map[string]string
}

func newCompiler(dialect Dialect, ext *broker.External) *compiler {
	return &compiler{dialect: dialect, ext: ext, config: ext.Config()}
}

func (c *compiler) unsupported(message string, args ...interface{}) error {
	return unsupported(c.dialect, message, args...)
}

func (c *compiler) literal(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", c.unsupported("can not write %v", t)
		}
		return value.FormatNumber(t), nil
	case string:
		return c.dialect.EscapeString(t), nil
	case time.Time:
		return c.dialect.Time(t), nil
	}
	return "", c.unsupported("can not write a %s literal", value.KindOf(v))
}

func (c *compiler) reference(ref *expr.RefExpression) (string, error) {
	if ref.Nest != 0 {
		return "", c.unsupported("can not reference an outer scope, got %s", ref)
	}
	if c.names != nil {
		if sql, ok := c.names[ref.Name]; ok {
			return sql, nil
		}
	}
	if _, ok := c.config.Attribute(ref.Name); !ok {
		return "", c.unsupported("%s has no attribute %s", c.config.Name, ref.Name)
	}
	return c.dialect.EscapeName(ref.Name), nil
}

// expression compiles a scalar or boolean expression.
func (c *compiler) expression(ex expr.Expression) (string, error) {
	switch t := ex.(type) {
	case *expr.LiteralExpression:
		return c.literal(t.Value)
	case *expr.RefExpression:
		return c.reference(t)
	case *expr.ChainExpression:
		sql, err := c.expression(t.Expression)
		if err != nil {
			return "", err
		}
		for _, a := range t.Actions {
			if sql, err = c.action(sql, a); err != nil {
				return "", err
			}
		}
		return sql, nil
	}
	return "", c.unsupported("can not express %s", ex)
}

func (c *compiler) action(operand string, a expr.Action) (string, error) {
	d := c.dialect
	switch t := a.(type) {
	case *expr.ArithmeticAction:
		other, err := c.expression(t.Expression)
		if err != nil {
			return "", err
		}
		switch t.Operator {
		case expr.OpDivide:
			return fmt.Sprintf("(%s/NULLIF(%s,0))", operand, other), nil
		case expr.OpPower:
			return fmt.Sprintf("POWER(%s,%s)", operand, other), nil
		}
		return "(" + operand + arithmeticOperators[t.Operator] + other + ")", nil
	case *expr.ComparisonAction:
		return c.comparison(operand, t)
	case *expr.BooleanAction:
		other, err := c.expression(t.Expression)
		if err != nil {
			return "", err
		}
		return "(" + operand + " " + strings.ToUpper(string(t.Operator)) + " " + other + ")", nil
	case *expr.NotAction:
		return "NOT(" + operand + ")", nil
	case *expr.ConcatAction:
		other, err := c.expression(t.Expression)
		if err != nil {
			return "", err
		}
		return d.Concat(operand, other), nil
	case *expr.ContainsAction:
		needle, err := c.expression(t.Expression)
		if err != nil {
			return "", err
		}
		return d.Contains(operand, needle, t.IgnoreCase), nil
	case *expr.MatchAction:
		if _, err := expr.CompileRegexp(t.Regexp); err != nil {
			return "", err
		}
		return d.Match(operand, t.Regexp), nil
	case *expr.ExtractAction:
		return d.Extract(operand, t.Regexp)
	case *expr.SubstrAction:
		return d.Substr(operand, t.Position, t.Length), nil
	case *expr.LengthAction:
		return d.Length(operand), nil
	case *expr.FallbackAction:
		other, err := c.expression(t.Expression)
		if err != nil {
			return "", err
		}
		return "COALESCE(" + operand + "," + other + ")", nil
	case *expr.AbsoluteAction:
		return "ABS(" + operand + ")", nil
	case *expr.TimeFloorAction:
		return d.TimeFloor(operand, t.Duration, t.Timezone)
	case *expr.TimeBucketAction:
		// The bucket is read back from its start.
		return d.TimeFloor(operand, t.Duration, t.Timezone)
	case *expr.TimeShiftAction:
		return d.TimeShift(operand, t.Duration, t.Step, t.Timezone)
	case *expr.TimePartAction:
		return d.TimePart(operand, t.Part, t.Timezone)
	case *expr.NumberBucketAction:
		if t.Size <= 0 {
			return "", c.unsupported("invalid bucket size %v", t.Size)
		}
		offset, size := value.FormatNumber(t.Offset), value.FormatNumber(t.Size)
		return fmt.Sprintf("(FLOOR((%s-%s)/%s)*%s+%s)", operand, offset, size, size, offset), nil
	}
	return "", c.unsupported("can not express %s", a)
}

func (c *compiler) comparison(operand string, a *expr.ComparisonAction) (string, error) {
	v, isLiteral := expr.LiteralValue(a.Expression)
	if !isLiteral {
		sql, ok := comparisonOperators[a.Operator]
		if !ok {
			return "", c.unsupported("can only test membership in literals, got %s", a)
		}
		other, err := c.expression(a.Expression)
		if err != nil {
			return "", err
		}
		return "(" + operand + sql + other + ")", nil
	}

	switch t := v.(type) {
	case nil:
		if a.Operator == expr.OpIs || a.Operator == expr.OpIn {
			return "(" + operand + " IS NULL)", nil
		}
	case *value.Range:
		if a.Operator == expr.OpIs || a.Operator == expr.OpIn {
			return c.rangeCondition(operand, t)
		}
	case *value.Set:
		if a.Operator == expr.OpIs || a.Operator == expr.OpIn {
			return c.setCondition(operand, t)
		}
	default:
		if sql, ok := comparisonOperators[a.Operator]; ok {
			literal, err := c.literal(v)
			if err != nil {
				return "", err
			}
			return "(" + operand + sql + literal + ")", nil
		}
	}
	return "", c.unsupported("can not express %s", a)
}

func (c *compiler) rangeCondition(operand string, r *value.Range) (string, error) {
	var parts []string
	if r.Start() != nil {
		start, err := c.literal(r.Start())
		if err != nil {
			return "", err
		}
		op := ">="
		if r.OpenStart() {
			op = ">"
		}
		parts = append(parts, operand+op+start)
	}
	if r.End() != nil {
		end, err := c.literal(r.End())
		if err != nil {
			return "", err
		}
		op := "<"
		if !r.OpenEnd() {
			op = "<="
		}
		parts = append(parts, operand+op+end)
	}
	switch len(parts) {
	case 0:
		return "(" + operand + " IS NOT NULL)", nil
	case 1:
		return "(" + parts[0] + ")", nil
	}
	return "(" + parts[0] + " AND " + parts[1] + ")", nil
}

func (c *compiler) setCondition(operand string, s *value.Set) (string, error) {
	if s.Size() == 0 {
		return "FALSE", nil
	}
	var conditions, literals []string
	for _, e := range s.Elements() {
		switch t := e.(type) {
		case nil:
			conditions = append(conditions, "("+operand+" IS NULL)")
		case *value.Range:
			condition, err := c.rangeCondition(operand, t)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, condition)
		default:
			literal, err := c.literal(e)
			if err != nil {
				return "", err
			}
			literals = append(literals, literal)
		}
	}
	if len(literals) > 0 {
		conditions = append([]string{operand + " IN (" + strings.Join(literals, ",") + ")"}, conditions...)
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return "(" + strings.Join(conditions, " OR ") + ")", nil
}
