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
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
)

// aggregation compiles one aggregate. A filtered aggregate only reads the rows passing
// its filter through a CASE expression.
func (c *compiler) aggregation(a broker.Aggregation) (string, error) {
	condition := ""
	if a.Filter != nil {
		var err error
		if condition, err = c.expression(a.Filter); err != nil {
			return "", err
		}
	}
	operand := func(ex expr.Expression) (string, error) {
		sql, err := c.expression(ex)
		if err != nil || condition == "" {
			return sql, err
		}
		return "CASE WHEN " + condition + " THEN " + sql + " END", nil
	}

	switch t := a.Aggregate.(type) {
	case *expr.AggregateAction:
		if t.Operator == expr.OpCount {
			if condition == "" {
				return "COUNT(*)", nil
			}
			return "SUM(CASE WHEN " + condition + " THEN 1 ELSE 0 END)", nil
		}
		x, err := operand(t.Expression)
		if err != nil {
			return "", err
		}
		switch t.Operator {
		case expr.OpSum:
			return "COALESCE(SUM(" + x + "),0)", nil
		case expr.OpMin:
			return "MIN(" + x + ")", nil
		case expr.OpMax:
			return "MAX(" + x + ")", nil
		case expr.OpAverage:
			return "AVG(" + x + ")", nil
		case expr.OpCountDistinct:
			return "COUNT(DISTINCT " + x + ")", nil
		}
	case *expr.QuantileAction:
		x, err := operand(t.Expression)
		if err != nil {
			return "", err
		}
		return c.dialect.Quantile(x, t.Probability)
	}
	return "", c.unsupported("%s is not an aggregate", a.Aggregate)
}

// outputs compiles the aggregations and post aggregations of the external, keyed by
// name, on top of the split keys.
func (c *compiler) outputs() (map[string]string, error) {
	names := map[string]string{}
	if split := c.ext.Split(); split != nil {
		for _, k := range split.Keys {
			sql, err := c.expression(k.Expression)
			if err != nil {
				return nil, err
			}
			names[k.Name] = sql
		}
	}
	for _, a := range c.ext.Aggregations() {
		sql, err := c.aggregation(a)
		if err != nil {
			return nil, err
		}
		names[a.Name] = sql
	}
	c.names = names
	for _, p := range c.ext.PostAggregations() {
		sql, err := c.expression(p.Expression)
		if err != nil {
			return nil, err
		}
		names[p.Name] = sql
	}
	return names, nil
}

func (c *compiler) as(sql, name string) string {
	return sql + " AS " + c.dialect.EscapeName(name)
}

func direction(d string) string {
	if d == value.Descending {
		return "DESC"
	}
	return "ASC"
}

// base starts a query over the filtered rows of the source. Aggregations and keys have
// to be compiled before the filter is, which only reads attributes.
func (c *compiler) base(columns []string) (sq.SelectBuilder, error) {
	names := c.names
	c.names = nil
	defer func() { c.names = names }()

	q := sq.Select(columns...).From(escapeTable(c.dialect, c.config.Source))
	if filter := c.ext.Filter(); filter != nil {
		where, err := c.expression(filter)
		if err != nil {
			return q, err
		}
		q = q.Where(where)
	}
	return q, nil
}

func (c *compiler) limit(q sq.SelectBuilder) sq.SelectBuilder {
	if limit, ok := c.ext.Limit(); ok {
		q = q.Limit(uint64(limit))
	}
	return q
}

// query assembles the select statement for the mode of the external.
func (c *compiler) query() (string, error) {
	var q sq.SelectBuilder
	var err error
	switch c.ext.Mode() {
	case expr.ModeRaw:
		q, err = c.raw()
	case expr.ModeTotal:
		q, err = c.total()
	case expr.ModeSplit:
		q, err = c.split()
	default:
		return "", c.unsupported("unknown mode %s", c.ext.Mode())
	}
	if err != nil {
		return "", err
	}
	text, args, err := q.ToSql()
	if err != nil {
		return "", err
	}
	if len(args) > 0 {
		return "", c.unsupported("literals must be inlined, got %d arguments", len(args))
	}
	return text, nil
}

func (c *compiler) derived(name string) expr.Expression {
	derived := c.ext.Derived()
	for i := len(derived) - 1; i >= 0; i-- {
		if derived[i].Name == name {
			return derived[i].Expression
		}
	}
	return nil
}

func (c *compiler) raw() (sq.SelectBuilder, error) {
	attributes := c.ext.Attributes()
	columns := make([]string, 0, len(attributes))
	for _, a := range attributes {
		if ex := c.derived(a.Name); ex != nil {
			sql, err := c.expression(ex)
			if err != nil {
				return sq.SelectBuilder{}, err
			}
			columns = append(columns, c.as(sql, a.Name))
			continue
		}
		columns = append(columns, c.dialect.EscapeName(a.Name))
	}
	q, err := c.base(columns)
	if err != nil {
		return q, err
	}
	if sort := c.ext.Sort(); sort != nil {
		sql, err := c.expression(sort.Expression)
		if err != nil {
			return q, err
		}
		q = q.OrderBy(sql + " " + direction(sort.Direction))
	}
	return c.limit(q), nil
}

func (c *compiler) total() (sq.SelectBuilder, error) {
	names, err := c.outputs()
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	columns := make([]string, 0, len(c.ext.Outputs()))
	for _, o := range c.ext.Outputs() {
		columns = append(columns, c.as(names[o], o))
	}
	return c.base(columns)
}

func (c *compiler) split() (sq.SelectBuilder, error) {
	names, err := c.outputs()
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	keys := c.ext.Split().Keys
	columns := make([]string, 0, len(keys)+len(c.ext.Outputs()))
	groups := make([]string, len(keys))
	for i, k := range keys {
		columns = append(columns, c.as(names[k.Name], k.Name))
		groups[i] = strconv.Itoa(i + 1)
	}
	for _, o := range c.ext.Outputs() {
		columns = append(columns, c.as(names[o], o))
	}
	q, err := c.base(columns)
	if err != nil {
		return q, err
	}
	q = q.GroupBy(strings.Join(groups, ","))
	if having := c.ext.Having(); having != nil {
		sql, err := c.expression(having)
		if err != nil {
			return q, err
		}
		q = q.Having(sql)
	}
	if sort := c.ext.Sort(); sort != nil {
		ref, ok := sort.Expression.(*expr.RefExpression)
		if !ok {
			return q, c.unsupported("can only sort groups on a column, got %s", sort.Expression)
		}
		q = q.OrderBy(c.dialect.EscapeName(ref.Name) + " " + direction(sort.Direction))
	}
	return c.limit(q), nil
}
