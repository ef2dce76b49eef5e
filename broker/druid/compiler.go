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

func (c *compiler) compile() (*broker.NativeQuery, error) {
	switch c.ext.Mode() {
	case expr.ModeRaw:
		return c.scan()
	case expr.ModeTotal:
		return c.total()
	case expr.ModeSplit:
		return c.split()
	}
	return nil, unsupported("unknown mode %s", c.ext.Mode())
}

func (c *compiler) context() map[string]interface{} {
	if len(c.config.Context) == 0 {
		return nil
	}
	context := make(map[string]interface{}, len(c.config.Context))
	for k, v := range c.config.Context {
		context[k] = v
	}
	return context
}

// query starts a query of the given type over the filtered rows of the source.
func (c *compiler) query(queryType string) (*Query, error) {
	intervals, filter, err := c.intervalsAndFilter(c.ext.Filter())
	if err != nil {
		return nil, err
	}
	return &Query{
		QueryType:   queryType,
		DataSource:  c.config.Source,
		Intervals:   intervals,
		Granularity: "all",
		Filter:      filter,
		Context:     c.context(),
	}, nil
}

func (c *compiler) isTimeSort(sort *expr.SortAction) bool {
	return sort != nil && c.isTimeColumn(sort.Expression)
}

// scan fetches raw rows.
func (c *compiler) scan() (*broker.NativeQuery, error) {
	if !c.config.AllowSelectQueries {
		return nil, unsupported("%s does not allow select queries", c.config.Name)
	}
	q, err := c.query(Scan)
	if err != nil {
		return nil, err
	}
	q.Granularity = nil
	q.ResultFormat = "list"
	for _, a := range c.ext.Attributes() {
		q.Columns = append(q.Columns, c.column(a.Name))
	}
	if limit, ok := c.ext.Limit(); ok {
		q.Limit = limit
	}
	if sort := c.ext.Sort(); sort != nil {
		if !c.isTimeSort(sort) {
			return nil, unsupported("raw rows can only be sorted on %s", c.config.TimeAttribute)
		}
		q.Order = sort.Direction
	}
	return &broker.NativeQuery{Query: q, Decode: c.decodeScan}, nil
}

// timeBound tells whether an aggregation reads the smallest or largest time of the source.
func (c *compiler) timeBound(a broker.Aggregation) (string, bool) {
	aggregate, ok := a.Aggregate.(*expr.AggregateAction)
	if !ok || a.Filter != nil || aggregate.Expression == nil || !c.isTimeColumn(aggregate.Expression) {
		return "", false
	}
	switch aggregate.Operator {
	case expr.OpMin:
		return "minTime", true
	case expr.OpMax:
		return "maxTime", true
	}
	return "", false
}

// total reduces the rows of the source to a single value.
func (c *compiler) total() (*broker.NativeQuery, error) {
	aggregations := c.ext.Aggregations()
	if len(aggregations) == 1 && c.ext.Filter() == nil && len(c.ext.PostAggregations()) == 0 {
		if bound, ok := c.timeBound(aggregations[0]); ok {
			q := &Query{QueryType: TimeBoundary, DataSource: c.config.Source, Bound: bound, Context: c.context()}
			return &broker.NativeQuery{Query: q, Decode: c.decodeTimeBoundary(bound)}, nil
		}
	}
	q, err := c.query(Timeseries)
	if err != nil {
		return nil, err
	}
	if q.Aggregations, q.PostAggregations, err = c.aggregations(); err != nil {
		return nil, err
	}
	return &broker.NativeQuery{Query: q, Decode: c.decodeTotal}, nil
}

// split groups the rows of the source. A single key with a limit and no having becomes an
// approximate topN unless the source wants exact results, everything else a groupBy.
func (c *compiler) split() (*broker.NativeQuery, error) {
	keys := c.ext.Split().Keys
	dimensions := make([]*dimension, len(keys))
	specs := make([]*DimensionSpec, len(keys))
	for i, k := range keys {
		d, err := c.dimension(k.Expression)
		if err != nil {
			return nil, err
		}
		dimensions[i], specs[i] = d, d.spec(k.Name)
	}

	limit, hasLimit := c.ext.Limit()
	if len(keys) == 1 && hasLimit && c.ext.Having() == nil && !c.config.ExactResultsOnly {
		q, err := c.query(TopN)
		if err != nil {
			return nil, err
		}
		q.Dimension = specs[0]
		q.Threshold = limit
		q.Metric = c.topNMetric(dimensions[0])
		if q.Aggregations, q.PostAggregations, err = c.aggregations(); err != nil {
			return nil, err
		}
		return &broker.NativeQuery{Query: q, Decode: c.decodeTopN(dimensions)}, nil
	}

	q, err := c.query(GroupBy)
	if err != nil {
		return nil, err
	}
	q.Dimensions = specs
	if q.Aggregations, q.PostAggregations, err = c.aggregations(); err != nil {
		return nil, err
	}
	if having := c.ext.Having(); having != nil {
		if q.Having, err = c.having(having); err != nil {
			return nil, err
		}
	}
	q.LimitSpec = c.limitSpec(dimensions)
	return &broker.NativeQuery{Query: q, Decode: c.decodeGroupBy(dimensions)}, nil
}

func (c *compiler) sortedColumn() (string, string, bool) {
	sort := c.ext.Sort()
	if sort == nil {
		return "", "", false
	}
	ref, ok := sort.Expression.(*expr.RefExpression)
	if !ok {
		return "", "", false
	}
	return ref.Name, sort.Direction, true
}

func (c *compiler) keyOrdering(name string, dimensions []*dimension) (string, bool) {
	for i, k := range c.ext.Split().Keys {
		if k.Name == name {
			return dimensions[i].ordering(), true
		}
	}
	return Numeric, false
}

// topNMetric orders a topN by the sorted output, descending by default, or by its dimension.
func (c *compiler) topNMetric(d *dimension) interface{} {
	name, direction, ok := c.sortedColumn()
	if !ok || c.isSplitKey(name) {
		var metric interface{} = &TopNMetric{Type: "dimension", Ordering: d.ordering()}
		if direction == value.Descending {
			metric = &TopNMetric{Type: "inverted", Metric: metric}
		}
		return metric
	}
	if direction == value.Ascending {
		return &TopNMetric{Type: "inverted", Metric: name}
	}
	return name
}

func (c *compiler) limitSpec(dimensions []*dimension) *LimitSpec {
	limit, hasLimit := c.ext.Limit()
	name, direction, sorted := c.sortedColumn()
	if !hasLimit && !sorted {
		return nil
	}
	spec := &LimitSpec{Type: "default", Limit: limit}
	if sorted {
		ordering, _ := c.keyOrdering(name, dimensions)
		spec.Columns = []*OrderByColumnSpec{{Dimension: name, Direction: direction, DimensionOrder: ordering}}
	}
	return spec
}
