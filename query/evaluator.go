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

package query

import (
	"context"

	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 8

// QueryableSource is a source that can run the query it has accumulated.
type QueryableSource interface {
	expr.Source
	// Query returns a *value.Dataset in raw and split mode, a single value in total mode.
	Query(ctx context.Context) (interface{}, error)
}

// Evaluator computes expressions. Work is pushed into the sources the expression
// references as far as they accept it, the rest runs over in-memory rows.
type Evaluator struct {
	parallelism int
	logger      common.Logger
	reporter    *utils.Reporter
}

// NewEvaluator creates an evaluator running at most parallelism remote queries at once.
func NewEvaluator(parallelism int) *Evaluator {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Evaluator{
		parallelism: parallelism,
		logger:      utils.GetQueryLogger(),
		reporter:    utils.GetRootReporter(),
	}
}

// Plan reference checks, resolves and simplifies ex against datum. The result is the
// expression Compute runs, with every accepted action pushed into its source.
func (e *Evaluator) Plan(ex expr.Expression, datum value.Datum) (expr.Expression, error) {
	checked, err := expr.ReferenceCheck(ex, datum)
	if err != nil {
		return nil, err
	}
	resolved, err := expr.Resolve(checked, datum, expr.ResolveThrow)
	if err != nil {
		return nil, err
	}
	return expr.Simplify(resolved)
}

// Compute evaluates ex against datum.
func (e *Evaluator) Compute(ctx context.Context, ex expr.Expression, datum value.Datum) (result interface{}, err error) {
	e.reporter.GetCounter(utils.QueryReceived).Inc(1)
	stopWatch := e.reporter.GetTimer(utils.QueryLatency).Start()
	defer func() {
		stopWatch.Stop()
		if err != nil {
			e.reporter.GetCounter(utils.QueryFailed).Inc(1)
			e.logger.With("expression", ex.String(), "error", err).Error("query failed")
			return
		}
		e.reporter.GetCounter(utils.QuerySucceeded).Inc(1)
		if ds, ok := result.(*value.Dataset); ok {
			e.reporter.GetGauge(utils.QueryRowsReturned).Update(float64(ds.Len()))
		}
	}()

	plan, err := e.Plan(ex, datum)
	if err != nil {
		return nil, err
	}
	e.logger.With("expression", ex.String(), "plan", plan.String()).Debug("query planned")

	plan, err = e.prefetch(ctx, plan)
	if err != nil {
		return nil, err
	}
	result, err = e.evaluate(ctx, plan, &expr.Scope{Datum: datum})
	if err != nil {
		return nil, err
	}
	return dropSources(result), nil
}

// prefetch queries every external of the tree at once and replaces it with its result.
// Raw externals applied as a column are left alone; they are only queried through the
// actions later pushed into them.
func (e *Evaluator) prefetch(ctx context.Context, ex expr.Expression) (expr.Expression, error) {
	lazy := map[*expr.ExternalExpression]bool{}
	expr.ForEach(ex, func(node expr.Expression, _ int) {
		c, ok := node.(*expr.ChainExpression)
		if !ok {
			return
		}
		for _, a := range c.Actions {
			if apply, ok := a.(*expr.ApplyAction); ok {
				if ext, ok := apply.Expression.(*expr.ExternalExpression); ok && ext.Source.Mode() == expr.ModeRaw {
					lazy[ext] = true
				}
			}
		}
	})

	var externals []*expr.ExternalExpression
	for _, ext := range expr.Externals(ex) {
		if !lazy[ext] {
			externals = append(externals, ext)
		}
	}
	if len(externals) == 0 {
		return ex, nil
	}

	results := make([]interface{}, len(externals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, ext := range externals {
		i, ext := i, ext
		g.Go(func() error {
			v, err := e.query(gctx, ext.Source)
			results[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fetched := make(map[*expr.ExternalExpression]interface{}, len(externals))
	for i, ext := range externals {
		fetched[ext] = results[i]
	}
	return expr.MustSubstitute(ex, func(node expr.Expression, _ int) expr.Expression {
		if ext, ok := node.(*expr.ExternalExpression); ok {
			if v, found := fetched[ext]; found {
				return expr.Literal(v)
			}
		}
		return nil
	}), nil
}

func (e *Evaluator) query(ctx context.Context, source expr.Source) (interface{}, error) {
	queryable, ok := source.(QueryableSource)
	if !ok {
		return nil, utils.StackError(nil, "source %s can not be queried", source)
	}
	return queryable.Query(ctx)
}

func (e *Evaluator) evaluate(ctx context.Context, ex expr.Expression, scope *expr.Scope) (interface{}, error) {
	switch t := ex.(type) {
	case *expr.LiteralExpression:
		return t.Value, nil
	case *expr.RefExpression:
		v, err := lookup(t, scope)
		if err != nil {
			return nil, err
		}
		if source, ok := v.(expr.Source); ok {
			return e.query(ctx, source)
		}
		return v, nil
	case *expr.ExternalExpression:
		return e.query(ctx, t.Source)
	case *expr.ChainExpression:
		return e.evaluateChain(ctx, t, scope)
	}
	return nil, utils.StackError(nil, "unknown expression %T", ex)
}

func lookup(ref *expr.RefExpression, scope *expr.Scope) (interface{}, error) {
	target := scope
	for i := 0; i < ref.Nest && target != nil; i++ {
		target = target.Parent
	}
	if target == nil {
		return nil, utils.TypeError("%s went above the top scope", ref)
	}
	// A row without the column reads as null.
	return target.Datum[ref.Name], nil
}

func (e *Evaluator) evaluateChain(ctx context.Context, c *expr.ChainExpression, scope *expr.Scope) (input interface{}, err error) {
	if ref, ok := c.Expression.(*expr.RefExpression); ok {
		if input, err = lookup(ref, scope); err != nil {
			return nil, err
		}
		if source, ok := input.(expr.Source); ok {
			return e.pushDown(ctx, source, c.Actions, scope)
		}
	} else if input, err = e.evaluate(ctx, c.Expression, scope); err != nil {
		return nil, err
	}

	for _, a := range c.Actions {
		if input, err = e.evaluateAction(ctx, input, a, scope); err != nil {
			return nil, err
		}
	}
	return input, nil
}

// pushDown binds the actions to the current scope and lets the simplifier move them into
// the source before evaluating what is left.
func (e *Evaluator) pushDown(ctx context.Context, source expr.Source, actions []expr.Action, scope *expr.Scope) (interface{}, error) {
	resolved, err := expr.ResolveInScope(expr.Chain(expr.External(source), actions...), scope, expr.ResolveNull)
	if err != nil {
		return nil, err
	}
	simplified, err := expr.Simplify(resolved)
	if err != nil {
		return nil, err
	}
	if c, ok := simplified.(*expr.ChainExpression); ok {
		if _, ok := c.Expression.(*expr.ExternalExpression); ok {
			e.reporter.GetCounter(utils.PushDownRejected).Inc(1)
			e.logger.With("remaining", c.String()).Debug("actions left to evaluate locally")
		}
	}
	return e.evaluate(ctx, simplified, scope)
}

func (e *Evaluator) evaluateAction(ctx context.Context, input interface{}, a expr.Action, scope *expr.Scope) (interface{}, error) {
	if expr.IsScalarAction(a) {
		operands := expr.Operands(a)
		values := make([]interface{}, len(operands))
		for i, operand := range operands {
			v, err := e.evaluate(ctx, operand, scope)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return expr.ComputeScalar(a, input, values)
	}

	ds, ok := input.(*value.Dataset)
	if !ok {
		if input == nil {
			return nil, nil
		}
		return nil, utils.TypeError("%s needs a DATASET input, got %s", a.Op(), value.KindOf(input))
	}
	rowFn := func(operand expr.Expression) value.RowFn {
		return func(row value.Datum) (interface{}, error) {
			return e.evaluate(ctx, operand, &expr.Scope{Datum: row, Parent: scope})
		}
	}

	switch t := a.(type) {
	case *expr.FilterAction:
		return ds.Filter(rowFn(t.Expression))
	case *expr.SplitAction:
		keys := make([]value.SplitKey, len(t.Keys))
		for i, k := range t.Keys {
			keys[i] = value.SplitKey{Name: k.Name, Fn: rowFn(k.Expression)}
		}
		return ds.Split(keys, t.DataName)
	case *expr.ApplyAction:
		return e.apply(ctx, ds, t, scope)
	case *expr.SortAction:
		return ds.Sort(rowFn(t.Expression), t.Direction)
	case *expr.LimitAction:
		return ds.Limit(t.Limit), nil
	case *expr.SelectAction:
		return ds.Select(t.Attributes), nil
	case *expr.AggregateAction:
		switch t.Operator {
		case expr.OpCount:
			return ds.Count(), nil
		case expr.OpSum:
			return ds.Sum(rowFn(t.Expression))
		case expr.OpMin:
			return ds.Min(rowFn(t.Expression))
		case expr.OpMax:
			return ds.Max(rowFn(t.Expression))
		case expr.OpAverage:
			return ds.Average(rowFn(t.Expression))
		case expr.OpCountDistinct:
			return ds.CountDistinct(rowFn(t.Expression))
		}
	case *expr.QuantileAction:
		return ds.Quantile(rowFn(t.Expression), t.Probability)
	case *expr.JoinAction:
		other, err := e.evaluate(ctx, t.Expression, scope)
		if err != nil {
			return nil, err
		}
		otherDataset, ok := other.(*value.Dataset)
		if !ok {
			return nil, utils.TypeError("join needs a DATASET operand, got %s", value.KindOf(other))
		}
		return ds.Join(otherDataset)
	}
	return nil, utils.StackError(nil, "can not evaluate %s", a.Op())
}

// apply computes a new column. Rows are computed in parallel when the operand reaches a
// source, since every row then costs a remote query.
func (e *Evaluator) apply(ctx context.Context, ds *value.Dataset, a *expr.ApplyAction, scope *expr.Scope) (*value.Dataset, error) {
	rows := ds.Rows()
	values := make([]interface{}, len(rows))

	if ext, ok := a.Expression.(*expr.ExternalExpression); ok && ext.Source.Mode() == expr.ModeRaw {
		for i := range values {
			values[i] = ext.Source
		}
		return ds.ApplyValues(a.Name, values)
	}

	if !reachesSource(a.Expression, rows) {
		for i, row := range rows {
			v, err := e.evaluate(ctx, a.Expression, &expr.Scope{Datum: row, Parent: scope})
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return ds.ApplyValues(a.Name, values)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			v, err := e.evaluate(gctx, a.Expression, &expr.Scope{Datum: row, Parent: scope})
			values[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ds.ApplyValues(a.Name, values)
}

func reachesSource(ex expr.Expression, rows []value.Datum) bool {
	if expr.HasExternal(ex) {
		return true
	}
	if len(rows) == 0 {
		return false
	}
	return expr.Some(ex, func(node expr.Expression, nestDiff int) bool {
		ref, ok := node.(*expr.RefExpression)
		if !ok || ref.Nest != nestDiff {
			return false
		}
		_, isSource := rows[0][ref.Name].(expr.Source)
		return isSource
	})
}

// dropSources removes the columns still holding unqueried sources from a result.
func dropSources(v interface{}) interface{} {
	ds, ok := v.(*value.Dataset)
	if !ok || ds.Len() == 0 {
		return v
	}
	var keep []string
	dropped := false
	for _, a := range ds.Attributes() {
		if _, isSource := ds.Rows()[0][a.Name].(expr.Source); isSource {
			dropped = true
			continue
		}
		keep = append(keep, a.Name)
	}
	if !dropped {
		return v
	}
	return ds.Select(keep)
}
