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

package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

const (
	// ValueName names the single output of a total mode external.
	ValueName = "__VALUE__"

	temporaryPrefix = "!T_"
)

// Aggregation is one aggregate computed by the backend over the rows of a group, or over
// all rows in total mode.
type Aggregation struct {
	Name string
	// Filter restricts the rows the aggregate runs over, nil for all of them.
	Filter expr.Expression
	// Aggregate is an *expr.AggregateAction or an *expr.QuantileAction.
	Aggregate expr.Action
	// Temporary aggregations only feed post aggregations and are not returned.
	Temporary bool
}

func (a Aggregation) equivalent(other Aggregation) bool {
	return expr.ActionEquals(a.Aggregate, other.Aggregate) && expr.Equals(a.Filter, other.Filter)
}

// PostAggregation computes an output from aggregations and earlier outputs, which its
// expression references by name.
type PostAggregation struct {
	Name       string
	Expression expr.Expression
}

// External is the query plan accumulated for a remote source. Externals are immutable,
// every accepted action returns a new one.
type External struct {
	engine    Engine
	config    *SourceConfig
	requester Requester

	mode             string
	kind             value.Kind
	filter           expr.Expression
	derived          []*expr.ApplyAction
	split            *expr.SplitAction
	base             *External
	aggregations     []Aggregation
	postAggregations []PostAggregation
	outputs          []string
	sort             *expr.SortAction
	limit            *int
	having           expr.Expression

	attributes    []value.AttributeInfo
	rawAttributes []value.AttributeInfo
	history       []string
}

// NewExternal creates a raw external over a source.
func NewExternal(engine Engine, config *SourceConfig, requester Requester) *External {
	attributes := config.AttributeInfos()
	return &External{
		engine:        engine,
		config:        config,
		requester:     requester,
		mode:          expr.ModeRaw,
		kind:          value.DatasetKind,
		attributes:    attributes,
		rawAttributes: attributes,
	}
}

// Engine returns the engine compiling the external.
func (e *External) Engine() Engine { return e.engine }

// Config returns the config of the source.
func (e *External) Config() *SourceConfig { return e.config }

// Kind is DATASET in raw and split mode, the kind of the value in total mode.
func (e *External) Kind() value.Kind { return e.kind }

// Mode returns the mode of the external.
func (e *External) Mode() string { return e.mode }

// Attributes describes the rows the external returns.
func (e *External) Attributes() []value.AttributeInfo { return e.attributes }

// RawAttributes describes the rows of the source before any split.
func (e *External) RawAttributes() []value.AttributeInfo { return e.rawAttributes }

// Remote tags references into the source with the name of its engine.
func (e *External) Remote() string { return e.engine.Name() }

// Filter returns the filter on the rows of the source, nil when all rows are kept.
func (e *External) Filter() expr.Expression { return e.filter }

// Derived returns the attributes computed per row in raw mode.
func (e *External) Derived() []*expr.ApplyAction { return e.derived }

// Split returns the split of a split mode external.
func (e *External) Split() *expr.SplitAction { return e.split }

// Aggregations returns the aggregates computed by the backend.
func (e *External) Aggregations() []Aggregation { return e.aggregations }

// PostAggregations returns the outputs computed from aggregates.
func (e *External) PostAggregations() []PostAggregation { return e.postAggregations }

// Outputs lists the non temporary aggregates and post aggregates in apply order.
func (e *External) Outputs() []string { return e.outputs }

// Sort returns the sort, or nil.
func (e *External) Sort() *expr.SortAction { return e.sort }

// Limit returns the limit and whether one is set.
func (e *External) Limit() (int, bool) {
	if e.limit == nil {
		return 0, false
	}
	return *e.limit, true
}

// Having returns the filter on the rows of a split, nil when all rows are kept.
func (e *External) Having() expr.Expression { return e.having }

// Aggregation looks up an aggregation by name.
func (e *External) Aggregation(name string) (Aggregation, bool) {
	for _, a := range e.aggregations {
		if a.Name == name {
			return a, true
		}
	}
	return Aggregation{}, false
}

// IsAttribute tells whether name is a column of the rows of the source.
func (e *External) IsAttribute(name string) bool {
	for _, a := range e.rawAttributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

func (e *External) String() string {
	return e.engine.Name() + ":" + e.config.Name + "[" + strings.Join(e.history, ",") + "]"
}

// Equals tells whether other is the same plan on the same source.
func (e *External) Equals(other expr.Source) bool {
	o, ok := other.(*External)
	return ok && o.config.Name == e.config.Name && o.String() == e.String()
}

func (e *External) clone() *External {
	c := *e
	c.derived = append([]*expr.ApplyAction(nil), e.derived...)
	c.aggregations = append([]Aggregation(nil), e.aggregations...)
	c.postAggregations = append([]PostAggregation(nil), e.postAggregations...)
	c.outputs = append([]string(nil), e.outputs...)
	c.attributes = append([]value.AttributeInfo(nil), e.attributes...)
	return &c
}

// AddAction returns a new external absorbing a, or nil when a has to be evaluated
// locally. The receiver is never changed.
func (e *External) AddAction(a expr.Action) expr.Source {
	next := e.addAction(a)
	if next == nil {
		return nil
	}
	next.history = append(append([]string(nil), e.history...), a.String())
	return next
}

func (e *External) addAction(a expr.Action) *External {
	if len(expr.ActionFreeReferences(a)) > 0 {
		return nil
	}
	switch t := a.(type) {
	case *expr.FilterAction:
		return e.addFilter(t.Expression)
	case *expr.SplitAction:
		return e.addSplit(t)
	case *expr.ApplyAction:
		return e.addApply(t)
	case *expr.AggregateAction, *expr.QuantileAction:
		return e.addAggregate(a)
	case *expr.SortAction:
		return e.addSort(t)
	case *expr.LimitAction:
		return e.addLimit(t.Limit)
	case *expr.SelectAction:
		return e.addSelect(t.Attributes)
	case *expr.ArithmeticAction:
		return e.addPostArithmetic(t)
	}
	return nil
}

// inline replaces references to derived attributes with their expressions, so backends
// only ever see columns of the source.
func (e *External) inline(ex expr.Expression) expr.Expression {
	if len(e.derived) == 0 || ex == nil {
		return ex
	}
	return expr.MustSubstitute(ex, func(node expr.Expression, nestDiff int) expr.Expression {
		ref, ok := node.(*expr.RefExpression)
		if !ok || nestDiff != 0 || ref.Nest != 0 {
			return nil
		}
		for i := len(e.derived) - 1; i >= 0; i-- {
			if e.derived[i].Name == ref.Name {
				return e.derived[i].Expression
			}
		}
		return nil
	})
}

func conjoin(filter, condition expr.Expression) expr.Expression {
	if filter == nil {
		return condition
	}
	joined := expr.Chain(filter, expr.And(condition))
	if simplified, err := expr.Simplify(joined); err == nil {
		return simplified
	}
	return joined
}

func (e *External) addFilter(condition expr.Expression) *External {
	if e.limit != nil {
		return nil
	}
	switch e.mode {
	case expr.ModeRaw:
		return e.addRowFilter(e.inline(condition))
	case expr.ModeSplit:
		if !e.readsOutputsOnly(condition) || !e.engine.CanHandleFilter(e, condition) {
			return nil
		}
		next := e.clone()
		next.having = conjoin(e.having, condition)
		return next
	}
	return nil
}

// addRowFilter conjoins a condition that only reads columns of the source.
func (e *External) addRowFilter(condition expr.Expression) *External {
	if !e.engine.CanHandleFilter(e, condition) {
		return nil
	}
	next := e.clone()
	next.filter = conjoin(e.filter, condition)
	return next
}

// readsOutputsOnly tells whether every column ex reads is a split key or an output.
func (e *External) readsOutputsOnly(ex expr.Expression) bool {
	return expr.Every(ex, func(node expr.Expression, nestDiff int) bool {
		ref, ok := node.(*expr.RefExpression)
		if !ok {
			return true
		}
		return nestDiff == 0 && ref.Nest == 0 && e.isOutputColumn(ref.Name)
	})
}

func (e *External) isOutputColumn(name string) bool {
	if e.split != nil {
		for _, k := range e.split.Keys {
			if k.Name == name {
				return true
			}
		}
	}
	for _, o := range e.outputs {
		if o == name {
			return true
		}
	}
	return false
}

func (e *External) addSplit(split *expr.SplitAction) *External {
	if e.mode != expr.ModeRaw || e.sort != nil || e.limit != nil {
		return nil
	}
	keys := make([]expr.SplitKey, len(split.Keys))
	for i, k := range split.Keys {
		keys[i] = expr.SplitKey{Name: k.Name, Expression: e.inline(k.Expression)}
	}
	inlined := &expr.SplitAction{Keys: keys, DataName: split.DataName}
	if !e.engine.CanHandleSplit(e, inlined) {
		return nil
	}

	next := e.clone()
	next.mode = expr.ModeSplit
	next.split = inlined
	next.base = e
	next.rawAttributes = e.attributes
	next.attributes = make([]value.AttributeInfo, 0, len(keys)+1)
	for _, k := range keys {
		next.attributes = append(next.attributes, value.AttributeInfo{Name: k.Name, Kind: k.Expression.Kind()})
	}
	if split.DataName != "" {
		next.attributes = append(next.attributes, value.AttributeInfo{
			Name:       split.DataName,
			Kind:       value.DatasetKind,
			Datasetype: e.attributes,
		})
	}
	return next
}

func (e *External) addApply(apply *expr.ApplyAction) *External {
	switch e.mode {
	case expr.ModeRaw:
		if e.limit != nil || !isScalar(apply.Expression) {
			return nil
		}
		inlined := &expr.ApplyAction{Name: apply.Name, Expression: e.inline(apply.Expression)}
		if !e.engine.CanHandleApply(e, inlined) {
			return nil
		}
		next := e.clone()
		next.derived = append(next.derived, inlined)
		next.setAttribute(value.AttributeInfo{Name: apply.Name, Kind: inlined.Expression.Kind()})
		return next
	case expr.ModeSplit:
		return e.decompose(apply)
	}
	return nil
}

func (e *External) setAttribute(attribute value.AttributeInfo) {
	for i, a := range e.attributes {
		if a.Name == attribute.Name {
			e.attributes[i] = attribute
			return
		}
	}
	e.attributes = append(e.attributes, attribute)
}

// isScalar tells whether ex computes a value per row without nested datasets.
func isScalar(ex expr.Expression) bool {
	return expr.Every(ex, func(node expr.Expression, _ int) bool {
		switch t := node.(type) {
		case *expr.ExternalExpression:
			return false
		case *expr.ChainExpression:
			for _, a := range t.Actions {
				if !expr.IsScalarAction(a) {
					return false
				}
			}
		}
		return true
	})
}

// aggregationOf matches $data.filter(...).aggregate(...) where data is the group dataset.
func aggregationOf(node expr.Expression, dataName string) (Aggregation, bool) {
	c, ok := node.(*expr.ChainExpression)
	if !ok || !expr.IsAggregate(c.Last()) {
		return Aggregation{}, false
	}
	ref, ok := c.Expression.(*expr.RefExpression)
	if !ok || ref.Nest != 0 || ref.Name != dataName {
		return Aggregation{}, false
	}
	var filter expr.Expression
	for _, a := range c.Actions[:len(c.Actions)-1] {
		f, ok := a.(*expr.FilterAction)
		if !ok {
			return Aggregation{}, false
		}
		filter = conjoin(filter, f.Expression)
	}
	return Aggregation{Filter: filter, Aggregate: c.Last()}, true
}

func (e *External) inlineAggregation(a Aggregation) Aggregation {
	a.Filter = e.inline(a.Filter)
	if operands := expr.Operands(a.Aggregate); len(operands) > 0 {
		inlined := make([]expr.Expression, len(operands))
		for i, operand := range operands {
			inlined[i] = e.inline(operand)
		}
		a.Aggregate = expr.WithOperands(a.Aggregate, inlined)
	}
	return a
}

// addAggregation records an aggregation, reusing an equivalent one, and returns its name.
func (e *External) addAggregation(a Aggregation) string {
	for _, existing := range e.aggregations {
		if existing.equivalent(a) {
			return existing.Name
		}
	}
	if a.Name == "" {
		a.Name = fmt.Sprintf("%s%d", temporaryPrefix, len(e.aggregations))
		a.Temporary = true
	}
	e.aggregations = append(e.aggregations, a)
	return a.Name
}

func columnRef(name string) *expr.RefExpression {
	return &expr.RefExpression{Name: name, Type: value.NumberKind}
}

// decompose splits an apply on a split into aggregations and a post aggregation over them.
func (e *External) decompose(apply *expr.ApplyAction) *External {
	if e.limit != nil || e.isOutputColumn(apply.Name) {
		return nil
	}
	dataName := e.split.DataName
	next := e.clone()

	if a, ok := aggregationOf(apply.Expression, dataName); ok {
		a = e.base.inlineAggregation(a)
		if !e.engine.CanHandleAggregate(e, a) {
			return nil
		}
		for _, existing := range e.aggregations {
			if existing.equivalent(a) {
				next.postAggregations = append(next.postAggregations, PostAggregation{
					Name:       apply.Name,
					Expression: columnRef(existing.Name),
				})
				next.outputs = append(next.outputs, apply.Name)
				next.attributes = append(next.attributes, value.AttributeInfo{Name: apply.Name, Kind: value.NumberKind})
				return next
			}
		}
		a.Name = apply.Name
		next.addAggregation(a)
		next.outputs = append(next.outputs, apply.Name)
		next.attributes = append(next.attributes, value.AttributeInfo{Name: apply.Name, Kind: aggregateKind(a.Aggregate)})
		return next
	}

	post, ok := next.postAggregation(apply.Expression, dataName)
	if !ok || !next.isPostAggregation(post) {
		return nil
	}
	postApply := &expr.ApplyAction{Name: apply.Name, Expression: post}
	if !e.engine.CanHandleApply(next, postApply) {
		return nil
	}
	next.postAggregations = append(next.postAggregations, PostAggregation{Name: apply.Name, Expression: post})
	next.outputs = append(next.outputs, apply.Name)
	next.attributes = append(next.attributes, value.AttributeInfo{Name: apply.Name, Kind: value.NumberKind})
	return next
}

// postAggregation replaces the aggregates of the group dataset in ex with references to
// aggregations, registering them on e. Chains are cut after their first aggregate, as in
// $rows.sum($added).divide($rows.count()).
func (e *External) postAggregation(ex expr.Expression, dataName string) (expr.Expression, bool) {
	c, ok := ex.(*expr.ChainExpression)
	if !ok {
		return ex, true
	}
	root, rest := c.Expression, c.Actions
	for i, a := range c.Actions {
		if !expr.IsAggregate(a) {
			continue
		}
		agg, ok := aggregationOf(expr.Chain(c.Expression, c.Actions[:i+1]...), dataName)
		if !ok {
			return nil, false
		}
		agg = e.base.inlineAggregation(agg)
		if !e.engine.CanHandleAggregate(e, agg) {
			return nil, false
		}
		root, rest = columnRef(e.addAggregation(agg)), c.Actions[i+1:]
		break
	}
	if root == c.Expression {
		if root, ok = e.postAggregation(root, dataName); !ok {
			return nil, false
		}
	}
	actions := make([]expr.Action, len(rest))
	for i, a := range rest {
		operands := expr.Operands(a)
		if len(operands) == 0 {
			actions[i] = a
			continue
		}
		replaced := make([]expr.Expression, len(operands))
		for j, operand := range operands {
			if replaced[j], ok = e.postAggregation(operand, dataName); !ok {
				return nil, false
			}
		}
		actions[i] = expr.WithOperands(a, replaced)
	}
	return expr.Chain(root, actions...), true
}

// isPostAggregation tells whether ex is scalar arithmetic over aggregations and outputs.
func (e *External) isPostAggregation(ex expr.Expression) bool {
	return expr.Every(ex, func(node expr.Expression, nestDiff int) bool {
		switch t := node.(type) {
		case *expr.RefExpression:
			if nestDiff != 0 || t.Nest != 0 {
				return false
			}
			_, isAggregation := e.Aggregation(t.Name)
			return isAggregation || (e.isOutputColumn(t.Name) && !e.isSplitKey(t.Name))
		case *expr.ChainExpression:
			for _, a := range t.Actions {
				if _, ok := a.(*expr.ArithmeticAction); !ok {
					return false
				}
			}
		case *expr.ExternalExpression:
			return false
		}
		return true
	})
}

func (e *External) isSplitKey(name string) bool {
	for _, k := range e.split.Keys {
		if k.Name == name {
			return true
		}
	}
	return false
}

func aggregateKind(a expr.Action) value.Kind {
	if t, ok := a.(*expr.AggregateAction); ok && (t.Operator == expr.OpMin || t.Operator == expr.OpMax) {
		if kind := t.Expression.Kind(); kind == value.TimeKind {
			return kind
		}
	}
	return value.NumberKind
}

func (e *External) addAggregate(aggregate expr.Action) *External {
	if e.mode != expr.ModeRaw || e.limit != nil {
		return nil
	}
	a := e.inlineAggregation(Aggregation{Name: ValueName, Aggregate: aggregate})
	if !e.engine.CanHandleAggregate(e, a) {
		return nil
	}
	next := e.clone()
	next.mode = expr.ModeTotal
	next.kind = aggregateKind(a.Aggregate)
	// Order does not matter to an aggregate.
	next.sort = nil
	next.aggregations = []Aggregation{a}
	next.outputs = []string{ValueName}
	next.rawAttributes = e.attributes
	next.attributes = nil
	return next
}

// addPostArithmetic folds arithmetic with a literal into the value of a total external.
func (e *External) addPostArithmetic(a *expr.ArithmeticAction) *External {
	if e.mode != expr.ModeTotal || e.kind != value.NumberKind {
		return nil
	}
	if v, ok := expr.LiteralValue(a.Expression); !ok || value.KindOf(v) != value.NumberKind {
		return nil
	}
	next := e.clone()
	var current expr.Expression
	if i := indexOfAggregation(next.aggregations, ValueName); i >= 0 {
		temporary := fmt.Sprintf("%s%d", temporaryPrefix, i)
		next.aggregations[i].Name = temporary
		next.aggregations[i].Temporary = true
		current = columnRef(temporary)
	} else {
		last := len(next.postAggregations) - 1
		current = next.postAggregations[last].Expression
		next.postAggregations = next.postAggregations[:last]
	}
	post := &expr.ApplyAction{Name: ValueName, Expression: expr.Chain(current, a)}
	if !e.engine.CanHandleApply(next, post) {
		return nil
	}
	next.postAggregations = append(next.postAggregations, PostAggregation{Name: ValueName, Expression: post.Expression})
	return next
}

func indexOfAggregation(aggregations []Aggregation, name string) int {
	for i, a := range aggregations {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// addSort sets the order of the rows, replacing an earlier order while no limit is set.
func (e *External) addSort(sort *expr.SortAction) *External {
	if e.mode == expr.ModeTotal || e.limit != nil {
		return nil
	}
	if e.mode == expr.ModeRaw {
		sort = &expr.SortAction{Expression: e.inline(sort.Expression), Direction: sort.Direction}
	} else if ref, ok := sort.Expression.(*expr.RefExpression); !ok || !e.isOutputColumn(ref.Name) {
		return nil
	}
	if !e.engine.CanHandleSort(e, sort) {
		return nil
	}
	next := e.clone()
	next.sort = sort
	return next
}

func (e *External) addLimit(limit int) *External {
	if e.mode == expr.ModeTotal {
		return nil
	}
	if e.limit != nil && *e.limit < limit {
		limit = *e.limit
	}
	next := e.clone()
	next.limit = &limit
	return next
}

func (e *External) addSelect(names []string) *External {
	if e.mode != expr.ModeRaw {
		return nil
	}
	selected := make([]value.AttributeInfo, 0, len(names))
	for _, name := range names {
		found := false
		for _, a := range e.attributes {
			if a.Name == name {
				selected = append(selected, a)
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}
	next := e.clone()
	next.attributes = selected
	return next
}

// Query compiles the external, sends it to the backend and decodes the response. A split
// with a data name gets, per row, a raw external filtered to the rows of the group.
func (e *External) Query(ctx context.Context) (interface{}, error) {
	reporter := utils.GetReporter(e.config.Name)
	native, err := e.engine.Compile(e)
	if err != nil {
		return nil, utils.StackError(err, "failed to compile %s", e)
	}
	utils.GetQueryLogger().With("external", e.String(), "query", native.Query,
		"requestID", utils.RequestIDFrom(ctx)).Debug("native query")

	reporter.GetCounter(utils.ExternalQueries).Inc(1)
	stopWatch := reporter.GetTimer(utils.ExternalQueryLatency).Start()
	response, err := e.requester.Request(ctx, Request{Source: e.config.Name, Query: native.Query})
	stopWatch.Stop()
	if err != nil {
		reporter.GetCounter(utils.ExternalQueryFailed).Inc(1)
		return nil, utils.RemoteError(err, "query to %s failed", e.config.Name)
	}

	result, err := native.Decode(response)
	if err != nil {
		reporter.GetCounter(utils.ExternalQueryFailed).Inc(1)
		return nil, utils.RemoteError(err, "malformed response from %s", e.config.Name)
	}
	ds, ok := result.(*value.Dataset)
	if !ok {
		return result, nil
	}
	reporter.GetGauge(utils.ExternalRowsReturned).Update(float64(ds.Len()))
	if e.mode == expr.ModeSplit && e.split.DataName != "" {
		return e.attachGroups(ds)
	}
	return ds, nil
}

func (e *External) attachGroups(ds *value.Dataset) (*value.Dataset, error) {
	groups := make([]interface{}, ds.Len())
	for i, row := range ds.Rows() {
		group, err := e.Group(row)
		if err != nil {
			return nil, err
		}
		groups[i] = group
	}
	return ds.ApplyValues(e.split.DataName, groups)
}

// Group returns the raw external over the rows of the source falling in the split row.
// Split keys are already inlined, so their conditions bypass the derived attributes.
func (e *External) Group(row value.Datum) (*External, error) {
	group := e.base
	for _, k := range e.split.Keys {
		condition, err := expr.Simplify(expr.Chain(k.Expression, expr.Is(expr.Literal(row[k.Name]))))
		if err != nil {
			return nil, err
		}
		next := group.addRowFilter(condition)
		if next == nil {
			return nil, utils.StackError(nil, "%s rejected the filter of its own split key %s", group, k.Name)
		}
		next.history = append(append([]string(nil), group.history...), expr.Filter(condition).String())
		group = next
	}
	return group, nil
}
