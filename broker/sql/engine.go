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
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/utils"
)

// Engine compiles externals into the SQL of one dialect.
type Engine struct {
	dialect Dialect
	open    func(dsn string) (broker.Requester, error)
}

// NewMySQLEngine creates the engine of MySQL sources.
func NewMySQLEngine() *Engine {
	return &Engine{dialect: MySQLDialect{}, open: func(dsn string) (broker.Requester, error) {
		return OpenMySQL(dsn)
	}}
}

// NewPostgresEngine creates the engine of Postgres sources.
func NewPostgresEngine() *Engine {
	return &Engine{dialect: PostgresDialect{}, open: func(dsn string) (broker.Requester, error) {
		return OpenPostgres(dsn)
	}}
}

// Name implements broker.Engine.
func (e *Engine) Name() string {
	return e.dialect.Name()
}

// Dialect returns the dialect the engine writes.
func (e *Engine) Dialect() Dialect {
	return e.dialect
}

func (e *Engine) compiles(ext *broker.External, ex expr.Expression) bool {
	_, err := newCompiler(e.dialect, ext).expression(ex)
	return err == nil
}

// CanHandleFilter accepts filters on rows and, after a split, on groups.
func (e *Engine) CanHandleFilter(ext *broker.External, filter expr.Expression) bool {
	if ext.Mode() == expr.ModeSplit {
		c := newCompiler(e.dialect, ext)
		if _, err := c.outputs(); err != nil {
			return false
		}
		_, err := c.expression(filter)
		return err == nil
	}
	return e.compiles(ext, filter)
}

// CanHandleSort accepts any expressible sort.
func (e *Engine) CanHandleSort(ext *broker.External, sort *expr.SortAction) bool {
	if ext.Mode() == expr.ModeSplit {
		_, ok := sort.Expression.(*expr.RefExpression)
		return ok
	}
	return e.compiles(ext, sort.Expression)
}

// CanHandleAggregate accepts aggregates the dialect can write, filter included.
func (e *Engine) CanHandleAggregate(ext *broker.External, aggregation broker.Aggregation) bool {
	_, err := newCompiler(e.dialect, ext).aggregation(aggregation)
	return err == nil
}

// CanHandleSplit accepts splits on expressible keys.
func (e *Engine) CanHandleSplit(ext *broker.External, split *expr.SplitAction) bool {
	for _, k := range split.Keys {
		if !e.compiles(ext, k.Expression) {
			return false
		}
	}
	return true
}

// CanHandleApply accepts derived columns of raw rows and arithmetic over aggregations.
func (e *Engine) CanHandleApply(ext *broker.External, apply *expr.ApplyAction) bool {
	if ext.Mode() == expr.ModeRaw {
		return e.compiles(ext, apply.Expression)
	}
	c := newCompiler(e.dialect, ext)
	if _, err := c.outputs(); err != nil {
		return false
	}
	_, err := c.expression(apply.Expression)
	return err == nil
}

// Compile implements broker.Engine. The native query is the SQL text.
func (e *Engine) Compile(ext *broker.External) (*broker.NativeQuery, error) {
	c := newCompiler(e.dialect, ext)
	text, err := c.query()
	if err != nil {
		return nil, err
	}
	return &broker.NativeQuery{Query: text, Decode: c.decoder()}, nil
}

// NewRequester connects to the database at the url of the source.
func (e *Engine) NewRequester(config *broker.SourceConfig, requesterConfig common.RequesterConfig) (broker.Requester, error) {
	if config.URL == "" {
		return nil, utils.ConstructionError("%s source %s has no url", e.Name(), config.Name)
	}
	return e.open(config.URL)
}

// Introspect reads the columns of the table of a source from information_schema.
func (e *Engine) Introspect(ctx context.Context, requester broker.Requester, config *broker.SourceConfig) ([]broker.AttributeConfig, error) {
	table := config.Source
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	response, err := requester.Request(ctx, broker.Request{Source: config.Name, Query: e.dialect.ColumnsQuery(table)})
	if err != nil {
		return nil, err
	}
	rows, err := rowsOf(response)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("table %s has no columns", config.Source)
	}
	attributes := make([]broker.AttributeConfig, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		nativeType, _ := row["type"].(string)
		kind, ok := nativeKind(nativeType)
		if name == "" || !ok {
			continue
		}
		attributes = append(attributes, broker.AttributeConfig{Name: name, Type: kind, NativeType: nativeType})
	}
	return attributes, nil
}
