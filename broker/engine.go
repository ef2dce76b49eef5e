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

	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/query/expr"
)

// NativeQuery is an external compiled for its backend.
type NativeQuery struct {
	// Query is the request sent to the backend, a druid query object or sql text.
	Query interface{}
	// Decode turns the backend response into a *value.Dataset in raw and split mode, or a
	// single value in total mode.
	Decode func(response interface{}) (interface{}, error)
}

// Engine compiles externals for one kind of backend. The capability hooks are asked
// before an action is pushed into an external; an action they refuse stays local.
type Engine interface {
	// Name is the engine identifier used in source configs.
	Name() string

	CanHandleFilter(ext *External, filter expr.Expression) bool
	CanHandleSort(ext *External, sort *expr.SortAction) bool
	// CanHandleAggregate is asked with the aggregation inlined over the columns of the
	// source, its filter included.
	CanHandleAggregate(ext *External, aggregation Aggregation) bool
	CanHandleSplit(ext *External, split *expr.SplitAction) bool
	CanHandleApply(ext *External, apply *expr.ApplyAction) bool

	// Compile translates an external into its native query. Every action of the external
	// passed the capability hooks, so a failure here is a defect of the engine.
	Compile(ext *External) (*NativeQuery, error)

	// NewRequester creates the transport talking to the backend of a source.
	NewRequester(config *SourceConfig, requesterConfig common.RequesterConfig) (Requester, error)

	// Introspect asks the backend for the attributes of a source.
	Introspect(ctx context.Context, requester Requester, config *SourceConfig) ([]AttributeConfig, error)
}

// Engines is the table of engines known to a catalog, keyed by name.
type Engines map[string]Engine

// NewEngines builds the engine table.
func NewEngines(engines ...Engine) Engines {
	table := make(Engines, len(engines))
	for _, engine := range engines {
		table[engine.Name()] = engine
	}
	return table
}
