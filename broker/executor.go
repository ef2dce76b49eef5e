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
	"time"

	apiCom "github.com/uber/aresquery/api/common"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/query"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
	"golang.org/x/sync/semaphore"
)

const defaultParallelism = 8

// QueryExecutor evaluates expressions over the sources of a catalog. It is reused across
// all queries.
type QueryExecutor struct {
	catalog   *Catalog
	evaluator *query.Evaluator
	timeout   time.Duration
	// nil when queries are not limited
	admission *semaphore.Weighted
}

// NewQueryExecutor creates a new QueryExecutor.
func NewQueryExecutor(catalog *Catalog, config common.QueryConfig) *QueryExecutor {
	parallelism := config.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	qe := &QueryExecutor{
		catalog:   catalog,
		evaluator: query.NewEvaluator(parallelism),
		timeout:   time.Duration(config.TimeoutInSeconds) * time.Second,
	}
	if config.MaxConcurrentQueries > 0 {
		qe.admission = semaphore.NewWeighted(int64(config.MaxConcurrentQueries))
	}
	return qe
}

// datum binds the sources of the catalog and the query context. Context entries may not
// shadow sources.
func (qe *QueryExecutor) datum(queryContext value.Datum) (value.Datum, error) {
	datum := qe.catalog.Datum()
	for name, v := range queryContext {
		if _, isSource := datum[name]; isSource {
			return nil, utils.ConstructionError("context entry %s shadows a source", name)
		}
		datum[name] = v
	}
	return datum, nil
}

// Execute evaluates ex and returns its value. Queries over the concurrency limit fail
// right away instead of queueing.
func (qe *QueryExecutor) Execute(ctx context.Context, ex expr.Expression, queryContext value.Datum) (interface{}, error) {
	if qe.admission != nil {
		if !qe.admission.TryAcquire(1) {
			return nil, apiCom.ErrQueryServiceNotAvailable
		}
		defer qe.admission.Release(1)
	}
	datum, err := qe.datum(queryContext)
	if err != nil {
		return nil, err
	}
	if utils.RequestIDFrom(ctx) == "" {
		ctx = utils.WithRequestID(ctx, utils.NewRequestID())
	}
	if qe.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qe.timeout)
		defer cancel()
	}

	start := utils.Now()
	result, err := qe.evaluator.Compute(ctx, ex, datum)
	if err != nil {
		return nil, err
	}
	utils.GetQueryLogger().With(
		"requestID", utils.RequestIDFrom(ctx),
		"expression", ex.String(),
		"latencyMs", utils.SinceInMilliseconds(start),
	).Info("query succeeded")
	return result, nil
}

// Plan returns ex with every part a source can answer pushed into an external.
func (qe *QueryExecutor) Plan(ex expr.Expression, queryContext value.Datum) (expr.Expression, error) {
	datum, err := qe.datum(queryContext)
	if err != nil {
		return nil, err
	}
	return qe.evaluator.Plan(ex, datum)
}

// NativeQueries compiles the externals of a plan to the queries sent to their backends.
func (qe *QueryExecutor) NativeQueries(plan expr.Expression) ([]NativeQueryInfo, error) {
	var infos []NativeQueryInfo
	for _, e := range expr.Externals(plan) {
		external, ok := e.Source.(*External)
		if !ok {
			continue
		}
		native, err := external.Engine().Compile(external)
		if err != nil {
			return nil, err
		}
		infos = append(infos, NativeQueryInfo{
			Source:   external.Config().Name,
			External: external.String(),
			Query:    native.Query,
		})
	}
	return infos, nil
}

// NativeQueryInfo describes one query of a plan sent to a backend.
type NativeQueryInfo struct {
	Source   string      `json:"source"`
	External string      `json:"external"`
	Query    interface{} `json:"query"`
}
