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
	"net/http"

	"github.com/gorilla/mux"
	apiCom "github.com/uber/aresquery/api/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

// QueryHandler serves expression queries over the sources of a catalog.
type QueryHandler struct {
	exec    *QueryExecutor
	catalog *Catalog
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(executor *QueryExecutor, catalog *Catalog) QueryHandler {
	return QueryHandler{
		exec:    executor,
		catalog: catalog,
	}
}

// Register registers the query endpoints on router.
func (handler *QueryHandler) Register(router *mux.Router, wrappers ...utils.HTTPHandlerWrapper) {
	router.HandleFunc("/query", utils.ApplyHTTPWrappers(handler.HandleQuery, wrappers...)).Methods(http.MethodPost)
	router.HandleFunc("/query/plan", utils.ApplyHTTPWrappers(handler.HandlePlan, wrappers...)).Methods(http.MethodPost)
	router.HandleFunc("/query/sources", utils.ApplyHTTPWrappers(handler.HandleSources, wrappers...)).Methods(http.MethodGet)
	router.HandleFunc("/query/sources/{source}", utils.ApplyHTTPWrappers(handler.HandleSource, wrappers...)).Methods(http.MethodGet)
}

// decode reads the expression and the context of a query request.
func decode(request apiCom.QueryRequest) (expr.Expression, value.Datum, error) {
	if len(request.Body.Expression) == 0 {
		return nil, nil, apiCom.ErrMissingParameter
	}
	ex, err := expr.FromJSON(request.Body.Expression)
	if err != nil {
		return nil, nil, err
	}
	datum := make(value.Datum, len(request.Body.Context))
	for name, raw := range request.Body.Context {
		v, err := value.InferFromJSON(raw)
		if err != nil {
			return nil, nil, utils.StackError(err, "invalid context entry %s", name)
		}
		datum[name] = v
	}
	return ex, datum, nil
}

func requestContext(r *http.Request, request apiCom.QueryRequest) context.Context {
	requestID, err := utils.ParseRequestID(request.RequestID)
	if err != nil {
		// Missing or malformed ids are replaced so every query can be traced.
		requestID = utils.NewRequestID()
	}
	return utils.WithRequestID(r.Context(), requestID)
}

// HandleQuery evaluates an expression.
// swagger:route POST /query query
// Evaluates an expression over the sources.
//
// Consumes:
//    - application/json
//
// Produces:
//    - application/json
//
// Responses:
//    default: errorResponse
//        200: queryResponse
func (handler *QueryHandler) HandleQuery(rw *utils.ResponseWriter, r *http.Request) {
	var request apiCom.QueryRequest
	err := apiCom.ReadRequest(r, &request, rw)
	if err != nil {
		apiCom.RespondWithError(rw, err)
		return
	}
	ex, queryContext, err := decode(request)
	if err != nil {
		apiCom.RespondWithError(rw, err)
		return
	}

	ctx := requestContext(r, request)
	var result interface{}
	err = utils.RecoverWrap(func() (err error) {
		result, err = handler.exec.Execute(ctx, ex, queryContext)
		return
	})
	if err != nil {
		apiCom.RespondWithError(rw, err)
		return
	}

	var response apiCom.QueryResponse
	response.Body.RequestID = utils.RequestIDFrom(ctx)
	response.Body.Result = value.ToJS(result)
	rw.WriteObject(response.Body)
}

// HandlePlan returns the plan of an expression without running it.
// swagger:route POST /query/plan plan
// Plans an expression and compiles its native queries.
//
// Responses:
//    default: errorResponse
//        200: planResponse
func (handler *QueryHandler) HandlePlan(rw *utils.ResponseWriter, r *http.Request) {
	var request apiCom.QueryRequest
	err := apiCom.ReadRequest(r, &request, rw)
	if err != nil {
		apiCom.RespondWithError(rw, err)
		return
	}
	ex, queryContext, err := decode(request)
	if err != nil {
		apiCom.RespondWithError(rw, err)
		return
	}

	var response apiCom.PlanResponse
	err = utils.RecoverWrap(func() error {
		plan, err := handler.exec.Plan(ex, queryContext)
		if err != nil {
			return err
		}
		queries, err := handler.exec.NativeQueries(plan)
		if err != nil {
			return err
		}
		response.Body.Plan = plan.String()
		response.Body.Queries = queries
		return nil
	})
	if err != nil {
		apiCom.RespondWithError(rw, err)
		return
	}
	rw.WriteObject(response.Body)
}

// HandleSources lists the sources of the catalog.
// swagger:route GET /query/sources sources
//
// Responses:
//    default: errorResponse
//        200: noContentResponse
func (handler *QueryHandler) HandleSources(rw *utils.ResponseWriter, r *http.Request) {
	rw.WriteObject(handler.catalog.Sources())
}

// HandleSource returns one source of the catalog.
func (handler *QueryHandler) HandleSource(rw *utils.ResponseWriter, r *http.Request) {
	var request apiCom.SourceRequest
	if err := apiCom.ReadRequest(r, &request, rw); err != nil {
		apiCom.RespondWithError(rw, err)
		return
	}
	for _, status := range handler.catalog.Sources() {
		if status.Name == request.Source {
			rw.WriteObject(status)
			return
		}
	}
	apiCom.RespondWithError(rw, apiCom.ErrSourceDoesNotExist)
}
