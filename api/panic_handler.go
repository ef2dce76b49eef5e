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

package api

import (
	"net/http"

	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/utils"
)

// PanicHandler turns a panic while serving a request into a 500 response.
type PanicHandler struct {
	handler http.Handler
}

// WithPanicHandling will apply panic handler to regular http handler.
func WithPanicHandling(handler http.Handler) PanicHandler {
	return PanicHandler{
		handler: handler,
	}
}

// ServeHTTP serves http request for PanicHandler.
func (handler PanicHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer func() {
		if recovered := recover(); recovered != nil {
			var err error
			switch e := recovered.(type) {
			case error:
				err = e
			case string:
				err = utils.StackError(nil, "%s", e)
			default:
				err = utils.StackError(nil, "unknown panic: %v", e)
			}
			utils.GetLogger().With(
				"path", r.URL.Path,
				"request_id", utils.RequestIDFrom(r.Context()),
				"error", err.Error(),
			).Error("Recovered from panic")
			utils.GetRootReporter().GetCounter(utils.QueryFailed).Inc(1)
			utils.NewResponseWriter(rw).WriteErrorWithCode(http.StatusInternalServerError,
				utils.APIError{Message: broker.ErrorMessage(err)})
		}
	}()
	handler.handler.ServeHTTP(rw, r)
}
