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

package utils

import (
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/mux"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber-go/tally"
	"github.com/uber/aresquery/common"
)

func describeSources(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
}

func listSources(rw *ResponseWriter, r *http.Request) {
	rw.WriteErrorWithCode(http.StatusBadGateway, APIError{Message: "druid unavailable"})
}

var _ = ginkgo.Describe("http", func() {
	ginkgo.It("NoCache should drop conditional headers", func() {
		r := httptest.NewRequest(http.MethodGet, "https://localhost/sources", nil)
		for _, k := range etagHeaders {
			r.Header.Add(k, "1")
		}
		w := httptest.NewRecorder()
		NoCache(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, k := range etagHeaders {
				Ω(r.Header.Get(k)).Should(BeEmpty())
			}
		})).ServeHTTP(w, r)
		for k, v := range noCacheHeaders {
			Ω(w.Header().Get(k)).Should(Equal(v))
		}
	})

	ginkgo.It("WithMetricsFunc should tag the handler and status", func() {
		r := httptest.NewRequest(http.MethodGet, "https://localhost/sources/wiki", nil)
		WithMetricsFunc(describeSources).ServeHTTP(httptest.NewRecorder(), r)
		testScope := GetRootReporter().GetRootScope().(tally.TestScope)
		Ω(testScope.Snapshot().Counters()).
			Should(HaveKey("test.http.call+component=api,handler=describeSources,origin=unknown,status_code=202"))
		Ω(testScope.Snapshot().Timers()).
			Should(HaveKey("test.http.latency+component=api,handler=describeSources,origin=unknown"))
	})

	ginkgo.It("WithMetrics and WithLogging should wrap handlers", func() {
		scope := tally.NewTestScope("broker", nil)
		provider := NewMetricsLoggingMiddleWareProvider(scope, GetLogger())
		handler := ApplyHTTPWrappers(listSources, provider.WithMetrics, provider.WithLogging)

		r := httptest.NewRequest(http.MethodGet, "https://localhost/sources", nil)
		r.Header.Set(HTTPOriginHeaderKey, "arescli")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		Ω(w.Code).Should(Equal(http.StatusBadGateway))
		Ω(w.Body.String()).Should(ContainSubstring("druid unavailable"))
		Ω(scope.Snapshot().Counters()).
			Should(HaveKey("broker.http.call+handler=listSources,origin=arescli,status_code=502"))
	})

	ginkgo.It("GetOrigin should prefer the rpc caller", func() {
		r := &http.Request{}
		Ω(GetOrigin(r)).Should(Equal("unknown"))

		r.Header = make(http.Header)
		r.Header.Set(HTTPOriginHeaderKey, "arescli")
		Ω(GetOrigin(r)).Should(Equal("arescli"))

		r.Header.Set(HTTPRPCCallerHeaderKey, "dashboard")
		Ω(GetOrigin(r)).Should(Equal("dashboard"))
	})

	ginkgo.It("GetFuncName should strip the package path", func() {
		Ω(GetFuncName(describeSources)).Should(Equal("describeSources"))
	})

	ginkgo.It("LimitServeAsync should serve until closed", func() {
		r := mux.NewRouter()
		r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		}).Methods("GET")

		cfg := common.HTTPConfig{
			MaxConnections:        10,
			ReadTimeOutInSeconds:  1,
			WriteTimeOutInSeconds: 1,
		}
		errChan, server, err := LimitServeAsync(9374, r, cfg)
		Ω(err).Should(BeNil())
		resp, err := http.Get("http://localhost:9374")
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusOK))
		resp.Body.Close()
		Ω(server.Close()).Should(BeNil())
		Ω(<-errChan).Should(Equal(http.ErrServerClosed))
	})
})
