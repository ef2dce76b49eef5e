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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/mux"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber-go/tally"
	"github.com/uber/aresquery/utils"
)

var _ = ginkgo.Describe("panic handler", func() {
	router := mux.NewRouter()
	router.HandleFunc("/query/error", func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("nil dataset"))
	})
	router.HandleFunc("/query/string", func(w http.ResponseWriter, r *http.Request) {
		panic("unknown action")
	})
	router.HandleFunc("/query/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})
	handler := WithPanicHandling(router)

	serve := func(path string) (int, map[string]interface{}) {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, path, nil))
		var body map[string]interface{}
		if recorder.Code != http.StatusOK {
			Ω(json.Unmarshal(recorder.Body.Bytes(), &body)).Should(Succeed())
		}
		return recorder.Code, body
	}

	ginkgo.It("should answer panics with a 500 and count them", func() {
		scope := utils.GetRootReporter().GetRootScope().(tally.TestScope)
		failed := func() int64 {
			counter, ok := scope.Snapshot().Counters()["test.query_failed+component=query,operation=evaluate"]
			if !ok {
				return 0
			}
			return counter.Value()
		}
		before := failed()

		code, body := serve("/query/error")
		Ω(code).Should(Equal(http.StatusInternalServerError))
		Ω(body["message"]).Should(Equal("nil dataset"))

		code, body = serve("/query/string")
		Ω(code).Should(Equal(http.StatusInternalServerError))
		Ω(body["message"]).Should(Equal("unknown action"))
		Ω(failed() - before).Should(Equal(int64(2)))
	})

	ginkgo.It("should pass through requests that do not panic", func() {
		code, _ := serve("/query/ok")
		Ω(code).Should(Equal(http.StatusOK))
	})
})
