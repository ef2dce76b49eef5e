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
	"compress/gzip"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("response writer", func() {
	ginkgo.It("WriteObject should write json", func() {
		w := httptest.NewRecorder()
		rw := NewResponseWriter(w)
		rw.WriteObject(map[string]int{"count": 3})
		Ω(w.Code).Should(Equal(http.StatusOK))
		Ω(w.Header().Get(HTTPContentTypeHeaderKey)).Should(Equal(HTTPContentTypeApplicationJson))
		Ω(w.Body.String()).Should(Equal(`{"count":3}`))
		Ω(rw.StatusCode()).Should(Equal(http.StatusOK))
	})

	ginkgo.It("WriteObject should report marshal failures", func() {
		w := httptest.NewRecorder()
		rw := NewResponseWriter(w)
		rw.WriteObject(map[string]interface{}{"bad": make(chan int)})
		Ω(w.Code).Should(Equal(http.StatusInternalServerError))
		Ω(w.Body.String()).Should(ContainSubstring("failed to marshal object"))
		Ω(rw.err).ShouldNot(BeNil())
	})

	ginkgo.It("large payloads should be gzipped only when accepted", func() {
		payload := map[string]string{"page": strings.Repeat("a", CompressionThreshold)}

		r := httptest.NewRequest(http.MethodGet, "https://localhost/query", nil)
		w := httptest.NewRecorder()
		newRequestResponseWriter(w, r).WriteObject(payload)
		Ω(w.Header().Get(HTTPContentEncodingHeaderKey)).Should(BeEmpty())

		r.Header.Set(HTTPAcceptEncodingHeaderKey, "gzip, deflate")
		w = httptest.NewRecorder()
		newRequestResponseWriter(w, r).WriteObject(payload)
		Ω(w.Header().Get(HTTPContentEncodingHeaderKey)).Should(Equal(HTTPContentEncodingGzip))
		reader, err := gzip.NewReader(w.Body)
		Ω(err).Should(BeNil())
		body, err := ioutil.ReadAll(reader)
		Ω(err).Should(BeNil())
		Ω(string(body)).Should(ContainSubstring(`"page":"aaa`))
	})

	ginkgo.It("WriteError should use the code of api errors", func() {
		w := httptest.NewRecorder()
		NewResponseWriter(w).WriteError(APIError{Code: http.StatusNotFound, Message: "unknown source"})
		Ω(w.Code).Should(Equal(http.StatusNotFound))
		Ω(w.Body.String()).Should(ContainSubstring(`"message":"unknown source"`))

		w = httptest.NewRecorder()
		NewResponseWriter(w).WriteError(errors.New("boom"))
		Ω(w.Code).Should(Equal(http.StatusInternalServerError))
		Ω(w.Body.String()).Should(ContainSubstring(`"message":"boom"`))
	})
})
