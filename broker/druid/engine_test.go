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

package druid

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"

	"github.com/cenkalti/backoff/v4"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
)

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) Request(ctx context.Context, request broker.Request) (interface{}, error) {
	args := m.Called(ctx, request)
	return args.Get(0), args.Error(1)
}

var _ = ginkgo.Describe("druid engine", func() {
	ctx := context.Background()
	engine := NewEngine()

	ginkgo.It("should refuse what druid can not compute", func() {
		ext := broker.NewExternal(engine, wikiConfig(), nil)
		Ω(ext.AddAction(expr.Apply("Double", expr.Chain(expr.Ref("added:NUMBER"), expr.Multiply(expr.Literal(2)))))).Should(BeNil())
		Ω(ext.AddAction(expr.Sort(expr.Ref("page:STRING"), value.Ascending))).Should(BeNil())
		Ω(ext.AddAction(expr.Sum(expr.Ref("page:STRING")))).Should(BeNil())
		Ω(ext.AddAction(expr.Split(expr.Ref("unique_users:NUMBER"), "U", ""))).Should(BeNil())
		Ω(ext.AddAction(expr.Filter(expr.Chain(expr.Ref("page:STRING"), expr.Length(), expr.GreaterThan(expr.Literal(3)))))).Should(BeNil())
		Ω(ext.AddAction(expr.Sort(expr.Ref("time:TIME"), value.Descending))).ShouldNot(BeNil())

		config := wikiConfig()
		config.ExactResultsOnly = true
		exact := broker.NewExternal(engine, config, nil)
		Ω(exact.AddAction(expr.CountDistinct(expr.Ref("user:STRING")))).Should(BeNil())
		Ω(exact.AddAction(expr.Quantile(expr.Ref("delta_hist:NUMBER"), 0.5))).Should(BeNil())
		Ω(exact.AddAction(expr.Count())).ShouldNot(BeNil())
	})

	ginkgo.It("should introspect with segment metadata", func() {
		config := wikiConfig()
		config.AllowEternity = true
		requester := &mockRequester{}
		response := []interface{}{
			map[string]interface{}{
				"id": "merged",
				"columns": map[string]interface{}{
					TimeColumn:     map[string]interface{}{"type": "LONG"},
					"page":         map[string]interface{}{"type": "STRING"},
					"added":        map[string]interface{}{"type": "LONG"},
					"unique_users": map[string]interface{}{"type": "hyperUnique"},
					"delta_hist":   map[string]interface{}{"type": "COMPLEX<approximateHistogram>"},
					"blob":         map[string]interface{}{"type": "COMPLEX<unknown>"},
				},
			},
		}
		requester.On("Request", ctx, mock.MatchedBy(func(r broker.Request) bool {
			q, ok := r.Query.(*Query)
			return ok && r.Source == "wiki" && q.QueryType == SegmentMetadata && q.DataSource == "wikipedia" &&
				q.Merge && len(q.Intervals) == 1
		})).Return(response, nil).Once()

		attributes, err := engine.Introspect(ctx, requester, config)
		Ω(err).Should(BeNil())
		requester.AssertExpectations(ginkgo.GinkgoT())
		Ω(attributes).Should(Equal([]broker.AttributeConfig{
			{Name: "time", Type: value.TimeKind, NativeType: "LONG"},
			{Name: "added", Type: value.NumberKind, NativeType: "LONG"},
			{Name: "delta_hist", Type: value.NumberKind, NativeType: "COMPLEX<approximateHistogram>", Special: broker.SpecialHistogram, Unsplitable: true},
			{Name: "page", Type: value.StringKind, NativeType: "STRING"},
			{Name: "unique_users", Type: value.NumberKind, NativeType: "hyperUnique", Special: broker.SpecialUnique, Unsplitable: true},
		}))
	})

	ginkgo.It("should introspect with the datasource endpoint", func() {
		config := wikiConfig()
		config.IntrospectionStrategy = IntrospectDatasource
		requester := &mockRequester{}
		requester.On("Request", ctx, broker.Request{Source: "wiki", Query: DatasourceRequest{DataSource: "wikipedia"}}).
			Return(map[string]interface{}{
				"dimensions": []interface{}{"user", "page"},
				"metrics":    []interface{}{"added"},
			}, nil)

		attributes, err := engine.Introspect(ctx, requester, config)
		Ω(err).Should(BeNil())
		Ω(attributes).Should(Equal([]broker.AttributeConfig{
			{Name: "time", Type: value.TimeKind, NativeType: "LONG"},
			{Name: "added", Type: value.NumberKind},
			{Name: "page", Type: value.StringKind},
			{Name: "user", Type: value.StringKind},
		}))

		config.IntrospectionStrategy = "guess"
		_, err = engine.Introspect(ctx, requester, config)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("should post queries to the broker", func() {
		var received Query
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			Ω(r.Method).Should(Equal(http.MethodPost))
			Ω(r.URL.Path).Should(Equal("/druid/v2/"))
			Ω(r.Header.Get("Content-Type")).Should(Equal("application/json"))
			Ω(r.Header.Get("X-Tenant")).Should(Equal("wiki"))
			body, _ := ioutil.ReadAll(r.Body)
			Ω(json.Unmarshal(body, &received)).Should(Succeed())
			w.Write([]byte(`[{"timestamp":"2015-09-12T00:00:00.000Z","result":{"__VALUE__":3}}]`))
		}))
		defer server.Close()

		config := wikiConfig()
		config.URL = server.URL
		requester, err := engine.NewRequester(config, common.RequesterConfig{Headers: http.Header{"X-Tenant": []string{"wiki"}}})
		Ω(err).Should(BeNil())

		query := &Query{QueryType: Timeseries, DataSource: "wikipedia", Granularity: "all"}
		response, err := requester.Request(ctx, broker.Request{Source: "wiki", Query: query})
		Ω(err).Should(BeNil())
		Ω(received.QueryType).Should(Equal(Timeseries))
		Ω(received.DataSource).Should(Equal("wikipedia"))
		Ω(response).Should(HaveLen(1))
	})

	ginkgo.It("should not retry rejected queries", func() {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Unknown exception","errorMessage":"no such datasource"}`))
		}))
		defer server.Close()

		_, err := NewHTTPRequester(server.URL, nil).Request(ctx, broker.Request{Source: "wiki", Query: &Query{QueryType: Timeseries}})
		Ω(err).ShouldNot(BeNil())
		Ω(err.Error()).Should(ContainSubstring("no such datasource"))
		_, permanent := err.(*backoff.PermanentError)
		Ω(permanent).Should(BeTrue())
		Ω(calls).Should(Equal(1))

		_, err = engine.NewRequester(&broker.SourceConfig{Name: "nowhere"}, common.RequesterConfig{})
		Ω(err).ShouldNot(BeNil())
	})
})
