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
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber-go/tally"
)

var _ = ginkgo.Describe("metrics", func() {
	ginkgo.It("every metric should be defined with an instrument", func() {
		reporter := GetRootReporter()
		Ω(reporter.cachedDefinitions).Should(HaveLen(int(NumMetricNames)))
		for _, def := range reporter.cachedDefinitions {
			Ω(def.name).ShouldNot(BeEmpty())
			switch def.metricType {
			case Counter:
				Ω(def.counter).ShouldNot(BeNil())
			case Gauge:
				Ω(def.gauge).ShouldNot(BeNil())
			case Timer:
				Ω(def.timer).ShouldNot(BeNil())
			}
		}
	})

	ginkgo.It("metrics should be tagged by component and operation", func() {
		scope := tally.NewTestScope("test", nil)
		r := NewReporter(scope)
		r.GetCounter(QueryReceived).Inc(1)
		r.GetGauge(NumberOfSources).Update(2)
		Ω(scope.Snapshot().Counters()).
			Should(HaveKey("test.query_received+component=query,operation=evaluate"))
		Ω(scope.Snapshot().Gauges()).
			Should(HaveKey("test.number_of_sources+component=catalog"))
	})

	ginkgo.It("getting a metric as the wrong type should panic", func() {
		r := NewReporter(tally.NewTestScope("test", nil))
		Ω(func() { r.GetTimer(QueryReceived) }).Should(Panic())
		Ω(func() { r.GetCounter(NumMetricNames) }).Should(Panic())
		Ω(Counter.String()).Should(Equal("counter"))
	})

	ginkgo.It("GetChildCounter should add tags", func() {
		scope := tally.NewTestScope("test", nil)
		r := NewReporter(scope)
		r.GetChildCounter(map[string]string{"engine": "mysql"}, PushDownRejected).Inc(1)
		Ω(scope.Snapshot().Counters()).
			Should(HaveKey("test.push_down_rejected+component=external,engine=mysql,operation=push_down"))
	})

	ginkgo.It("reporters should be kept per source", func() {
		scope := tally.NewTestScope("test", nil)
		rf := NewReporterFactory(scope)
		Ω(rf.GetRootReporter().GetRootScope()).Should(Equal(scope))
		Ω(rf.GetReporter("wiki")).Should(Equal(rf.GetRootReporter()))

		rf.AddSource("wiki", "druid")
		first := rf.GetReporter("wiki")
		Ω(first).ShouldNot(Equal(rf.GetRootReporter()))
		rf.AddSource("wiki", "mysql")
		Ω(rf.GetReporter("wiki")).Should(BeIdenticalTo(first))
		Ω(scope.Snapshot().Counters()).
			Should(HaveKey("test.external_queries+component=external,engine=druid,operation=request,source=wiki"))

		rf.DeleteSource("wiki")
		Ω(rf.GetReporter("wiki")).Should(Equal(rf.GetRootReporter()))
	})
})
