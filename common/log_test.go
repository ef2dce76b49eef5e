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

package common

import (
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber-go/tally"
)

var _ = ginkgo.Describe("logging and metrics", func() {
	ginkgo.It("NewLoggerFactoryFromConfig should honor levels", func() {
		factory, err := NewLoggerFactoryFromConfig(LoggingConfig{Level: "warn", QueryLevel: "debug", Encoding: "console"})
		Ω(err).Should(BeNil())
		root := factory.(*ZapLoggerFactory).root
		Ω(root.Core().Enabled(-1)).Should(BeFalse())
		Ω(root.Core().Enabled(1)).Should(BeTrue())

		query := factory.GetLogger("query").(*ZapLogger)
		Ω(query.sugaredLogger.Desugar().Core().Enabled(-1)).Should(BeTrue())
		catalog := factory.GetLogger("catalog").(*ZapLogger)
		Ω(catalog.sugaredLogger.Desugar().Core().Enabled(0)).Should(BeFalse())

		_, err = NewLoggerFactoryFromConfig(LoggingConfig{Level: "loud"})
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("loggers should chain fields", func() {
		logger := NewLoggerFactory().GetLogger("test").With("source", "wiki")
		Ω(logger).ShouldNot(BeNil())
		logger.Debugf("introspected %d attributes", 4)
	})

	ginkgo.It("NewReporterMetrics should build a prefixed scope", func() {
		reporter := tally.NullStatsReporter
		scope, closer, err := NewReporterMetrics(MetricsConfig{Prefix: "aresquery", Tags: map[string]string{"env": "test"}}, reporter).NewRootScope()
		Ω(err).Should(BeNil())
		Ω(scope).ShouldNot(BeNil())
		scope.Counter("restart").Inc(1)
		Ω(closer.Close()).Should(BeNil())

		scope, closer, err = NewNoopMetrics().NewRootScope()
		Ω(err).Should(BeNil())
		Ω(scope).Should(Equal(tally.NoopScope))
		Ω(closer.Close()).Should(BeNil())
	})
})
