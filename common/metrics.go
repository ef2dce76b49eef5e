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
	"io"
	"io/ioutil"
	"time"

	"github.com/uber-go/tally"
)

const defaultReportInterval = time.Second

// Metrics creates the root tally scope of the broker. The application calls NewRootScope
// once at start up and closes the closer before shutdown.
type Metrics interface {
	NewRootScope() (tally.Scope, io.Closer, error)
}

// NewNoopMetrics returns a Metrics that will do nothing for reporting.
func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) NewRootScope() (tally.Scope, io.Closer, error) {
	return tally.NoopScope, ioutil.NopCloser(nil), nil
}

// NewReporterMetrics returns a Metrics flushing to reporter under the prefix and
// common tags of cfg.
func NewReporterMetrics(cfg MetricsConfig, reporter tally.StatsReporter) Metrics {
	return reporterMetrics{cfg: cfg, reporter: reporter}
}

type reporterMetrics struct {
	cfg      MetricsConfig
	reporter tally.StatsReporter
}

func (m reporterMetrics) NewRootScope() (tally.Scope, io.Closer, error) {
	interval := time.Duration(m.cfg.ReportIntervalInSeconds) * time.Second
	if interval <= 0 {
		interval = defaultReportInterval
	}
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   m.cfg.Prefix,
		Tags:     m.cfg.Tags,
		Reporter: m.reporter,
	}, interval)
	return scope, closer, nil
}
