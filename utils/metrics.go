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
	"fmt"
	"sync"

	"github.com/uber-go/tally"
)

// MetricName is the type of the metric.
type MetricName int

// List of supported metric names.
const (
	HTTPHandlerCall MetricName = iota
	HTTPHandlerLatency
	QueryFailed
	QuerySucceeded
	QueryLatency
	QueryReceived
	QueryRowsReturned
	ExternalQueries
	ExternalQueryFailed
	ExternalQueryLatency
	ExternalRowsReturned
	RequestRetries
	PushDownRejected
	IntrospectionSuccess
	IntrospectionFailure
	NumberOfSources
	// Enum sentinel.
	NumMetricNames
)

// MetricType is the supported metric type.
type MetricType int

// MetricTypes which are supported.
const (
	Counter MetricType = iota
	Gauge
	Timer
)

func (t MetricType) String() string {
	switch t {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Timer:
		return "timer"
	}
	return fmt.Sprintf("MetricType(%d)", int(t))
}

// Metric tag names
const (
	metricsTagComponent  = "component"
	metricsTagOperation  = "operation"
	metricsTagHandler    = "handler"
	metricsTagStatusCode = "status_code"
	metricsTagOrigin     = "origin"
	metricsTagSource     = "source"
	metricsTagEngine     = "engine"
)

// metricDefinition names a metric and carries the tally instrument built for it.
type metricDefinition struct {
	name       string
	metricType MetricType
	component  string
	// empty for metrics shared by every operation of the component
	operation string

	counter tally.Counter
	gauge   tally.Gauge
	timer   tally.Timer
}

func (def metricDefinition) tags() map[string]string {
	tags := map[string]string{metricsTagComponent: def.component}
	if def.operation != "" {
		tags[metricsTagOperation] = def.operation
	}
	return tags
}

func metric(name string, metricType MetricType, component, operation string) metricDefinition {
	return metricDefinition{name: name, metricType: metricType, component: component, operation: operation}
}

var metricsDefs = [NumMetricNames]metricDefinition{
	HTTPHandlerCall:    metric("http.call", Counter, "api", ""),
	HTTPHandlerLatency: metric("http.latency", Timer, "api", ""),

	QueryFailed:       metric("query_failed", Counter, "query", "evaluate"),
	QuerySucceeded:    metric("query_succeeded", Counter, "query", "evaluate"),
	QueryLatency:      metric("query_latency", Timer, "query", "evaluate"),
	QueryReceived:     metric("query_received", Counter, "query", "evaluate"),
	QueryRowsReturned: metric("rows_returned", Gauge, "query", "evaluate"),

	ExternalQueries:      metric("external_queries", Counter, "external", "request"),
	ExternalQueryFailed:  metric("external_query_failed", Counter, "external", "request"),
	ExternalQueryLatency: metric("external_query_latency", Timer, "external", "request"),
	ExternalRowsReturned: metric("external_rows_returned", Gauge, "external", "request"),
	RequestRetries:       metric("request_retries", Counter, "external", "request"),
	PushDownRejected:     metric("push_down_rejected", Counter, "external", "push_down"),

	IntrospectionSuccess: metric("introspection_success", Counter, "catalog", "introspect"),
	IntrospectionFailure: metric("introspection_failure", Counter, "catalog", "introspect"),
	NumberOfSources:      metric("number_of_sources", Gauge, "catalog", ""),
}

// ReporterFactory manages reporters for different data sources.
// Metrics not associated with any source use the root reporter.
type ReporterFactory struct {
	sync.RWMutex
	rootReporter *Reporter
	reporters    map[string]*Reporter
}

// NewReporterFactory returns a new report factory.
func NewReporterFactory(rootScope tally.Scope) *ReporterFactory {
	return &ReporterFactory{
		rootReporter: NewReporter(rootScope),
		reporters:    make(map[string]*Reporter),
	}
}

// AddSource adds a reporter tagged with the source and its engine. Adding a source
// twice keeps the first reporter.
func (f *ReporterFactory) AddSource(source, engine string) {
	f.Lock()
	defer f.Unlock()
	if _, ok := f.reporters[source]; ok {
		return
	}
	f.reporters[source] = NewReporter(f.rootReporter.GetRootScope().Tagged(map[string]string{
		metricsTagSource: source,
		metricsTagEngine: engine,
	}))
}

// DeleteSource deletes the reporter for the given source.
func (f *ReporterFactory) DeleteSource(source string) {
	f.Lock()
	defer f.Unlock()
	delete(f.reporters, source)
}

// GetReporter returns the reporter of source, or the root reporter for unknown sources.
func (f *ReporterFactory) GetReporter(source string) *Reporter {
	f.RLock()
	defer f.RUnlock()
	if reporter, ok := f.reporters[source]; ok {
		return reporter
	}
	return f.rootReporter
}

// GetRootReporter returns the root reporter.
func (f *ReporterFactory) GetRootReporter() *Reporter {
	return f.rootReporter
}

// Reporter resolves metric names to tally instruments of one scope.
type Reporter struct {
	rootScope         tally.Scope
	cachedDefinitions []metricDefinition
}

// NewReporter builds every instrument of the metric table under rootScope.
func NewReporter(rootScope tally.Scope) *Reporter {
	defs := make([]metricDefinition, NumMetricNames)
	for i, def := range metricsDefs {
		scope := rootScope.Tagged(def.tags())
		switch def.metricType {
		case Counter:
			def.counter = scope.Counter(def.name)
		case Gauge:
			def.gauge = scope.Gauge(def.name)
		case Timer:
			def.timer = scope.Timer(def.name)
		}
		defs[i] = def
	}
	return &Reporter{rootScope: rootScope, cachedDefinitions: defs}
}

// lookup panics when n is not a metric of the wanted type; that is a programming error.
func (r *Reporter) lookup(n MetricName, want MetricType) metricDefinition {
	if n < 0 || n >= NumMetricNames {
		panic(fmt.Sprintf("unknown metric %d", n))
	}
	def := r.cachedDefinitions[n]
	if def.metricType != want {
		GetLogger().With("metric", def.name, "type", def.metricType.String()).Error("metric type mismatch")
		panic(fmt.Sprintf("metric %s is a %s, not a %s", def.name, def.metricType, want))
	}
	return def
}

// GetCounter returns the tally counter with corresponding tags.
func (r *Reporter) GetCounter(n MetricName) tally.Counter {
	return r.lookup(n, Counter).counter
}

// GetGauge returns the tally gauge with corresponding tags.
func (r *Reporter) GetGauge(n MetricName) tally.Gauge {
	return r.lookup(n, Gauge).gauge
}

// GetTimer returns the tally timer with corresponding tags.
func (r *Reporter) GetTimer(n MetricName) tally.Timer {
	return r.lookup(n, Timer).timer
}

// GetChildCounter create tagged child counter from reporter
func (r *Reporter) GetChildCounter(tags map[string]string, n MetricName) tally.Counter {
	def := r.lookup(n, Counter)
	return r.rootScope.Tagged(tags).Tagged(def.tags()).Counter(def.name)
}

// GetRootScope returns the root scope wrapped by this reporter.
func (r *Reporter) GetRootScope() tally.Scope {
	return r.rootScope
}
