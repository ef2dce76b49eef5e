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
	"net/http"
)

// QueryConfig is the static configuration for query evaluation.
type QueryConfig struct {
	// max number of remote queries one query runs at the same time
	Parallelism int `yaml:"parallelism"`
	// timeout in seconds for a whole query, 0 means no timeout
	TimeoutInSeconds int `yaml:"timeout_in_seconds"`
	// max number of queries evaluated at the same time, 0 means unlimited
	MaxConcurrentQueries int `yaml:"max_concurrent_queries"`
}

// HTTPConfig is the static configuration for main http server (query and schema).
type HTTPConfig struct {
	MaxConnections        int `yaml:"max_connections"`
	ReadTimeOutInSeconds  int `yaml:"read_time_out_in_seconds"`
	WriteTimeOutInSeconds int `yaml:"write_time_out_in_seconds"`
}

// RetryConfig configures the retry decorator of requesters.
type RetryConfig struct {
	// number of retries after the first attempt, 0 turns retries off
	MaxRetries int `yaml:"max_retries"`
	// first backoff interval in milliseconds, doubled on every retry
	InitialIntervalInMilliseconds int `yaml:"initial_interval_in_milliseconds"`
}

// RequesterConfig is the config shared by the requesters talking to data sources.
type RequesterConfig struct {
	Retry RetryConfig `yaml:"retry"`
	// max number of in flight requests per source, 0 means unlimited
	Concurrency int `yaml:"concurrency"`
	// log every native query and its latency
	Verbose bool `yaml:"verbose"`
	// timeout in seconds of one request
	TimeoutInSeconds int `yaml:"timeout_in_seconds"`
	// extra headers sent with every http request
	Headers http.Header `yaml:"headers"`
}

// LoggingConfig configures the zap loggers of the broker.
type LoggingConfig struct {
	// debug, info, warn or error; info when empty
	Level string `yaml:"level"`
	// json or console; json when empty
	Encoding string `yaml:"encoding"`
	// development loggers print stack traces on warnings
	Development bool `yaml:"development"`
	// level of the query logger, the level of the default logger when empty
	QueryLevel string `yaml:"query_level"`
}

// MetricsConfig names and tags the root metrics scope.
type MetricsConfig struct {
	Prefix                  string            `yaml:"prefix"`
	Tags                    map[string]string `yaml:"tags"`
	ReportIntervalInSeconds int               `yaml:"report_interval_in_seconds"`
}

// BrokerConfig is config specific for the query broker.
type BrokerConfig struct {
	// HTTP port for serving.
	Port int `yaml:"port"`

	// HTTP port for pprof, 0 turns the debug server off.
	DebugPort int `yaml:"debug_port"`

	// Path of the yaml catalog of data sources.
	SourcesPath string `yaml:"sources_path"`
	// Seconds between two introspections of the sources, 0 means the default of 10 minutes.
	IntrospectionIntervalInSeconds int `yaml:"introspection_interval_in_seconds"`

	// Build version of the server currently running
	Version string `yaml:"version"`

	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Query     QueryConfig     `yaml:"query"`
	HTTP      HTTPConfig      `yaml:"http"`
	Requester RequesterConfig `yaml:"requester"`
}
