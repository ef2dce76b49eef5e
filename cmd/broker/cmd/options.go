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

package cmd

import (
	"github.com/uber-go/tally"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/utils"
)

// Options are the pluggable components of the broker.
type Options struct {
	DefaultCfg   map[string]interface{}
	ServerLogger common.Logger
	QueryLogger  common.Logger
	Metrics      common.Metrics
	HTTPWrappers []utils.HTTPHandlerWrapper
	// reporter of the metrics built from the config, when Metrics is not set
	StatsReporter tally.StatsReporter
}

// Option is for setting option
type Option func(*Options)

// WithMetrics replaces the metrics built from the config.
func WithMetrics(metrics common.Metrics) Option {
	return func(o *Options) {
		o.Metrics = metrics
	}
}

// WithHTTPWrappers wraps every query and health handler.
func WithHTTPWrappers(wrappers ...utils.HTTPHandlerWrapper) Option {
	return func(o *Options) {
		o.HTTPWrappers = append(o.HTTPWrappers, wrappers...)
	}
}

// WithDefaultConfig sets the config values used when neither the file nor the flags set them.
func WithDefaultConfig(cfg map[string]interface{}) Option {
	return func(o *Options) {
		o.DefaultCfg = cfg
	}
}

// WithLoggers replaces the loggers built from the logging config.
func WithLoggers(server, query common.Logger) Option {
	return func(o *Options) {
		o.ServerLogger = server
		o.QueryLogger = query
	}
}

// initLoggers builds the loggers an option did not set.
func (o *Options) initLoggers(cfg common.LoggingConfig) error {
	if o.ServerLogger != nil && o.QueryLogger != nil {
		return nil
	}
	factory, err := common.NewLoggerFactoryFromConfig(cfg)
	if err != nil {
		return err
	}
	if o.ServerLogger == nil {
		o.ServerLogger = factory.GetDefaultLogger()
	}
	if o.QueryLogger == nil {
		o.QueryLogger = factory.GetLogger("query")
	}
	return nil
}

// WithStatsReporter sets where the metrics built from the config are flushed.
func WithStatsReporter(reporter tally.StatsReporter) Option {
	return func(o *Options) {
		o.StatsReporter = reporter
	}
}

func (o *Options) statsReporter() tally.StatsReporter {
	if o.StatsReporter == nil {
		return tally.NullStatsReporter
	}
	return o.StatsReporter
}
