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
	"sync"

	"github.com/uber-go/tally"
	"github.com/uber/aresquery/common"
)

// components shared by the whole process. Tests get a debug logger and a tally test
// scope named "test".
var components struct {
	sync.RWMutex
	logger          common.Logger
	queryLogger     common.Logger
	reporterFactory *ReporterFactory
	config          common.BrokerConfig
}

func init() {
	ResetDefaults()
}

// ResetDefaults restores the test defaults.
func ResetDefaults() {
	factory := common.NewLoggerFactory()
	Init(common.BrokerConfig{}, factory.GetDefaultLogger(), factory.GetLogger("query"), tally.NewTestScope("test", nil))
}

// Init installs the components of a running broker.
func Init(c common.BrokerConfig, l common.Logger, ql common.Logger, s tally.Scope) {
	components.Lock()
	defer components.Unlock()
	components.config = c
	components.logger = l
	components.queryLogger = ql
	components.reporterFactory = NewReporterFactory(s)
}

// GetLogger returns the logger.
func GetLogger() common.Logger {
	components.RLock()
	defer components.RUnlock()
	return components.logger
}

// GetQueryLogger returns the logger for query.
func GetQueryLogger() common.Logger {
	components.RLock()
	defer components.RUnlock()
	return components.queryLogger
}

func reporters() *ReporterFactory {
	components.RLock()
	defer components.RUnlock()
	return components.reporterFactory
}

// GetRootReporter returns the root metrics reporter.
func GetRootReporter() *Reporter {
	return reporters().GetRootReporter()
}

// GetReporter returns the reporter of source, or the root reporter.
func GetReporter(source string) *Reporter {
	return reporters().GetReporter(source)
}

// AddSourceReporter adds a reporter for a source once the catalog loads it.
func AddSourceReporter(source, engine string) {
	reporters().AddSource(source, engine)
}

// DeleteSourceReporter deletes the reporter for the given source.
func DeleteSourceReporter(source string) {
	reporters().DeleteSource(source)
}

// GetConfig returns the application config.
func GetConfig() common.BrokerConfig {
	components.RLock()
	defer components.RUnlock()
	return components.config
}
