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
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/utils"
)

// SourceLister reports the state of the data sources served by the broker.
type SourceLister interface {
	Sources() []broker.SourceStatus
}

// HealthCheckHandler http handler for health check.
type HealthCheckHandler struct {
	sync.RWMutex
	// This flag controls whether returns 200 health or 503 service unavailable in health check handler.
	// Useful when a backend is misbehaving and the broker has to be taken out of rotation manually.
	disable bool

	sources SourceLister
}

// NewHealthCheckHandler return a new http handler for health check.
func NewHealthCheckHandler(sources SourceLister) *HealthCheckHandler {
	return &HealthCheckHandler{sources: sources}
}

// Register registers the health endpoints on router.
func (handler *HealthCheckHandler) Register(router *mux.Router, wrappers ...utils.HTTPHandlerWrapper) {
	router.HandleFunc("/health", utils.ApplyHTTPWrappers(handler.HealthCheck, wrappers...))
	router.HandleFunc("/health/{action:enable|disable}", utils.ApplyHTTPWrappers(handler.Toggle, wrappers...)).Methods(http.MethodPost)
	router.HandleFunc("/version", utils.ApplyHTTPWrappers(handler.Version, wrappers...))
}

// HealthCheck is the HealthCheck endpoint. The broker is healthy once at least one
// source has been introspected, or has nothing to introspect.
func (handler *HealthCheckHandler) HealthCheck(rw *utils.ResponseWriter, r *http.Request) {
	handler.RLock()
	disabled := handler.disable
	handler.RUnlock()
	if disabled {
		rw.WriteBytesWithCode(http.StatusServiceUnavailable, []byte("Health check disabled"))
		return
	}

	statuses := handler.sources.Sources()
	if len(statuses) == 0 {
		rw.WriteBytes([]byte("OK"))
		return
	}
	for _, status := range statuses {
		if status.Error == "" {
			rw.WriteBytes([]byte("OK"))
			return
		}
	}
	rw.WriteBytesWithCode(http.StatusServiceUnavailable, []byte("No source available"))
}

// Toggle turns the health check on or off.
func (handler *HealthCheckHandler) Toggle(rw *utils.ResponseWriter, r *http.Request) {
	disable := mux.Vars(r)["action"] == "disable"
	handler.Lock()
	handler.disable = disable
	handler.Unlock()
	utils.GetLogger().With("disabled", disable).Info("Health check toggled")
	rw.WriteBytes([]byte("OK"))
}

// Version is the Version check endpoint.
func (handler *HealthCheckHandler) Version(rw *utils.ResponseWriter, r *http.Request) {
	rw.WriteBytes([]byte(utils.GetConfig().Version))
}
