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
	"net"
	"net/http"
	"reflect"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/uber-go/tally"
	"github.com/uber/aresquery/common"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"
)

// Headers read by the middlewares.
const (
	HTTPOriginHeaderKey    = "X-Caller"
	HTTPRPCCallerHeaderKey = "RPC-Caller"
	HTTPRequestIDHeaderKey = "RequestID"

	unknownOrigin = "unknown"
	apiComponent  = "api"
)

var epoch = time.Unix(0, 0).Format(time.RFC1123)

var noCacheHeaders = map[string]string{
	"Expires":         epoch,
	"Cache-Control":   "no-cache, private, max-age=0",
	"Pragma":          "no-cache",
	"X-Accel-Expires": "0",
}

var etagHeaders = []string{
	"ETag",
	"If-Modified-Since",
	"If-Match",
	"If-None-Match",
	"If-Range",
	"If-Unmodified-Since",
}

// NoCache sets no cache headers and drops conditional request headers.
func NoCache(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, v := range etagHeaders {
			r.Header.Del(v)
		}
		for k, v := range noCacheHeaders {
			w.Header().Set(k, v)
		}
		h.ServeHTTP(w, r)
	})
}

// GetOrigin returns the caller of the request, from the rpc caller header first.
func GetOrigin(r *http.Request) string {
	for _, key := range []string{HTTPRPCCallerHeaderKey, HTTPOriginHeaderKey} {
		if origin := r.Header.Get(key); origin != "" {
			return origin
		}
	}
	return unknownOrigin
}

// newLimitedServer listens on port and caps concurrent connections. Handlers also
// serve cleartext http2.
func newLimitedServer(port int, handler http.Handler, httpCfg common.HTTPConfig) (net.Listener, *http.Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, err
	}
	if httpCfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, httpCfg.MaxConnections)
	}
	server := &http.Server{
		ReadTimeout:  time.Duration(httpCfg.ReadTimeOutInSeconds) * time.Second,
		WriteTimeout: time.Duration(httpCfg.WriteTimeOutInSeconds) * time.Second,
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
	}
	return listener, server, nil
}

// LimitServe serves handler on port until the server fails, then exits the process.
func LimitServe(port int, handler http.Handler, httpCfg common.HTTPConfig) {
	listener, server, err := newLimitedServer(port, handler, httpCfg)
	if err != nil {
		GetLogger().With("port", port, "error", err).Fatal("failed to listen")
	}
	defer listener.Close()
	GetLogger().Fatal(server.Serve(listener))
}

// LimitServeAsync serves handler on port in the background. The returned channel
// receives the error Serve exits with.
func LimitServeAsync(port int, handler http.Handler, httpCfg common.HTTPConfig) (chan error, *http.Server, error) {
	listener, server, err := newLimitedServer(port, handler, httpCfg)
	if err != nil {
		return nil, nil, err
	}
	errChan := make(chan error, 1)
	go func() {
		defer listener.Close()
		errChan <- server.Serve(listener)
	}()
	return errChan, server, nil
}

// HandlerFunc defines http handler function
type HandlerFunc func(rw *ResponseWriter, r *http.Request)

// HTTPHandlerWrapper wraps http handler function
type HTTPHandlerWrapper func(handler HandlerFunc) HandlerFunc

// ApplyHTTPWrappers applies wrappers in order, so the last wrapper runs first.
func ApplyHTTPWrappers(handler HandlerFunc, wrappers ...HTTPHandlerWrapper) http.HandlerFunc {
	h := handler
	for _, wrapper := range wrappers {
		h = wrapper(h)
	}
	return func(writer http.ResponseWriter, request *http.Request) {
		h(newRequestResponseWriter(writer, request), request)
	}
}

var funcNameCleaner = regexp.MustCompile("[^0-9a-zA-Z_\\-.]+")

// GetFuncName returns the last part of the name of a function, used to tag handler metrics.
func GetFuncName(f interface{}) string {
	fullFuncName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	paths := strings.Split(fullFuncName, "/")
	parts := strings.SplitN(paths[len(paths)-1], ".", 2)
	return funcNameCleaner.ReplaceAllString(parts[len(parts)-1], "")
}

// handlerObserver times a handler call and counts it by status code.
type handlerObserver struct {
	scope   tally.Scope
	handler string
}

func (o handlerObserver) observe(r *http.Request, rw *ResponseWriter, call func()) {
	tags := map[string]string{
		metricsTagHandler: o.handler,
		metricsTagOrigin:  GetOrigin(r),
	}
	stopWatch := o.scope.Tagged(tags).Timer(metricsDefs[HTTPHandlerLatency].name).Start()
	call()
	stopWatch.Stop()
	tags[metricsTagStatusCode] = strconv.Itoa(rw.statusCode)
	o.scope.Tagged(tags).Counter(metricsDefs[HTTPHandlerCall].name).Inc(1)
}

// WithMetricsFunc reports call count and latency of a plain http handler to the root reporter.
func WithMetricsFunc(next http.HandlerFunc) http.HandlerFunc {
	name := GetFuncName(next)
	return func(w http.ResponseWriter, r *http.Request) {
		rw := newRequestResponseWriter(w, r)
		observer := handlerObserver{
			scope:   GetRootReporter().GetRootScope().Tagged(map[string]string{metricsTagComponent: apiComponent}),
			handler: name,
		}
		observer.observe(r, rw, func() { next(rw, r) })
	}
}

// MetricsLoggingMiddleWareProvider provides middleware for metrics and logger for http requests
type MetricsLoggingMiddleWareProvider struct {
	scope  tally.Scope
	logger common.Logger
}

// NewMetricsLoggingMiddleWareProvider creates metrics and logging middleware provider
func NewMetricsLoggingMiddleWareProvider(scope tally.Scope, logger common.Logger) MetricsLoggingMiddleWareProvider {
	return MetricsLoggingMiddleWareProvider{
		scope:  scope,
		logger: logger,
	}
}

// WithMetrics plug in metrics middleware
func (p *MetricsLoggingMiddleWareProvider) WithMetrics(next HandlerFunc) HandlerFunc {
	observer := handlerObserver{scope: p.scope, handler: GetFuncName(next)}
	return func(rw *ResponseWriter, r *http.Request) {
		observer.observe(r, rw, func() { next(rw, r) })
	}
}

// WithLogging logs failed requests at error level and the rest at debug level.
func (p *MetricsLoggingMiddleWareProvider) WithLogging(next HandlerFunc) HandlerFunc {
	return func(rw *ResponseWriter, r *http.Request) {
		start := Now()
		next(rw, r)
		logger := p.logger.With(
			"path", r.URL.Path,
			"request", rw.req,
			"latencyMs", SinceInMilliseconds(start),
		)
		if rw.err != nil {
			logger.With(
				"method", r.Method,
				"status", rw.statusCode,
				"error", rw.err,
			).Error("request failed")
			return
		}
		logger.Debug("request succeeded")
	}
}
