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
	"compress/gzip"
	"encoding/json"
	"net/http"
	"strings"
)

// Content negotiation headers and values.
const (
	HTTPContentTypeHeaderKey     = "Content-Type"
	HTTPAcceptEncodingHeaderKey  = "Accept-Encoding"
	HTTPContentEncodingHeaderKey = "Content-Encoding"

	HTTPContentTypeApplicationJson = "application/json"
	HTTPContentEncodingGzip        = "gzip"

	// CompressionThreshold is the min number of bytes beyond which json payloads are gzipped
	CompressionThreshold = 1 << 10
)

// ResponseWriter decorates http.ResponseWriter with the status code, the decoded
// request and the error of the call, for the middlewares to report.
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
	req        interface{}
	err        error
	acceptGzip bool
}

// NewResponseWriter returns response writer with status code 200
func NewResponseWriter(rw http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		statusCode:     http.StatusOK,
		ResponseWriter: rw,
	}
}

func newRequestResponseWriter(rw http.ResponseWriter, r *http.Request) *ResponseWriter {
	if existing, ok := rw.(*ResponseWriter); ok {
		return existing
	}
	writer := NewResponseWriter(rw)
	writer.acceptGzip = strings.Contains(r.Header.Get(HTTPAcceptEncodingHeaderKey), HTTPContentEncodingGzip)
	return writer
}

// StatusCode returns the status written so far.
func (s *ResponseWriter) StatusCode() int {
	return s.statusCode
}

// SetRequest keeps the decoded request body for logging.
func (s *ResponseWriter) SetRequest(req interface{}) {
	s.req = req
}

// WriteHeader records the status code before writing it.
func (s *ResponseWriter) WriteHeader(code int) {
	if code > 0 {
		s.statusCode = code
		s.ResponseWriter.WriteHeader(code)
	}
}

func (s *ResponseWriter) setNoStoreHeaders() {
	s.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	s.Header().Set("Pragma", "no-cache")
	s.Header().Set("Expires", "0")
}

// WriteBytes writes bts with status 200.
func (s *ResponseWriter) WriteBytes(bts []byte) {
	s.WriteBytesWithCode(http.StatusOK, bts)
}

// WriteBytesWithCode writes bytes with code
func (s *ResponseWriter) WriteBytesWithCode(code int, bts []byte) {
	s.setNoStoreHeaders()
	s.WriteHeader(code)
	if bts != nil {
		s.Write(bts)
	}
}

// writeJSON writes a json payload, gzipped when large and the client accepts it.
func (s *ResponseWriter) writeJSON(code int, payload []byte) {
	s.Header().Set(HTTPContentTypeHeaderKey, HTTPContentTypeApplicationJson)
	if !s.acceptGzip || len(payload) <= CompressionThreshold {
		s.WriteBytesWithCode(code, payload)
		return
	}
	gw, err := gzip.NewWriterLevel(s.ResponseWriter, gzip.BestSpeed)
	if err != nil {
		s.WriteBytesWithCode(code, payload)
		return
	}
	defer gw.Close()
	s.Header().Set(HTTPContentEncodingHeaderKey, HTTPContentEncodingGzip)
	s.setNoStoreHeaders()
	s.WriteHeader(code)
	_, _ = gw.Write(payload)
}

// WriteObject write json object to response
func (s *ResponseWriter) WriteObject(obj interface{}) {
	s.WriteObjectWithCode(http.StatusOK, obj)
}

// WriteObjectWithCode serializes obj as json. A marshal failure turns into a 500.
func (s *ResponseWriter) WriteObjectWithCode(code int, obj interface{}) {
	if obj == nil {
		s.WriteBytesWithCode(code, nil)
		return
	}
	payload, err := json.Marshal(obj)
	if err != nil {
		s.err = err
		payload, _ = json.Marshal(APIError{
			Code:    http.StatusInternalServerError,
			Message: "failed to marshal object",
			Cause:   err,
		})
		code = http.StatusInternalServerError
	}
	s.writeJSON(code, payload)
}

// WriteErrorWithCode writes err as an APIError body with code.
func (s *ResponseWriter) WriteErrorWithCode(code int, err error) {
	s.err = err
	body, ok := err.(APIError)
	if !ok {
		body = APIError{Message: err.Error()}
	}
	body.Code = code
	s.WriteObjectWithCode(code, body)
}

// WriteError writes err with its own code when it is an APIError, or 500.
func (s *ResponseWriter) WriteError(err error) {
	code := http.StatusInternalServerError
	if e, ok := err.(APIError); ok && e.Code > 0 {
		code = e.Code
	}
	s.WriteErrorWithCode(code, err)
}
