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

package druid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/uber/aresquery/broker"
)

const queryPath = "/druid/v2/"

// HTTPRequester posts native queries to a druid broker.
type HTTPRequester struct {
	client  *http.Client
	address string
	headers http.Header
}

// NewHTTPRequester creates a requester for the broker at address, e.g.
// http://localhost:8082. Every request carries the given headers.
func NewHTTPRequester(address string, headers http.Header) *HTTPRequester {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return &HTTPRequester{
		client:  &http.Client{},
		address: strings.TrimSuffix(address, "/"),
		headers: headers,
	}
}

func (r *HTTPRequester) buildRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, r.address+path, body)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	for k, vs := range r.headers {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	if body != nil {
		headers.Set("Content-Type", "application/json")
	}
	req.Header = headers
	return req.WithContext(ctx), nil
}

// Request sends a *Query or a DatasourceRequest and returns the decoded json response.
// Queries rejected by druid fail with a permanent error.
func (r *HTTPRequester) Request(ctx context.Context, request broker.Request) (interface{}, error) {
	var req *http.Request
	var err error
	switch q := request.Query.(type) {
	case *Query:
		body, marshalErr := json.Marshal(q)
		if marshalErr != nil {
			return nil, broker.PermanentError(errors.Wrap(marshalErr, "failed to encode druid query"))
		}
		req, err = r.buildRequest(ctx, http.MethodPost, queryPath, bytes.NewReader(body))
	case DatasourceRequest:
		req, err = r.buildRequest(ctx, http.MethodGet, queryPath+"datasources/"+url.PathEscape(q.DataSource), nil)
	default:
		return nil, broker.PermanentError(errors.Errorf("druid can not send %T", request.Query))
	}
	if err != nil {
		return nil, broker.PermanentError(errors.Wrapf(err, "failed to build request to %s", r.address))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request to druid broker %s failed", r.address)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response of druid broker %s", r.address)
	}
	if resp.StatusCode != http.StatusOK {
		err = errors.Errorf("druid broker returned status %d: %s", resp.StatusCode, errorMessage(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, broker.PermanentError(err)
		}
		return nil, err
	}

	var result interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode druid response")
	}
	return result, nil
}

// errorMessage extracts the message of a druid error response.
func errorMessage(body []byte) string {
	var response struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal(body, &response) == nil && (response.Error != "" || response.ErrorMessage != "") {
		return strings.TrimSpace(fmt.Sprintf("%s %s", response.Error, response.ErrorMessage))
	}
	return string(body)
}
