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
	"encoding/json"
)

// QueryRequest represents an expression query request. The expression is the json form
// of an expression tree; context binds extra names it may reference.
// swagger:parameters query
type QueryRequest struct {
	// in: query
	Verbose int `query:"verbose,optional" json:"verbose"`
	// in: header
	RequestID string `header:"X-Request-Id,optional" json:"requestID"`
	// in: header
	Origin string `header:"Rpc-Caller,optional" json:"origin"`
	// in: body
	Body struct {
		Expression json.RawMessage        `json:"expression"`
		Context    map[string]interface{} `json:"context,omitempty"`
	} `body:""`
}

// SourceRequest names one source of the catalog.
// swagger:parameters source
type SourceRequest struct {
	// in: path
	Source string `path:"source" json:"source"`
}
