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

// NoContentResponse represents Response with no content.
// swagger:response noContentResponse
type NoContentResponse struct{}

// QueryResponse represents the value of an evaluated expression.
// swagger:response queryResponse
type QueryResponse struct {
	//in: body
	Body struct {
		RequestID string      `json:"requestID"`
		Result    interface{} `json:"result"`
	}
}

// PlanResponse represents the plan of an expression and the native queries it sends.
// swagger:response planResponse
type PlanResponse struct {
	//in: body
	Body struct {
		Plan    string      `json:"plan"`
		Queries interface{} `json:"queries"`
	}
}
