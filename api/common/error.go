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

	"github.com/uber/aresquery/utils"
)

var (
	// ErrMsgFailedToUnmarshalRequest represents error message for unmarshal error.
	ErrMsgFailedToUnmarshalRequest = "Bad request: failed to unmarshal request body"
	// ErrMsgMissingParameter represents error message for missing params error.
	ErrMsgMissingParameter = "Bad request: missing/invalid parameter"
	// ErrMsgFailedToReadRequestBody represents error message for unable to read request body error.
	ErrMsgFailedToReadRequestBody = "Bad request: failed to read request body"
	// ErrMsgNonExistentSource represents error message for source does not exist
	ErrMsgNonExistentSource = "Bad request: source does not exist"
	// ErrMissingParameter represents api error for missing parameter
	ErrMissingParameter = utils.APIError{
		Code:    http.StatusBadRequest,
		Message: ErrMsgMissingParameter,
	}
	// ErrSourceDoesNotExist represents api error for source does not exist.
	ErrSourceDoesNotExist = utils.APIError{
		Code:    http.StatusNotFound,
		Message: ErrMsgNonExistentSource,
	}
	// ErrQueryServiceNotAvailable is returned when max_concurrent_queries queries are
	// already running.
	ErrQueryServiceNotAvailable = utils.APIError{
		Code:    http.StatusServiceUnavailable,
		Message: "Service unavailable: too many concurrent queries, please try again later",
	}
)

// QueryError is the body of a failed query response.
type QueryError struct {
	Code     int                 `json:"code"`
	Category utils.ErrorCategory `json:"category,omitempty"`
	Message  string              `json:"message"`
}

func (e QueryError) Error() string {
	return e.Message
}

// RespondWithError writes err with the status code of its category. Stack traces of
// stacked errors stay in the logs.
func RespondWithError(rw *utils.ResponseWriter, err error) {
	if apiErr, ok := err.(utils.APIError); ok {
		rw.WriteError(apiErr)
		return
	}
	code := utils.HTTPStatusOf(err)
	message := err.Error()
	if stacked, ok := err.(*utils.StackedError); ok {
		message = stacked.Message()
	}
	utils.GetLogger().With("error", err, "status", code).Debug("query request failed")
	rw.WriteErrorWithCode(code, utils.APIError{
		Code:    code,
		Message: message,
		Cause:   QueryError{Code: code, Category: utils.CategoryOf(err), Message: message},
	})
}
