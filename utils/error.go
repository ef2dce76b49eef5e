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
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorCategory classifies query errors by the stage that raised them.
type ErrorCategory string

// Error categories.
const (
	// CategoryUnknown is used for errors not raised through one of the helpers below.
	CategoryUnknown ErrorCategory = ""
	// CategoryConstruction is raised while building an expression tree.
	CategoryConstruction ErrorCategory = "construction"
	// CategoryType is raised by reference checking and resolution.
	CategoryType ErrorCategory = "type"
	// CategoryRemote wraps failures returned by a requester.
	CategoryRemote ErrorCategory = "remote"
	// CategoryUnsupported is raised when a backend compiler meets an operation it cannot express.
	CategoryUnsupported ErrorCategory = "unsupported"
)

// APIError represents APIError with error code
type APIError struct {
	Code    int    `json:"-"`
	Message string `json:"message"`
	Cause   error  `json:"cause"`
}

func (e APIError) Error() string {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return fmt.Sprintf("%s\n%s", e.Message, cause)
}

// StackedError contains multiple lines of error messages as well as the stack trace.
type StackedError struct {
	Category ErrorCategory `json:"category,omitempty"`
	Messages []string      `json:"messages"`
	Stack    []string      `json:"stack"`
}

func (e *StackedError) Error() string {
	var result string
	for i := len(e.Messages) - 1; i >= 0; i-- {
		result += e.Messages[i]
		result += "\n"
	}
	result += strings.Join(e.Stack, "\n")
	return result
}

// Message returns the outermost message without the stack trace.
func (e *StackedError) Message() string {
	if len(e.Messages) == 0 {
		return ""
	}
	return strings.Join(reverse(e.Messages), ": ")
}

func reverse(messages []string) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = m
	}
	return out
}

// StackError adds one more line of message to err.
// It updates err if it's already a StackedError, otherwise creates a new StackedError
// with the message from err and the stack trace of current goroutine.
func StackError(err error, message string, args ...interface{}) *StackedError {
	if err == nil {
		e := &StackedError{
			Messages: []string{fmt.Sprintf(message, args...)},
			Stack:    currentStack(),
		}
		return e
	}

	e, ok := err.(*StackedError)
	if !ok {
		e = &StackedError{
			Messages: []string{err.Error()},
			Stack:    currentStack(),
		}
	}

	if message != "" {
		e.Messages = append(e.Messages, fmt.Sprintf(message, args...))
	}
	return e
}

func currentStack() []string {
	stack := make([]byte, 0x10000)
	n := runtime.Stack(stack, false)
	lines := strings.Split(string(stack[:n]), "\n")
	return lines[:len(lines)-1]
}

// ConstructionError reports an invalid expression tree.
func ConstructionError(message string, args ...interface{}) *StackedError {
	e := StackError(nil, message, args...)
	e.Category = CategoryConstruction
	return e
}

// TypeError reports a reference or kind mismatch found while checking an expression.
func TypeError(message string, args ...interface{}) *StackedError {
	e := StackError(nil, message, args...)
	e.Category = CategoryType
	return e
}

// RemoteError wraps a failure returned by a remote backend.
func RemoteError(err error, message string, args ...interface{}) *StackedError {
	e := StackError(err, message, args...)
	if e.Category == CategoryUnknown {
		e.Category = CategoryRemote
	}
	return e
}

// UnsupportedError reports an operation a backend compiler cannot express.
func UnsupportedError(message string, args ...interface{}) *StackedError {
	e := StackError(nil, message, args...)
	e.Category = CategoryUnsupported
	return e
}

// CategoryOf returns the category of err, or CategoryUnknown.
func CategoryOf(err error) ErrorCategory {
	var e *StackedError
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryUnknown
}

// HTTPStatusOf maps an error to the http status code reported to clients.
func HTTPStatusOf(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	switch CategoryOf(err) {
	case CategoryConstruction, CategoryType:
		return http.StatusBadRequest
	case CategoryRemote:
		return http.StatusBadGateway
	case CategoryUnsupported:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// RecoverWrap turns a panic inside call into a StackedError. Panics carrying a
// categorized error keep their category.
func RecoverWrap(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = StackError(e, "recovered from panic")
				return
			}
			err = StackError(nil, "recovered from panic: %v", r)
		}
	}()
	return call()
}
