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
	"context"
	"encoding/hex"
	"strings"

	uuid "github.com/satori/go.uuid"
)

type requestIDKey struct{}

// NewRequestID returns a random id tagging the logs of one query.
func NewRequestID() string {
	return NormalizeUUID(uuid.Must(uuid.NewV4()).String())
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id of ctx, or an empty string.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NormalizeUUID lowercases a uuid and removes its dashes and 0x prefix.
func NormalizeUUID(s string) string {
	s = strings.TrimPrefix(s, "0x")
	return strings.ToLower(strings.Replace(s, "-", "", -1))
}

// ParseRequestID validates a request id sent by a client.
func ParseRequestID(s string) (string, error) {
	normalized := NormalizeUUID(s)
	if _, err := hex.DecodeString(normalized); err != nil || len(normalized) != 32 {
		return "", ConstructionError("invalid request id: %s", s)
	}
	return normalized, nil
}
