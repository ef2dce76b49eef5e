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

package sql

import (
	"strings"
	"time"

	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

// Dialect supplies the pieces of SQL text that differ between databases. Operands and
// results are SQL fragments.
type Dialect interface {
	// Name is the engine name of the dialect in source configs.
	Name() string

	EscapeName(name string) string
	EscapeString(s string) string
	Time(t time.Time) string

	Concat(operands ...string) string
	Contains(operand, needle string, ignoreCase bool) string
	Match(operand, pattern string) string
	// Extract returns the first capturing group of pattern, or the whole match when it
	// has none.
	Extract(operand, pattern string) (string, error)
	// Substr takes a zero based position.
	Substr(operand string, position, length int) string
	Length(operand string) string

	TimeFloor(operand string, d common.Duration, timezone string) (string, error)
	TimeShift(operand string, d common.Duration, step int, timezone string) (string, error)
	TimePart(operand, part, timezone string) (string, error)

	Quantile(operand string, probability float64) (string, error)

	// ColumnsQuery lists the name and data type of the columns of a table.
	ColumnsQuery(table string) string
}

func unsupported(d Dialect, message string, args ...interface{}) error {
	return utils.UnsupportedError(d.Name()+": "+message, args...)
}

// escapeTable escapes every part of a possibly schema qualified table name.
func escapeTable(d Dialect, table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = d.EscapeName(p)
	}
	return strings.Join(parts, ".")
}

func isUTC(timezone string) bool {
	return timezone == "" || timezone == "UTC" || timezone == "Etc/UTC"
}

// nativeKind maps an information_schema data type to a kind.
func nativeKind(dataType string) (value.Kind, bool) {
	t := strings.ToLower(dataType)
	switch {
	case t == "boolean" || t == "bool":
		return value.BooleanKind, true
	case strings.HasPrefix(t, "timestamp"), t == "datetime", t == "date":
		return value.TimeKind, true
	case strings.Contains(t, "char"), strings.HasSuffix(t, "text"), t == "enum", t == "uuid":
		return value.StringKind, true
	case strings.HasSuffix(t, "int"), strings.HasSuffix(t, "integer"), t == "decimal", t == "numeric",
		t == "float", t == "double", t == "double precision", t == "real":
		return value.NumberKind, true
	}
	return value.UnknownKind, false
}
