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
	"fmt"
	"strings"
	"time"

	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/value"
)

// PostgresName is the engine name of Postgres sources.
const PostgresName = "postgres"

var postgresTimeParts = map[string]string{
	common.SecondOfMinute: "FLOOR(EXTRACT(SECOND FROM %s))",
	common.MinuteOfHour:   "EXTRACT(MINUTE FROM %s)",
	common.MinuteOfDay:    "(EXTRACT(HOUR FROM %[1]s)*60+EXTRACT(MINUTE FROM %[1]s))",
	common.HourOfDay:      "EXTRACT(HOUR FROM %s)",
	common.DayOfWeek:      "EXTRACT(ISODOW FROM %s)",
	common.DayOfMonth:     "EXTRACT(DAY FROM %s)",
	common.DayOfYear:      "EXTRACT(DOY FROM %s)",
	common.WeekOfYear:     "EXTRACT(WEEK FROM %s)",
	common.MonthOfYear:    "EXTRACT(MONTH FROM %s)",
	common.QuarterOfYear:  "EXTRACT(QUARTER FROM %s)",
	common.YearPart:       "EXTRACT(YEAR FROM %s)",
}

// PostgresDialect writes PostgreSQL with standard conforming strings.
type PostgresDialect struct{}

// Name implements Dialect.
func (PostgresDialect) Name() string { return PostgresName }

// EscapeName quotes an identifier with double quotes.
func (PostgresDialect) EscapeName(name string) string {
	return `"` + strings.Replace(name, `"`, `""`, -1) + `"`
}

func (PostgresDialect) EscapeString(s string) string {
	return "'" + strings.Replace(s, "'", "''", -1) + "'"
}

func (d PostgresDialect) Time(t time.Time) string {
	return "TIMESTAMP " + d.EscapeString(t.UTC().Format("2006-01-02 15:04:05.000"))
}

func (PostgresDialect) Concat(operands ...string) string {
	return "(" + strings.Join(operands, "||") + ")"
}

func (PostgresDialect) Contains(operand, needle string, ignoreCase bool) string {
	if ignoreCase {
		return fmt.Sprintf("STRPOS(LOWER(%s),LOWER(%s))>0", operand, needle)
	}
	return fmt.Sprintf("STRPOS(%s,%s)>0", operand, needle)
}

func (d PostgresDialect) Match(operand, pattern string) string {
	return fmt.Sprintf("(%s ~ %s)", operand, d.EscapeString(pattern))
}

// Extract uses SUBSTRING FROM, which already returns the first group when there is one.
func (d PostgresDialect) Extract(operand, pattern string) (string, error) {
	return fmt.Sprintf("SUBSTRING(%s FROM %s)", operand, d.EscapeString(pattern)), nil
}

func (PostgresDialect) Substr(operand string, position, length int) string {
	return fmt.Sprintf("SUBSTR(%s,%d,%d)", operand, position+1, length)
}

func (PostgresDialect) Length(operand string) string {
	return "LENGTH(" + operand + ")"
}

func (d PostgresDialect) toZone(operand, timezone string) string {
	if isUTC(timezone) {
		return operand
	}
	return fmt.Sprintf("(%s AT TIME ZONE %s)", operand, d.EscapeString(timezone))
}

func (d PostgresDialect) TimeFloor(operand string, duration common.Duration, timezone string) (string, error) {
	unit, count, ok := duration.SingleSpan()
	if !ok || count != 1 {
		return "", unsupported(d, "can not floor by %s", duration)
	}
	return d.toZone(fmt.Sprintf("DATE_TRUNC('%s',%s)", unit, d.toZone(operand, timezone)), timezone), nil
}

func (d PostgresDialect) TimeShift(operand string, duration common.Duration, step int, timezone string) (string, error) {
	spans := duration.Spans()
	parts := make([]string, len(spans))
	for i, span := range spans {
		parts[i] = fmt.Sprintf("%d %s", span.Count*step, span.Unit)
	}
	interval := "INTERVAL " + d.EscapeString(strings.Join(parts, " "))
	return d.toZone(fmt.Sprintf("(%s+%s)", d.toZone(operand, timezone), interval), timezone), nil
}

func (d PostgresDialect) TimePart(operand, part, timezone string) (string, error) {
	template, ok := postgresTimeParts[part]
	if !ok {
		return "", unsupported(d, "unknown time part %s", part)
	}
	return fmt.Sprintf(template, d.toZone(operand, timezone)), nil
}

func (PostgresDialect) Quantile(operand string, probability float64) (string, error) {
	return fmt.Sprintf("PERCENTILE_CONT(%s) WITHIN GROUP (ORDER BY %s)", value.FormatNumber(probability), operand), nil
}

func (d PostgresDialect) ColumnsQuery(table string) string {
	return "SELECT column_name AS name, data_type AS type FROM information_schema.columns" +
		" WHERE table_schema = current_schema() AND table_name = " + d.EscapeString(table) +
		" ORDER BY ordinal_position"
}
