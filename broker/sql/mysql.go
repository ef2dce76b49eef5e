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
	"github.com/uber/aresquery/query/expr"
)

// MySQLName is the engine name of MySQL sources.
const MySQLName = "mysql"

var mysqlFloorFormats = map[common.TimeUnit]string{
	common.Second: "%Y-%m-%d %H:%i:%s",
	common.Minute: "%Y-%m-%d %H:%i:00",
	common.Hour:   "%Y-%m-%d %H:00:00",
	common.Day:    "%Y-%m-%d 00:00:00",
	common.Month:  "%Y-%m-01 00:00:00",
	common.Year:   "%Y-01-01 00:00:00",
}

var mysqlTimeParts = map[string]string{
	common.SecondOfMinute: "SECOND(%s)",
	common.MinuteOfHour:   "MINUTE(%s)",
	common.MinuteOfDay:    "(HOUR(%[1]s)*60+MINUTE(%[1]s))",
	common.HourOfDay:      "HOUR(%s)",
	common.DayOfWeek:      "((DAYOFWEEK(%s)+5)%%7+1)",
	common.DayOfMonth:     "DAYOFMONTH(%s)",
	common.DayOfYear:      "DAYOFYEAR(%s)",
	common.WeekOfYear:     "WEEK(%s,3)",
	common.MonthOfYear:    "MONTH(%s)",
	common.QuarterOfYear:  "QUARTER(%s)",
	common.YearPart:       "YEAR(%s)",
}

// MySQLDialect writes MySQL.
type MySQLDialect struct{}

// Name implements Dialect.
func (MySQLDialect) Name() string { return MySQLName }

// EscapeName quotes an identifier with backticks.
func (MySQLDialect) EscapeName(name string) string {
	return "`" + strings.Replace(name, "`", "``", -1) + "`"
}

// EscapeString quotes a string literal, escaping backslashes as MySQL reads them.
func (MySQLDialect) EscapeString(s string) string {
	s = strings.Replace(s, `\`, `\\`, -1)
	return "'" + strings.Replace(s, "'", "''", -1) + "'"
}

// Time renders a UTC timestamp literal.
func (d MySQLDialect) Time(t time.Time) string {
	return "TIMESTAMP(" + d.EscapeString(t.UTC().Format("2006-01-02 15:04:05.000")) + ")"
}

func (MySQLDialect) Concat(operands ...string) string {
	return "CONCAT(" + strings.Join(operands, ",") + ")"
}

func (MySQLDialect) Contains(operand, needle string, ignoreCase bool) string {
	if ignoreCase {
		return fmt.Sprintf("LOCATE(LOWER(%s),LOWER(%s))>0", needle, operand)
	}
	return fmt.Sprintf("LOCATE(BINARY %s,%s)>0", needle, operand)
}

func (d MySQLDialect) Match(operand, pattern string) string {
	return fmt.Sprintf("(%s REGEXP %s)", operand, d.EscapeString(pattern))
}

// Extract uses REGEXP_SUBSTR, which only returns whole matches.
func (d MySQLDialect) Extract(operand, pattern string) (string, error) {
	re, err := expr.CompileRegexp(pattern)
	if err != nil {
		return "", err
	}
	if re.NumSubexp() > 0 {
		return "", unsupported(d, "can not extract capturing groups of %s", pattern)
	}
	return fmt.Sprintf("REGEXP_SUBSTR(%s,%s)", operand, d.EscapeString(pattern)), nil
}

func (MySQLDialect) Substr(operand string, position, length int) string {
	return fmt.Sprintf("SUBSTR(%s,%d,%d)", operand, position+1, length)
}

func (MySQLDialect) Length(operand string) string {
	return "CHAR_LENGTH(" + operand + ")"
}

func (d MySQLDialect) toZone(operand, timezone string) string {
	if isUTC(timezone) {
		return operand
	}
	return fmt.Sprintf("CONVERT_TZ(%s,'+0:00',%s)", operand, d.EscapeString(timezone))
}

func (d MySQLDialect) fromZone(operand, timezone string) string {
	if isUTC(timezone) {
		return operand
	}
	return fmt.Sprintf("CONVERT_TZ(%s,%s,'+0:00')", operand, d.EscapeString(timezone))
}

// TimeFloor formats away the smaller units. Only durations of one unit are supported.
func (d MySQLDialect) TimeFloor(operand string, duration common.Duration, timezone string) (string, error) {
	unit, count, ok := duration.SingleSpan()
	if !ok || count != 1 {
		return "", unsupported(d, "can not floor by %s", duration)
	}
	local := d.toZone(operand, timezone)
	var floored string
	if unit == common.Week {
		floored = fmt.Sprintf("DATE_SUB(DATE(%[1]s),INTERVAL WEEKDAY(%[1]s) DAY)", local)
	} else {
		floored = fmt.Sprintf("DATE_FORMAT(%s,'%s')", local, mysqlFloorFormats[unit])
	}
	return d.fromZone(floored, timezone), nil
}

func (d MySQLDialect) TimeShift(operand string, duration common.Duration, step int, timezone string) (string, error) {
	shifted := d.toZone(operand, timezone)
	for _, span := range duration.Spans() {
		shifted = fmt.Sprintf("DATE_ADD(%s,INTERVAL %d %s)", shifted, span.Count*step, strings.ToUpper(string(span.Unit)))
	}
	return d.fromZone(shifted, timezone), nil
}

func (d MySQLDialect) TimePart(operand, part, timezone string) (string, error) {
	template, ok := mysqlTimeParts[part]
	if !ok {
		return "", unsupported(d, "unknown time part %s", part)
	}
	return fmt.Sprintf(template, d.toZone(operand, timezone)), nil
}

func (d MySQLDialect) Quantile(operand string, probability float64) (string, error) {
	return "", unsupported(d, "quantiles are not supported")
}

func (d MySQLDialect) ColumnsQuery(table string) string {
	return "SELECT column_name AS name, data_type AS type FROM information_schema.columns" +
		" WHERE table_schema = DATABASE() AND table_name = " + d.EscapeString(table) +
		" ORDER BY ordinal_position"
}
