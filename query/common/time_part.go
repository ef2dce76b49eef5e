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
	"time"

	"github.com/uber/aresquery/utils"
)

// Time parts supported by TimePart.
const (
	SecondOfMinute = "SECOND_OF_MINUTE"
	MinuteOfHour   = "MINUTE_OF_HOUR"
	MinuteOfDay    = "MINUTE_OF_DAY"
	HourOfDay      = "HOUR_OF_DAY"
	DayOfWeek      = "DAY_OF_WEEK"
	DayOfMonth     = "DAY_OF_MONTH"
	DayOfYear      = "DAY_OF_YEAR"
	WeekOfYear     = "WEEK_OF_YEAR"
	MonthOfYear    = "MONTH_OF_YEAR"
	QuarterOfYear  = "QUARTER_OF_YEAR"
	YearPart       = "YEAR"
)

var timeParts = map[string]func(t time.Time) int{
	SecondOfMinute: func(t time.Time) int { return t.Second() },
	MinuteOfHour:   func(t time.Time) int { return t.Minute() },
	MinuteOfDay:    func(t time.Time) int { return t.Hour()*60 + t.Minute() },
	HourOfDay:      func(t time.Time) int { return t.Hour() },
	// Monday is 1, Sunday is 7.
	DayOfWeek:  func(t time.Time) int { return (int(t.Weekday())+6)%7 + 1 },
	DayOfMonth: func(t time.Time) int { return t.Day() },
	DayOfYear:  func(t time.Time) int { return t.YearDay() },
	WeekOfYear: func(t time.Time) int {
		_, week := t.ISOWeek()
		return week
	},
	MonthOfYear:   func(t time.Time) int { return int(t.Month()) },
	QuarterOfYear: func(t time.Time) int { return (int(t.Month())-1)/3 + 1 },
	YearPart:      func(t time.Time) int { return t.Year() },
}

// IsTimePart tells whether part is a supported time part.
func IsTimePart(part string) bool {
	_, ok := timeParts[part]
	return ok
}

// TimePart extracts a calendar component of t in the given location.
func TimePart(t time.Time, part string, loc *time.Location) (float64, error) {
	fn, ok := timeParts[part]
	if !ok {
		return 0, utils.ConstructionError("unsupported time part %s", part)
	}
	if loc == nil {
		loc = time.UTC
	}
	return float64(fn(t.In(loc))), nil
}
