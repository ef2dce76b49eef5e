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
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/uber/aresquery/utils"
)

// TimeUnit is one calendar unit of a Duration.
type TimeUnit string

// Calendar units, from the largest to the smallest.
const (
	Year   TimeUnit = "year"
	Month  TimeUnit = "month"
	Week   TimeUnit = "week"
	Day    TimeUnit = "day"
	Hour   TimeUnit = "hour"
	Minute TimeUnit = "minute"
	Second TimeUnit = "second"
)

var units = []TimeUnit{Year, Month, Week, Day, Hour, Minute, Second}

var unitLetters = map[TimeUnit]string{
	Year: "Y", Month: "M", Week: "W", Day: "D", Hour: "H", Minute: "M", Second: "S",
}

// cycle is the count of a unit in the next larger unit. A multi unit floor is only well
// defined when its count divides the cycle.
var cycle = map[TimeUnit]int{
	Month:  12,
	Week:   1,
	Day:    1,
	Hour:   24,
	Minute: 60,
	Second: 60,
}

var approximateLength = map[TimeUnit]time.Duration{
	Year:   365 * 24 * time.Hour,
	Month:  30 * 24 * time.Hour,
	Week:   7 * 24 * time.Hour,
	Day:    24 * time.Hour,
	Hour:   time.Hour,
	Minute: time.Minute,
	Second: time.Second,
}

var durationRegexp = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// Duration is an ISO-8601 calendar duration like P1D or PT15M.
type Duration struct {
	spans [7]int
}

// ParseDuration parses an ISO-8601 duration string.
func ParseDuration(s string) (Duration, error) {
	var d Duration
	matches := durationRegexp.FindStringSubmatch(s)
	if matches == nil || s == "P" || strings.HasSuffix(s, "T") {
		return d, utils.ConstructionError("invalid duration %q", s)
	}
	nonZero := false
	for i := range units {
		if matches[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return d, utils.ConstructionError("invalid duration %q", s)
		}
		d.spans[i] = n
		nonZero = nonZero || n > 0
	}
	if !nonZero {
		return d, utils.ConstructionError("duration %q is empty", s)
	}
	return d, nil
}

// MustParseDuration is ParseDuration that panics on invalid input.
func MustParseDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewDuration creates a duration of count units.
func NewDuration(unit TimeUnit, count int) Duration {
	var d Duration
	for i, u := range units {
		if u == unit {
			d.spans[i] = count
		}
	}
	return d
}

// String renders the ISO-8601 form.
func (d Duration) String() string {
	var date, clock strings.Builder
	for i, u := range units {
		if d.spans[i] == 0 {
			continue
		}
		target := &date
		if i >= 4 {
			target = &clock
		}
		target.WriteString(strconv.Itoa(d.spans[i]))
		target.WriteString(unitLetters[u])
	}
	s := "P" + date.String()
	if clock.Len() > 0 {
		s += "T" + clock.String()
	}
	return s
}

// Span is the count of one unit of a duration.
type Span struct {
	Unit  TimeUnit
	Count int
}

// Spans lists the non zero spans of the duration from the largest unit down.
func (d Duration) Spans() []Span {
	var spans []Span
	for i, u := range units {
		if d.spans[i] != 0 {
			spans = append(spans, Span{Unit: u, Count: d.spans[i]})
		}
	}
	return spans
}

// IsZero tells whether the duration was never set.
func (d Duration) IsZero() bool {
	return d.spans == [7]int{}
}

// SingleSpan returns the unit and count when the duration is made of one unit only.
func (d Duration) SingleSpan() (unit TimeUnit, count int, ok bool) {
	for i, u := range units {
		if d.spans[i] == 0 {
			continue
		}
		if ok {
			return "", 0, false
		}
		unit, count, ok = u, d.spans[i], true
	}
	return
}

// IsFloorable tells whether Floor is defined for the duration.
func (d Duration) IsFloorable() bool {
	unit, count, ok := d.SingleSpan()
	if !ok {
		return false
	}
	if unit == Year {
		return true
	}
	return cycle[unit]%count == 0
}

// Approximate returns the nominal length of the duration, for ordering only.
func (d Duration) Approximate() time.Duration {
	var total time.Duration
	for i, u := range units {
		total += time.Duration(d.spans[i]) * approximateLength[u]
	}
	return total
}

// Floor rounds t down to the start of the bucket containing it in the given location.
func (d Duration) Floor(t time.Time, loc *time.Location) (time.Time, error) {
	if !d.IsFloorable() {
		return time.Time{}, utils.ConstructionError("can not floor by %s", d)
	}
	if loc == nil {
		loc = time.UTC
	}
	unit, n, _ := d.SingleSpan()
	base := t.In(loc)
	var floored time.Time
	switch unit {
	case Year:
		floored = adjustMidnight(time.Date(base.Year()-base.Year()%n, time.January, 1, 0, 0, 0, 0, loc))
	case Month:
		month := int(base.Month()) - 1
		floored = adjustMidnight(time.Date(base.Year(), time.Month(month-month%n+1), 1, 0, 0, 0, 0, loc))
	case Week:
		dayStart := adjustMidnight(time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, loc))
		floored = adjustMidnight(dayStart.AddDate(0, 0, (-int(base.Weekday())-6)%7))
	case Day:
		floored = adjustMidnight(time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, loc))
	case Hour:
		floored = time.Date(base.Year(), base.Month(), base.Day(), base.Hour()-base.Hour()%n, 0, 0, 0, loc)
	case Minute:
		floored = time.Date(base.Year(), base.Month(), base.Day(), base.Hour(), base.Minute()-base.Minute()%n, 0, 0, loc)
	case Second:
		floored = time.Date(base.Year(), base.Month(), base.Day(), base.Hour(), base.Minute(), base.Second()-base.Second()%n, 0, loc)
	}
	return floored.UTC(), nil
}

// Shift moves t by step durations in the given location. Calendar units are applied in
// local time, clock units as absolute durations.
func (d Duration) Shift(t time.Time, loc *time.Location, step int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	shifted := t.In(loc).AddDate(d.spans[0]*step, d.spans[1]*step, (d.spans[2]*7+d.spans[3])*step)
	shifted = shifted.Add(time.Duration(step) * (time.Duration(d.spans[4])*time.Hour +
		time.Duration(d.spans[5])*time.Minute + time.Duration(d.spans[6])*time.Second))
	return shifted.UTC()
}

// Bucket returns the bucket [start, end) containing t.
func (d Duration) Bucket(t time.Time, loc *time.Location) (start, end time.Time, err error) {
	if start, err = d.Floor(t, loc); err != nil {
		return
	}
	end = d.Shift(start, loc, 1)
	return
}

// Ceil rounds t up to the next bucket boundary, t itself when already on one.
func (d Duration) Ceil(t time.Time, loc *time.Location) (time.Time, error) {
	floored, err := d.Floor(t, loc)
	if err != nil {
		return floored, err
	}
	if floored.Equal(t) {
		return floored, nil
	}
	return d.Shift(floored, loc, 1), nil
}

// adjustMidnight fixes up local midnights that fall into a daylight saving transition.
func adjustMidnight(t time.Time) time.Time {
	if t.Hour() == 23 {
		// Add one hour from 23:00 to 01:00 on the transition day;
		// and from 23:00 to 00:00 on non-transition days.
		return t.Add(time.Hour)
	} else if t.Hour() == 1 {
		t2 := t.Add(-time.Hour)
		if t2.Day() == t.Day() {
			return t2
		}
	}
	return t
}

// ParseTimezone parses either an offset like -08:00 or an IANA zone name. Empty means UTC.
func ParseTimezone(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Etc/UTC" || timezone == "UTC" {
		return time.UTC, nil
	}
	segments := strings.Split(timezone, ":")
	hours, err := strconv.Atoi(segments[0])
	if err == nil {
		minutes := 0
		if len(segments) > 1 {
			minutes, err = strconv.Atoi(segments[1])
		}
		if err == nil {
			if hours < 0 {
				minutes = -minutes
			}
			return time.FixedZone(timezone, hours*60*60+minutes*60), nil
		}
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, utils.ConstructionError("invalid timezone %q", timezone)
	}
	return loc, nil
}
