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

package broker

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

// RangeEncoding stores number ranges in string columns as zero padded endpoints joined by
// a separator, e.g. 0005.00-0010.00. A missing end is start plus RangeSize.
type RangeEncoding struct {
	Separator           string  `yaml:"separator"`
	RangeSize           float64 `yaml:"range_size"`
	DigitsBeforeDecimal int     `yaml:"digits_before_decimal"`
	DigitsAfterDecimal  int     `yaml:"digits_after_decimal"`
}

// Validate checks the encoding is reversible.
func (e *RangeEncoding) Validate() error {
	if e.Separator == "" {
		return utils.ConstructionError("range encoding needs a separator")
	}
	if strings.ContainsAny(e.Separator, "0123456789.") {
		return utils.ConstructionError("range separator %q collides with digits", e.Separator)
	}
	if e.DigitsBeforeDecimal < 0 || e.DigitsAfterDecimal < 0 {
		return utils.ConstructionError("range encoding digits must not be negative")
	}
	if e.RangeSize < 0 {
		return utils.ConstructionError("range size must not be negative")
	}
	return nil
}

func (e *RangeEncoding) formatEndpoint(v interface{}) string {
	f, ok := v.(float64)
	if !ok {
		return ""
	}
	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}
	width := e.DigitsBeforeDecimal
	if e.DigitsAfterDecimal > 0 {
		width += e.DigitsAfterDecimal + 1
	}
	return sign + fmt.Sprintf("%0*.*f", width, e.DigitsAfterDecimal, f)
}

// Serialize encodes a number range.
func (e *RangeEncoding) Serialize(r *value.Range) string {
	return e.formatEndpoint(r.Start()) + e.Separator + e.formatEndpoint(r.End())
}

// Deserialize decodes a string produced by Serialize. The result is always [).
func (e *RangeEncoding) Deserialize(s string) (*value.Range, error) {
	endpoint := `(-?[0-9]*(?:\.[0-9]*)?)`
	match := regexp.MustCompile("^" + endpoint + regexp.QuoteMeta(e.Separator) + endpoint + "$").FindStringSubmatch(s)
	if match == nil {
		return nil, utils.ConstructionError("%q is not an encoded range", s)
	}
	var endpoints [2]interface{}
	for i, part := range match[1:] {
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, utils.ConstructionError("%q is not an encoded range", s)
		}
		endpoints[i] = f
	}
	if start, ok := endpoints[0].(float64); ok && endpoints[1] == nil && e.RangeSize > 0 {
		endpoints[1] = start + e.RangeSize
	}
	return value.NewNumberRange(endpoints[0], endpoints[1], value.DefaultBounds)
}

// StartRegexp matches an encoded range and captures the text of its start.
func (e *RangeEncoding) StartRegexp() string {
	number := fmt.Sprintf("-?[0-9]{%d,}", e.DigitsBeforeDecimal)
	if e.DigitsBeforeDecimal == 0 {
		number = "-?[0-9]*"
	}
	if e.DigitsAfterDecimal > 0 {
		number += fmt.Sprintf(`\.[0-9]{%d}`, e.DigitsAfterDecimal)
	}
	return "^(" + number + ")" + regexp.QuoteMeta(e.Separator)
}
