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

package druid

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
)

func decodeNumber(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case float64:
		return t, nil
	case json.Number:
		return t.Float64()
	case string:
		switch t {
		case "":
			return nil, nil
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "can not decode %q as a number", t)
		}
		return f, nil
	}
	return nil, errors.Errorf("can not decode %v as a number", raw)
}

// decodeTime reads ISO strings and epoch milliseconds.
func decodeTime(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		if parsed, err := value.ParseTime(t); err == nil {
			return parsed, nil
		}
	}
	millis, err := decodeNumber(raw)
	if err != nil {
		return nil, errors.Errorf("can not decode %v as a time", raw)
	}
	f, ok := millis.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}
	return time.Unix(0, int64(f)*int64(time.Millisecond)).UTC(), nil
}

func decodeString(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case nil, string:
		return t, nil
	}
	return value.ToString(value.Normalize(raw)), nil
}

func decodeBoolean(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case nil, bool:
		return t, nil
	case string:
		switch t {
		case "":
			return nil, nil
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, errors.Errorf("can not decode %v as a boolean", raw)
}

func decoderOf(kind value.Kind) func(interface{}) (interface{}, error) {
	switch kind {
	case value.NumberKind:
		return decodeNumber
	case value.TimeKind:
		return decodeTime
	case value.BooleanKind:
		return decodeBoolean
	}
	return decodeString
}

func rangeDecoder(encoding *broker.RangeEncoding) func(interface{}) (interface{}, error) {
	return func(raw interface{}) (interface{}, error) {
		s, ok := raw.(string)
		if !ok || s == "" {
			return nil, nil
		}
		return encoding.Deserialize(s)
	}
}

// bucketDecoder turns the start of a time bucket into the bucket.
func bucketDecoder(duration common.Duration, loc *time.Location) func(interface{}) (interface{}, error) {
	return func(raw interface{}) (interface{}, error) {
		start, err := decodeTime(raw)
		if err != nil || start == nil {
			return nil, err
		}
		t := start.(time.Time)
		return value.NewTimeRange(t, duration.Shift(t, loc, 1), value.DefaultBounds)
	}
}

func numberBucketDecoder(size float64) func(interface{}) (interface{}, error) {
	return func(raw interface{}) (interface{}, error) {
		start, err := decodeNumber(raw)
		if err != nil || start == nil {
			return nil, err
		}
		f := start.(float64)
		return value.NewNumberRange(f, f+size, value.DefaultBounds)
	}
}

func listOf(v interface{}) ([]interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return t, nil
	}
	return nil, errors.Errorf("expected a list in the druid response, got %T", v)
}

func objectOf(v interface{}) (map[string]interface{}, error) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	return nil, errors.Errorf("expected an object in the druid response, got %T", v)
}

// firstResult reads the result of a response made of one timestamped result.
func firstResult(response interface{}) (interface{}, bool, error) {
	rows, err := listOf(response)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	row, err := objectOf(rows[0])
	if err != nil {
		return nil, false, err
	}
	return row["result"], true, nil
}

func (c *compiler) outputKind(name string) value.Kind {
	if c.ext.Mode() == expr.ModeTotal {
		return c.ext.Kind()
	}
	for _, a := range c.ext.Attributes() {
		if a.Name == name {
			return a.Kind
		}
	}
	return value.NumberKind
}

func (c *compiler) decodeOutput(name string, raw interface{}) (interface{}, error) {
	if c.outputKind(name) == value.TimeKind {
		return decodeTime(raw)
	}
	return decodeNumber(raw)
}

func (c *compiler) decodeTimeBoundary(bound string) func(interface{}) (interface{}, error) {
	return func(response interface{}) (interface{}, error) {
		result, ok, err := firstResult(response)
		if err != nil || !ok {
			return nil, err
		}
		object, err := objectOf(result)
		if err != nil {
			return nil, err
		}
		return decodeTime(object[bound])
	}
}

// emptyTotal is the value of an aggregate over no rows.
func (c *compiler) emptyTotal() interface{} {
	if c.ext.Kind() != value.NumberKind || len(c.ext.Aggregations()) == 0 {
		return nil
	}
	if a, ok := c.ext.Aggregations()[0].Aggregate.(*expr.AggregateAction); ok {
		switch a.Operator {
		case expr.OpCount, expr.OpSum, expr.OpCountDistinct:
			return 0.0
		}
	}
	return nil
}

func (c *compiler) decodeTotal(response interface{}) (interface{}, error) {
	result, ok, err := firstResult(response)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.emptyTotal(), nil
	}
	object, err := objectOf(result)
	if err != nil {
		return nil, err
	}
	return c.decodeOutput(broker.ValueName, object[broker.ValueName])
}

func (c *compiler) decodeSplitRow(event interface{}, dimensions []*dimension) (value.Datum, error) {
	object, err := objectOf(event)
	if err != nil {
		return nil, err
	}
	keys := c.ext.Split().Keys
	row := make(value.Datum, len(keys)+len(c.ext.Outputs()))
	for i, k := range keys {
		if row[k.Name], err = dimensions[i].decode(object[k.Name]); err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", k.Name)
		}
	}
	for _, name := range c.ext.Outputs() {
		if row[name], err = c.decodeOutput(name, object[name]); err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", name)
		}
	}
	return row, nil
}

func (c *compiler) splitDataset(rows []value.Datum) *value.Dataset {
	keys := c.ext.Split().Keys
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
	}
	return value.NewDataset(rows).WithKeys(names...)
}

func (c *compiler) decodeTopN(dimensions []*dimension) func(interface{}) (interface{}, error) {
	return func(response interface{}) (interface{}, error) {
		result, _, err := firstResult(response)
		if err != nil {
			return nil, err
		}
		events, err := listOf(result)
		if err != nil {
			return nil, err
		}
		rows := make([]value.Datum, 0, len(events))
		for _, event := range events {
			row, err := c.decodeSplitRow(event, dimensions)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return c.splitDataset(rows), nil
	}
}

func (c *compiler) decodeGroupBy(dimensions []*dimension) func(interface{}) (interface{}, error) {
	return func(response interface{}) (interface{}, error) {
		results, err := listOf(response)
		if err != nil {
			return nil, err
		}
		rows := make([]value.Datum, 0, len(results))
		for _, result := range results {
			object, err := objectOf(result)
			if err != nil {
				return nil, err
			}
			row, err := c.decodeSplitRow(object["event"], dimensions)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return c.splitDataset(rows), nil
	}
}

func (c *compiler) decodeScan(response interface{}) (interface{}, error) {
	batches, err := listOf(response)
	if err != nil {
		return nil, err
	}
	attributes := c.ext.Attributes()
	decoders := make([]func(interface{}) (interface{}, error), len(attributes))
	for i, a := range attributes {
		decoders[i] = decoderOf(a.Kind)
		if attribute, ok := c.config.Attribute(a.Name); ok && attribute.Special == broker.SpecialRange {
			decoders[i] = rangeDecoder(attribute.Range)
		}
	}
	var rows []value.Datum
	for _, batch := range batches {
		object, err := objectOf(batch)
		if err != nil {
			return nil, err
		}
		events, err := listOf(object["events"])
		if err != nil {
			return nil, err
		}
		for _, event := range events {
			fields, err := objectOf(event)
			if err != nil {
				return nil, err
			}
			row := make(value.Datum, len(attributes))
			for i, a := range attributes {
				if row[a.Name], err = decoders[i](fields[c.column(a.Name)]); err != nil {
					return nil, errors.Wrapf(err, "failed to decode %s", a.Name)
				}
			}
			rows = append(rows, row)
		}
	}
	return value.NewDatasetWithAttributes(rows, attributes), nil
}
