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
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
)

type decoder func(raw interface{}) (interface{}, error)

func decodeNumber(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case nil, float64:
		return t, nil
	case bool:
		if t {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "can not decode %q as a number", t)
		}
		return f, nil
	}
	return nil, errors.Errorf("can not decode %v as a number", raw)
}

func decodeTime(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := value.ParseTime(t)
		if err != nil {
			return nil, errors.Wrapf(err, "can not decode %q as a time", t)
		}
		return parsed, nil
	}
	return nil, errors.Errorf("can not decode %v as a time", raw)
}

func decodeBoolean(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case nil, bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return nil, errors.Wrapf(err, "can not decode %q as a boolean", t)
		}
		return b, nil
	}
	return nil, errors.Errorf("can not decode %v as a boolean", raw)
}

func decodeString(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case nil, string:
		return t, nil
	case time.Time:
		return value.FormatTime(t), nil
	}
	return value.ToString(raw), nil
}

func decoderOf(kind value.Kind) decoder {
	switch kind {
	case value.NumberKind:
		return decodeNumber
	case value.TimeKind:
		return decodeTime
	case value.BooleanKind:
		return decodeBoolean
	case value.StringKind:
		return decodeString
	}
	return func(raw interface{}) (interface{}, error) { return raw, nil }
}

// keyDecoder reads a split key. Buckets are selected by their start.
func keyDecoder(ex expr.Expression) decoder {
	if chain, ok := ex.(*expr.ChainExpression); ok {
		switch t := chain.Last().(type) {
		case *expr.TimeBucketAction:
			return func(raw interface{}) (interface{}, error) {
				start, err := decodeTime(raw)
				if err != nil || start == nil {
					return nil, err
				}
				loc, err := common.ParseTimezone(t.Timezone)
				if err != nil {
					return nil, err
				}
				s := start.(time.Time)
				return value.NewTimeRange(s, t.Duration.Shift(s, loc, 1), value.DefaultBounds)
			}
		case *expr.NumberBucketAction:
			return func(raw interface{}) (interface{}, error) {
				start, err := decodeNumber(raw)
				if err != nil || start == nil {
					return nil, err
				}
				s := start.(float64)
				return value.NewNumberRange(s, s+t.Size, value.DefaultBounds)
			}
		}
	}
	return decoderOf(ex.Kind())
}

func rowsOf(response interface{}) ([]value.Datum, error) {
	switch t := response.(type) {
	case nil:
		return nil, nil
	case []value.Datum:
		return t, nil
	}
	return nil, errors.Errorf("unexpected response %T", response)
}

type column struct {
	name   string
	decode decoder
}

func decodeRows(response interface{}, columns []column) ([]value.Datum, error) {
	rows, err := rowsOf(response)
	if err != nil {
		return nil, err
	}
	decoded := make([]value.Datum, len(rows))
	for i, row := range rows {
		d := make(value.Datum, len(columns))
		for _, col := range columns {
			if d[col.name], err = col.decode(row[col.name]); err != nil {
				return nil, errors.Wrapf(err, "failed to decode %s", col.name)
			}
		}
		decoded[i] = d
	}
	return decoded, nil
}

func (c *compiler) outputColumns() []column {
	var columns []column
	for _, o := range c.ext.Outputs() {
		kind := value.NumberKind
		if c.ext.Mode() == expr.ModeTotal {
			kind = c.ext.Kind()
		} else {
			for _, a := range c.ext.Attributes() {
				if a.Name == o {
					kind = a.Kind
				}
			}
		}
		columns = append(columns, column{name: o, decode: decoderOf(kind)})
	}
	return columns
}

// decoder returns the function turning rows of the database into the result of the
// external.
func (c *compiler) decoder() func(response interface{}) (interface{}, error) {
	switch c.ext.Mode() {
	case expr.ModeTotal:
		columns := c.outputColumns()
		return func(response interface{}) (interface{}, error) {
			rows, err := decodeRows(response, columns)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, nil
			}
			return rows[0][broker.ValueName], nil
		}
	case expr.ModeSplit:
		keys := c.ext.Split().Keys
		names := make([]string, len(keys))
		columns := make([]column, len(keys))
		for i, k := range keys {
			names[i] = k.Name
			columns[i] = column{name: k.Name, decode: keyDecoder(k.Expression)}
		}
		columns = append(columns, c.outputColumns()...)
		return func(response interface{}) (interface{}, error) {
			rows, err := decodeRows(response, columns)
			if err != nil {
				return nil, err
			}
			return value.NewDataset(rows).WithKeys(names...), nil
		}
	}
	attributes := c.ext.Attributes()
	columns := make([]column, len(attributes))
	for i, a := range attributes {
		columns[i] = column{name: a.Name, decode: decoderOf(a.Kind)}
	}
	return func(response interface{}) (interface{}, error) {
		rows, err := decodeRows(response, columns)
		if err != nil {
			return nil, err
		}
		return value.NewDatasetWithAttributes(rows, attributes), nil
	}
}
