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

package value

import (
	"math"
	"time"

	"github.com/uber/aresquery/utils"
)

// ToJSON encodes a value into a JSON compatible tree. The kind of the value is not
// included; it travels next to the value and is needed by FromJSON. Non finite numbers
// are encoded as the strings "NaN", "Infinity" and "-Infinity".
func ToJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return FormatNumber(t)
		}
		return t
	case time.Time:
		return FormatTime(t)
	case *Range:
		return map[string]interface{}{
			"start":  ToJSON(t.start),
			"end":    ToJSON(t.end),
			"bounds": t.bounds,
		}
	case *Set:
		elements := make([]interface{}, 0, t.Size())
		for _, e := range t.Elements() {
			elements = append(elements, ToJSON(e))
		}
		return map[string]interface{}{
			"setType":  string(t.elementKind),
			"elements": elements,
		}
	case *Dataset:
		attributes := t.Attributes()
		data := make([]interface{}, 0, t.Len())
		for _, row := range t.rows {
			encoded := make(map[string]interface{}, len(row))
			for _, a := range attributes {
				if cell, ok := row[a.Name]; ok {
					encoded[a.Name] = ToJSON(cell)
				}
			}
			data = append(data, encoded)
		}
		out := map[string]interface{}{
			"attributes": attributes,
			"data":       data,
		}
		if len(t.keys) > 0 {
			out["keys"] = t.keys
		}
		return out
	}
	return v
}

// FromJSON decodes a tree produced by ToJSON given the kind of the value.
func FromJSON(kind Kind, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	raw = Normalize(raw)
	switch {
	case kind == UnknownKind:
		return InferFromJSON(raw)
	case kind == NullKind:
		return nil, nil
	case kind == BooleanKind:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case kind == NumberKind:
		return numberFromJSON(raw)
	case kind == StringKind:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case kind == TimeKind:
		if s, ok := raw.(string); ok {
			t, err := ParseTime(s)
			if err != nil {
				return nil, utils.ConstructionError("invalid time %q", s)
			}
			return t, nil
		}
	case kind.IsRange():
		m, ok := raw.(map[string]interface{})
		if !ok {
			break
		}
		start, err := FromJSON(kind.EndpointKind(), m["start"])
		if err != nil {
			return nil, err
		}
		end, err := FromJSON(kind.EndpointKind(), m["end"])
		if err != nil {
			return nil, err
		}
		bounds, _ := m["bounds"].(string)
		return NewRange(kind, start, end, bounds)
	case kind.IsSet():
		m, ok := raw.(map[string]interface{})
		if !ok {
			break
		}
		elementKind := kind.ElementKind()
		if setType, ok := m["setType"].(string); ok && setType != "" {
			elementKind = Kind(setType)
		}
		rawElements, _ := m["elements"].([]interface{})
		elements := make([]interface{}, 0, len(rawElements))
		for _, e := range rawElements {
			decoded, err := FromJSON(elementKind, e)
			if err != nil {
				return nil, err
			}
			elements = append(elements, decoded)
		}
		return NewSet(elementKind, elements)
	case kind == DatasetKind:
		return datasetFromJSON(raw)
	}
	return nil, utils.ConstructionError("can not decode %v as %s", raw, kind)
}

func numberFromJSON(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case float64:
		return t, nil
	case string:
		switch t {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	return nil, utils.ConstructionError("can not decode %v as %s", raw, NumberKind)
}

func datasetFromJSON(raw interface{}) (*Dataset, error) {
	var rawRows []interface{}
	var attributes []AttributeInfo
	var keys []string
	switch t := raw.(type) {
	case []interface{}:
		rawRows = t
	case map[string]interface{}:
		rawRows, _ = t["data"].([]interface{})
		attributes = attributesFromJSON(t["attributes"])
		if rawKeys, ok := t["keys"].([]interface{}); ok {
			for _, k := range rawKeys {
				if s, ok := k.(string); ok {
					keys = append(keys, s)
				}
			}
		} else if ks, ok := t["keys"].([]string); ok {
			keys = ks
		}
	default:
		return nil, utils.ConstructionError("can not decode %v as %s", raw, DatasetKind)
	}

	kinds := map[string]Kind{}
	for _, a := range attributes {
		kinds[a.Name] = a.Kind
	}
	rows := make([]Datum, 0, len(rawRows))
	for _, rawRow := range rawRows {
		m, ok := rawRow.(map[string]interface{})
		if !ok {
			return nil, utils.ConstructionError("dataset row must be an object, got %v", rawRow)
		}
		row := make(Datum, len(m))
		for name, cell := range m {
			decoded, err := FromJSON(kinds[name], cell)
			if err != nil {
				return nil, err
			}
			row[name] = decoded
		}
		rows = append(rows, row)
	}
	ds := NewDataset(rows)
	if len(keys) > 0 {
		ds = ds.WithKeys(keys...)
	}
	return ds, nil
}

func attributesFromJSON(raw interface{}) []AttributeInfo {
	switch t := raw.(type) {
	case []AttributeInfo:
		return t
	case []interface{}:
		attributes := make([]AttributeInfo, 0, len(t))
		for _, a := range t {
			m, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			kind, _ := m["type"].(string)
			special, _ := m["special"].(string)
			attributes = append(attributes, AttributeInfo{
				Name:       name,
				Kind:       Kind(kind),
				Special:    special,
				Datasetype: attributesFromJSON(m["datasetType"]),
			})
		}
		return attributes
	}
	return nil
}

// InferFromJSON decodes a JSON tree whose kind is not known. Strings stay strings,
// objects are read as sets, ranges or datasets by their shape.
func InferFromJSON(raw interface{}) (interface{}, error) {
	raw = Normalize(raw)
	switch t := raw.(type) {
	case nil, bool, float64, string:
		return t, nil
	case []interface{}:
		return datasetFromJSON(t)
	case map[string]interface{}:
		if _, ok := t["setType"]; ok {
			return FromJSON(SetOf(UnknownKind), t)
		}
		if _, ok := t["data"]; ok {
			return datasetFromJSON(t)
		}
		_, hasStart := t["start"]
		_, hasEnd := t["end"]
		if hasStart || hasEnd {
			kind := NumberRangeKind
			for _, endpoint := range []interface{}{t["start"], t["end"]} {
				if s, ok := endpoint.(string); ok {
					if _, err := ParseTime(s); err == nil {
						kind = TimeRangeKind
					}
				}
			}
			return FromJSON(kind, t)
		}
	}
	return nil, utils.ConstructionError("can not infer the type of %v", raw)
}

// ToJS encodes a value for presentation. Datasets become arrays of row objects, with
// suppressed nested datasets and values of foreign types left out.
func ToJS(v interface{}) interface{} {
	switch t := v.(type) {
	case *Dataset:
		rows := make([]interface{}, 0, t.Len())
		for _, row := range t.rows {
			out := make(map[string]interface{}, len(row))
			for name, cell := range row {
				if nested, ok := cell.(*Dataset); ok && nested.IsSuppressed() {
					continue
				}
				if cell != nil && KindOf(cell) == UnknownKind {
					continue
				}
				out[name] = ToJS(cell)
			}
			rows = append(rows, out)
		}
		return rows
	case *Set:
		elements := make([]interface{}, 0, t.Size())
		for _, e := range t.Elements() {
			elements = append(elements, ToJS(e))
		}
		return map[string]interface{}{
			"setType":  string(t.elementKind),
			"elements": elements,
		}
	}
	return ToJSON(v)
}
