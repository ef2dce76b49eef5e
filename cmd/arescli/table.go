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

package main

import (
	"encoding/json"
	"fmt"
	"sort"
)

// rowTable renders json rows through utils.WriteTable. Every cell is formatted to a
// string so rows of mixed types line up.
type rowTable struct {
	rows    []map[string]interface{}
	columns []string
}

// newRowTable uses the given columns, or the sorted union of the row keys.
func newRowTable(rows []map[string]interface{}, columns []string) rowTable {
	if columns == nil {
		seen := map[string]bool{}
		for _, row := range rows {
			for name := range row {
				if !seen[name] {
					seen[name] = true
					columns = append(columns, name)
				}
			}
		}
		sort.Strings(columns)
	}
	return rowTable{rows: rows, columns: columns}
}

func (t rowTable) NumRows() int { return len(t.rows) }

func (t rowTable) ColumnHeaders() []string { return t.columns }

func (t rowTable) GetValue(row, col int) interface{} {
	return cell(t.rows[row][t.columns[col]])
}

func cell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	case []interface{}:
		return fmt.Sprintf("<%d rows>", len(t))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// asRows tells whether a query result is a dataset, which the broker sends as an array of
// row objects.
func asRows(result interface{}) ([]map[string]interface{}, bool) {
	list, ok := result.([]interface{})
	if !ok {
		return nil, false
	}
	rows := make([]map[string]interface{}, len(list))
	for i, item := range list {
		if rows[i], ok = item.(map[string]interface{}); !ok {
			return nil, false
		}
	}
	return rows, true
}
