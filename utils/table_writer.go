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

package utils

import (
	"bytes"
	"fmt"
)

// TableDataSource is what WriteTable renders. The number of columns is the number of
// headers; GetValue is called for every row in [0, NumRows) and column in [0, numCols).
type TableDataSource interface {
	NumRows() int
	GetValue(row, col int) interface{}
	ColumnHeaders() []string
}

func getFormatModifier(value interface{}) string {
	switch value.(type) {
	case string:
		return "s"
	case float32, float64:
		return ".2f"
	case int8, int16, int32, int64, int, uint8, uint16, uint32, uint64, uint:
		return "d"
	default:
		return "v"
	}
}

func formatCell(value interface{}) string {
	return fmt.Sprintf("%"+getFormatModifier(value), value)
}

func writeRow(buffer *bytes.Buffer, cells []string, widths []int) {
	buffer.WriteByte('|')
	for i, cell := range cells {
		fmt.Fprintf(buffer, "%*s|", widths[i], cell)
	}
	buffer.WriteByte('\n')
}

// WriteTable renders a table right justified with "|" between columns. Each cell is
// formatted by its own type. A source without columns renders as an empty string.
func WriteTable(dataSource TableDataSource) string {
	headers := dataSource.ColumnHeaders()
	if len(headers) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for c, header := range headers {
		widths[c] = len(header)
	}
	cells := make([][]string, dataSource.NumRows())
	for r := range cells {
		cells[r] = make([]string, len(headers))
		for c := range headers {
			cells[r][c] = formatCell(dataSource.GetValue(r, c))
			if len(cells[r][c]) > widths[c] {
				widths[c] = len(cells[r][c])
			}
		}
	}

	var buffer bytes.Buffer
	writeRow(&buffer, headers, widths)
	for _, row := range cells {
		writeRow(&buffer, row, widths)
	}
	return buffer.String()
}
