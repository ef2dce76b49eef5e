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
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber/aresquery/utils"
)

var _ = ginkgo.Describe("row table", func() {
	ginkgo.It("should render rows of mixed types", func() {
		result := []interface{}{
			map[string]interface{}{"Page": "Main", "Count": 10.0},
			map[string]interface{}{"Page": nil, "Count": 2.5, "Tags": []interface{}{"a"}},
		}
		rows, ok := asRows(result)
		Ω(ok).Should(BeTrue())
		table := newRowTable(rows, nil)
		Ω(table.ColumnHeaders()).Should(Equal([]string{"Count", "Page", "Tags"}))
		Ω(utils.WriteTable(table)).Should(Equal(
			"|Count|Page|    Tags|\n" +
				"|   10|Main|    null|\n" +
				"|  2.5|null|<1 rows>|\n"))
	})

	ginkgo.It("should leave scalar results alone", func() {
		_, ok := asRows(12.5)
		Ω(ok).Should(BeFalse())
		_, ok = asRows([]interface{}{1.0})
		Ω(ok).Should(BeFalse())
		Ω(cell(map[string]interface{}{"start": 1.0})).Should(Equal(`{"start":1}`))
	})
})
