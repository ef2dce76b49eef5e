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
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("dataset", func() {
	column := func(name string) RowFn {
		return func(row Datum) (interface{}, error) {
			return row[name], nil
		}
	}

	var ds *Dataset
	ginkgo.BeforeEach(func() {
		ds = NewDataset([]Datum{
			{"page": "A", "added": 5.0},
			{"page": "B", "added": 2.0},
			{"page": "A", "added": 3.0},
			{"page": nil, "added": 1.0},
		})
	})

	ginkgo.It("Filter and Apply should not touch the source rows", func() {
		filtered, err := ds.Filter(func(row Datum) (interface{}, error) {
			return row["page"] == "A", nil
		})
		Ω(err).Should(BeNil())
		Ω(filtered.Len()).Should(Equal(2))

		applied, err := ds.Apply("double", func(row Datum) (interface{}, error) {
			return row["added"].(float64) * 2, nil
		})
		Ω(err).Should(BeNil())
		Ω(applied.Rows()[0]["double"]).Should(Equal(10.0))
		_, found := ds.Rows()[0]["double"]
		Ω(found).Should(BeFalse())
		Ω(ds.Attributes()).Should(HaveLen(2))
		Ω(applied.Attributes()).Should(HaveLen(3))
	})

	ginkgo.It("Sort should put nulls first ascending and last descending", func() {
		asc, err := ds.Sort(column("page"), Ascending)
		Ω(err).Should(BeNil())
		Ω(asc.Rows()[0]["page"]).Should(BeNil())
		Ω(asc.Rows()[1]["added"]).Should(Equal(5.0))
		Ω(asc.Rows()[2]["added"]).Should(Equal(3.0))

		desc, err := ds.Sort(column("page"), Descending)
		Ω(err).Should(BeNil())
		Ω(desc.Rows()[0]["page"]).Should(Equal("B"))
		Ω(desc.Rows()[3]["page"]).Should(BeNil())
	})

	ginkgo.It("Limit should return the same dataset when short enough", func() {
		Ω(ds.Limit(10)).Should(BeIdenticalTo(ds))
		Ω(ds.Limit(1).Len()).Should(Equal(1))
	})

	ginkgo.It("Split should group rows in first appearance order", func() {
		split, err := ds.Split([]SplitKey{{Name: "Page", Fn: column("page")}}, "data")
		Ω(err).Should(BeNil())
		Ω(split.Len()).Should(Equal(3))
		Ω(split.Keys()).Should(Equal([]string{"Page"}))
		first := split.Rows()[0]
		Ω(first["Page"]).Should(Equal("A"))
		nested := first["data"].(*Dataset)
		Ω(nested.Len()).Should(Equal(2))
		Ω(nested.IsSuppressed()).Should(BeTrue())
		Ω(split.Rows()[2]["Page"]).Should(BeNil())
	})

	ginkgo.It("Split should not confuse values of different kinds", func() {
		mixed := NewDataset([]Datum{{"k": "1"}, {"k": 1.0}, {"k": "1"}})
		split, err := mixed.Split([]SplitKey{{Name: "k", Fn: column("k")}}, "")
		Ω(err).Should(BeNil())
		Ω(split.Len()).Should(Equal(2))
	})

	ginkgo.It("aggregates should handle empty input", func() {
		Ω(ds.Count()).Should(Equal(4.0))
		Ω(ds.Sum(column("added"))).Should(Equal(11.0))
		Ω(ds.Min(column("added"))).Should(Equal(1.0))
		Ω(ds.Max(column("page"))).Should(Equal("B"))
		Ω(ds.Average(column("added"))).Should(Equal(2.75))
		Ω(ds.CountDistinct(column("page"))).Should(Equal(3.0))

		empty := NewDataset(nil)
		Ω(empty.Average(column("added"))).Should(BeNil())
		Ω(empty.Sum(column("added"))).Should(Equal(0.0))
		Ω(empty.Quantile(column("added"), 0.5)).Should(BeNil())
	})

	ginkgo.It("Quantile should estimate the median", func() {
		rows := make([]Datum, 0, 101)
		for i := 0; i <= 100; i++ {
			rows = append(rows, Datum{"x": float64(i)})
		}
		q, err := NewDataset(rows).Quantile(column("x"), 0.5)
		Ω(err).Should(BeNil())
		Ω(q.(float64)).Should(BeNumerically("~", 50, 2))
	})

	ginkgo.It("Join should merge rows on keys", func() {
		left := NewDataset([]Datum{{"k": "a", "x": 1.0}, {"k": "b", "x": 2.0}}).WithKeys("k")
		right := NewDataset([]Datum{{"k": "a", "x": 10.0, "y": 1.0}, {"k": "c", "y": 3.0}}).WithKeys("k")
		joined, err := left.Join(right)
		Ω(err).Should(BeNil())
		Ω(joined.Len()).Should(Equal(3))
		Ω(joined.Rows()[0]).Should(Equal(Datum{"k": "a", "x": 10.0, "y": 1.0}))
		Ω(joined.Rows()[1]).Should(Equal(Datum{"k": "b", "x": 2.0}))
		Ω(joined.Rows()[2]).Should(Equal(Datum{"k": "c", "y": 3.0}))

		_, err = left.Join(NewDataset(nil))
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("Join should not match keys of different kinds", func() {
		left := NewDataset([]Datum{{"k": 1.0, "x": 1.0}}).WithKeys("k")
		right := NewDataset([]Datum{{"k": "1", "y": 2.0}, {"k": 1.0, "y": 3.0}}).WithKeys("k")
		joined, err := left.Join(right)
		Ω(err).Should(BeNil())
		Ω(joined.Rows()).Should(Equal([]Datum{{"k": 1.0, "x": 1.0, "y": 3.0}, {"k": "1", "y": 2.0}}))
	})

	ginkgo.It("Select should keep named columns", func() {
		selected := ds.WithKeys("page").Select([]string{"added"})
		Ω(selected.Rows()[0]).Should(Equal(Datum{"added": 5.0}))
		Ω(selected.Keys()).Should(BeEmpty())
	})
})
