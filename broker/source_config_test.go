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
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

var _ = ginkgo.Describe("source config", func() {
	engines := NewEngines(&fakeEngine{})

	catalog := []byte(`
sources:
  - name: wiki
    engine: fake
    source: wikipedia
    url: http://localhost:8082
    time_attribute: time
    allow_eternity: true
    context:
      priority: 10
      lane:
        name: fast
    attributes:
      - name: time
        type: TIME
      - name: page
        type: STRING
        unsplitable: true
      - name: delta_bucket
        special: range
        range:
          separator: "-"
          range_size: 5
          digits_before_decimal: 4
          digits_after_decimal: 2
  - name: orders
    engine: fake
    source: orders
    url: "root@tcp(localhost:3306)/shop"
`)

	ginkgo.It("should parse a yaml catalog", func() {
		configs, err := ParseSourceConfigs(catalog)
		Ω(err).Should(BeNil())
		Ω(configs).Should(HaveLen(2))

		wiki := configs[0]
		Ω(wiki.Name).Should(Equal("wiki"))
		Ω(wiki.TimeAttribute).Should(Equal("time"))
		Ω(wiki.AllowEternity).Should(BeTrue())
		Ω(wiki.Attributes).Should(HaveLen(3))
		Ω(wiki.Attributes[1].Unsplitable).Should(BeTrue())
		Ω(wiki.Attributes[2].Range.RangeSize).Should(Equal(5.0))
		Ω(wiki.Context["lane"]).Should(Equal(map[string]interface{}{"name": "fast"}))
		for _, config := range configs {
			Ω(config.Validate(engines)).Should(BeNil())
		}

		infos := wiki.AttributeInfos()
		Ω(infos[2].Kind).Should(Equal(value.NumberRangeKind))
		Ω(infos[2].Special).Should(Equal(SpecialRange))

		_, err = ParseSourceConfigs([]byte("sources: ["))
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("should reject invalid configs", func() {
		invalid := []func(c *SourceConfig){
			func(c *SourceConfig) { c.URL = "" },
			func(c *SourceConfig) { c.Engine = "cassandra" },
			func(c *SourceConfig) { c.Attributes = append(c.Attributes, AttributeConfig{Name: "page"}) },
			func(c *SourceConfig) { c.Attributes = append(c.Attributes, AttributeConfig{}) },
			func(c *SourceConfig) { c.Attributes[1].Special = "sketch" },
			func(c *SourceConfig) { c.Attributes[1].Special = SpecialRange },
			func(c *SourceConfig) { c.TimeAttribute = "__time" },
		}
		for i, mutate := range invalid {
			config := wikiConfig()
			mutate(config)
			err := config.Validate(engines)
			Ω(err).ShouldNot(BeNil(), "case %d", i)
			Ω(utils.CategoryOf(err)).Should(Equal(utils.CategoryConstruction), "case %d", i)
		}
	})

	ginkgo.It("should merge introspected attributes under declared ones", func() {
		config := wikiConfig()
		config.Attributes = []AttributeConfig{{Name: "added", Type: value.NumberKind, Unfilterable: true}}
		merged, err := config.WithIntrospected([]AttributeConfig{
			{Name: "time", Type: value.TimeKind},
			{Name: "added", Type: value.StringKind, NativeType: "STRING"},
			{Name: "page", Type: value.StringKind},
		})
		Ω(err).Should(BeNil())
		Ω(merged.Attributes).Should(HaveLen(3))
		added, ok := merged.Attribute("added")
		Ω(ok).Should(BeTrue())
		Ω(added.Type).Should(Equal(value.NumberKind))
		Ω(added.Unfilterable).Should(BeTrue())
		Ω(config.Attributes).Should(HaveLen(1))

		_, ok = merged.Attribute("missing")
		Ω(ok).Should(BeFalse())
	})

	ginkgo.It("should clone deeply", func() {
		config := wikiConfig()
		clone, err := config.Clone()
		Ω(err).Should(BeNil())
		clone.Attributes[0].Name = "changed"
		Ω(config.Attributes[0].Name).Should(Equal("time"))
	})
})

var _ = ginkgo.Describe("range encoding", func() {
	encoding := &RangeEncoding{Separator: "-", RangeSize: 5, DigitsBeforeDecimal: 4, DigitsAfterDecimal: 2}

	ginkgo.It("should round trip ranges", func() {
		ranges := []*value.Range{
			value.MustNewRange(value.NumberRangeKind, 5, 10, "[)"),
			value.MustNewRange(value.NumberRangeKind, -3, 2, "[)"),
			value.MustNewRange(value.NumberRangeKind, nil, 0.5, "[)"),
			value.MustNewRange(value.NumberRangeKind, 7, nil, "[)"),
		}
		Ω(encoding.Serialize(ranges[0])).Should(Equal("0005.00-0010.00"))
		Ω(encoding.Serialize(ranges[1])).Should(Equal("-0003.00-0002.00"))
		Ω(encoding.Serialize(ranges[2])).Should(Equal("-0000.50"))
		for _, r := range ranges[:3] {
			decoded, err := encoding.Deserialize(encoding.Serialize(r))
			Ω(err).Should(BeNil())
			Ω(decoded.Equals(r)).Should(BeTrue(), "decoded %s as %s", r, decoded)
		}
	})

	ginkgo.It("should fill a missing end with the range size", func() {
		decoded, err := encoding.Deserialize("0007.00-")
		Ω(err).Should(BeNil())
		Ω(decoded.Start()).Should(Equal(7.0))
		Ω(decoded.End()).Should(Equal(12.0))
		Ω(decoded.Bounds()).Should(Equal("[)"))

		_, err = encoding.Deserialize("seven-eight")
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("should match the start of encoded values", func() {
		Ω(encoding.StartRegexp()).Should(Equal(`^(-?[0-9]{4,}\.[0-9]{2})-`))
	})

	ginkgo.It("should validate", func() {
		Ω(encoding.Validate()).Should(BeNil())
		Ω((&RangeEncoding{}).Validate()).ShouldNot(BeNil())
		Ω((&RangeEncoding{Separator: "."}).Validate()).ShouldNot(BeNil())
		Ω((&RangeEncoding{Separator: "|", DigitsBeforeDecimal: -1}).Validate()).ShouldNot(BeNil())
	})
})
