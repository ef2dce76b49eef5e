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

package expr

import (
	"time"

	"github.com/onsi/ginkgo"
	"github.com/onsi/gomega"
	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

var _ = ginkgo.Describe("reference check", func() {
	data := value.NewDataset([]value.Datum{
		{"x": 1.0, "page": "a"},
		{"x": 2.0, "page": "b"},
	})
	datum := value.Datum{"data": data, "limit": 1.0, "name": "a"}

	ginkgo.It("should type references at every level", func() {
		ex := Chain(Ref("data"),
			Filter(Chain(Ref("x"), GreaterThan(Ref("^limit")))),
			Sum(Ref("x")),
		)
		checked, err := ReferenceCheck(ex, datum)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(checked.Kind()).Should(gomega.Equal(value.NumberKind))
		gomega.Ω(checked.String()).Should(gomega.Equal("$data:DATASET.filter($x:NUMBER.greaterThan($^limit:NUMBER)).sum($x:NUMBER)"))
	})

	ginkgo.It("should type split and apply columns", func() {
		ex := Chain(Ref("data"),
			Split(Ref("page"), "Page", "rows"),
			Apply("Total", Chain(Ref("rows"), Sum(Ref("x")))),
			Sort(Ref("Total"), value.Descending),
		)
		checked, t, err := ReferenceCheckInContext(ex, DatumContext(datum))
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(t.Kind).Should(gomega.Equal(value.DatasetKind))
		gomega.Ω(t.Datasetype["Page"].Kind).Should(gomega.Equal(value.StringKind))
		gomega.Ω(t.Datasetype["Total"].Kind).Should(gomega.Equal(value.NumberKind))
		gomega.Ω(t.Datasetype["rows"].Kind).Should(gomega.Equal(value.DatasetKind))
		gomega.Ω(checked.String()).Should(gomega.ContainSubstring("sort($Total:NUMBER,descending)"))
	})

	ginkgo.It("should fail on unknown names and bad nesting", func() {
		_, err := ReferenceCheck(Chain(Ref("missing"), Add(Literal(1))), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())
		gomega.Ω(utils.CategoryOf(err)).Should(gomega.Equal(utils.CategoryType))

		_, err = ReferenceCheck(Chain(Ref("data"), Filter(Chain(Ref("^^x"), Is(Literal(1))))), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())
		gomega.Ω(err.Error()).Should(gomega.ContainSubstring("went too deep"))
		gomega.Ω(utils.CategoryOf(err)).Should(gomega.Equal(utils.CategoryConstruction))
	})

	ginkgo.It("should fail on kind mismatches", func() {
		_, err := ReferenceCheck(Chain(Ref("name"), Add(Literal(1))), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())
		gomega.Ω(utils.CategoryOf(err)).Should(gomega.Equal(utils.CategoryType))

		_, err = ReferenceCheck(Ref("name:NUMBER"), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())

		_, err = ReferenceCheck(Chain(Ref("limit"), Filter(True())), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())

		_, err = ReferenceCheck(Chain(Ref("data"), Filter(Ref("x"))), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())
	})

	ginkgo.It("should validate action parameters", func() {
		_, err := ReferenceCheck(Chain(Ref("name"), Match("(")), datum)
		gomega.Ω(utils.CategoryOf(err)).Should(gomega.Equal(utils.CategoryConstruction))

		_, err = ReferenceCheck(Chain(Ref("data"), Quantile(Ref("x"), 1.5)), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())

		_, err = ReferenceCheck(Chain(Ref("data"), Sort(Ref("x"), "sideways")), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())

		_, err = ReferenceCheck(Chain(Literal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
			TimeBucket(common.MustParseDuration("P5D"), "")), datum)
		gomega.Ω(err).ShouldNot(gomega.BeNil())
	})

	ginkgo.It("should tag references into externals with the remote", func() {
		checked, err := ReferenceCheck(
			Chain(Ref("wiki"), Filter(Chain(Ref("page"), Is(Literal("a"))))),
			value.Datum{"wiki": &fakeSource{}},
		)
		gomega.Ω(err).Should(gomega.BeNil())
		ref := checked.(*ChainExpression).Actions[0].(*FilterAction).Expression.(*ChainExpression).Expression.(*RefExpression)
		gomega.Ω(ref.Type).Should(gomega.Equal(value.StringKind))
		gomega.Ω(ref.Remote).Should(gomega.Equal("fake"))
	})
})

var _ = ginkgo.Describe("resolve", func() {
	data := value.NewDataset([]value.Datum{{"x": 1.0}})

	ginkgo.It("should substitute references of the top scope only", func() {
		ex := Chain(Ref("data"), Filter(Chain(Ref("x"), GreaterThan(Ref("^limit")))))
		resolved, err := Resolve(ex, value.Datum{"data": data, "limit": 1.0}, ResolveThrow)
		gomega.Ω(err).Should(gomega.BeNil())
		c := resolved.(*ChainExpression)
		gomega.Ω(c.Expression).Should(gomega.Equal(Literal(data)))
		gomega.Ω(c.Actions[0].String()).Should(gomega.Equal("filter($x.greaterThan(1))"))
		gomega.Ω(IsResolved(resolved)).Should(gomega.BeTrue())
	})

	ginkgo.It("should follow the policy for missing names", func() {
		ex := Chain(Ref("x"), Add(Ref("y")))
		_, err := Resolve(ex, value.Datum{"x": 1.0}, ResolveThrow)
		gomega.Ω(err).ShouldNot(gomega.BeNil())
		gomega.Ω(err.Error()).Should(gomega.ContainSubstring("could not resolve $y"))

		resolved, err := Resolve(ex, value.Datum{"x": 1.0}, ResolveNull)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(resolved.String()).Should(gomega.Equal("1.add(null)"))

		resolved, err = Resolve(ex, value.Datum{"x": 1.0}, ResolveLeave)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(resolved.String()).Should(gomega.Equal("1.add($y)"))
	})

	ginkgo.It("should leave references above the top scope", func() {
		resolved, err := Resolve(Chain(Ref("x"), Add(Ref("^y"))), value.Datum{"x": 1.0}, ResolveThrow)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(resolved.String()).Should(gomega.Equal("1.add($^y)"))
	})

	ginkgo.It("should climb the scope chain", func() {
		scope := &Scope{Datum: value.Datum{"x": 2.0}, Parent: &Scope{Datum: value.Datum{"y": 3.0}}}
		resolved, err := ResolveInScope(Chain(Ref("x"), Add(Ref("^y"))), scope, ResolveThrow)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(resolved.String()).Should(gomega.Equal("2.add(3)"))
	})

	ginkgo.It("should wrap sources into externals", func() {
		resolved, err := Resolve(Chain(Ref("wiki"), Count()), value.Datum{"wiki": &fakeSource{}}, ResolveThrow)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(resolved.String()).Should(gomega.Equal("External(fake[]).count()"))
	})
})
