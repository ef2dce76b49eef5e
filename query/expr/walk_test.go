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
	"strings"

	"github.com/onsi/ginkgo"
	"github.com/onsi/gomega"
	"github.com/uber/aresquery/query/value"
)

// fakeSource accepts resolved filters and aggregates, rejecting everything else.
type fakeSource struct {
	actions []Action
}

func (s *fakeSource) Kind() value.Kind {
	for _, a := range s.actions {
		if IsAggregate(a) {
			return value.NumberKind
		}
	}
	return value.DatasetKind
}

func (s *fakeSource) Mode() string {
	if s.Kind() == value.NumberKind {
		return ModeTotal
	}
	return ModeRaw
}

func (s *fakeSource) Attributes() []value.AttributeInfo {
	return []value.AttributeInfo{{Name: "page", Kind: value.StringKind}, {Name: "added", Kind: value.NumberKind}}
}

func (s *fakeSource) Remote() string { return "fake" }

func (s *fakeSource) AddAction(a Action) Source {
	if s.Mode() != ModeRaw {
		return nil
	}
	switch a.(type) {
	case *FilterAction, *AggregateAction:
		if len(ActionFreeReferences(a)) > 0 {
			return nil
		}
		return &fakeSource{actions: append(append([]Action(nil), s.actions...), a)}
	}
	return nil
}

func (s *fakeSource) Equals(other Source) bool {
	o, ok := other.(*fakeSource)
	return ok && s.String() == o.String()
}

func (s *fakeSource) String() string {
	parts := make([]string, len(s.actions))
	for i, a := range s.actions {
		parts[i] = a.String()
	}
	return "fake[" + strings.Join(parts, ",") + "]"
}

var _ = ginkgo.Describe("walk", func() {
	nested := Chain(Ref("data"),
		Filter(Chain(Ref("x"), GreaterThan(Ref("^y")))),
		Apply("z", Chain(Ref("x"), Add(Ref("^^w")))),
	)

	ginkgo.It("String should render chains", func() {
		gomega.Ω(Chain(Ref("x"), Add(Literal(1))).String()).Should(gomega.Equal("$x.add(1)"))
		gomega.Ω(Chain(Ref("^page:STRING"), Contains(Literal("a"), true)).String()).
			Should(gomega.Equal(`$^page:STRING.contains("a",ignoreCase)`))
		gomega.Ω(nested.String()).Should(gomega.Equal(`$data.filter($x.greaterThan($^y)).apply("z",$x.add($^^w))`))
	})

	ginkgo.It("Chain should flatten", func() {
		c := Chain(Chain(Ref("x"), Add(Literal(1))), Multiply(Literal(2)))
		gomega.Ω(c.(*ChainExpression).Actions).Should(gomega.HaveLen(2))
		gomega.Ω(Chain(Ref("x"))).Should(gomega.Equal(Ref("x")))
	})

	ginkgo.It("ForEach should track nestDiff", func() {
		var seen []string
		ForEach(nested, func(ex Expression, nestDiff int) {
			if ref, ok := ex.(*RefExpression); ok {
				seen = append(seen, ref.String()+"@"+string(rune('0'+nestDiff)))
			}
		})
		gomega.Ω(seen).Should(gomega.Equal([]string{"$data@0", "$x@1", "$^y@1", "$x@1", "$^^w@1"}))
	})

	ginkgo.It("FreeReferences should only report escaping references", func() {
		gomega.Ω(FreeReferences(nested)).Should(gomega.Equal([]string{"^w", "data", "y"}))
		gomega.Ω(FreeReferences(Chain(Ref("x"), Add(Literal(1))))).Should(gomega.Equal([]string{"x"}))
		gomega.Ω(IsResolved(Chain(Literal(1), Add(Literal(2))))).Should(gomega.BeTrue())

		gomega.Ω(ActionFreeReferences(Filter(Chain(Ref("x"), GreaterThan(Ref("^y")))))).Should(gomega.Equal([]string{"y"}))
		gomega.Ω(ActionFreeReferences(Filter(Chain(Ref("x"), GreaterThan(Literal(1)))))).Should(gomega.BeEmpty())
		gomega.Ω(ActionFreeReferences(Add(Ref("x")))).Should(gomega.Equal([]string{"x"}))
	})

	ginkgo.It("ReferencesColumn should only see columns of the current row", func() {
		operand := Chain(Ref("x"), GreaterThan(Ref("^y")))
		gomega.Ω(ReferencesColumn(operand, "x")).Should(gomega.BeTrue())
		gomega.Ω(ReferencesColumn(operand, "y")).Should(gomega.BeFalse())
	})

	ginkgo.It("Some and Every should stop early", func() {
		visited := 0
		found := Some(nested, func(ex Expression, _ int) bool {
			visited++
			_, ok := ex.(*RefExpression)
			return ok
		})
		gomega.Ω(found).Should(gomega.BeTrue())
		gomega.Ω(visited).Should(gomega.Equal(2))

		gomega.Ω(Every(Chain(Literal(1), Add(Literal(2))), func(ex Expression, _ int) bool {
			_, ok := ex.(*RefExpression)
			return !ok
		})).Should(gomega.BeTrue())
	})

	ginkgo.It("Substitute should share untouched subtrees", func() {
		replaced := MustSubstitute(nested, func(ex Expression, nestDiff int) Expression {
			if ref, ok := ex.(*RefExpression); ok && ref.Name == "w" {
				return Literal(3)
			}
			return nil
		})
		c := replaced.(*ChainExpression)
		gomega.Ω(c.Actions[0]).Should(gomega.BeIdenticalTo(nested.(*ChainExpression).Actions[0]))
		gomega.Ω(c.Actions[1].String()).Should(gomega.Equal(`apply("z",$x.add(3))`))

		same := MustSubstitute(nested, func(Expression, int) Expression { return nil })
		gomega.Ω(same).Should(gomega.BeIdenticalTo(nested))
	})

	ginkgo.It("Equals should compare structurally", func() {
		gomega.Ω(Equals(Chain(Ref("x"), Add(Literal(1))), Chain(Ref("x:NUMBER"), Add(Literal(1))))).Should(gomega.BeTrue())
		gomega.Ω(Equals(Chain(Ref("x"), Add(Literal(1))), Chain(Ref("x"), Subtract(Literal(1))))).Should(gomega.BeFalse())
		gomega.Ω(Equals(Literal(1), Literal("1"))).Should(gomega.BeFalse())
		gomega.Ω(Equals(Chain(Ref("d"), Limit(1)), Chain(Ref("d"), Limit(2)))).Should(gomega.BeFalse())
		gomega.Ω(Equals(External(&fakeSource{}), External(&fakeSource{}))).Should(gomega.BeTrue())
	})

	ginkgo.It("Kind should fold output kinds along the chain", func() {
		gomega.Ω(Chain(Literal(1), Add(Literal(2))).Kind()).Should(gomega.Equal(value.NumberKind))
		gomega.Ω(Chain(Literal("a"), Concat(Literal("b")), Length()).Kind()).Should(gomega.Equal(value.NumberKind))
		gomega.Ω(Chain(Ref("d:DATASET"), Count()).Kind()).Should(gomega.Equal(value.NumberKind))
		gomega.Ω(Chain(Literal("a"), Add(Literal(1))).Kind()).Should(gomega.Equal(value.UnknownKind))
	})
})
