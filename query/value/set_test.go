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

var _ = ginkgo.Describe("set", func() {
	ginkgo.It("NewSet should dedupe and keep insertion order", func() {
		s := MustNewSet(StringKind, "b", "a", "b")
		Ω(s.Size()).Should(Equal(2))
		Ω(s.Elements()).Should(Equal([]interface{}{"b", "a"}))
		Ω(s.Kind()).Should(Equal(SetOf(StringKind)))
		Ω(s.String()).Should(Equal("{b,a}"))

		_, err := NewSet(StringKind, []interface{}{"a", 1.0})
		Ω(err).ShouldNot(BeNil())

		inferred, err := NewSet(UnknownKind, []interface{}{1, 2})
		Ω(err).Should(BeNil())
		Ω(inferred.ElementKind()).Should(Equal(NumberKind))
	})

	ginkgo.It("Add and Remove should return new sets", func() {
		s := MustNewSet(StringKind, "a")
		added, err := s.Add("b")
		Ω(err).Should(BeNil())
		Ω(added.Size()).Should(Equal(2))
		Ω(s.Size()).Should(Equal(1))
		Ω(added.Remove("a").Elements()).Should(Equal([]interface{}{"b"}))

		_, err = s.Add(1.0)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("range sets should stay unified", func() {
		s := MustNewSet(NumberRangeKind,
			MustNewRange(NumberRangeKind, 5, 7, ""),
			MustNewRange(NumberRangeKind, 1, 3, ""),
			MustNewRange(NumberRangeKind, 3, 4, ""),
		)
		Ω(s.String()).Should(Equal("{[1,4),[5,7)}"))
		Ω(s.Contains(2.0)).Should(BeTrue())
		Ω(s.Contains(4.0)).Should(BeFalse())
		Ω(s.Contains(MustNewRange(NumberRangeKind, 5, 6, ""))).Should(BeTrue())

		removed := s.Remove(MustNewRange(NumberRangeKind, 2, 6, ""))
		Ω(removed.String()).Should(Equal("{[1,2),[6,7)}"))
	})

	ginkgo.It("Union and Intersect should combine sets of the same kind", func() {
		a := MustNewSet(StringKind, "a", "b")
		b := MustNewSet(StringKind, "b", "c")
		Ω(a.Union(b).Size()).Should(Equal(3))
		Ω(a.Intersect(b).Elements()).Should(Equal([]interface{}{"b"}))
		Ω(a.Union(MustNewSet(NumberKind, 1.0))).Should(BeNil())

		r := MustNewSet(NumberRangeKind, MustNewRange(NumberRangeKind, 1, 5, ""))
		q := MustNewSet(NumberRangeKind, MustNewRange(NumberRangeKind, 3, 10, ""))
		Ω(r.Intersect(q).String()).Should(Equal("{[3,5)}"))
		Ω(r.Union(q).String()).Should(Equal("{[1,10)}"))
	})

	ginkgo.It("Simplify should unwrap single elements and point ranges", func() {
		Ω(MustNewSet(StringKind, "a").Simplify()).Should(Equal("a"))
		Ω(MustNewSet(StringKind, "a", "b").Simplify()).Should(BeAssignableToTypeOf(&Set{}))
		points := MustNewSet(NumberRangeKind,
			MustNewRange(NumberRangeKind, 1, 1, "[]"),
			MustNewRange(NumberRangeKind, 3, 3, "[]"),
		)
		simplified, ok := points.Simplify().(*Set)
		Ω(ok).Should(BeTrue())
		Ω(simplified.ElementKind()).Should(Equal(NumberKind))
		Ω(MustNewSet(NumberRangeKind, MustNewRange(NumberRangeKind, 2, 2, "[]")).Simplify()).Should(Equal(2.0))
	})

	ginkgo.It("GeneralUnion and GeneralIntersect should promote points", func() {
		u, ok := GeneralUnion("a", "b")
		Ω(ok).Should(BeTrue())
		Ω(u.(*Set).Size()).Should(Equal(2))

		i, ok := GeneralIntersect(MustNewRange(NumberRangeKind, 1, 5, ""), MustNewRange(NumberRangeKind, 3, 10, ""))
		Ω(ok).Should(BeTrue())
		Ω(i.(*Range).String()).Should(Equal("[3,5)"))

		i, ok = GeneralIntersect(MustNewRange(NumberRangeKind, 1, 5, ""), 3.0)
		Ω(ok).Should(BeTrue())
		Ω(i).Should(Equal(3.0))

		i, ok = GeneralIntersect(MustNewRange(NumberRangeKind, 1, 5, ""), MustNewRange(NumberRangeKind, 6, 10, ""))
		Ω(ok).Should(BeTrue())
		Ω(i.(*Set).Empty()).Should(BeTrue())

		_, ok = GeneralUnion("a", 1.0)
		Ω(ok).Should(BeFalse())
	})
})
