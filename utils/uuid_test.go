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
	"context"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("request id", func() {
	ginkgo.It("should generate distinct normalized ids", func() {
		a, b := NewRequestID(), NewRequestID()
		Ω(a).Should(HaveLen(32))
		Ω(a).ShouldNot(Equal(b))
		parsed, err := ParseRequestID(a)
		Ω(err).Should(BeNil())
		Ω(parsed).Should(Equal(a))
	})

	ginkgo.It("should parse client ids", func() {
		id, err := ParseRequestID("0x34C501BA-B6E0-11E8-96F8-529269FB1459")
		Ω(err).Should(BeNil())
		Ω(id).Should(Equal("34c501bab6e011e896f8529269fb1459"))

		_, err = ParseRequestID("0xSHAHDHDHA")
		Ω(err).ShouldNot(BeNil())
		Ω(CategoryOf(err)).Should(Equal(CategoryConstruction))
	})

	ginkgo.It("should travel in contexts", func() {
		ctx := WithRequestID(context.Background(), "abc")
		Ω(RequestIDFrom(ctx)).Should(Equal("abc"))
		Ω(RequestIDFrom(context.Background())).Should(BeEmpty())
	})
})
