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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber-go/tally"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/utils"
)

var _ = ginkgo.Describe("requester", func() {
	ctx := context.Background()
	request := Request{Source: "retried", Query: "native"}

	ginkgo.It("should retry until the request succeeds", func() {
		utils.AddSourceReporter("retried", "fake")
		var calls int32
		flaky := RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errors.New("connection reset")
			}
			return "ok", nil
		})
		requester := NewRetryRequester(flaky, common.RetryConfig{MaxRetries: 3, InitialIntervalInMilliseconds: 1})
		result, err := requester.Request(ctx, request)
		Ω(err).Should(BeNil())
		Ω(result).Should(Equal("ok"))
		Ω(atomic.LoadInt32(&calls)).Should(Equal(int32(3)))

		testScope := utils.GetRootReporter().GetRootScope().(tally.TestScope)
		counters := testScope.Snapshot().Counters()
		key := "test.request_retries+component=external,engine=fake,operation=request,source=retried"
		Ω(counters).Should(HaveKey(key))
		Ω(counters[key].Value()).Should(BeNumerically(">=", 2))
	})

	ginkgo.It("should give up after the last retry", func() {
		var calls int32
		failing := RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("connection reset")
		})
		_, err := NewRetryRequester(failing, common.RetryConfig{MaxRetries: 2, InitialIntervalInMilliseconds: 1}).
			Request(ctx, request)
		Ω(err).ShouldNot(BeNil())
		Ω(atomic.LoadInt32(&calls)).Should(Equal(int32(3)))
	})

	ginkgo.It("should not retry permanent errors", func() {
		var calls int32
		rejecting := RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, PermanentError(errors.New("bad query"))
		})
		_, err := NewRetryRequester(rejecting, common.RetryConfig{MaxRetries: 5, InitialIntervalInMilliseconds: 1}).
			Request(ctx, request)
		Ω(err).ShouldNot(BeNil())
		Ω(err.Error()).Should(ContainSubstring("bad query"))
		Ω(atomic.LoadInt32(&calls)).Should(Equal(int32(1)))
	})

	ginkgo.It("should bound requests by a timeout", func() {
		slow := RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		_, err := NewTimeoutRequester(slow, 10*time.Millisecond).Request(ctx, request)
		Ω(err).Should(Equal(context.DeadlineExceeded))
	})

	ginkgo.It("should limit concurrent requests", func() {
		var inFlight, peak int32
		var wg sync.WaitGroup
		tracked := RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil, nil
		})
		requester := NewConcurrencyLimitRequester(tracked, 2)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				requester.Request(ctx, request)
			}()
		}
		wg.Wait()
		Ω(atomic.LoadInt32(&peak)).Should(BeNumerically("<=", 2))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		blocked := NewConcurrencyLimitRequester(tracked, 1)
		_, err := blocked.Request(cancelled, request)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("should stack the configured decorators", func() {
		var calls int32
		flaky := RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, errors.New("connection reset")
			}
			return utils.RequestIDFrom(ctx), nil
		})
		requester := DecorateRequester(flaky, common.RequesterConfig{
			Retry:            common.RetryConfig{MaxRetries: 1, InitialIntervalInMilliseconds: 1},
			Concurrency:      1,
			Verbose:          true,
			TimeoutInSeconds: 5,
		})
		result, err := requester.Request(utils.WithRequestID(ctx, "abc"), request)
		Ω(err).Should(BeNil())
		Ω(result).Should(Equal("abc"))
	})
})
