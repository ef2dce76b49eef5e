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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/utils"
	"golang.org/x/sync/semaphore"
)

// Request is one native query sent to the backend of a source.
type Request struct {
	Source string
	Query  interface{}
}

// Requester sends native queries to a backend.
type Requester interface {
	Request(ctx context.Context, request Request) (interface{}, error)
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context, request Request) (interface{}, error)

// Request calls f.
func (f RequesterFunc) Request(ctx context.Context, request Request) (interface{}, error) {
	return f(ctx, request)
}

// PermanentError marks a failure that retrying can not fix, such as a rejected query.
func PermanentError(err error) error {
	return backoff.Permanent(err)
}

// DecorateRequester wraps a requester with the decorators turned on in config, in the
// order timeout, retry, concurrency limit, verbose logging.
func DecorateRequester(requester Requester, config common.RequesterConfig) Requester {
	if config.TimeoutInSeconds > 0 {
		requester = NewTimeoutRequester(requester, time.Duration(config.TimeoutInSeconds)*time.Second)
	}
	if config.Retry.MaxRetries > 0 {
		requester = NewRetryRequester(requester, config.Retry)
	}
	if config.Concurrency > 0 {
		requester = NewConcurrencyLimitRequester(requester, config.Concurrency)
	}
	if config.Verbose {
		requester = NewVerboseRequester(requester, utils.GetQueryLogger())
	}
	return requester
}

// NewTimeoutRequester bounds every request by timeout.
func NewTimeoutRequester(requester Requester, timeout time.Duration) Requester {
	return RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return requester.Request(ctx, request)
	})
}

// NewRetryRequester retries failed requests with an exponential backoff. Errors marked with
// PermanentError are returned at once.
func NewRetryRequester(requester Requester, config common.RetryConfig) Requester {
	return RequesterFunc(func(ctx context.Context, request Request) (result interface{}, err error) {
		policy := backoff.NewExponentialBackOff()
		if config.InitialIntervalInMilliseconds > 0 {
			policy.InitialInterval = time.Duration(config.InitialIntervalInMilliseconds) * time.Millisecond
		}
		retries := utils.GetReporter(request.Source).GetCounter(utils.RequestRetries)
		err = backoff.RetryNotify(func() error {
			var requestErr error
			result, requestErr = requester.Request(ctx, request)
			return requestErr
		}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(config.MaxRetries)), ctx),
			func(err error, wait time.Duration) {
				retries.Inc(1)
				utils.GetLogger().With("source", request.Source, "error", err, "wait", wait).
					Warn("request failed, retrying")
			})
		return result, err
	})
}

// NewConcurrencyLimitRequester lets at most limit requests run at the same time.
func NewConcurrencyLimitRequester(requester Requester, limit int) Requester {
	sem := semaphore.NewWeighted(int64(limit))
	return RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, errors.Wrapf(err, "waiting for a request slot of %s", request.Source)
		}
		defer sem.Release(1)
		return requester.Request(ctx, request)
	})
}

// NewVerboseRequester logs every query, its latency and its outcome.
func NewVerboseRequester(requester Requester, logger common.Logger) Requester {
	return RequesterFunc(func(ctx context.Context, request Request) (interface{}, error) {
		log := logger.With("source", request.Source, "query", request.Query, "requestID", utils.RequestIDFrom(ctx))
		log.Info("sending query")
		start := utils.Now()
		result, err := requester.Request(ctx, request)
		log = log.With("latencyMs", utils.SinceInMilliseconds(start))
		if err != nil {
			log.With("error", err).Error("query failed")
			return nil, err
		}
		log.Info("query succeeded")
		return result, nil
	})
}
