// Copyright 2025 UMH Systems GmbH
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

package backoff

import (
	"context"
	"time"

	cenkalti "github.com/cenkalti/backoff"
)

// Policy bounds the exponential retry loop.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	// MaxRetries caps retries after the first attempt. Zero means no cap besides
	// MaxElapsedTime.
	MaxRetries uint64
}

// DefaultPolicy retries for up to 30 seconds.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		MaxRetries:      5,
	}
}

func (p Policy) backOff(ctx context.Context) cenkalti.BackOff {
	exp := cenkalti.NewExponentialBackOff()

	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}

	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}

	exp.MaxElapsedTime = p.MaxElapsedTime

	var b cenkalti.BackOff = exp
	if p.MaxRetries > 0 {
		b = cenkalti.WithMaxRetries(b, p.MaxRetries)
	}

	return cenkalti.WithContext(b, ctx)
}

// Retry runs op until it succeeds, returns a non-transient error, the policy is
// exhausted or ctx is done. notify, if set, sees every transient failure with the
// upcoming delay.
func Retry(ctx context.Context, p Policy, op func() error, notify func(err error, next time.Duration)) error {
	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return cenkalti.Permanent(err)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return cenkalti.Permanent(err)
		}

		return err
	}

	return cenkalti.RetryNotify(attempt, p.backOff(ctx), notify)
}
