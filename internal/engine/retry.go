// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/Azure/sapmon/internal/provider"
)

// runWithRetry runs fn under the resolved retry policy: the i-th retry
// waits delayInSeconds * backoffMultiplier^(i-1). Context cancellation
// aborts the loop between attempts.
func runWithRetry(ctx context.Context, settings provider.RetrySettings, fn func(context.Context) error) error {
	backoff := wait.Backoff{
		Duration: time.Duration(settings.DelayInSeconds * float64(time.Second)),
		Factor:   settings.BackoffMultiplier,
		Steps:    settings.Retries + 1,
	}

	var lastErr error
	err := wait.ExponentialBackoff(backoff, func() (bool, error) {
		lastErr = fn(ctx)
		if lastErr == nil {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	})
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
