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

// Package engine is the check-execution core (C7): per-instance
// scheduling, per-action retry/backoff, generic record assembly and
// state-update rules, and the dual-sink forwarding decision.
package engine

import (
	"context"
	"time"

	"github.com/go-kit/log"

	"github.com/Azure/sapmon/internal/logging"
	"github.com/Azure/sapmon/internal/provider"
)

// Sink is the subset of sink.Client the engine depends on, so tests
// can substitute a fake.
type Sink interface {
	Ingest(ctx context.Context, customLog, colTimeGenerated string, jsonBody []byte) error
}

// StateStore is the subset of state.Store the engine depends on.
type StateStore interface {
	Save(logger log.Logger, inst *provider.Instance) error
}

// Runner drives one ProviderInstance's checks to completion.
type Runner struct {
	Logger log.Logger

	// Sink is the primary Log Analytics sink (C3).
	Sink Sink
	// AnalyticsSink, when non-nil, receives a second copy of any
	// record batch whose check has IncludeInCustomerAnalytics=true,
	// provided the global enableCustomerAnalytics flag is also true.
	AnalyticsSink Sink
	AnalyticsOn   bool

	State StateStore

	// Metrics is nil-safe: a zero-value Runner (as used in most tests)
	// simply skips self-monitoring instrumentation.
	Metrics *Metrics

	// Now is overridable in tests.
	Now func() time.Time
}

// NewRunner returns a Runner with Now defaulting to time.Now.
func NewRunner(logger log.Logger, sink Sink, analyticsSink Sink, analyticsOn bool, state StateStore) *Runner {
	return &Runner{
		Logger:        logger,
		Sink:          sink,
		AnalyticsSink: analyticsSink,
		AnalyticsOn:   analyticsOn,
		State:         state,
		Now:           time.Now,
	}
}

// RunInstance executes every due, enabled check of inst in content-file
// order, sequentially — one worker call per ProviderInstance, checks
// never run concurrently with each other inside it.
func (r *Runner) RunInstance(ctx context.Context, inst *provider.Instance) {
	for _, check := range inst.Checks {
		r.runCheck(ctx, check)
	}
	if err := r.State.Save(r.Logger, inst); err != nil {
		logging.Error(r.Logger, "msg", "failed to persist instance state", "instance", inst.FullName(), "err", err)
	}
}

func (r *Runner) runCheck(ctx context.Context, check *provider.Check) {
	now := r.Now().UTC()

	if !check.State.IsEnabled {
		logging.Debug(r.Logger, "msg", "check disabled, skipping", "check", check.FullName())
		return
	}
	if !check.State.IsDue(now, check.FrequencySecs) {
		logging.Debug(r.Logger, "msg", "check not due, skipping", "check", check.FullName())
		return
	}

	start := time.Now()
	instanceName, checkName := check.Instance.Name, check.Name

	actionFailed := false
	settings := provider.DefaultRetrySettings
	for _, action := range check.Actions {
		actionSettings := settings.Resolve(action)
		err := runWithRetry(ctx, actionSettings, func(ctx context.Context) error {
			return check.Handler.RunAction(ctx, action)
		})
		if err != nil {
			logging.Warn(r.Logger, "msg", "action exhausted retries, skipping remaining actions of this check",
				"check", check.FullName(), "action", action.Type, "err", err)
			actionFailed = true
			break
		}
	}

	records, err := r.generateRecords(check)
	if err != nil {
		logging.Error(r.Logger, "msg", "failed to generate records", "check", check.FullName(), "err", err)
		r.Metrics.observe(instanceName, checkName, time.Since(start).Seconds(), 0, true)
		return
	}

	if updater, ok := check.Handler.(provider.StateUpdater); ok {
		updater.UpdateState()
	} else if qr, ok := check.Handler.(provider.QueryResultHandler); ok {
		applyGenericStateUpdate(check, qr.LastResult(), now)
	} else {
		check.State.LastRunLocal = &now
	}

	r.ingest(ctx, check, records)
	r.Metrics.observe(instanceName, checkName, time.Since(start).Seconds(), len(records), actionFailed)
}

func (r *Runner) generateRecords(check *provider.Check) ([]provider.Record, error) {
	if gen, ok := check.Handler.(provider.RecordGenerator); ok {
		return gen.GenerateRecords()
	}
	qr, ok := check.Handler.(provider.QueryResultHandler)
	if !ok {
		return nil, nil
	}
	return buildGenericRecords(check, qr.LastResult()), nil
}

func (r *Runner) ingest(ctx context.Context, check *provider.Check, records []provider.Record) {
	jsonBody, err := encodeRecords(records)
	if err != nil {
		logging.Error(r.Logger, "msg", "failed to encode records", "check", check.FullName(), "err", err)
		return
	}

	colTimeGenerated := check.Handler.ColTimeGenerated()
	if err := r.Sink.Ingest(ctx, check.CustomLog, colTimeGenerated, jsonBody); err != nil {
		logging.Error(r.Logger, "msg", "failed to ingest records", "check", check.FullName(), "err", err)
	}

	if r.AnalyticsSink != nil && r.AnalyticsOn && check.IncludeInCustomerAnalytics {
		if err := r.AnalyticsSink.Ingest(ctx, check.CustomLog, colTimeGenerated, jsonBody); err != nil {
			logging.Error(r.Logger, "msg", "failed to ingest records into customer analytics", "check", check.FullName(), "err", err)
		}
	}
}
