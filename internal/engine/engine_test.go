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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/go-cmp/cmp"

	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/version"
)

func TestEncodeRecords_Empty(t *testing.T) {
	got, err := encodeRecords(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "[]" {
		t.Fatalf("encodeRecords(nil) = %s, want []", got)
	}
}

func TestEncodeRecords_DateAndBytes(t *testing.T) {
	ts := time.Date(2026, 7, 31, 1, 2, 3, 456000000, time.UTC)
	records := []provider.Record{{
		"TimeGenerated": ts,
		"PAYLOAD":       []byte{0xDE, 0xAD, 0xBE, 0xEF},
		"VALUE":         1.5,
	}}
	got, err := encodeRecords(records)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("encodeRecords output is not valid JSON: %v\n%s", err, got)
	}
	if decoded[0]["TimeGenerated"] != "2026-07-31T01:02:03.456000Z" {
		t.Errorf("TimeGenerated = %v, want 2026-07-31T01:02:03.456000Z", decoded[0]["TimeGenerated"])
	}
	if decoded[0]["PAYLOAD"] != "0xDEADBEEF" {
		t.Errorf("PAYLOAD = %v, want 0xDEADBEEF", decoded[0]["PAYLOAD"])
	}
}

func TestBuildGenericRecords_DropsInternalColumns(t *testing.T) {
	inst := &provider.Instance{Name: "HN1", ContentVersion: "1", Metadata: map[string]interface{}{}}
	check := &provider.Check{Instance: inst, Handler: fakeHandler{colTimeGenerated: "_SERVER_UTC"}}
	result := provider.QueryResult{
		ColIndex: map[string]int{"HOST": 0, "VALUE": 1, "_SERVER_UTC": 2, "DUMMY": 3},
		Rows:     [][]interface{}{{"hdb01", 42.0, "ts", "x"}},
	}
	records := buildGenericRecords(check, result)
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	want := provider.Record{
		"CONTENT_VERSION":   "1",
		"SAPMON_VERSION":    version.Version,
		"PROVIDER_INSTANCE": "HN1",
		"METADATA":          map[string]interface{}{},
		"HOST":              "hdb01",
		"VALUE":             42.0,
		"_SERVER_UTC":       "ts",
	}
	if diff := cmp.Diff(want, records[0]); diff != "" {
		t.Fatalf("buildGenericRecords() mismatch (-want +got):\n%s", diff)
	}
}

type fakeHandler struct{ colTimeGenerated string }

func (f fakeHandler) RunAction(ctx context.Context, action provider.Action) error { return nil }
func (f fakeHandler) ColTimeGenerated() string                                    { return f.colTimeGenerated }

func TestRunWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	settings := provider.RetrySettings{Retries: 2, DelayInSeconds: 0.001, BackoffMultiplier: 1}
	attempts := 0
	wantErr := errors.New("boom")
	err := runWithRetry(context.Background(), settings, func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (retries+1)", attempts)
	}
}

func TestRunWithRetry_DelaySequenceMatchesBackoffMultiplier(t *testing.T) {
	// {retries: 2, delayInSeconds: 1, backoffMultiplier: 3} should be
	// attempted 3 times with delays 1s then 3s. Scaled down by 1000x so
	// the test runs in milliseconds instead of ~4s.
	settings := provider.RetrySettings{Retries: 2, DelayInSeconds: 0.001, BackoffMultiplier: 3}
	var gaps []time.Duration
	last := time.Now()
	attempts := 0
	err := runWithRetry(context.Background(), settings, func(ctx context.Context) error {
		now := time.Now()
		if attempts > 0 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("err = nil, want the underlying failure")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if len(gaps) != 2 {
		t.Fatalf("len(gaps) = %d, want 2", len(gaps))
	}
	// gaps[1] should be roughly 3x gaps[0] (backoffMultiplier=3); allow
	// generous slack since this asserts shape, not exact timing.
	if gaps[1] < gaps[0] {
		t.Fatalf("gaps = %v, want the second delay to be longer than the first", gaps)
	}
}

func TestRunWithRetry_SucceedsWithoutExhausting(t *testing.T) {
	settings := provider.RetrySettings{Retries: 3, DelayInSeconds: 0.001, BackoffMultiplier: 2}
	attempts := 0
	err := runWithRetry(context.Background(), settings, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

type fakeSink struct {
	calls int
	last  []byte
}

func (f *fakeSink) Ingest(ctx context.Context, customLog, colTimeGenerated string, jsonBody []byte) error {
	f.calls++
	f.last = jsonBody
	return nil
}

type fakeState struct{ saved int }

func (f *fakeState) Save(logger log.Logger, inst *provider.Instance) error {
	f.saved++
	return nil
}

func TestRunInstance_SkipsDisabledAndNotDue(t *testing.T) {
	sink := &fakeSink{}
	st := &fakeState{}
	r := NewRunner(log.NewNopLogger(), sink, nil, false, st)
	r.Now = func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }

	future := time.Date(2026, 7, 31, 11, 59, 0, 0, time.UTC)
	inst := &provider.Instance{
		Name: "HN1",
		Checks: []*provider.Check{
			{Name: "disabled", FrequencySecs: 60, State: provider.CheckState{IsEnabled: false}, Handler: fakeHandler{}},
			{Name: "notDue", FrequencySecs: 3600, State: provider.CheckState{IsEnabled: true, LastRunLocal: &future}, Handler: fakeHandler{}},
		},
	}
	for _, c := range inst.Checks {
		c.Instance = inst
	}
	r.RunInstance(context.Background(), inst)
	if sink.calls != 0 {
		t.Fatalf("sink.calls = %d, want 0 (both checks should have been skipped)", sink.calls)
	}
	if st.saved != 1 {
		t.Fatalf("state.saved = %d, want 1", st.saved)
	}
}
