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

package hana

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPrepareSQL_TimeSeriesFirstRun(t *testing.T) {
	query := "SELECT TOP 1 HOST, VALUE FROM M_FOO WHERE UTC_TIMESTAMP > {lastRunServerUtc}"
	got := prepareSQL(query, true, 60, nil)
	want := "SELECT TOP 1 HOST, VALUE, CURRENT_UTCTIMESTAMP AS _SERVER_UTC FROM DUMMY, M_FOO WHERE UTC_TIMESTAMP > ADD_SECONDS(NOW(), i.VALUE*(-1) - 60)"
	if got != want {
		t.Fatalf("prepareSQL() =\n  %q\nwant\n  %q", got, want)
	}
}

func TestPrepareSQL_TimeSeriesSubsequentRun(t *testing.T) {
	query := "SELECT HOST, VALUE FROM M_FOO WHERE UTC_TIMESTAMP > {lastRunServerUtc}"
	last := time.Date(2026, 1, 2, 3, 4, 5, 600000000, time.UTC)
	got := prepareSQL(query, true, 60, &last)
	if !strings.Contains(got, "'2026-01-02 03:04:05.600000'") {
		t.Fatalf("prepareSQL() = %q, want a formatted lastRunServerUtc literal", got)
	}
	if strings.Count(got, " FROM") != 1 {
		// the rewritten statement still contains exactly one literal
		// " FROM" token (the injected "FROM DUMMY,"), the input
		// query's own " FROM" having been consumed by the rewrite.
		t.Fatalf("prepareSQL() = %q, want exactly one \" FROM\" occurrence", got)
	}
}

func TestPrepareSQL_NonTimeSeries(t *testing.T) {
	query := "SELECT HOST, VALUE FROM M_FOO"
	got := prepareSQL(query, false, 60, nil)
	want := "SELECT HOST, VALUE, CURRENT_UTCTIMESTAMP AS _SERVER_UTC FROM DUMMY, M_FOO"
	if got != want {
		t.Fatalf("prepareSQL() = %q, want %q", got, want)
	}
}

func TestPrepareSQL_OnlyFirstFromRewritten(t *testing.T) {
	query := "SELECT HOST FROM M_FOO WHERE X IN (SELECT Y FROM M_BAR)"
	got := prepareSQL(query, false, 60, nil)
	if strings.Count(got, "CURRENT_UTCTIMESTAMP") != 1 {
		t.Fatalf("prepareSQL() = %q, want the rewrite applied exactly once", got)
	}
	if !strings.Contains(got, "SELECT Y FROM M_BAR") {
		t.Fatalf("prepareSQL() = %q, want the second FROM left untouched", got)
	}
}

func TestClassifyErr(t *testing.T) {
	cases := []struct {
		msg       string
		wantUp    bool
		wantClass probeClass
	}{
		{"rc=-10813008, SQL error: connection failed (89008): socket closed by peer", true, classUp},
		{"connection reset: socket closed", true, classUp},
		{"89001: cannot resolve host name hdb03", false, classDown},
		{"connection refused", false, classDown},
		{"dial tcp: i/o timeout: timeout expired", false, classDown},
		{"something truly unexpected happened", false, classUnknown},
	}
	for _, tc := range cases {
		gotUp, gotClass := classifyErr(errors.New(tc.msg))
		if gotUp != tc.wantUp || gotClass != tc.wantClass {
			t.Errorf("classifyErr(%q) = (%v, %v), want (%v, %v)", tc.msg, gotUp, gotClass, tc.wantUp, tc.wantClass)
		}
	}
}
