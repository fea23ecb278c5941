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

package prometheus

import (
	"testing"

	"github.com/Azure/sapmon/internal/provider"
)

const sampleExposition = `# HELP node_cpu_seconds_total Seconds the CPUs spent in each mode.
# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} 12345.67
# HELP go_gc_duration_seconds A summary of the GC invocation durations.
# TYPE go_gc_duration_seconds summary
go_gc_duration_seconds{quantile="0.5"} 0.0001
go_gc_duration_seconds_sum 0.005
go_gc_duration_seconds_count 12
`

func TestParseExposition(t *testing.T) {
	families, err := parseExposition(sampleExposition)
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 2 {
		t.Fatalf("len(families) = %d, want 2", len(families))
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.name] = true
	}
	if !names["node_cpu_seconds_total"] || !names["go_gc_duration_seconds"] {
		t.Fatalf("families = %v, want node_cpu_seconds_total and go_gc_duration_seconds", names)
	}
}

func TestExcludeRegex(t *testing.T) {
	cases := map[string]bool{
		"go_gc_duration_seconds":  true,
		"process_cpu_seconds":     true,
		"promhttp_metric_handler": true,
		"node_cpu_seconds_total":  false,
		"up":                      false,
	}
	for name, wantExcluded := range cases {
		if got := excludeRegex.MatchString(name); got != wantExcluded {
			t.Errorf("excludeRegex.MatchString(%q) = %v, want %v", name, got, wantExcluded)
		}
	}
}

func TestGenerateRecords_EndpointDown(t *testing.T) {
	inst := &provider.Instance{Name: "node1", ContentVersion: "1.0"}
	c := &checkHandler{inst: inst, prom: &instanceHandler{host: "127.0.0.1:9100"}, check: &provider.Check{Instance: inst}}
	c.fetchOK = false

	records, err := c.GenerateRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2 (up=0 + sapmon)", len(records))
	}
	if records[0]["name"] != "up" || records[0]["value"] != 0.0 {
		t.Fatalf("records[0] = %+v, want {name: up, value: 0}", records[0])
	}
	if records[1]["name"] != "sapmon" {
		t.Fatalf("records[1] = %+v, want the sapmon meta-record", records[1])
	}
}

func TestGenerateRecords_HappyPath(t *testing.T) {
	inst := &provider.Instance{Name: "node1", ContentVersion: "1.0"}
	c := &checkHandler{inst: inst, prom: &instanceHandler{host: "127.0.0.1:9100"}, check: &provider.Check{Instance: inst}}
	c.fetchOK = true
	c.rawText = "ha_cluster_quorate 1\ngo_gc_duration_seconds 0.01\n"

	records, err := c.GenerateRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3 (ha_cluster_quorate + up=1 + sapmon); go_* must be suppressed", len(records))
	}
	if records[0]["name"] != "ha_cluster_quorate" {
		t.Fatalf("records[0][name] = %v, want ha_cluster_quorate", records[0]["name"])
	}
	if records[1]["name"] != "up" || records[1]["value"] != 1.0 {
		t.Fatalf("records[1] = %+v, want {name: up, value: 1}", records[1])
	}
	correlationID := records[0]["correlation_id"]
	for _, r := range records {
		if r["correlation_id"] != correlationID {
			t.Fatalf("record %+v has a different correlation_id than %v", r, correlationID)
		}
		if r["instance"] != "127.0.0.1:9100" {
			t.Fatalf("record %+v instance = %v, want 127.0.0.1:9100", r, r["instance"])
		}
	}
}

func TestSortedCompactJSON(t *testing.T) {
	got := sortedCompactJSON(map[string]string{"b": "2", "a": "1"})
	want := `{"a":"1","b":"2"}`
	if got != want {
		t.Fatalf("sortedCompactJSON() = %s, want %s", got, want)
	}
}
