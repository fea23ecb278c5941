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
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	dto "github.com/prometheus/client_model/go"

	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/version"
)

// sample is one flattened metric sample: name, labels, value, and an
// optional source timestamp.
type sample struct {
	name      string
	labels    map[string]string
	value     float64
	timestamp *time.Time
}

// family groups samples under one exposed metric name.
type family struct {
	name    string
	samples []sample
}

// parseExposition decodes a Prometheus text-exposition document into
// families of samples, flattening expfmt's richer metric-family/metric
// tree (counters, gauges, summaries, histograms) into flat
// name/labels/value samples.
func parseExposition(text string) ([]family, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	mfs, err := parser.TextToMetricFamilies(strings.NewReader(text))
	if err != nil {
		return nil, err
	}

	var out []family
	for _, mf := range mfs {
		f := family{name: mf.GetName()}
		for _, m := range mf.GetMetric() {
			labels := labelMap(m)
			var ts *time.Time
			if m.TimestampMs != nil {
				t := time.UnixMilli(m.GetTimestampMs()).UTC()
				ts = &t
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				f.samples = append(f.samples, sample{name: f.name, labels: labels, value: m.GetCounter().GetValue(), timestamp: ts})
			case dto.MetricType_GAUGE:
				f.samples = append(f.samples, sample{name: f.name, labels: labels, value: m.GetGauge().GetValue(), timestamp: ts})
			case dto.MetricType_UNTYPED:
				f.samples = append(f.samples, sample{name: f.name, labels: labels, value: m.GetUntyped().GetValue(), timestamp: ts})
			case dto.MetricType_SUMMARY:
				s := m.GetSummary()
				for _, q := range s.GetQuantile() {
					f.samples = append(f.samples, sample{
						name:      f.name,
						labels:    withLabel(labels, "quantile", formatFloat(q.GetQuantile())),
						value:     q.GetValue(),
						timestamp: ts,
					})
				}
				f.samples = append(f.samples, sample{name: f.name + "_sum", labels: labels, value: s.GetSampleSum(), timestamp: ts})
				f.samples = append(f.samples, sample{name: f.name + "_count", labels: labels, value: float64(s.GetSampleCount()), timestamp: ts})
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				for _, b := range h.GetBucket() {
					f.samples = append(f.samples, sample{
						name:      f.name + "_bucket",
						labels:    withLabel(labels, "le", formatFloat(b.GetUpperBound())),
						value:     float64(b.GetCumulativeCount()),
						timestamp: ts,
					})
				}
				f.samples = append(f.samples, sample{name: f.name + "_sum", labels: labels, value: h.GetSampleSum(), timestamp: ts})
				f.samples = append(f.samples, sample{name: f.name + "_count", labels: labels, value: float64(h.GetSampleCount()), timestamp: ts})
			}
		}
		out = append(out, f)
	}
	return out, nil
}

func labelMap(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func withLabel(base map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for bk, bv := range base {
		out[bk] = bv
	}
	out[k] = v
	return out
}

func formatFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// sampleRecord builds one emitted record from a sample. Every record
// of a fetch shares the same correlation_id and instance host.
func sampleRecord(s sample, host, correlationID string, fallback time.Time) provider.Record {
	labels := map[string]string{}
	for k, v := range s.labels {
		labels[k] = v
	}
	labels["instance"] = host

	ts := fallback
	if s.timestamp != nil {
		ts = *s.timestamp
	}

	return provider.Record{
		"name":           s.name,
		"labels":         sortedCompactJSON(labels),
		"value":          s.value,
		"TimeGenerated":  ts,
		"instance":       host,
		"correlation_id": correlationID,
	}
}

// sortedCompactJSON renders labels with sorted keys and no extra
// whitespace, so equal label sets always serialize identically.
func sortedCompactJSON(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(labels[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}

func versionString() string { return version.Version }
