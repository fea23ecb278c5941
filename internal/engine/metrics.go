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

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the agent's own self-monitoring counters, registered
// against a private prometheus.Registry and served by cli.Monitor —
// this is about the agent watching itself, distinct from the
// Prometheus *provider* (internal/provider/prometheus), which scrapes
// targets the agent monitors.
type Metrics struct {
	ChecksRun       *prometheus.CounterVec
	CheckErrors     *prometheus.CounterVec
	RecordsIngested *prometheus.CounterVec
	CheckDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers a Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChecksRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapmon_checks_run_total",
			Help: "Number of provider checks executed, by provider instance and check name.",
		}, []string{"instance", "check"}),
		CheckErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapmon_check_errors_total",
			Help: "Number of provider checks that exhausted retries or failed to generate records.",
		}, []string{"instance", "check"}),
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapmon_records_ingested_total",
			Help: "Number of records passed to the sink by checks whose actions all succeeded, by provider instance and check name; sink failures are not subtracted.",
		}, []string{"instance", "check"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sapmon_check_duration_seconds",
			Help:    "Wall-clock time spent running one check's actions and record generation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"instance", "check"}),
	}
	reg.MustRegister(m.ChecksRun, m.CheckErrors, m.RecordsIngested, m.CheckDuration)
	return m
}

func (m *Metrics) observe(instance, check string, dur float64, recordCount int, failed bool) {
	if m == nil {
		return
	}
	m.ChecksRun.WithLabelValues(instance, check).Inc()
	m.CheckDuration.WithLabelValues(instance, check).Observe(dur)
	if failed {
		m.CheckErrors.WithLabelValues(instance, check).Inc()
		return
	}
	m.RecordsIngested.WithLabelValues(instance, check).Add(float64(recordCount))
}
