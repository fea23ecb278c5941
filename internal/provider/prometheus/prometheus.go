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

// Package prometheus implements the PrometheusGeneric, PrometheusHaCluster,
// and PrometheusNode provider types: all three share one generic scrape
// and exposition-format transform.
package prometheus

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/registry"
)

func init() {
	registry.Register(provider.PrometheusGeneric, makeInstance, makeCheck)
	registry.Register(provider.PrometheusHaCluster, makeInstance, makeCheck)
	registry.Register(provider.PrometheusNode, makeInstance, makeCheck)
}

// excludeRegex drops the process's own exposition noise unless the
// check explicitly asks for it via includePrefixes.
var excludeRegex = regexp.MustCompile(`^(go|promhttp|process)_`)

const (
	connectTimeout = 2 * time.Second
	readTimeout    = 5 * time.Second
)

type instanceHandler struct {
	inst *provider.Instance

	metricsURL string
	host       string
	httpClient *http.Client
}

func makeInstance(ctx context.Context, logger log.Logger, inst *provider.Instance, resolver provider.SecretResolver, skipContent bool) error {
	h := &instanceHandler{inst: inst}
	inst.Handler = h
	return h.ParseProperties(ctx, resolver)
}

// ParseProperties implements provider.InstanceHandler.
func (h *instanceHandler) ParseProperties(ctx context.Context, resolver provider.SecretResolver) error {
	raw, ok := h.inst.Properties["prometheusUrl"].(string)
	if !ok || raw == "" {
		return errs.New(errs.InvalidProperties, errors.New("prometheusUrl is required"))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errs.New(errs.InvalidProperties, errors.Wrap(err, "prometheusUrl is not a valid URL"))
	}
	h.metricsURL = raw
	h.host = u.Host
	h.httpClient = newHTTPClient()
	return nil
}

// Validate implements provider.InstanceHandler: success iff any text
// is returned.
func (h *instanceHandler) Validate(ctx context.Context) error {
	text, err := h.fetch(ctx)
	if err != nil || text == "" {
		return errs.New(errs.ValidationFailed, errors.Wrap(err, "fetching prometheus endpoint"))
	}
	return nil
}

func (h *instanceHandler) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.metricsURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// newHTTPClient separates the dial timeout from the response-header
// timeout so a reachable-but-slow exporter fails on read, not connect.
func newHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Timeout: connectTimeout + readTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: readTimeout,
		},
	}
}

func makeCheck(logger log.Logger, inst *provider.Instance, spec provider.CheckSpec) (*provider.Check, error) {
	h, ok := inst.Handler.(*instanceHandler)
	if !ok {
		return nil, errors.New("prometheus: instance handler has the wrong type")
	}
	c := &checkHandler{inst: inst, prom: h}
	check := &provider.Check{
		Instance:                   inst,
		Name:                       spec.Name,
		Description:                spec.Description,
		CustomLog:                  spec.CustomLog,
		FrequencySecs:              spec.FrequencySecs,
		Actions:                    spec.Actions,
		IncludeInCustomerAnalytics: spec.IncludeInCustomerAnalytics,
		State:                      provider.CheckState{IsEnabled: spec.Enabled == nil || *spec.Enabled},
		Handler:                    c,
	}
	c.check = check
	return check, nil
}

// checkHandler implements provider.CheckHandler, provider.RecordGenerator,
// and provider.StateUpdater: Prometheus results aren't row-shaped, so
// it opts out of the engine's generic assembly.
type checkHandler struct {
	inst  *provider.Instance
	prom  *instanceHandler
	check *provider.Check

	rawText         string
	includePrefixes string
	fetchOK         bool
}

// ColTimeGenerated implements provider.CheckHandler. Every record
// carries its own TimeGenerated field (the sample's timestamp, or the
// fetch time when the sample has none).
func (c *checkHandler) ColTimeGenerated() string { return "TimeGenerated" }

// RunAction implements provider.CheckHandler.
func (c *checkHandler) RunAction(ctx context.Context, action provider.Action) error {
	if action.Type != "fetchMetrics" {
		return errs.New(errs.InvalidProperties, errors.Errorf("prometheus: unknown action type %q", action.Type))
	}
	c.includePrefixes, _ = action.Parameters["includePrefixes"].(string)
	text, err := c.prom.fetch(ctx)
	c.rawText = text
	c.fetchOK = err == nil && text != ""
	// A fetch failure is recorded (via the synthetic `up` sample in
	// GenerateRecords), not surfaced as an action error: the check
	// still produces a well-formed, if minimal, record set.
	return nil
}

// UpdateState implements provider.StateUpdater.
func (c *checkHandler) UpdateState() {
	now := time.Now().UTC()
	c.check.State.LastRunLocal = &now
}

// GenerateRecords implements provider.RecordGenerator.
func (c *checkHandler) GenerateRecords() ([]provider.Record, error) {
	correlationID := uuid.New().String()
	fallback := time.Now().UTC()

	var records []provider.Record

	if c.fetchOK {
		families, err := parseExposition(c.rawText)
		if err != nil {
			return nil, errs.New(errs.ActionFailed, errors.Wrap(err, "parsing prometheus exposition text"))
		}

		var includeRegex *regexp.Regexp
		if c.includePrefixes != "" {
			re, err := regexp.Compile(c.includePrefixes)
			if err != nil {
				return nil, errs.New(errs.InvalidProperties, errors.Wrap(err, "includePrefixes is not a valid regex"))
			}
			includeRegex = re
		}

		for _, family := range families {
			if includeRegex != nil {
				if !includeRegex.MatchString(family.name) {
					continue
				}
			} else if excludeRegex.MatchString(family.name) {
				continue
			}
			for _, s := range family.samples {
				records = append(records, sampleRecord(s, c.prom.host, correlationID, fallback))
			}
		}
	}

	upValue := 0.0
	if c.fetchOK {
		upValue = 1.0
	}
	records = append(records, sampleRecord(sample{name: "up", labels: map[string]string{}, value: upValue}, c.prom.host, correlationID, fallback))

	records = append(records, sampleRecord(sample{
		name: "sapmon",
		labels: map[string]string{
			"content_version":   c.inst.ContentVersion,
			"sapmon_version":    versionString(),
			"provider_instance": c.inst.Name,
		},
		value: 1,
	}, c.prom.host, correlationID, fallback))

	return records, nil
}
