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

// Package provider holds the data model shared by every data-source
// type: the provider/check identity model, the content-file schema,
// and the capability contract (internal/provider/contract.go) that the
// check-execution engine drives polymorphically.
package provider

import (
	"context"
	"time"
)

// Type is a provider-type tag. New types are added by registering them
// with internal/registry; this type does not enumerate them itself so
// the registry stays the single source of truth for what is known.
type Type string

// The external, PascalCase provider-type spellings. Persisted secret
// names and the CLI contract both use these; the legacy lowercase
// "saphana" spelling is never round-tripped by this agent.
const (
	SapHana             Type = "SapHana"
	MsSqlServer         Type = "MsSqlServer"
	PrometheusGeneric   Type = "PrometheusGeneric"
	PrometheusHaCluster Type = "PrometheusHaCluster"
	PrometheusNode      Type = "PrometheusNode"
)

// Action is a declarative reference to a provider-type method, as read
// from a content file.
type Action struct {
	Type              string                 `json:"type"`
	Parameters        map[string]interface{} `json:"parameters"`
	Retries           *int                   `json:"retries,omitempty"`
	DelayInSeconds    *float64               `json:"delayInSeconds,omitempty"`
	BackoffMultiplier *float64               `json:"backoffMultiplier,omitempty"`
}

// CheckSpec is one check's static definition as read from a content
// file.
type CheckSpec struct {
	Name                       string                 `json:"name"`
	Description                string                 `json:"description"`
	CustomLog                  string                 `json:"customLog"`
	FrequencySecs              int                    `json:"frequencySecs"`
	Actions                    []Action               `json:"actions"`
	IncludeInCustomerAnalytics bool                   `json:"includeInCustomerAnalytics"`
	Enabled                    *bool                  `json:"enabled,omitempty"`
	TypeSpecific               map[string]interface{} `json:"-"`
}

// ContentFile is the on-disk JSON catalogue of checks for one
// provider-type.
type ContentFile struct {
	ContentVersion string      `json:"contentVersion"`
	Checks         []CheckSpec `json:"checks"`
}

// GlobalParams is the sink's credential bundle, stored as the "global"
// secret.
type GlobalParams struct {
	LogAnalyticsWorkspaceID string `json:"logAnalyticsWorkspaceId"`
	LogAnalyticsSharedKey   string `json:"logAnalyticsSharedKey"`
	EnableCustomerAnalytics *bool  `json:"enableCustomerAnalytics,omitempty"`
}

// AnalyticsEnabled resolves the default-at-read-time rule from the
// Open Questions: omitted in the stored secret means true, but the
// onboarding flag (which produced the stored value in the first
// place) is always the source of truth once set.
func (g GlobalParams) AnalyticsEnabled() bool {
	if g.EnableCustomerAnalytics == nil {
		return true
	}
	return *g.EnableCustomerAnalytics
}

// RetrySettings controls the per-action retry policy. Duration unit is
// seconds to match the content-file schema.
type RetrySettings struct {
	Retries           int     `json:"retries"`
	DelayInSeconds    float64 `json:"delayInSeconds"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// DefaultRetrySettings is the fallback for every retry field the
// action does not set itself. There is no per-instance override.
var DefaultRetrySettings = RetrySettings{Retries: 3, DelayInSeconds: 1, BackoffMultiplier: 2}

// Resolve applies the action-override → settings precedence rule.
func (r RetrySettings) Resolve(a Action) RetrySettings {
	out := r
	if a.Retries != nil {
		out.Retries = *a.Retries
	}
	if a.DelayInSeconds != nil {
		out.DelayInSeconds = *a.DelayInSeconds
	}
	if a.BackoffMultiplier != nil {
		out.BackoffMultiplier = *a.BackoffMultiplier
	}
	return out
}

// CheckState is the mutable, persisted state of one check.
type CheckState struct {
	IsEnabled      bool       `json:"isEnabled"`
	LastRunLocal   *time.Time `json:"lastRunLocal,omitempty"`
	LastRunServer  *time.Time `json:"lastRunServer,omitempty"`
	LastResultHash string     `json:"lastResultHash,omitempty"`
}

// IsDue evaluates the scheduling predicate from the check-execution
// design: never run, or due by frequency.
func (s CheckState) IsDue(now time.Time, frequencySecs int) bool {
	if s.LastRunLocal == nil {
		return true
	}
	due := s.LastRunLocal.Add(time.Duration(frequencySecs) * time.Second)
	return !due.After(now)
}

// Record is one emitted log row, assembled by the engine or a
// provider-specific record generator, and serialized with
// internal/engine's JSON encoding rules.
type Record map[string]interface{}

// QueryResult is the generic column/row result shape produced by
// SQL-style check actions (HANA, MSSQL). Record generation and state
// updates for these provider types share the same helpers in
// internal/engine, keyed off this shape.
type QueryResult struct {
	ColIndex map[string]int
	Rows     [][]interface{}
}

// Instance is one configured, live data source.
type Instance struct {
	Type           Type
	Name           string
	Properties     map[string]interface{}
	Metadata       map[string]interface{}
	ContentVersion string
	State          map[string]interface{}
	Checks         []*Check
	Handler        InstanceHandler
}

// FullName is "<type>/<name>", the identity used in log lines. Secret
// names use "<type>-<name>" instead (config.SecretName), and state
// files are keyed by the bare instance name.
func (i *Instance) FullName() string {
	return string(i.Type) + "/" + i.Name
}

// Check is one declarative probe of an Instance.
type Check struct {
	Instance                   *Instance
	Name                       string
	Description                string
	CustomLog                  string
	FrequencySecs              int
	Actions                    []Action
	IncludeInCustomerAnalytics bool
	State                      CheckState
	Handler                    CheckHandler
}

// FullName is "<instance.FullName()>.<name>".
func (c *Check) FullName() string {
	return c.Instance.FullName() + "." + c.Name
}

// SecretResolver fetches a named secret from the trusted secret
// store, used by InstanceHandler.ParseProperties to resolve
// secret-by-reference properties (e.g. a HANA password stored as a
// Key Vault URL).
type SecretResolver interface {
	ResolveSecretURL(ctx context.Context, secretURL string) (string, error)
}
