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

// Package config loads global parameters and provider instances from
// the trusted secret store (C9), translating secret-store documents
// into the polymorphic provider.Instance values the engine drives.
package config

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/content"
	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/registry"
	"github.com/Azure/sapmon/internal/state"
)

// globalSecretName is the fixed secret key for GlobalParams.
const globalSecretName = "global"

// SecretClient is the subset of secretstore.Client this package needs,
// so tests can fake the vault.
type SecretClient interface {
	Get(ctx context.Context, name string) (string, error)
	List(ctx context.Context) ([]string, error)
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

// instanceDoc is the JSON shape stored under
// "<providerType>-<instanceName>".
type instanceDoc struct {
	Name       string                 `json:"name"`
	Type       provider.Type          `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Loader orchestrates config load: fetching secrets, constructing
// provider instances via the registry, loading content, and restoring
// persisted state.
type Loader struct {
	Secrets  SecretClient
	Content  *content.Loader
	State    *state.Store
	Resolver provider.SecretResolver
}

// New returns a Loader.
func New(secrets SecretClient, contentDir, stateDir string, resolver provider.SecretResolver) *Loader {
	return &Loader{
		Secrets:  secrets,
		Content:  content.New(contentDir),
		State:    state.New(stateDir),
		Resolver: resolver,
	}
}

// LoadGlobalParams fetches and parses the "global" secret. A missing
// or malformed secret is a fatal ConfigLoadFailed error: the engine
// cannot ingest anything without sink credentials.
func (l *Loader) LoadGlobalParams(ctx context.Context) (*provider.GlobalParams, error) {
	raw, err := l.Secrets.Get(ctx, globalSecretName)
	if err != nil {
		return nil, errs.New(errs.ConfigLoadFailed, errors.Wrap(err, "fetching global secret"))
	}
	var g provider.GlobalParams
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, errs.New(errs.ConfigLoadFailed, errors.Wrap(err, "parsing global secret"))
	}
	if g.LogAnalyticsWorkspaceID == "" || g.LogAnalyticsSharedKey == "" {
		return nil, errs.New(errs.MissingSinkCreds, errors.New("global secret is missing sink credentials"))
	}
	return &g, nil
}

// LoadInstances enumerates every provider-instance secret, constructs
// its ProviderInstance (properties parsed, content loaded, state
// restored), and returns the usable set. An individual instance that
// fails to parse or whose provider type is unknown is logged and
// skipped rather than aborting the whole load, so one misconfigured
// instance cannot take down monitoring for every other instance.
func (l *Loader) LoadInstances(ctx context.Context, logger log.Logger) ([]*provider.Instance, error) {
	names, err := l.Secrets.List(ctx)
	if err != nil {
		return nil, errs.New(errs.ConfigLoadFailed, errors.Wrap(err, "listing provider secrets"))
	}

	var out []*provider.Instance
	for _, name := range names {
		if name == globalSecretName {
			continue
		}
		if !looksLikeInstanceSecret(name) {
			continue
		}
		inst, err := l.loadInstance(ctx, logger, name)
		if err != nil {
			logger.Log("msg", "skipping provider instance", "secret", name, "err", err)
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func looksLikeInstanceSecret(name string) bool {
	return strings.Contains(name, "-")
}

func (l *Loader) loadInstance(ctx context.Context, logger log.Logger, secretName string) (*provider.Instance, error) {
	raw, err := l.Secrets.Get(ctx, secretName)
	if err != nil {
		return nil, errors.Wrap(err, "fetching instance secret")
	}
	var doc instanceDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrap(err, "parsing instance secret")
	}

	inst := &provider.Instance{
		Type:       doc.Type,
		Name:       doc.Name,
		Properties: doc.Properties,
		Metadata:   doc.Metadata,
		State:      map[string]interface{}{},
	}

	if !registry.Known(inst.Type) {
		return nil, &registry.UnknownProviderTypeError{Type: inst.Type}
	}
	if err := registry.MakeInstance(ctx, logger, inst, l.Resolver, false); err != nil {
		return nil, errors.Wrap(err, "constructing provider instance")
	}

	if err := l.initContent(logger, inst); err != nil {
		return nil, errors.Wrap(err, "loading content")
	}

	l.State.Load(logger, inst)
	return inst, nil
}

// initContent loads <providerType>.json and constructs one
// provider.Check per declared spec via the registry. Content is loaded
// exactly once per instance, at construction.
func (l *Loader) initContent(logger log.Logger, inst *provider.Instance) error {
	cf, err := l.Content.Load(inst.Type)
	if err != nil {
		return err
	}
	inst.ContentVersion = cf.ContentVersion
	inst.Checks = inst.Checks[:0]
	for _, spec := range cf.Checks {
		check, err := registry.MakeCheck(logger, inst, spec)
		if err != nil {
			return errors.Wrapf(err, "constructing check %s", spec.Name)
		}
		inst.Checks = append(inst.Checks, check)
	}
	return nil
}

// SecretName returns the "<providerType>-<instanceName>" key for inst.
func SecretName(t provider.Type, name string) string {
	return string(t) + "-" + name
}

// SaveGlobalParams writes the "global" secret, used by the `onboard`
// command.
func (l *Loader) SaveGlobalParams(ctx context.Context, g provider.GlobalParams) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return errs.New(errs.SecretWriteFailed, err)
	}
	return l.Secrets.Set(ctx, globalSecretName, string(raw))
}

// SaveInstance writes a provider-instance secret, used by `provider
// add`.
func (l *Loader) SaveInstance(ctx context.Context, t provider.Type, name string, properties, metadata map[string]interface{}) error {
	doc := instanceDoc{Name: name, Type: t, Properties: properties, Metadata: metadata}
	raw, err := json.Marshal(doc)
	if err != nil {
		return errs.New(errs.SecretWriteFailed, err)
	}
	return l.Secrets.Set(ctx, SecretName(t, name), string(raw))
}

// DeleteInstance removes the provider-instance secret and its state
// file, used by `provider delete`. The caller supplies only the
// instance name; the owning secret is found by its "<type>-<name>"
// suffix since the secret store is the source of truth for which type
// the instance was registered under.
func (l *Loader) DeleteInstance(ctx context.Context, name string) error {
	names, err := l.Secrets.List(ctx)
	if err != nil {
		return errors.Wrap(err, "listing secrets")
	}
	for _, secretName := range names {
		if secretName == globalSecretName || !strings.HasSuffix(secretName, "-"+name) {
			continue
		}
		if err := l.Secrets.Delete(ctx, secretName); err != nil {
			return err
		}
		return l.State.Delete(name)
	}
	return errors.Errorf("no provider instance named %q is registered", name)
}
