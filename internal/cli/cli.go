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

// Package cli wires the agent's five subcommands (onboard, provider
// add/delete, monitor, update) to the underlying components.
package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Azure/sapmon/internal/config"
	"github.com/Azure/sapmon/internal/engine"
	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/logging"
	"github.com/Azure/sapmon/internal/metadata"
	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/registry"
	"github.com/Azure/sapmon/internal/secretstore"
	"github.com/Azure/sapmon/internal/sink"
	"github.com/Azure/sapmon/internal/state"
	"github.com/Azure/sapmon/internal/update"
)

// Options are the root flags shared by every subcommand.
type Options struct {
	RootDir     string
	VaultName   string
	MSIClientID string
	Verbose     bool
}

// Bootstrap creates <root>/{content,trace,state} if missing.
func Bootstrap(root string) error {
	for _, d := range []string{"content", "trace", "state"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return errs.New(errs.DirectoryBootstrap, errors.Wrapf(err, "creating %s directory", d))
		}
	}
	return nil
}

func (o Options) contentDir() string { return filepath.Join(o.RootDir, "content") }
func (o Options) traceDir() string   { return filepath.Join(o.RootDir, "trace") }
func (o Options) stateDir() string   { return filepath.Join(o.RootDir, "state") }

func newLogger(o Options) (*logging.Logger, error) {
	return logging.New(o.traceDir(), o.Verbose)
}

func newSecretClient(o Options) (*secretstore.Client, error) {
	return secretstore.New(o.VaultName, o.MSIClientID)
}

// Onboard implements `onboard`: writes the global secret.
func Onboard(ctx context.Context, o Options, workspaceID, sharedKey string, enableAnalytics bool) error {
	logger, err := newLogger(o)
	if err != nil {
		return errs.New(errs.DirectoryBootstrap, err)
	}
	defer logger.Close()

	secrets, err := newSecretClient(o)
	if err != nil {
		return err
	}
	loader := config.New(secrets, o.contentDir(), o.stateDir(), secretstore.Resolver{DefaultMSIClientID: o.MSIClientID})

	params := provider.GlobalParams{
		LogAnalyticsWorkspaceID: workspaceID,
		LogAnalyticsSharedKey:   sharedKey,
		EnableCustomerAnalytics: &enableAnalytics,
	}
	if err := loader.SaveGlobalParams(ctx, params); err != nil {
		return err
	}
	logging.Info(logger.Logger, "msg", "onboarding complete")
	return nil
}

// ProviderAdd implements `provider add`: validates and writes an
// instance secret.
func ProviderAdd(ctx context.Context, o Options, name string, t provider.Type, properties, metadata map[string]interface{}) error {
	logger, err := newLogger(o)
	if err != nil {
		return errs.New(errs.DirectoryBootstrap, err)
	}
	defer logger.Close()

	if !registry.Known(t) {
		return errs.New(errs.InvalidProperties, &registry.UnknownProviderTypeError{Type: t})
	}

	inst := &provider.Instance{Type: t, Name: name, Properties: properties, Metadata: metadata, State: map[string]interface{}{}}
	resolver := secretstore.Resolver{DefaultMSIClientID: o.MSIClientID}
	if err := registry.MakeInstance(ctx, logger.Logger, inst, resolver, true); err != nil {
		return errs.New(errs.InvalidProperties, err)
	}
	if err := inst.Handler.Validate(ctx); err != nil {
		return err
	}

	secrets, err := newSecretClient(o)
	if err != nil {
		return err
	}
	loader := config.New(secrets, o.contentDir(), o.stateDir(), resolver)
	if err := loader.SaveInstance(ctx, t, name, properties, metadata); err != nil {
		return err
	}
	logging.Info(logger.Logger, "msg", "provider instance added", "instance", inst.FullName())
	return nil
}

// ProviderDelete implements `provider delete`.
func ProviderDelete(ctx context.Context, o Options, name string) error {
	logger, err := newLogger(o)
	if err != nil {
		return errs.New(errs.DirectoryBootstrap, err)
	}
	defer logger.Close()

	secrets, err := newSecretClient(o)
	if err != nil {
		return err
	}
	resolver := secretstore.Resolver{DefaultMSIClientID: o.MSIClientID}
	loader := config.New(secrets, o.contentDir(), o.stateDir(), resolver)
	if err := loader.DeleteInstance(ctx, name); err != nil {
		return errs.New(errs.ProviderDeleteFailed, err)
	}
	logging.Info(logger.Logger, "msg", "provider instance deleted", "name", name)
	return nil
}

// Monitor implements `monitor`: loads config, spawns one worker per
// instance, waits for all to finish. metricsAddr, when non-empty,
// serves the agent's own self-monitoring counters (internal/engine's
// Metrics) on /metrics until the first actor of the run group returns
// (the first worker to finish, or a termination signal); workers still
// running after that finish without the endpoint.
func Monitor(ctx context.Context, o Options, metricsAddr string) error {
	logger, err := newLogger(o)
	if err != nil {
		return errs.New(errs.DirectoryBootstrap, err)
	}
	defer logger.Close()

	secrets, err := newSecretClient(o)
	if err != nil {
		return err
	}
	resolver := secretstore.Resolver{DefaultMSIClientID: o.MSIClientID}
	loader := config.New(secrets, o.contentDir(), o.stateDir(), resolver)

	globalParams, err := loader.LoadGlobalParams(ctx)
	if err != nil {
		return err
	}

	instances, err := loader.LoadInstances(ctx, logger.Logger)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return errs.New(errs.ConfigLoadFailed, errors.New("no provider instances configured"))
	}

	// Thread the VM's own identity into every instance's record
	// metadata. IMDS being unreachable (local operator runs) only costs
	// the identity fields, never the run.
	if compute, cerr := metadata.New().GetComputeInstance(ctx, "monitor"); cerr != nil {
		logging.Warn(logger.Logger, "msg", "could not fetch compute instance metadata", "err", cerr)
	} else {
		for _, inst := range instances {
			if inst.Metadata == nil {
				inst.Metadata = map[string]interface{}{}
			}
			inst.Metadata["AzureSubscriptionId"] = compute.SubscriptionID
			inst.Metadata["AzureResourceGroup"] = compute.ResourceGroup
			inst.Metadata["VmName"] = compute.Name
		}
	}

	sinkClient := sink.New(globalParams.LogAnalyticsWorkspaceID, globalParams.LogAnalyticsSharedKey)
	stateStore := state.New(o.stateDir())

	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	var g run.Group
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case <-term:
				logging.Info(logger.Logger, "msg", "received termination signal, waiting for workers to finish")
			case <-cancel:
			}
			return nil
		}, func(error) {
			close(cancel)
		})
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		g.Add(func() error {
			logging.Info(logger.Logger, "msg", "serving self-monitoring metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			_ = srv.Close()
		})
	}
	for _, inst := range instances {
		inst := inst
		g.Add(func() error {
			runner := engine.NewRunner(logger.Logger, sinkClient, nil, globalParams.AnalyticsEnabled(), stateStore)
			runner.Metrics = metrics
			runner.RunInstance(ctx, inst)
			return nil
		}, func(error) {})
	}

	return g.Run()
}

// Update implements `update`.
func Update(ctx context.Context, o Options, fromVersion, toVersion string) error {
	logger, err := newLogger(o)
	if err != nil {
		return errs.New(errs.DirectoryBootstrap, err)
	}
	defer logger.Close()

	secrets, err := newSecretClient(o)
	if err != nil {
		return err
	}
	if err := update.Run(ctx, secrets, fromVersion, toVersion); err != nil {
		return err
	}
	logging.Info(logger.Logger, "msg", "update complete", "from", fromVersion, "to", toVersion)
	return nil
}

// ParseJSONObject parses a `--properties`/`--metadata` CLI flag value.
func ParseJSONObject(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errs.New(errs.InvalidProperties, errors.Wrap(err, "parsing JSON object"))
	}
	return out, nil
}
