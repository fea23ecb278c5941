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

// Command sapmon is the telemetry collector agent: it onboards a
// trusted secret store, registers provider instances, and on each
// `monitor` invocation reloads configuration and runs every due check.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/Azure/sapmon/internal/cli"
	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/version"

	// Self-register every provider type with internal/registry.
	_ "github.com/Azure/sapmon/internal/provider/hana"
	_ "github.com/Azure/sapmon/internal/provider/mssql"
	_ "github.com/Azure/sapmon/internal/provider/prometheus"
)

func main() {
	app := kingpin.New("sapmon", "SAP HANA / MSSQL / Prometheus telemetry collector agent.")
	app.Version(version.Version)

	root := app.Flag("root", "Root directory for content/trace/state.").Default("/var/lib/sapmon").String()
	vault := app.Flag("vaultName", "Key Vault name backing the trusted secret store.").Required().String()
	msiClientID := app.Flag("msiClientId", "User-assigned managed identity client id (empty for system-assigned).").String()
	verbose := app.Flag("verbose", "Enable debug-level logging.").Bool()
	metricsAddr := app.Flag("metricsAddr", "Address to serve self-monitoring /metrics on (empty disables it).").Default(":8080").String()

	onboard := app.Command("onboard", "Seed the secret store with global sink credentials.")
	workspaceID := onboard.Flag("logAnalyticsWorkspaceId", "").Required().String()
	sharedKey := onboard.Flag("logAnalyticsSharedKey", "").Required().String()
	enableAnalytics := onboard.Flag("enableCustomerAnalytics", "").Bool()

	providerCmd := app.Command("provider", "Manage provider instances.")

	providerAdd := providerCmd.Command("add", "Register a new provider instance.")
	addName := providerAdd.Flag("name", "").Required().String()
	addType := providerAdd.Flag("type", "").Required().String()
	addProperties := providerAdd.Flag("properties", "JSON object.").Required().String()
	addMetadata := providerAdd.Flag("metadata", "JSON object.").String()

	providerDelete := providerCmd.Command("delete", "De-register a provider instance.")
	delName := providerDelete.Flag("name", "").Required().String()

	monitorCmd := app.Command("monitor", "Run every due check for every registered provider instance.")

	updateCmd := app.Command("update", "Run a versioned migration profile against the secret store.")
	fromVersion := updateCmd.Flag("fromVersion", "").Required().String()
	toVersion := updateCmd.Flag("toVersion", "").Required().String()

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("%v", err)
	}

	opts := cli.Options{RootDir: *root, VaultName: *vault, MSIClientID: *msiClientID, Verbose: *verbose}
	if err := cli.Bootstrap(opts.RootDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitCode(err))
	}

	ctx := context.Background()

	switch cmd {
	case onboard.FullCommand():
		err = cli.Onboard(ctx, opts, *workspaceID, *sharedKey, *enableAnalytics)
	case providerAdd.FullCommand():
		err = runProviderAdd(ctx, opts, *addName, *addType, *addProperties, *addMetadata)
	case providerDelete.FullCommand():
		err = cli.ProviderDelete(ctx, opts, *delName)
	case monitorCmd.FullCommand():
		err = cli.Monitor(ctx, opts, *metricsAddr)
	case updateCmd.FullCommand():
		err = cli.Update(ctx, opts, *fromVersion, *toVersion)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitCode(err))
	}
}

func runProviderAdd(ctx context.Context, opts cli.Options, name, typ, rawProperties, rawMetadata string) error {
	properties, err := cli.ParseJSONObject(rawProperties)
	if err != nil {
		return err
	}
	metadata, err := cli.ParseJSONObject(rawMetadata)
	if err != nil {
		return err
	}
	return cli.ProviderAdd(ctx, opts, name, provider.Type(typ), properties, metadata)
}
