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

package provider

import "context"

// InstanceHandler is the capability set every provider-type must
// implement on its ProviderInstance: inheritance is replaced by this
// interface plus the action table a CheckHandler exposes.
type InstanceHandler interface {
	// ParseProperties validates the instance's raw Properties,
	// resolving any secret-by-reference fields via resolver. Must run
	// before Validate or any check action.
	ParseProperties(ctx context.Context, resolver SecretResolver) error

	// Validate opens a cheap connection and runs a trivial health
	// query. Never mutates state.
	Validate(ctx context.Context) error
}

// CheckHandler is the capability set every provider-type must
// implement on its ProviderCheck.
type CheckHandler interface {
	// RunAction executes one declared action against the owning
	// instance. The action's Type must be one this handler recognizes;
	// an unrecognized type makes RunAction return an InvalidProperties
	// error. Action types are not checked at content load.
	RunAction(ctx context.Context, action Action) error

	// ColTimeGenerated names the result field the sink should treat as
	// the event timestamp.
	ColTimeGenerated() string
}

// RecordGenerator is implemented by CheckHandlers that need custom
// record assembly (currently only the Prometheus provider, whose
// lastResult isn't row-shaped). CheckHandlers that leave this
// unimplemented get the engine's generic row-based assembly, which
// instead requires QueryResultHandler.
type RecordGenerator interface {
	GenerateRecords() ([]Record, error)
}

// QueryResultHandler is implemented by CheckHandlers whose actions
// produce a row-shaped result (HANA, MSSQL) and who therefore want the
// engine's generic record assembly and state-update rules instead of a
// RecordGenerator/StateUpdater of their own.
type QueryResultHandler interface {
	LastResult() QueryResult
}

// StateUpdater is implemented by CheckHandlers that need custom state
// update rules. CheckHandlers that leave this unimplemented get the
// engine's generic row-based state update if they implement
// QueryResultHandler, and otherwise only have lastRunLocal set to the
// run time.
type StateUpdater interface {
	UpdateState()
}
