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

// Package update runs versioned migration profiles against the secret
// store.
package update

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// SecretClient is the subset of secretstore.Client an update profile
// needs.
type SecretClient interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
	List(ctx context.Context) ([]string, error)
}

// Profile migrates the secret store from one version to the next.
type Profile func(ctx context.Context, secrets SecretClient, fromVersion string) error

// profiles holds one migration profile per target version.
var profiles = map[string]Profile{
	"v1.8": migrateToV18,
}

// ErrUnknownVersion is returned by Run when no profile is registered
// for the target version. The source version is not checked here;
// each profile decides what to do with it.
type ErrUnknownVersion struct{ From, To string }

func (e *ErrUnknownVersion) Error() string {
	return fmt.Sprintf("no migration profile from %s to %s", e.From, e.To)
}

// Run executes the migration profile for toVersion, if one is
// registered.
func Run(ctx context.Context, secrets SecretClient, fromVersion, toVersion string) error {
	profile, ok := profiles[toVersion]
	if !ok {
		return &ErrUnknownVersion{From: fromVersion, To: toVersion}
	}
	return profile(ctx, secrets, fromVersion)
}

// migrateToV18 wraps a single-instance HANA secret (a bare JSON object,
// the pre-multi-instance shape) into a one-element JSON array, the
// shape every version from v1.8 onward expects. It is a no-op when
// migrating from anything other than v1.5.
func migrateToV18(ctx context.Context, secrets SecretClient, fromVersion string) error {
	if fromVersion != "v1.5" {
		return nil
	}

	names, err := secrets.List(ctx)
	if err != nil {
		return errors.Wrap(err, "listing secrets")
	}
	for _, name := range names {
		if name != "SapHana" && name != "saphana" {
			continue
		}
		raw, err := secrets.Get(ctx, name)
		if err != nil {
			return errors.Wrapf(err, "fetching %s secret", name)
		}

		var single map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &single); err != nil {
			// Already in list form (re-run of a completed migration);
			// nothing to do.
			continue
		}

		wrapped, err := json.Marshal([]map[string]interface{}{single})
		if err != nil {
			return errors.Wrap(err, "re-encoding wrapped secret")
		}
		if err := secrets.Set(ctx, name, string(wrapped)); err != nil {
			return errors.Wrapf(err, "writing migrated %s secret", name)
		}
	}
	return nil
}
