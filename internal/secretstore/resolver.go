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

package secretstore

import (
	"context"

	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/metadata"
)

// Resolver implements provider.SecretResolver: it resolves a
// secret-by-reference URL (a property value pointing into a
// *different* Key Vault than the one the agent itself is bound to) by
// opening a one-off client for that vault and reading the named
// secret. Resolution is one level deep: a value returned from a
// resolved secret is never itself re-resolved as a URL.
type Resolver struct {
	// DefaultMSIClientID selects the managed identity used to reach
	// every referenced vault. Provider properties cannot override it.
	DefaultMSIClientID string
}

// ResolveSecretURL fetches the secret named by a Key Vault secret URL,
// authenticating via a token obtained through internal/metadata
// rather than the primary vault's own azidentity credential — the
// referenced vault is never the one sapmon itself is bound to, so it
// needs its own IMDS-sourced token.
func (r Resolver) ResolveSecretURL(ctx context.Context, secretURL string) (string, error) {
	vaultName, secretName, ok := ParseSecretURL(secretURL)
	if !ok {
		return "", errs.New(errs.SecretFetchFailed, errUnparsableSecretURL(secretURL))
	}
	cred := metadata.NewCredential(r.DefaultMSIClientID)
	client, err := NewWithCredential(vaultName, cred)
	if err != nil {
		return "", errs.New(errs.SecretFetchFailed, err)
	}
	value, err := client.Get(ctx, secretName)
	if err != nil {
		return "", errs.New(errs.SecretFetchFailed, err)
	}
	return value, nil
}

type errUnparsableSecretURLT struct{ url string }

func (e errUnparsableSecretURLT) Error() string {
	return "not a Key Vault secret URL: " + e.url
}

func errUnparsableSecretURL(url string) error { return errUnparsableSecretURLT{url: url} }
