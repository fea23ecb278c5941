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

// Package secretstore is the trusted secret store client: it
// enumerates, reads, writes, and deletes named secrets in an Azure Key
// Vault. It is the single place that knows the vault is reachable only
// via azsecrets/azidentity; every other component talks to the *Client
// interface instead.
package secretstore

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/errs"
)

// vaultRetryOptions bounds how long a single secret-store call may
// spend retrying transient failures, so a flaky vault can't stall a
// worker past the point where the operator would rather see
// SecretFetchFailed and move on. The agent has no global cancellation
// token; this is the vault client's own backstop.
var vaultRetryOptions = policy.RetryOptions{
	MaxRetries:    3,
	RetryDelay:    time.Second,
	MaxRetryDelay: 10 * time.Second,
}

// Client is a thin wrapper over azsecrets.Client exposing exactly the
// operations the agent needs.
type Client struct {
	vaultName string
	inner     *azsecrets.Client
}

// New builds a Client for the Key Vault named vaultName
// ("https://<vaultName>.vault.azure.net"), authenticating with
// azidentity's own managed-identity credential. msiClientID selects a
// user-assigned managed identity; empty uses the host's system-assigned
// identity. This is the path used for the agent's own bound vault;
// NewWithCredential is used when a provider property resolves to a
// *different* vault (see internal/metadata's Credential).
func New(vaultName, msiClientID string) (*Client, error) {
	cred, err := newCredential(msiClientID)
	if err != nil {
		return nil, errs.New(errs.AuthTokenUnavailable, err)
	}
	return NewWithCredential(vaultName, cred)
}

// NewWithCredential builds a Client for vaultName using an
// already-constructed azcore.TokenCredential, so callers resolving a
// secret-by-reference URL into a vault the agent isn't itself bound to
// can supply their own credential (e.g. one backed by
// internal/metadata.Credential) instead of going through New's default
// azidentity path.
func NewWithCredential(vaultName string, cred azcore.TokenCredential) (*Client, error) {
	opts := &azsecrets.ClientOptions{
		ClientOptions: azcore.ClientOptions{Retry: vaultRetryOptions},
	}
	inner, err := azsecrets.NewClient("https://"+vaultName+".vault.azure.net/", cred, opts)
	if err != nil {
		return nil, errs.New(errs.SecretStoreNotFound, err)
	}
	return &Client{vaultName: vaultName, inner: inner}, nil
}

func newCredential(msiClientID string) (*azidentity.ManagedIdentityCredential, error) {
	opts := &azidentity.ManagedIdentityCredentialOptions{}
	if msiClientID != "" {
		opts.ID = azidentity.ClientID(msiClientID)
	}
	return azidentity.NewManagedIdentityCredential(opts)
}

// Get fetches the current version of a named secret.
func (c *Client) Get(ctx context.Context, name string) (string, error) {
	resp, err := c.inner.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", errors.Wrapf(err, "getting secret %s", name)
	}
	if resp.Value == nil {
		return "", errors.Errorf("secret %s has no value", name)
	}
	return *resp.Value, nil
}

// Set creates or updates a named secret.
func (c *Client) Set(ctx context.Context, name, value string) error {
	_, err := c.inner.SetSecret(ctx, name, azsecrets.SetSecretParameters{Value: &value}, nil)
	if err != nil {
		return errs.New(errs.SecretWriteFailed, errors.Wrapf(err, "setting secret %s", name))
	}
	return nil
}

// Delete removes a named secret.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.inner.DeleteSecret(ctx, name, nil)
	if err != nil {
		return errors.Wrapf(err, "deleting secret %s", name)
	}
	return nil
}

// List enumerates the names of every secret currently in the vault.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var names []string
	pager := c.inner.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "listing secrets")
		}
		for _, item := range page.Value {
			if item.ID == nil {
				continue
			}
			names = append(names, lastPathSegment(string(*item.ID)))
		}
	}
	return names, nil
}

func lastPathSegment(id string) string {
	parts := strings.Split(strings.TrimRight(id, "/"), "/")
	return parts[len(parts)-1]
}

// keyVaultSecretURL matches a fully qualified secret reference such as
// "https://my-vault.vault.azure.net/secrets/my-secret/abcdef0123", one
// level of indirection that a provider property may point to instead
// of embedding a literal credential (see Design Note "Secret-store
// references" — resolution is one level deep, cycles rejected).
var keyVaultSecretURL = regexp.MustCompile(`(?i)^https://([a-z0-9-]+)\.vault\.azure\.net/secrets/([^/]+)(?:/([^/]+))?/?$`)

// ParseSecretURL splits a Key Vault secret reference URL into its
// vault name and secret name. ok is false for anything that doesn't
// match the expected shape.
func ParseSecretURL(url string) (vaultName, secretName string, ok bool) {
	m := keyVaultSecretURL.FindStringSubmatch(url)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
