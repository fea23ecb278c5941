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

// Package metadata is the compute-metadata / auth client: it obtains
// host identity and bearer tokens from the Azure Instance Metadata
// Service (IMDS).
package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/version"
)

const (
	baseURL    = "http://169.254.169.254/metadata"
	apiVersion = "2021-02-01"
)

// Client talks to the Azure Instance Metadata Service reachable from
// inside the VM.
type Client struct {
	httpClient *http.Client
}

// New returns a Client with a short request timeout, since IMDS is a
// local (link-local) endpoint and should always respond quickly.
func New() *Client {
	return &Client{httpClient: &http.Client{Timeout: 5 * time.Second}}
}

// ComputeInstance is the subset of IMDS's "compute" document the
// agent cares about: enough to derive the agent's own identity and
// thread subscription/resource-group context into emitted records.
type ComputeInstance struct {
	Name           string `json:"name"`
	SubscriptionID string `json:"subscriptionId"`
	ResourceGroup  string `json:"resourceGroupName"`
	VMID           string `json:"vmId"`
	Tags           string `json:"tags"`
}

// GetComputeInstance fetches the VM's own compute identity document.
// operation is folded into the User-Agent header for IMDS-side
// diagnostics.
func (c *Client) GetComputeInstance(ctx context.Context, operation string) (*ComputeInstance, error) {
	req, err := c.newRequest(ctx, "instance", nil, operation)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Compute ComputeInstance `json:"compute"`
	}
	if err := c.doJSON(req, &doc); err != nil {
		return nil, errors.Wrap(err, "getting instance metadata")
	}
	return &doc.Compute, nil
}

// tokenResponse is IMDS's OAuth2 token document.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ClientID    string `json:"client_id"`
}

// GetAuthToken fetches a bearer token scoped to resource
// (e.g. "https://vault.azure.net"), optionally for a specific
// user-assigned managed identity. Failures are returned as
// AuthTokenUnavailable errors. Its one caller, Credential.GetToken, is
// reached through secret-reference resolution, which wraps such
// failures as SecretFetchFailed.
func (c *Client) GetAuthToken(ctx context.Context, resource, msiClientID string) (string, error) {
	params := url.Values{"resource": {resource}}
	if msiClientID != "" {
		params.Set("client_id", msiClientID)
	}
	req, err := c.newRequest(ctx, "identity/oauth2/token", params, "getAuthToken")
	if err != nil {
		return "", errs.New(errs.AuthTokenUnavailable, err)
	}
	var tok tokenResponse
	if err := c.doJSON(req, &tok); err != nil {
		return "", errs.New(errs.AuthTokenUnavailable, errors.Wrap(err, "getting auth token"))
	}
	return tok.AccessToken, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, params url.Values, operation string) (*http.Request, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api-version", apiVersion)
	u := baseURL + "/" + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata", "true")
	req.Header.Set("User-Agent", version.UserAgent(operation))
	return req, nil
}

// tokenFreshFor is how long a token minted by GetAuthToken is assumed
// valid before azcore's pipeline should ask for a new one. IMDS tokens
// are normally valid ~24h; this is deliberately conservative since the
// response body doesn't carry an expiry this client parses.
const tokenFreshFor = 30 * time.Minute

// Credential adapts Client to azcore.TokenCredential, so a provider's
// secret-by-reference resolution can authenticate against a Key Vault
// the agent itself isn't bound to using the same IMDS call path as
// every other metadata-service interaction, instead of a second,
// independent azidentity credential chain.
type Credential struct {
	client      *Client
	msiClientID string
}

// NewCredential returns a Credential that requests tokens for a
// user-assigned managed identity when msiClientID is non-empty, the
// host's system-assigned identity otherwise.
func NewCredential(msiClientID string) *Credential {
	return &Credential{client: New(), msiClientID: msiClientID}
}

// GetToken implements azcore.TokenCredential.
func (c *Credential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	resource := resourceFromScopes(options.Scopes)
	token, err := c.client.GetAuthToken(ctx, resource, c.msiClientID)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return azcore.AccessToken{Token: token, ExpiresOn: time.Now().Add(tokenFreshFor)}, nil
}

// resourceFromScopes collapses azcore's "<resource>/.default" scope
// convention back to the bare resource URI IMDS's token endpoint
// expects, defaulting to Key Vault's resource when no scope is given.
func resourceFromScopes(scopes []string) string {
	if len(scopes) == 0 {
		return "https://vault.azure.net"
	}
	return strings.TrimSuffix(scopes[0], "/.default")
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
