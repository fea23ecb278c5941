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

// Package sink is the log-analytics sink client: it signs and POSTs
// batched JSON records to the Azure Log Analytics Data Collector API.
package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/errs"
)

// timeFormat is the RFC1123-with-GMT-literal timestamp format the
// signature and x-ms-date header both use; the signed string embeds it
// verbatim, so the two must never drift apart.
const timeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Client POSTs signed payloads to one Log Analytics workspace.
type Client struct {
	WorkspaceID string
	SharedKey   string
	httpClient  *http.Client

	// now is overridable in tests.
	now func() time.Time
}

// New returns a Client for the given workspace.
func New(workspaceID, sharedKey string) *Client {
	return &Client{
		WorkspaceID: workspaceID,
		SharedKey:   sharedKey,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		now:         time.Now,
	}
}

func (c *Client) url() string {
	return "https://" + c.WorkspaceID + ".ods.opinsights.azure.com/api/logs?api-version=2016-04-01"
}

// buildSignature computes the "Authorization: SharedKey ..." header
// value for a payload of the given length, signed at timestamp.
func (c *Client) buildSignature(contentLen int, timestamp string) (string, error) {
	stringToSign := "POST\n" +
		strconv.Itoa(contentLen) + "\n" +
		"application/json\n" +
		"x-ms-date:" + timestamp + "\n" +
		"/api/logs"

	key, err := base64.StdEncoding.DecodeString(c.SharedKey)
	if err != nil {
		return "", errors.Wrap(err, "decoding shared key")
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(stringToSign))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return "SharedKey " + c.WorkspaceID + ":" + sig, nil
}

// Ingest POSTs a JSON batch of records to customLog, marking
// colTimeGenerated as the sink's TimeGenerated field.
func (c *Client) Ingest(ctx context.Context, customLog, colTimeGenerated string, jsonBody []byte) error {
	timestamp := c.now().UTC().Format(timeFormat)
	sig, err := c.buildSignature(len(jsonBody), timestamp)
	if err != nil {
		return errs.New(errs.SinkIngestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(jsonBody))
	if err != nil {
		return errs.New(errs.SinkIngestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", sig)
	req.Header.Set("Log-Type", customLog)
	req.Header.Set("x-ms-date", timestamp)
	req.Header.Set("time-generated-field", colTimeGenerated)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.New(errs.SinkIngestFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.New(errs.SinkIngestFailed, errors.Errorf("sink returned status %d", resp.StatusCode))
	}
	return nil
}
