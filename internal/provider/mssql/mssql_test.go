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

package mssql

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/provider"
)

type fakeResolver struct{}

func (fakeResolver) ResolveSecretURL(ctx context.Context, url string) (string, error) {
	return "", errors.New("not used")
}

func TestParseProperties_RequiresHostname(t *testing.T) {
	h := &instanceHandler{inst: &provider.Instance{Properties: map[string]interface{}{
		"sqlUsername": "sa", "sqlPassword": "secret",
	}}}
	err := h.ParseProperties(context.Background(), fakeResolver{})
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.InvalidProperties {
		t.Fatalf("ParseProperties() err = %v, want InvalidProperties", err)
	}
}

func TestParseProperties_OK_NumericPort(t *testing.T) {
	h := &instanceHandler{inst: &provider.Instance{Properties: map[string]interface{}{
		"sqlHostname": "dbhost",
		"sqlPort":     float64(1433),
		"sqlUsername": "sa",
		"sqlPassword": "secret",
	}}}
	if err := h.ParseProperties(context.Background(), fakeResolver{}); err != nil {
		t.Fatal(err)
	}
	if h.hostname != "dbhost" || h.port != "1433" || h.username != "sa" || h.password != "secret" {
		t.Fatalf("unexpected parsed handler: %+v", h)
	}
}

func TestOpen_AcceptsHostAndPort(t *testing.T) {
	h := &instanceHandler{hostname: "dbhost", port: "1433", username: "sa", password: "secret"}
	db, err := h.open()
	if err != nil {
		t.Fatalf("open() returned an error building the DSN: %v", err)
	}
	defer db.Close()
}

func TestColTimeGenerated_IsEmpty(t *testing.T) {
	c := &checkHandler{}
	if got := c.ColTimeGenerated(); got != "" {
		t.Fatalf("ColTimeGenerated() = %q, want empty string", got)
	}
}

func TestRunAction_RejectsUnknownActionType(t *testing.T) {
	c := &checkHandler{sql: &instanceHandler{hostname: "dbhost", username: "sa", password: "secret"}}
	err := c.RunAction(context.Background(), provider.Action{Type: "bogus"})
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.InvalidProperties {
		t.Fatalf("RunAction() err = %v, want InvalidProperties", err)
	}
}

func TestRunAction_RequiresSQLParameter(t *testing.T) {
	c := &checkHandler{sql: &instanceHandler{hostname: "dbhost", username: "sa", password: "secret"}}
	err := c.RunAction(context.Background(), provider.Action{Type: "executeSql", Parameters: map[string]interface{}{}})
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.InvalidProperties {
		t.Fatalf("RunAction() err = %v, want InvalidProperties", err)
	}
}
