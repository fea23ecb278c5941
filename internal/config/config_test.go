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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"

	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/provider"

	_ "github.com/Azure/sapmon/internal/provider/prometheus"
)

// fakeSecrets is an in-memory SecretClient.
type fakeSecrets struct {
	docs map[string]string
}

func newFakeSecrets() *fakeSecrets { return &fakeSecrets{docs: map[string]string{}} }

func (f *fakeSecrets) Get(ctx context.Context, name string) (string, error) {
	v, ok := f.docs[name]
	if !ok {
		return "", errors.New("secret not found: " + name)
	}
	return v, nil
}

func (f *fakeSecrets) List(ctx context.Context) ([]string, error) {
	var names []string
	for n := range f.docs {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeSecrets) Set(ctx context.Context, name, value string) error {
	f.docs[name] = value
	return nil
}

func (f *fakeSecrets) Delete(ctx context.Context, name string) error {
	delete(f.docs, name)
	return nil
}

type fakeResolver struct{}

func (fakeResolver) ResolveSecretURL(ctx context.Context, url string) (string, error) {
	return "", errors.New("no secret references in these tests")
}

func TestLoadGlobalParams_MissingSecret(t *testing.T) {
	secrets := newFakeSecrets()
	l := New(secrets, t.TempDir(), t.TempDir(), fakeResolver{})
	_, err := l.LoadGlobalParams(context.Background())
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.ConfigLoadFailed {
		t.Fatalf("LoadGlobalParams() err = %v, want ConfigLoadFailed", err)
	}
}

func TestLoadGlobalParams_MissingSinkCredentials(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.docs[globalSecretName] = `{"logAnalyticsWorkspaceId":"","logAnalyticsSharedKey":""}`
	l := New(secrets, t.TempDir(), t.TempDir(), fakeResolver{})
	_, err := l.LoadGlobalParams(context.Background())
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.MissingSinkCreds {
		t.Fatalf("LoadGlobalParams() err = %v, want MissingSinkCreds", err)
	}
}

func TestLoadGlobalParams_OK(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.docs[globalSecretName] = `{"logAnalyticsWorkspaceId":"ws","logAnalyticsSharedKey":"a2V5"}`
	l := New(secrets, t.TempDir(), t.TempDir(), fakeResolver{})
	g, err := l.LoadGlobalParams(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if g.LogAnalyticsWorkspaceID != "ws" {
		t.Fatalf("LogAnalyticsWorkspaceID = %q, want ws", g.LogAnalyticsWorkspaceID)
	}
	if !g.AnalyticsEnabled() {
		t.Fatal("AnalyticsEnabled() = false, want true (omitted => default true)")
	}
}

func TestLoadInstances_SkipsGlobalAndUnknownType(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.docs[globalSecretName] = `{"logAnalyticsWorkspaceId":"ws","logAnalyticsSharedKey":"a2V5"}`
	secrets.docs["PrometheusGeneric-node1"] = `{"name":"node1","type":"PrometheusGeneric","properties":{"prometheusUrl":"http://127.0.0.1:9100/metrics"}}`
	secrets.docs["BogusType-foo"] = `{"name":"foo","type":"BogusType","properties":{}}`

	contentDir := t.TempDir()
	writeContentFile(t, contentDir, "PrometheusGeneric.json", `{"contentVersion":"1","checks":[
		{"name":"c1","description":"d","customLog":"Log1","frequencySecs":60,"actions":[{"type":"fetchMetrics"}]}
	]}`)

	l := New(secrets, contentDir, t.TempDir(), fakeResolver{})
	logger := log.NewNopLogger()
	instances, err := l.LoadInstances(context.Background(), logger)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("len(instances) = %d, want 1 (unknown-type instance should be skipped)", len(instances))
	}
	if instances[0].Type != provider.PrometheusGeneric || instances[0].Name != "node1" {
		t.Fatalf("unexpected instance: %+v", instances[0])
	}
	if len(instances[0].Checks) != 1 || instances[0].Checks[0].Name != "c1" {
		t.Fatalf("content not loaded correctly: %+v", instances[0].Checks)
	}
}

func TestSecretName(t *testing.T) {
	if got := SecretName(provider.SapHana, "prod1"); got != "SapHana-prod1" {
		t.Fatalf("SecretName() = %q, want SapHana-prod1", got)
	}
}

func TestSaveInstanceThenLoad(t *testing.T) {
	secrets := newFakeSecrets()
	contentDir := t.TempDir()
	writeContentFile(t, contentDir, "PrometheusGeneric.json", `{"contentVersion":"1","checks":[]}`)
	l := New(secrets, contentDir, t.TempDir(), fakeResolver{})

	if err := l.SaveInstance(context.Background(), provider.PrometheusGeneric, "node2",
		map[string]interface{}{"prometheusUrl": "http://127.0.0.1:9100/metrics"}, nil); err != nil {
		t.Fatal(err)
	}

	raw, ok := secrets.docs["PrometheusGeneric-node2"]
	if !ok {
		t.Fatal("SaveInstance did not write the expected secret")
	}
	var doc instanceDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Name != "node2" || doc.Type != provider.PrometheusGeneric {
		t.Fatalf("unexpected persisted doc: %+v", doc)
	}
}

func TestDeleteInstance_ByNameOnly(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.docs[globalSecretName] = `{"logAnalyticsWorkspaceId":"ws","logAnalyticsSharedKey":"a2V5"}`
	secrets.docs["PrometheusGeneric-node1"] = `{"name":"node1","type":"PrometheusGeneric","properties":{}}`
	secrets.docs["SapHana-prod1"] = `{"name":"prod1","type":"SapHana","properties":{}}`

	l := New(secrets, t.TempDir(), t.TempDir(), fakeResolver{})
	if err := l.DeleteInstance(context.Background(), "node1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := secrets.docs["PrometheusGeneric-node1"]; ok {
		t.Fatal("DeleteInstance did not remove the matching secret")
	}
	if _, ok := secrets.docs["SapHana-prod1"]; !ok {
		t.Fatal("DeleteInstance removed an unrelated instance secret")
	}
	if _, ok := secrets.docs[globalSecretName]; !ok {
		t.Fatal("DeleteInstance must never touch the global secret")
	}
}

func TestDeleteInstance_UnknownName(t *testing.T) {
	secrets := newFakeSecrets()
	l := New(secrets, t.TempDir(), t.TempDir(), fakeResolver{})
	if err := l.DeleteInstance(context.Background(), "ghost"); err == nil {
		t.Fatal("DeleteInstance() = nil, want an error for an unregistered name")
	}
}

func writeContentFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
