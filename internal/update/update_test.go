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

package update

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeSecrets struct {
	docs map[string]string
}

func (f *fakeSecrets) Get(ctx context.Context, name string) (string, error) {
	v, ok := f.docs[name]
	if !ok {
		return "", errors.New("not found: " + name)
	}
	return v, nil
}

func (f *fakeSecrets) Set(ctx context.Context, name, value string) error {
	f.docs[name] = value
	return nil
}

func (f *fakeSecrets) List(ctx context.Context) ([]string, error) {
	var names []string
	for n := range f.docs {
		names = append(names, n)
	}
	return names, nil
}

func TestRun_UnknownTarget(t *testing.T) {
	secrets := &fakeSecrets{docs: map[string]string{}}
	err := Run(context.Background(), secrets, "v1.5", "v2.0")
	var uv *ErrUnknownVersion
	if !errors.As(err, &uv) {
		t.Fatalf("Run() err = %v, want ErrUnknownVersion", err)
	}
}

func TestRun_MigrateV15ToV18_WrapsSingleInstance(t *testing.T) {
	secrets := &fakeSecrets{docs: map[string]string{
		"SapHana": `{"hanaHostname":"host1","hanaDbSqlPort":30015}`,
	}}
	if err := Run(context.Background(), secrets, "v1.5", "v1.8"); err != nil {
		t.Fatal(err)
	}

	var wrapped []map[string]interface{}
	if err := json.Unmarshal([]byte(secrets.docs["SapHana"]), &wrapped); err != nil {
		t.Fatalf("SapHana secret was not wrapped into a JSON array: %v", err)
	}
	if len(wrapped) != 1 || wrapped[0]["hanaHostname"] != "host1" {
		t.Fatalf("unexpected wrapped secret: %+v", wrapped)
	}
}

func TestRun_MigrateV15ToV18_LegacyLowercaseName(t *testing.T) {
	secrets := &fakeSecrets{docs: map[string]string{
		"saphana": `{"hanaHostname":"host1"}`,
	}}
	if err := Run(context.Background(), secrets, "v1.5", "v1.8"); err != nil {
		t.Fatal(err)
	}
	var wrapped []map[string]interface{}
	if err := json.Unmarshal([]byte(secrets.docs["saphana"]), &wrapped); err != nil {
		t.Fatalf("saphana secret was not wrapped: %v", err)
	}
}

func TestRun_MigrateV15ToV18_IdempotentReRun(t *testing.T) {
	secrets := &fakeSecrets{docs: map[string]string{
		"SapHana": `{"hanaHostname":"host1"}`,
	}}
	if err := Run(context.Background(), secrets, "v1.5", "v1.8"); err != nil {
		t.Fatal(err)
	}
	firstRun := secrets.docs["SapHana"]

	if err := Run(context.Background(), secrets, "v1.5", "v1.8"); err != nil {
		t.Fatal(err)
	}
	if secrets.docs["SapHana"] != firstRun {
		t.Fatalf("re-running the migration changed an already-wrapped secret: got %s, want %s", secrets.docs["SapHana"], firstRun)
	}
}

func TestRun_NoOpFromOtherVersions(t *testing.T) {
	secrets := &fakeSecrets{docs: map[string]string{
		"SapHana": `{"hanaHostname":"host1"}`,
	}}
	if err := Run(context.Background(), secrets, "v1.7", "v1.8"); err != nil {
		t.Fatal(err)
	}
	if secrets.docs["SapHana"] != `{"hanaHostname":"host1"}` {
		t.Fatalf("migration from v1.7 should be a no-op, got %s", secrets.docs["SapHana"])
	}
}
