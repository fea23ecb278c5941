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

package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Azure/sapmon/internal/errs"
)

func TestBootstrap_CreatesRequiredDirectories(t *testing.T) {
	root := t.TempDir()
	if err := Bootstrap(root); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"content", "trace", "state"} {
		if fi, err := os.Stat(filepath.Join(root, d)); err != nil || !fi.IsDir() {
			t.Fatalf("Bootstrap() did not create %s", d)
		}
	}
}

func TestBootstrap_FailsUnderRegularFile(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "content")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := Bootstrap(root)
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.DirectoryBootstrap {
		t.Fatalf("Bootstrap() err = %v, want DirectoryBootstrap", err)
	}
}

func TestParseJSONObject_Empty(t *testing.T) {
	got, err := ParseJSONObject("")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("ParseJSONObject(\"\") = %v, want empty map", got)
	}
}

func TestParseJSONObject_Invalid(t *testing.T) {
	_, err := ParseJSONObject("{not json")
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.InvalidProperties {
		t.Fatalf("ParseJSONObject() err = %v, want InvalidProperties", err)
	}
}

func TestParseJSONObject_OK(t *testing.T) {
	got, err := ParseJSONObject(`{"hanaHostname":"h1","hanaDbSqlPort":30015}`)
	if err != nil {
		t.Fatal(err)
	}
	if got["hanaHostname"] != "h1" {
		t.Fatalf("unexpected parsed object: %+v", got)
	}
}
