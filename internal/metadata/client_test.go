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

package metadata

import (
	"testing"

	"github.com/Azure/sapmon/internal/version"
)

func TestResourceFromScopes_DefaultsToKeyVault(t *testing.T) {
	if got := resourceFromScopes(nil); got != "https://vault.azure.net" {
		t.Fatalf("resourceFromScopes(nil) = %q, want https://vault.azure.net", got)
	}
}

func TestResourceFromScopes_StripsDefaultSuffix(t *testing.T) {
	got := resourceFromScopes([]string{"https://vault.azure.net/.default"})
	if got != "https://vault.azure.net" {
		t.Fatalf("resourceFromScopes() = %q, want https://vault.azure.net", got)
	}
}

func TestUserAgent_IncludesOperation(t *testing.T) {
	got := version.UserAgent("getAuthToken")
	want := "SAP Monitor/" + version.Version + " (getAuthToken)"
	if got != want {
		t.Fatalf("UserAgent() = %q, want %q", got, want)
	}
}
