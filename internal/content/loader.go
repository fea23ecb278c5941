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

// Package content loads a provider-type's declarative check catalogue
// from disk: <contentDir>/<providerType>.json.
package content

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/provider"
)

// Loader loads content files from a fixed directory.
type Loader struct {
	Dir string
}

// New returns a Loader rooted at dir.
func New(dir string) *Loader {
	return &Loader{Dir: dir}
}

// Load reads and parses <dir>/<providerType>.json.
func (l *Loader) Load(t provider.Type) (*provider.ContentFile, error) {
	path := filepath.Join(l.Dir, fmt.Sprintf("%s.json", t))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading content file %s", path)
	}
	var cf provider.ContentFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, errors.Wrapf(err, "parsing content file %s", path)
	}
	// Preserve any provider-type-specific sections of each check spec
	// (fields the generic schema doesn't name) so a CheckFactory can
	// read them back out.
	var raws struct {
		Checks []map[string]interface{} `json:"checks"`
	}
	if err := json.Unmarshal(raw, &raws); err == nil {
		for i := range cf.Checks {
			if i < len(raws.Checks) {
				cf.Checks[i].TypeSpecific = raws.Checks[i]
			}
		}
	}
	return &cf, nil
}
