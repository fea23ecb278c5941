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

// Package state persists and recovers per-instance check state across
// process lifetimes: one JSON file per instance,
// <stateDir>/<instanceName>.state.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/logging"
	"github.com/Azure/sapmon/internal/provider"
)

// timeFormat is the persisted timestamp format; Load parses any string
// matching it back into a time value so isDue/lastRunServer
// comparisons work across process lifetimes.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// document is the on-disk shape: {"global": <instance state>,
// "checks": {"<checkName>": <check state>}}. The "global" key here is
// the instance's own free-form state (e.g. HANA's hostConfig), not to
// be confused with the "global" secret that holds sink credentials —
// an unfortunate name collision baked into the state-file schema.
type document struct {
	Global map[string]interface{}   `json:"global"`
	Checks map[string]checkDocument `json:"checks"`
}

type checkDocument struct {
	IsEnabled      bool    `json:"isEnabled"`
	LastRunLocal   *string `json:"lastRunLocal,omitempty"`
	LastRunServer  *string `json:"lastRunServer,omitempty"`
	LastResultHash string  `json:"lastResultHash,omitempty"`
}

// Store reads and writes per-instance state files under Dir.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(instanceName string) string {
	return filepath.Join(s.Dir, instanceName+".state")
}

// Load populates inst.State and each check's State from the persisted
// file. A missing file is non-fatal and leaves every check's state at
// its zero value (isEnabled defaults to true, per content-file
// semantics, applied by the caller before Load runs). Parse errors are
// logged and treated the same as a missing file, per StateReadFailed
// policy.
func (s *Store) Load(logger log.Logger, inst *provider.Instance) {
	raw, err := os.ReadFile(s.path(inst.Name))
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn(logger, "msg", "could not read state file", "instance", inst.Name, "err", err)
		}
		return
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		logging.Warn(logger, "msg", "could not parse state file, starting fresh", "instance", inst.Name, "err", err)
		return
	}
	if doc.Global != nil {
		inst.State = doc.Global
	}
	for _, check := range inst.Checks {
		cd, ok := doc.Checks[check.Name]
		if !ok {
			continue
		}
		check.State.IsEnabled = cd.IsEnabled
		check.State.LastRunLocal = parseTime(cd.LastRunLocal)
		check.State.LastRunServer = parseTime(cd.LastRunServer)
		check.State.LastResultHash = cd.LastResultHash
	}
}

// Save persists inst.State and every check's current state.
func (s *Store) Save(logger log.Logger, inst *provider.Instance) error {
	doc := document{Global: inst.State, Checks: map[string]checkDocument{}}
	for _, check := range inst.Checks {
		doc.Checks[check.Name] = checkDocument{
			IsEnabled:      check.State.IsEnabled,
			LastRunLocal:   formatTime(check.State.LastRunLocal),
			LastRunServer:  formatTime(check.State.LastRunServer),
			LastResultHash: check.State.LastResultHash,
		}
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling state")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.Wrap(err, "creating state directory")
	}
	tmp := s.path(inst.Name) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, "writing state file")
	}
	return os.Rename(tmp, s.path(inst.Name))
}

// Delete removes the state file for instanceName, e.g. on `provider
// delete`. Missing files are not an error.
func (s *Store) Delete(instanceName string) error {
	err := os.Remove(s.path(instanceName))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting state file")
	}
	return nil
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(timeFormat, *s)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeFormat)
	return &s
}
