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

// Package registry maps a provider-type tag to the factory pair that
// builds its ProviderInstance and ProviderCheck values. It is the only
// package with knowledge of concrete provider types; config loading
// and the check-execution engine stay polymorphic over
// internal/provider's interfaces.
//
// Concrete provider packages self-register from an init() function.
// This keeps the dependency edge pointing from provider
// implementations to the registry, never back, so the registry never
// imports a concrete provider package.
package registry

import (
	"context"
	"fmt"

	"github.com/go-kit/log"

	"github.com/Azure/sapmon/internal/provider"
)

// InstanceFactory constructs a ProviderInstance's handler for a given
// descriptor, calling ParseProperties with resolver. skipContent is
// true for the throwaway instance built by `provider add` and
// onboarding validation, which must not load the content catalogue.
type InstanceFactory func(ctx context.Context, logger log.Logger, inst *provider.Instance, resolver provider.SecretResolver, skipContent bool) error

// CheckFactory constructs one ProviderCheck's handler, attached to
// instance, from its static content-file spec.
type CheckFactory func(logger log.Logger, inst *provider.Instance, spec provider.CheckSpec) (*provider.Check, error)

type entry struct {
	instances InstanceFactory
	checks    CheckFactory
}

var providers = map[provider.Type]entry{}

// Register adds a provider-type to the registry. Call from an init()
// function in the concrete provider package.
func Register(t provider.Type, instances InstanceFactory, checks CheckFactory) {
	if _, exists := providers[t]; exists {
		panic(fmt.Sprintf("registry: provider type %q registered twice", t))
	}
	providers[t] = entry{instances: instances, checks: checks}
}

// UnknownProviderTypeError is returned by MakeInstance/MakeCheck when
// the tag has no registered factory pair.
type UnknownProviderTypeError struct {
	Type provider.Type
}

func (e *UnknownProviderTypeError) Error() string {
	return fmt.Sprintf("unknown provider type %q", e.Type)
}

// MakeInstance constructs a ProviderInstance's handler and parses its
// connection properties for the given type. Content-catalogue loading
// is not this function's concern; see internal/config.Loader.initContent.
func MakeInstance(ctx context.Context, logger log.Logger, inst *provider.Instance, resolver provider.SecretResolver, skipContent bool) error {
	e, ok := providers[inst.Type]
	if !ok {
		return &UnknownProviderTypeError{Type: inst.Type}
	}
	return e.instances(ctx, logger, inst, resolver, skipContent)
}

// MakeCheck constructs one ProviderCheck attached to instance.
func MakeCheck(logger log.Logger, inst *provider.Instance, spec provider.CheckSpec) (*provider.Check, error) {
	e, ok := providers[inst.Type]
	if !ok {
		return nil, &UnknownProviderTypeError{Type: inst.Type}
	}
	return e.checks(logger, inst, spec)
}

// Known reports whether t has a registered factory pair.
func Known(t provider.Type) bool {
	_, ok := providers[t]
	return ok
}
