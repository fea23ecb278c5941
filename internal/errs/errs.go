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

// Package errs defines the agent's error kinds and their exit-code
// policy, so cmd/sapmon can translate any returned error into the
// right process exit code without duplicating the table at every call
// site.
package errs

import "fmt"

// Kind identifies one of the error categories from the error-handling
// design: each carries the exit code a CLI subcommand should use when
// it is the final, unrecovered error of a run.
type Kind string

const (
	AuthTokenUnavailable Kind = "AuthTokenUnavailable"
	SecretStoreNotFound  Kind = "SecretStoreNotFound"
	SecretWriteFailed    Kind = "SecretWriteFailed"
	InvalidProperties    Kind = "InvalidProperties"
	ValidationFailed     Kind = "ValidationFailed"
	ActionFailed         Kind = "ActionFailed"
	SinkIngestFailed     Kind = "SinkIngestFailed"
	StateReadFailed      Kind = "StateReadFailed"
	StateWriteFailed     Kind = "StateWriteFailed"
	ConfigLoadFailed     Kind = "ConfigLoadFailed"
	DirectoryBootstrap   Kind = "DirectoryBootstrapFailed"
	UnknownProviderType  Kind = "UnknownProviderType"
	SecretFetchFailed    Kind = "SecretFetchFailed"
	MissingSinkCreds     Kind = "MissingSinkCredentials"
	ProviderDeleteFailed Kind = "ProviderDeleteFailed"
)

// exitCodes mirrors the table in the error-handling design. Only kinds
// that are ever the terminal error of a CLI invocation need an entry;
// kinds handled internally (ActionFailed, SinkIngestFailed,
// StateReadFailed, StateWriteFailed) never reach main's exit-code
// switch and have no entry, so ExitCode maps them to 1.
var exitCodes = map[Kind]int{
	AuthTokenUnavailable: 10,
	SecretWriteFailed:    20,
	SecretStoreNotFound:  21,
	DirectoryBootstrap:   40,
	ConfigLoadFailed:     60,
	MissingSinkCreds:     22,
	InvalidProperties:    70,
	ValidationFailed:     70,
	UnknownProviderType:  70,
	ProviderDeleteFailed: 80,
}

// Error wraps an underlying cause with a Kind so callers can classify
// it without string matching.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause in an *Error of the given kind.
func New(kind Kind, cause error) error {
	return &Error{Kind: kind, Cause: cause}
}

// ExitCode returns the process exit code for err, falling back to 1
// for any error that isn't a classified *Error or whose kind has no
// registered exit code.
func ExitCode(err error) int {
	var e *Error
	if !asError(err, &e) {
		return 1
	}
	if code, ok := exitCodes[e.Kind]; ok {
		return code
	}
	return 1
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
