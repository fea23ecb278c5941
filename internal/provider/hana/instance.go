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

// Package hana implements the SapHana provider type: multi-host
// connection probing, SQL check actions, and the time-series
// `FROM`-rewrite.
package hana

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/SAP/go-hdb/driver"
	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/registry"
)

func init() {
	registry.Register(provider.SapHana, makeInstance, makeCheck)
}

// timeoutHana is the connect/query timeout, also the default
// probeTimeout for probeSqlConnection.
const timeoutHana = 5 * time.Second

// instanceHandler holds the parsed HANA connection properties and
// implements provider.InstanceHandler.
type instanceHandler struct {
	inst *provider.Instance

	hostname string
	port     int
	username string
	password string
}

// makeInstance builds the instanceHandler and parses its properties.
// Content-catalogue loading (skipContent) is the config package's job,
// performed uniformly for every provider type after MakeInstance
// succeeds; this factory only ever concerns itself with connection
// properties.
func makeInstance(ctx context.Context, logger log.Logger, inst *provider.Instance, resolver provider.SecretResolver, skipContent bool) error {
	h := &instanceHandler{inst: inst}
	inst.Handler = h
	return h.ParseProperties(ctx, resolver)
}

// ParseProperties implements provider.InstanceHandler.
func (h *instanceHandler) ParseProperties(ctx context.Context, resolver provider.SecretResolver) error {
	props := h.inst.Properties

	hostname, ok := props["hanaHostname"].(string)
	if !ok || hostname == "" {
		return errs.New(errs.InvalidProperties, errors.New("hanaHostname is required"))
	}
	h.hostname = hostname

	port, err := intProperty(props, "hanaDbSqlPort")
	if err != nil {
		return errs.New(errs.InvalidProperties, err)
	}
	h.port = port

	username, ok := props["hanaDbUsername"].(string)
	if !ok || username == "" {
		return errs.New(errs.InvalidProperties, errors.New("hanaDbUsername is required"))
	}
	h.username = username

	if password, ok := props["hanaDbPassword"].(string); ok && password != "" {
		h.password = password
		return nil
	}

	secretURL, ok := props["hanaDbPasswordKeyVaultUrl"].(string)
	if !ok || secretURL == "" {
		return errs.New(errs.InvalidProperties, errors.New(
			"one of hanaDbPassword or hanaDbPasswordKeyVaultUrl is required"))
	}
	if resolver == nil {
		return errs.New(errs.InvalidProperties, errors.New("password-by-reference requires a secret resolver"))
	}
	password, err := resolver.ResolveSecretURL(ctx, secretURL)
	if err != nil {
		return errs.New(errs.SecretFetchFailed, err)
	}
	h.password = password
	return nil
}

// Validate implements provider.InstanceHandler: open a cheap connection
// to the configured host and run a trivial query.
func (h *instanceHandler) Validate(ctx context.Context) error {
	db, err := h.open(h.hostname, h.port)
	if err != nil {
		return errs.New(errs.ValidationFailed, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, timeoutHana)
	defer cancel()
	if _, err := db.ExecContext(ctx, "SELECT 1 FROM DUMMY"); err != nil {
		return errs.New(errs.ValidationFailed, err)
	}
	return nil
}

// open returns a *sql.DB for the given host/port, pooling disabled:
// each probed host gets its own short-lived connection rather than a
// shared pool.
func (h *instanceHandler) open(host string, port int) (*sql.DB, error) {
	dsn := fmt.Sprintf("hdb://%s:%s@%s:%d", h.username, h.password, host, port)
	db, err := sql.Open("hdb", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening HANA connection to %s:%d", host, port)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func intProperty(props map[string]interface{}, key string) (int, error) {
	switch v := props[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		var out int
		if _, err := fmt.Sscanf(v, "%d", &out); err != nil {
			return 0, errors.Wrapf(err, "%s is not numeric", key)
		}
		return out, nil
	default:
		return 0, errors.Errorf("%s is required", key)
	}
}
