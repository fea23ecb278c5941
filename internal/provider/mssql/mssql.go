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

// Package mssql implements the MsSqlServer provider type.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/registry"
)

func init() {
	registry.Register(provider.MsSqlServer, makeInstance, makeCheck)
}

// timeoutSQL bounds both the dial and each query round-trip.
const timeoutSQL = 3 * time.Second

type instanceHandler struct {
	inst *provider.Instance

	hostname string
	port     string
	username string
	password string
}

func makeInstance(ctx context.Context, logger log.Logger, inst *provider.Instance, resolver provider.SecretResolver, skipContent bool) error {
	h := &instanceHandler{inst: inst}
	inst.Handler = h
	return h.ParseProperties(ctx, resolver)
}

// ParseProperties implements provider.InstanceHandler.
func (h *instanceHandler) ParseProperties(ctx context.Context, resolver provider.SecretResolver) error {
	props := h.inst.Properties

	hostname, ok := props["sqlHostname"].(string)
	if !ok || hostname == "" {
		return errs.New(errs.InvalidProperties, errors.New("sqlHostname is required"))
	}
	h.hostname = hostname

	if port, ok := props["sqlPort"]; ok {
		switch v := port.(type) {
		case float64:
			h.port = fmt.Sprintf("%d", int(v))
		case string:
			h.port = v
		}
	}

	username, ok := props["sqlUsername"].(string)
	if !ok || username == "" {
		return errs.New(errs.InvalidProperties, errors.New("sqlUsername is required"))
	}
	h.username = username

	password, ok := props["sqlPassword"].(string)
	if !ok || password == "" {
		return errs.New(errs.InvalidProperties, errors.New("sqlPassword is required"))
	}
	h.password = password
	return nil
}

// Validate implements provider.InstanceHandler: connect and run
// "SELECT db_name();". A plain round-trip query is the only
// connectivity check the driver supports.
func (h *instanceHandler) Validate(ctx context.Context) error {
	db, err := h.open()
	if err != nil {
		return errs.New(errs.ValidationFailed, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, timeoutSQL)
	defer cancel()
	if _, err := db.ExecContext(ctx, "SELECT db_name();"); err != nil {
		return errs.New(errs.ValidationFailed, err)
	}
	return nil
}

// open dials the configured host. The server address concatenates the
// port as "host,port" when one is configured.
func (h *instanceHandler) open() (*sql.DB, error) {
	server := h.hostname
	if h.port != "" {
		server = h.hostname + "," + h.port
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s", h.username, h.password, server)
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SQL Server connection to %s", server)
	}
	return db, nil
}

func makeCheck(logger log.Logger, inst *provider.Instance, spec provider.CheckSpec) (*provider.Check, error) {
	h, ok := inst.Handler.(*instanceHandler)
	if !ok {
		return nil, errors.New("mssql: instance handler has the wrong type")
	}
	c := &checkHandler{inst: inst, sql: h}
	check := &provider.Check{
		Instance:                   inst,
		Name:                       spec.Name,
		Description:                spec.Description,
		CustomLog:                  spec.CustomLog,
		FrequencySecs:              spec.FrequencySecs,
		Actions:                    spec.Actions,
		IncludeInCustomerAnalytics: spec.IncludeInCustomerAnalytics,
		State:                      provider.CheckState{IsEnabled: spec.Enabled == nil || *spec.Enabled},
		Handler:                    c,
	}
	c.check = check
	return check, nil
}

// checkHandler implements provider.CheckHandler and
// provider.QueryResultHandler.
type checkHandler struct {
	inst  *provider.Instance
	sql   *instanceHandler
	check *provider.Check

	lastResult provider.QueryResult
}

// ColTimeGenerated implements provider.CheckHandler. MSSQL results
// carry no internal timestamp column of their own; the engine's
// generic state update falls back to now_utc for lastRunLocal, and
// there is no lastRunServer equivalent.
func (c *checkHandler) ColTimeGenerated() string { return "" }

// LastResult implements provider.QueryResultHandler.
func (c *checkHandler) LastResult() provider.QueryResult { return c.lastResult }

// RunAction implements provider.CheckHandler.
func (c *checkHandler) RunAction(ctx context.Context, action provider.Action) error {
	if action.Type != "executeSql" {
		return errs.New(errs.InvalidProperties, errors.Errorf("mssql: unknown action type %q", action.Type))
	}
	query, _ := action.Parameters["sql"].(string)
	if query == "" {
		return errs.New(errs.InvalidProperties, errors.New("executeSql requires a sql parameter"))
	}

	db, err := c.sql.open()
	if err != nil {
		return errs.New(errs.ActionFailed, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, timeoutSQL)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return errs.New(errs.ActionFailed, errors.Wrap(err, "executing SQL"))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errs.New(errs.ActionFailed, err)
	}
	colIndex := make(map[string]int, len(cols))
	for i, name := range cols {
		colIndex[name] = i
	}

	var out [][]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errs.New(errs.ActionFailed, err)
		}
		// go-mssqldb already decodes NVARCHAR/sql_variant columns into
		// native Go strings; raw []byte columns only need a string
		// conversion, never a manual utf-16le decode.
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return errs.New(errs.ActionFailed, err)
	}

	c.lastResult = provider.QueryResult{ColIndex: colIndex, Rows: out}
	return nil
}
