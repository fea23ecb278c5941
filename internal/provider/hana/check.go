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

package hana

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/Azure/sapmon/internal/errs"
	"github.com/Azure/sapmon/internal/provider"
)

const (
	colServerUTC     = "_SERVER_UTC"
	colTimeseriesUTC = "_TIMESERIES_UTC"
	colLocalUTC      = "_LOCAL_UTC"

	timeFormatHana = "2006-01-02 15:04:05.000000"
)

// hostEntry is one element of the persisted host-configuration list
// built by parseHostConfig and consumed by probeSqlConnection and the
// connection-selection rule ahead of executeSql/multiExecuteSql.
type hostEntry struct {
	Host   string `json:"host"`
	Active bool   `json:"active"`
	Role   string `json:"role"`
}

func makeCheck(logger log.Logger, inst *provider.Instance, spec provider.CheckSpec) (*provider.Check, error) {
	h, ok := inst.Handler.(*instanceHandler)
	if !ok {
		return nil, errors.New("hana: instance handler has the wrong type")
	}
	c := &checkHandler{inst: inst, hana: h}
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
// provider.QueryResultHandler for every HANA check action.
type checkHandler struct {
	inst  *provider.Instance
	hana  *instanceHandler
	check *provider.Check

	lastResult       provider.QueryResult
	colTimeGenerated string
}

// ColTimeGenerated implements provider.CheckHandler.
func (c *checkHandler) ColTimeGenerated() string {
	if c.colTimeGenerated == "" {
		return colServerUTC
	}
	return c.colTimeGenerated
}

// LastResult implements provider.QueryResultHandler.
func (c *checkHandler) LastResult() provider.QueryResult { return c.lastResult }

// RunAction implements provider.CheckHandler.
func (c *checkHandler) RunAction(ctx context.Context, action provider.Action) error {
	switch action.Type {
	case "executeSql":
		return c.executeSql(ctx, action.Parameters)
	case "multiExecuteSql":
		return c.multiExecuteSql(ctx, action.Parameters)
	case "parseHostConfig":
		return c.parseHostConfig(ctx, action.Parameters)
	case "probeSqlConnection":
		return c.probeSqlConnection(ctx, action.Parameters)
	case "checkHana":
		return c.checkHana(ctx)
	default:
		return errs.New(errs.InvalidProperties, errors.Errorf("hana: unknown action type %q", action.Type))
	}
}

// executeSql runs one query against the preferred host, applying the
// server-timestamp rewrite and time-series placeholder substitution.
func (c *checkHandler) executeSql(ctx context.Context, params map[string]interface{}) error {
	query, _ := params["sql"].(string)
	if query == "" {
		return errs.New(errs.InvalidProperties, errors.New("executeSql requires a sql parameter"))
	}
	isTimeSeries, _ := params["isTimeSeries"].(bool)
	initialTimespanSecs := 60
	if v, ok := params["initialTimespanSecs"].(float64); ok {
		initialTimespanSecs = int(v)
	}

	if isTimeSeries {
		c.colTimeGenerated = colTimeseriesUTC
	} else {
		c.colTimeGenerated = colServerUTC
	}

	stmt := prepareSQL(query, isTimeSeries, initialTimespanSecs, c.check.State.LastRunServer)

	db, host, err := c.connectPreferred(host0(c.inst))
	if err != nil {
		return errs.New(errs.ActionFailed, err)
	}
	defer db.Close()

	result, err := runQuery(ctx, db, stmt)
	if err != nil {
		return errs.New(errs.ActionFailed, errors.Wrapf(err, "executeSql against %s", host))
	}
	c.lastResult = result
	return nil
}

// multiExecuteSql runs executeSql's prepared statement against every
// currently-up host from state.hostConfig, tagging each row with the
// originating host, for checks that need a fleet-wide view rather
// than a single connection's.
func (c *checkHandler) multiExecuteSql(ctx context.Context, params map[string]interface{}) error {
	query, _ := params["sql"].(string)
	if query == "" {
		return errs.New(errs.InvalidProperties, errors.New("multiExecuteSql requires a sql parameter"))
	}
	isTimeSeries, _ := params["isTimeSeries"].(bool)
	initialTimespanSecs := 60
	if v, ok := params["initialTimespanSecs"].(float64); ok {
		initialTimespanSecs = int(v)
	}
	if isTimeSeries {
		c.colTimeGenerated = colTimeseriesUTC
	} else {
		c.colTimeGenerated = colServerUTC
	}

	stmt := prepareSQL(query, isTimeSeries, initialTimespanSecs, c.check.State.LastRunServer)

	hosts := activeHosts(c.inst)
	if len(hosts) == 0 {
		hosts = []hostEntry{{Host: c.hana.hostname, Active: true}}
	}

	merged := provider.QueryResult{}
	var lastErr error
	for _, he := range hosts {
		db, err := c.hana.open(he.Host, c.hana.port)
		if err != nil {
			lastErr = err
			continue
		}
		result, err := runQuery(ctx, db, stmt)
		db.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if merged.ColIndex == nil {
			merged.ColIndex = result.ColIndex
			// ORIGIN_HOST must not start with "_": internal columns are
			// elided from emitted records, and the whole point of this
			// action is that the host tag reaches the sink.
			merged.ColIndex["ORIGIN_HOST"] = len(result.ColIndex)
		}
		for _, row := range result.Rows {
			merged.Rows = append(merged.Rows, append(append([]interface{}{}, row...), he.Host))
		}
	}
	if merged.ColIndex == nil {
		return errs.New(errs.ActionFailed, errors.Wrap(lastErr, "multiExecuteSql: every host failed"))
	}
	c.lastResult = merged
	return nil
}

// parseHostConfig consumes the last result of a host-configuration
// query (columns HOST, role-like indicators) and stores a minimal
// [{host, active, role}] list into the instance's persisted state.
func (c *checkHandler) parseHostConfig(ctx context.Context, params map[string]interface{}) error {
	query, _ := params["sql"].(string)
	if query == "" {
		query = "SELECT HOST, ACTIVE_STATUS, SERVICE_NAME FROM M_LANDSCAPE_HOST_CONFIGURATION"
	}
	db, _, err := c.connectPreferred(host0(c.inst))
	if err != nil {
		return errs.New(errs.ActionFailed, err)
	}
	defer db.Close()

	result, err := runQuery(ctx, db, query)
	if err != nil {
		return errs.New(errs.ActionFailed, err)
	}
	c.lastResult = result

	hostIdx, hasHost := result.ColIndex["HOST"]
	if !hasHost {
		return errs.New(errs.ActionFailed, errors.New("parseHostConfig: result has no HOST column"))
	}
	activeIdx, hasActive := result.ColIndex["ACTIVE_STATUS"]
	roleIdx, hasRole := result.ColIndex["SERVICE_NAME"]

	var hosts []hostEntry
	for _, row := range result.Rows {
		he := hostEntry{Host: fmt.Sprintf("%v", row[hostIdx])}
		if hasActive {
			he.Active = fmt.Sprintf("%v", row[activeIdx]) == "YES"
		} else {
			he.Active = true
		}
		if hasRole {
			he.Role = fmt.Sprintf("%v", row[roleIdx])
		}
		hosts = append(hosts, he)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Host < hosts[j].Host })

	if c.inst.State == nil {
		c.inst.State = map[string]interface{}{}
	}
	c.inst.State["hostConfig"] = hosts
	return nil
}

// probeSqlConnection attempts a connection to the index-server port of
// every host in stored order, recording up/down and latency per host.
func (c *checkHandler) probeSqlConnection(ctx context.Context, params map[string]interface{}) error {
	timeout := timeoutHana
	if v, ok := params["probeTimeout"].(float64); ok {
		timeout = time.Duration(v * float64(time.Second))
	}

	hosts := hostList(c.inst)
	if len(hosts) == 0 {
		hosts = []hostEntry{{Host: c.hana.hostname, Active: true}}
	}

	colIndex := map[string]int{colLocalUTC: 0, "host": 1, "success": 2, "latency_ms": 3}
	var rows [][]interface{}
	for _, he := range hosts {
		localUTC := time.Now().UTC()
		start := time.Now()
		success, errClass := probeOne(ctx, c.hana, he.Host, timeout)
		latency := time.Since(start)

		var latencyMs interface{}
		if success {
			latencyMs = float64(latency.Milliseconds())
		} else {
			latencyMs = nil
		}
		if errClass == classUnknown {
			// An unrecognized error is treated as an action failure per
			// the strict error-classification table, not silently
			// folded into "down".
			return errs.New(errs.ActionFailed, errors.Errorf("probeSqlConnection: unrecognized error for host %s", he.Host))
		}
		rows = append(rows, []interface{}{localUTC, he.Host, success, latencyMs})
	}
	c.lastResult = provider.QueryResult{ColIndex: colIndex, Rows: rows}
	c.colTimeGenerated = colLocalUTC
	return nil
}

// checkHana is a lightweight liveness probe distinct from Validate:
// validate gates onboarding/provider-add, checkHana is a regular
// recurring check so operators get a connectivity timeseries.
func (c *checkHandler) checkHana(ctx context.Context) error {
	db, host, err := c.connectPreferred(host0(c.inst))
	localUTC := time.Now().UTC()
	colIndex := map[string]int{colLocalUTC: 0, "host": 1, "success": 2}
	if err != nil {
		c.lastResult = provider.QueryResult{ColIndex: colIndex, Rows: [][]interface{}{{localUTC, host, false}}}
		c.colTimeGenerated = colLocalUTC
		return nil
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, timeoutHana)
	defer cancel()
	_, qerr := db.ExecContext(ctx, "SELECT 1 FROM DUMMY")
	c.lastResult = provider.QueryResult{ColIndex: colIndex, Rows: [][]interface{}{{localUTC, host, qerr == nil}}}
	c.colTimeGenerated = colLocalUTC
	return nil
}

// connectPreferred opens a connection using the stored host-config
// order when present, otherwise the configured hostname; the first
// host that accepts a connection wins.
func (c *checkHandler) connectPreferred(fallback string) (*sql.DB, string, error) {
	hosts := hostList(c.inst)
	if len(hosts) == 0 {
		db, err := c.hana.open(fallback, c.hana.port)
		return db, fallback, err
	}
	var lastErr error
	for _, he := range hosts {
		db, err := c.hana.open(he.Host, c.hana.port)
		if err != nil {
			lastErr = err
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeoutHana)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return db, he.Host, nil
		}
		db.Close()
		lastErr = err
	}
	return nil, "", errors.Wrap(lastErr, "no configured host accepted a connection")
}

func host0(inst *provider.Instance) string {
	h, ok := inst.Handler.(*instanceHandler)
	if !ok {
		return ""
	}
	return h.hostname
}

// hostList returns the stored hostConfig in its persisted order, or
// nil when no probe has run yet.
func hostList(inst *provider.Instance) []hostEntry {
	raw, ok := inst.State["hostConfig"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []hostEntry:
		return v
	case []interface{}:
		var out []hostEntry
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			he := hostEntry{}
			if s, ok := m["host"].(string); ok {
				he.Host = s
			}
			if b, ok := m["active"].(bool); ok {
				he.Active = b
			}
			if s, ok := m["role"].(string); ok {
				he.Role = s
			}
			out = append(out, he)
		}
		return out
	default:
		return nil
	}
}

func activeHosts(inst *provider.Instance) []hostEntry {
	var out []hostEntry
	for _, he := range hostList(inst) {
		if he.Active {
			out = append(out, he)
		}
	}
	return out
}

// prepareSQL inserts the server-timestamp projection immediately after
// the first " FROM" (a literal-string rewrite, never applied twice),
// and for time-series checks substitutes {lastRunServerUtc}.
func prepareSQL(query string, isTimeSeries bool, initialTimespanSecs int, lastRunServer *time.Time) string {
	insertion := ", CURRENT_UTCTIMESTAMP AS " + colServerUTC + " FROM DUMMY,"
	out := replaceFirst(query, " FROM", insertion)

	if isTimeSeries {
		var lastRunServerUtc string
		if lastRunServer == nil {
			lastRunServerUtc = fmt.Sprintf("ADD_SECONDS(NOW(), i.VALUE*(-1) - %d)", initialTimespanSecs)
		} else {
			lastRunServerUtc = "'" + lastRunServer.UTC().Format(timeFormatHana) + "'"
		}
		out = replaceFirst(out, "{lastRunServerUtc}", lastRunServerUtc)
	}
	return out
}

func replaceFirst(s, old, new string) string {
	idx := strings.Index(s, old)
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func runQuery(ctx context.Context, db *sql.DB, query string) (provider.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutHana)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return provider.QueryResult{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return provider.QueryResult{}, err
	}
	colIndex := make(map[string]int, len(cols))
	for i, c := range cols {
		colIndex[c] = i
	}

	var out [][]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return provider.QueryResult{}, err
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return provider.QueryResult{}, err
	}
	return provider.QueryResult{ColIndex: colIndex, Rows: out}, nil
}
