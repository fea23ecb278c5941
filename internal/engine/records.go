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

package engine

import (
	"crypto/md5" //nolint:gosec // change-detection only, never a security boundary.
	"fmt"
	"strings"
	"time"

	"github.com/Azure/sapmon/internal/provider"
	"github.com/Azure/sapmon/internal/version"
)

// buildGenericRecords assembles records from row-shaped results (HANA,
// MSSQL): every non-internal column of every row becomes one record
// field, seeded with the identity fields every check emits regardless
// of provider type. Columns starting with "_" or named DUMMY are
// elided unless the column is the check's TimeGenerated column.
func buildGenericRecords(check *provider.Check, result provider.QueryResult) []provider.Record {
	records := make([]provider.Record, 0, len(result.Rows))
	for _, row := range result.Rows {
		rec := provider.Record{
			"CONTENT_VERSION":   check.Instance.ContentVersion,
			"SAPMON_VERSION":    version.Version,
			"PROVIDER_INSTANCE": check.Instance.Name,
			"METADATA":          check.Instance.Metadata,
		}
		for col, idx := range result.ColIndex {
			if col != check.Handler.ColTimeGenerated() && (strings.HasPrefix(col, "_") || col == "DUMMY") {
				continue
			}
			rec[col] = row[idx]
		}
		records = append(records, rec)
	}
	return records
}

// applyGenericStateUpdate advances lastRunLocal/lastRunServer from the
// result's internal timestamp columns: lastRunLocal from the first
// row's _LOCAL_UTC (falling back to now), lastRunServer from the last
// row's _TIMESERIES_UTC or else the first row's _SERVER_UTC.
func applyGenericStateUpdate(check *provider.Check, result provider.QueryResult, now time.Time) {
	localIdx, hasLocal := result.ColIndex["_LOCAL_UTC"]
	if hasLocal && len(result.Rows) > 0 {
		if t, ok := asTime(result.Rows[0][localIdx]); ok {
			check.State.LastRunLocal = &t
		} else {
			check.State.LastRunLocal = &now
		}
	} else {
		check.State.LastRunLocal = &now
	}

	if len(result.Rows) == 0 {
		return
	}

	if tsIdx, ok := result.ColIndex["_TIMESERIES_UTC"]; ok {
		last := result.Rows[len(result.Rows)-1]
		if t, ok := asTime(last[tsIdx]); ok {
			check.State.LastRunServer = &t
		}
	} else if srvIdx, ok := result.ColIndex["_SERVER_UTC"]; ok {
		first := result.Rows[0]
		if t, ok := asTime(first[srvIdx]); ok {
			check.State.LastRunServer = &t
		}
	}

	check.State.LastResultHash = resultHash(result.Rows)
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}

// resultHash is used only for change detection. An empty result
// hashes to "".
func resultHash(rows [][]interface{}) string {
	if len(rows) == 0 {
		return ""
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%v", rows)))
	return fmt.Sprintf("%x", sum)
}
