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

// Package version holds build-time identity of the sapmon agent binary.
package version

// Version is the agent build version, embedded verbatim into the
// SAPMON_VERSION field of every row-shaped (HANA, MSSQL) record and the
// sapmon_version label of the Prometheus provider's sapmon record, and
// sent as part of the User-Agent header on calls to the metadata
// service.
var Version = "0.1.0"

// UserAgent returns the User-Agent string used for metadata-service
// calls, matching the format the IMDS client expects:
// "SAP Monitor/<version> (<operation>)".
func UserAgent(operation string) string {
	return "SAP Monitor/" + Version + " (" + operation + ")"
}
