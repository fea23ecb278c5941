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
	"strings"
	"time"
)

type probeClass int

const (
	classUp probeClass = iota
	classDown
	classUnknown
)

// upMarkers and downMarkers classify a connection error: stand-by
// nodes refuse SQL but the nameserver still answers, so those errors
// count as "up".
var upMarkers = []string{"89008", "socket closed"}
var downMarkers = []string{"89001", "cannot resolve host name", "89006", "connection refused", "timeout expired"}

// probeOne attempts a connection to host's index-server port and
// classifies the outcome. success is true only for classUp.
func probeOne(ctx context.Context, h *instanceHandler, host string, timeout time.Duration) (success bool, class probeClass) {
	db, err := h.open(host, h.port)
	if err != nil {
		return classifyErr(err)
	}
	defer db.Close()

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		return classifyErr(err)
	}
	return true, classUp
}

func classifyErr(err error) (bool, probeClass) {
	msg := strings.ToLower(err.Error())
	for _, m := range upMarkers {
		if strings.Contains(msg, strings.ToLower(m)) {
			return true, classUp
		}
	}
	for _, m := range downMarkers {
		if strings.Contains(msg, strings.ToLower(m)) {
			return false, classDown
		}
	}
	return false, classUnknown
}
