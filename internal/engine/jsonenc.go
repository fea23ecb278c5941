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
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/Azure/sapmon/internal/provider"
)

// timeFormatJSON is the wire timestamp format for every emitted
// date/datetime value.
const timeFormatJSON = "2006-01-02T15:04:05.000000Z"

// encodeRecords renders records with the sink's encoding rules:
// decimals as IEEE floats, dates in timeFormatJSON, byte buffers as
// upper-case hex with a 0x prefix, keys sorted. An empty slice still
// produces a well-formed (empty) JSON array.
func encodeRecords(records []provider.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		enc, err := encodeRecord(r)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func encodeRecord(r provider.Record) ([]byte, error) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := encodeValue(r[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeValue(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case time.Time:
		return json.Marshal(t.UTC().Format(timeFormatJSON))
	case *time.Time:
		if t == nil {
			return []byte("null"), nil
		}
		return json.Marshal(t.UTC().Format(timeFormatJSON))
	case []byte:
		return json.Marshal(fmt.Sprintf("0x%X", t))
	case *big.Rat:
		f, _ := t.Float64()
		return json.Marshal(f)
	case *big.Float:
		f, _ := t.Float64()
		return json.Marshal(f)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := encodeValue(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return json.Marshal(v)
	}
}
