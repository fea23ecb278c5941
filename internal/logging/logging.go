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

// Package logging wires up the agent's structured trace logger: a
// go-kit/log logger with timestamp and caller fields, filtered by
// level, writing to stderr and (when a trace directory is available) a
// rolling trace file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// traceFile appends newline-delimited log lines to a single file and
// truncates it to empty once it grows past maxBytes, giving
// the agent rolling-trace-file behavior without a dedicated rotation
// dependency.
type traceFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	maxBytes int64
}

const defaultMaxTraceBytes = 10 << 20 // 10MiB

func newTraceFile(path string) (*traceFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &traceFile{f: f, path: path, maxBytes: defaultMaxTraceBytes}, nil
}

func (t *traceFile) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.f.Write(p)
	if err != nil {
		return n, err
	}
	if fi, statErr := t.f.Stat(); statErr == nil && fi.Size() > t.maxBytes {
		_ = t.f.Truncate(0)
		_, _ = t.f.Seek(0, io.SeekStart)
	}
	return n, nil
}

func (t *traceFile) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Close()
}

// Logger is the agent's structured logger: go-kit/log with level
// filtering plus an optional rolling trace file sink.
type Logger struct {
	log.Logger
	trace *traceFile
}

// New builds a Logger writing to stderr, and additionally to
// <traceDir>/sapmon.trc when traceDir is non-empty. verbose lowers the
// filter from "info" to "debug", matching the --verbose flag shared by
// every subcommand.
func New(traceDir string, verbose bool) (*Logger, error) {
	var w io.Writer = os.Stderr
	var tf *traceFile
	if traceDir != "" {
		var err error
		tf, err = newTraceFile(filepath.Join(traceDir, "sapmon.trc"))
		if err != nil {
			return nil, fmt.Errorf("opening trace file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, tf)
	}

	logger := log.NewJSONLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	allowed := level.AllowInfo()
	if verbose {
		allowed = level.AllowDebug()
	}
	logger = level.NewFilter(logger, allowed)

	return &Logger{Logger: logger, trace: tf}, nil
}

// Close releases the trace file, if one was opened.
func (l *Logger) Close() error {
	if l.trace == nil {
		return nil
	}
	return l.trace.Close()
}

// Debug, Info, Warn, and Error are thin conveniences over go-kit's
// level helpers, matching the call shape used throughout the agent:
// logging.Info(logger, "msg", "...", "key", value).
func Debug(l log.Logger, keyvals ...interface{}) { _ = level.Debug(l).Log(keyvals...) }
func Info(l log.Logger, keyvals ...interface{})  { _ = level.Info(l).Log(keyvals...) }
func Warn(l log.Logger, keyvals ...interface{})  { _ = level.Warn(l).Log(keyvals...) }
func Error(l log.Logger, keyvals ...interface{}) { _ = level.Error(l).Log(keyvals...) }
