// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestLogFormatter(t *testing.T) {
	f := &LogFormatter{}
	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "route attempt failed\n",
		Data:    log.Fields{"request_id": "abcd1234", "provider": "p1", "attempt": 2},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	line := string(out)

	if !strings.HasPrefix(line, "[2026-01-02 03:04:05] [abcd1234] [warn ] route attempt failed |") {
		t.Errorf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "attempt=2, provider=p1") {
		t.Errorf("fields not rendered sorted: %q", line)
	}
	if strings.Count(line, "\n") != 1 {
		t.Errorf("expected exactly one newline: %q", line)
	}
}

func TestLogFormatterNoRequestID(t *testing.T) {
	f := &LogFormatter{}
	out, _ := f.Format(&log.Entry{Logger: log.New(), Level: log.InfoLevel, Message: "hello", Data: log.Fields{}})
	if !strings.Contains(string(out), "[--------]") {
		t.Errorf("expected placeholder request id: %q", out)
	}
}

func TestEnforceLogDirSize(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "orchestrator.log")
	old := filepath.Join(dir, "orchestrator-old.log")
	for _, p := range []string{old, active} {
		if err := os.WriteFile(p, make([]byte, 1024), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	_ = os.Chtimes(old, past, past)

	removed := enforceLogDirSize(dir, 1500, active)
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(active); err != nil {
		t.Error("active log file must never be removed")
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("oldest log should have been removed")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if RequestID(ctx) != "req-1" {
		t.Fatalf("request id not stored")
	}
	if RequestID(context.Background()) != "" {
		t.Error("expected empty id")
	}
	if FromContext(ctx).Data["request_id"] != "req-1" {
		t.Error("entry not tagged with request id")
	}
}
