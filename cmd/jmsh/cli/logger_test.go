// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.name)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", test.name, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestNewLoggerPipedIsJSON(t *testing.T) {
	t.Parallel()
	var output bytes.Buffer
	logger, err := newLogger(&output, false, "info")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	logger.Info("agent listening", "socket", "/tmp/a.sock")

	var record map[string]any
	if err := json.Unmarshal(output.Bytes(), &record); err != nil {
		t.Fatalf("log output is not one JSON record: %v\n%s", err, output.String())
	}
	if record["msg"] != "agent listening" || record["socket"] != "/tmp/a.sock" {
		t.Errorf("record = %v", record)
	}
}

func TestNewLoggerTerminalIsText(t *testing.T) {
	t.Parallel()
	var output bytes.Buffer
	logger, err := newLogger(&output, true, "debug")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("room created", "room", "r1")
	if !strings.Contains(output.String(), "msg=\"room created\" room=r1") {
		t.Errorf("text output = %q", output.String())
	}
}

func TestToolErrorExitCodes(t *testing.T) {
	t.Parallel()
	underlying := errors.New("no route")
	err := Transient("dialing agent: %w", underlying).WithHint("start jmsh-agent")

	if !errors.Is(err, underlying) {
		t.Error("ToolError does not unwrap")
	}
	if err.ExitCode() != 5 || err.Hint() != "start jmsh-agent" {
		t.Errorf("ExitCode = %d, Hint = %q", err.ExitCode(), err.Hint())
	}
	if Validation("x").ExitCode() != 2 || Internal("x").ExitCode() != 1 {
		t.Error("unexpected exit codes")
	}
}
