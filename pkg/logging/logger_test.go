// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "level(9)", Level(9).String())
}

func TestNew_ConsoleWriterAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Service: "test", Writer: &buf})

	l.Info("hidden")
	l.Warn("shown", "conversation_id", "c1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "conversation_id=c1")
	assert.Contains(t, out, "service=test")
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, JSON: true, Writer: &buf})
	l.Info("hello", "n", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"n":1`)
}

func TestNew_Exporter(t *testing.T) {
	exp := NewBufferedExporter()
	l := New(Config{Level: LevelInfo, Service: "architect", Quiet: true, Exporter: exp})

	l.Debug("too quiet")
	l.With("project_key", "p1").Warn("extraction error", "item_id", "m1")
	l.Slog().WithGroup("store").Error("save failed", "id", "s1")

	entries := exp.Entries()
	require.Len(t, entries, 2)

	assert.Equal(t, "extraction error", entries[0].Message)
	assert.Equal(t, LevelWarn, entries[0].Level)
	assert.Equal(t, "architect", entries[0].Service)
	assert.Equal(t, "p1", entries[0].Attrs["project_key"])
	assert.Equal(t, "m1", entries[0].Attrs["item_id"])
	assert.NotContains(t, entries[0].Attrs, "service")

	assert.Equal(t, "s1", entries[1].Attrs["store.id"])
	assert.Equal(t, []string{"save failed"}, exp.Messages(LevelError))
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Level: LevelInfo, Service: "svc", LogDir: dir, Quiet: true})
	l.Info("to file", "k", "v")
	require.NoError(t, l.Close())

	name := "svc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"to file"`))

	assert.NoError(t, l.Close(), "second close is a no-op")
}

func TestNop_DiscardsEverything(t *testing.T) {
	l := Nop()
	l.Error("nothing")
	assert.NoError(t, l.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".aleutian/logs"), expandPath("~/.aleutian/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}
