/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package log

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"os"
	"strings"
	"testing"
)

// TestInitWritesJSONFile verifies the file sink receives JSON records carrying static and contextual attrs.
func TestInitWritesJSONFile(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "brickcad.log")
	Init(Options{Level: "debug", Format: "json", File: fpath})
	t.Cleanup(func() { Init(Options{Level: "error"}) })

	l := WithOperation(WithComponent("library"), "load")
	l.Info("scan finished", slog.Int("pieces", 3))

	b, err := os.ReadFile(fpath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var last string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			last = s
		}
	}
	if last == "" {
		t.Fatalf("no log lines found")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["app"] != "brickcad" {
		t.Fatalf("app attr = %v", m["app"])
	}
	if m["component"] != "library" || m["op"] != "load" {
		t.Fatalf("context attrs = %v / %v", m["component"], m["op"])
	}
	if m["pieces"] != float64(3) {
		t.Fatalf("pieces attr = %v", m["pieces"])
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "warn")
	t.Setenv(EnvFormat, "json")
	t.Setenv(EnvSource, "TRUE")
	t.Setenv(EnvFile, "")
	o := FromEnv()
	if o.Level != "warn" || o.Format != "json" || !o.AddSource || o.File != "" {
		t.Fatalf("unexpected options: %+v", o)
	}
}

func TestConsoleHandlerFormatsGroupsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	h := &consoleHandler{w: &buf, level: slog.LevelInfo}
	l := slog.New(h).With(slog.String("component", "model")).WithGroup("doc")
	l.Debug("dropped")
	l.Warn("cycle", slog.String("name", "a.ldr"), slog.Group("pos", slog.Float64("x", 1.5)))

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug record should be filtered: %q", out)
	}
	for _, want := range []string{"WRN cycle", "component=model", "doc.name=a.ldr", "doc.pos.x=1.5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestFanoutHonoursPerHandlerLevel(t *testing.T) {
	var a, b bytes.Buffer
	f := fanout{
		&consoleHandler{w: &a, level: slog.LevelDebug},
		&consoleHandler{w: &b, level: slog.LevelError},
	}
	if !f.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("fanout should be enabled when any sink is")
	}
	slog.New(f).Info("only first")
	if !strings.Contains(a.String(), "only first") || b.Len() != 0 {
		t.Fatalf("a=%q b=%q", a.String(), b.String())
	}
}

func TestConsoleHandlerWritesSourceLocation(t *testing.T) {
	var buf bytes.Buffer
	h := &consoleHandler{w: &buf, level: slog.LevelInfo, source: true}
	slog.New(h).Info("placed")

	out := buf.String()
	if !strings.Contains(out, "src=") || !strings.Contains(out, "logger_test.go:") {
		t.Fatalf("missing source location in %q", out)
	}
}
