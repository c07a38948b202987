/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package crash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport(nil, "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	defer func() { _ = os.Remove(path) }()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "BrickCAD Crash Report") {
		t.Fatalf("report header missing")
	}
	if !strings.Contains(s, "Panic: boom") {
		t.Fatalf("panic content missing: %s", s)
	}
}

func TestWriteReportCreatesFileNextToDocument(t *testing.T) {
	root := t.TempDir()
	doc := &Document{Path: filepath.Join(root, "house.ldr")}

	path, err := writeReport(doc, "kaboom", []byte("stack"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(root, BackupsDirName) {
		t.Fatalf("expected crash report under backups dir, got %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	if !strings.Contains(string(b), "Document: "+doc.Path) {
		t.Fatalf("document path missing: %s", b)
	}
}

func TestAutosaveUsesRecoverSuffix(t *testing.T) {
	root := t.TempDir()
	doc := &Document{Path: filepath.Join(root, "car.mpd"), Snapshot: func() []byte { return []byte("0 FILE car.mpd\r\n") }}
	path, err := autosave(doc)
	if err != nil {
		t.Fatalf("autosave: %v", err)
	}
	if filepath.Base(path) != "car.recover.mpd" {
		t.Fatalf("unexpected name %s", path)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "0 FILE car.mpd\r\n" {
		t.Fatalf("snapshot content = %q", b)
	}
}
