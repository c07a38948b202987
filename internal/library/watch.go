/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reports changes to the configured archives and parts directory until ctx is done.
// fn runs on the watcher goroutine with the changed path; callers usually Load again.
func (l *Library) Watch(ctx context.Context, fn func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	archives := map[string]bool{}
	dirs := map[string]bool{}
	for _, a := range []string{l.opts.OfficialArchive, l.opts.UnofficialArchive} {
		if a == "" {
			continue
		}
		archives[filepath.Clean(a)] = true
		dirs[filepath.Dir(filepath.Clean(a))] = true
	}
	var partsRoot string
	if l.opts.PartsDir != "" {
		partsRoot = filepath.Clean(l.opts.PartsDir)
		for _, sub := range []string{"", "parts", "p", filepath.Join("parts", "s")} {
			dirs[filepath.Join(partsRoot, sub)] = true
		}
	}
	added := 0
	for d := range dirs {
		if err := w.Add(d); err != nil {
			l.log.Debug("watch skipped", slog.String("dir", d), slog.Any("err", err))
			continue
		}
		added++
	}
	if added == 0 {
		_ = w.Close()
		return fmt.Errorf("watch: no library location could be watched")
	}

	relevant := func(p string) bool {
		p = filepath.Clean(p)
		if archives[p] {
			return true
		}
		return partsRoot != "" && strings.HasPrefix(p, partsRoot+string(filepath.Separator))
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if relevant(ev.Name) {
					l.log.Debug("library changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
					fn(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn("watcher error", slog.Any("err", err))
			}
		}
	}()
	return nil
}
