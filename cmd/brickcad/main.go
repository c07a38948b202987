/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"brickcad/internal/config"
	"brickcad/internal/crash"
	"brickcad/internal/export"
	"brickcad/internal/library"
	applog "brickcad/internal/log"
	"brickcad/internal/model"
	"brickcad/internal/version"
)

func usage() {
	fmt.Println("BrickCAD document tool")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  brickcad version|-v|--version          Show version")
	fmt.Println("  brickcad info <file>                   Print a summary of an .ldr/.mpd document")
	fmt.Println("  brickcad normalize <in> <out>          Load and re-save a document in canonical form")
	fmt.Println("  brickcad bom <file> <out.csv|out.pdf>  Write the bill of materials")
	fmt.Println("  brickcad index [--watch]               Scan the parts library and refresh the cache")
}

func main() {
	cfg, cfgErr := config.Load()
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	l := applog.WithComponent("cli")
	if cfgErr != nil {
		l.Warn("config not loaded, using defaults", slog.Any("err", cfgErr))
		cfg = config.Defaults()
	}

	doc := &crash.Document{}
	defer crash.Recover(doc)

	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) < 2 {
		usage()
		return
	}
	var err error
	switch args[1] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return
	case "info":
		if len(args) < 3 {
			fmt.Println("info requires <file>")
			usage()
			os.Exit(2)
		}
		err = runInfo(cfg, doc, args[2])
	case "normalize":
		if len(args) < 4 {
			fmt.Println("normalize requires <in> and <out>")
			usage()
			os.Exit(2)
		}
		err = runNormalize(cfg, doc, args[2], args[3])
	case "bom":
		if len(args) < 4 {
			fmt.Println("bom requires <file> and <out>")
			usage()
			os.Exit(2)
		}
		err = runBOM(cfg, doc, args[2], args[3])
	case "index":
		watch := len(args) > 2 && args[2] == "--watch"
		err = runIndex(cfg, watch || cfg.Library.Watch)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		l.Error(args[1]+" failed", slog.Any("err", err))
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func openLibrary(cfg config.AppConfig, projectFolder string) (*library.Library, error) {
	lib, err := library.New(library.Options{
		OfficialArchive:   cfg.Library.OfficialArchive,
		UnofficialArchive: cfg.Library.UnofficialArchive,
		PartsDir:          cfg.Library.PartsDir,
		ProjectFolder:     projectFolder,
		CacheDir:          cfg.Library.CacheDir,
		Workers:           cfg.Library.Workers,
		MeshCacheMaxBytes: cfg.Library.MeshCacheMaxBytes,
	})
	if err != nil {
		return nil, err
	}
	if err := lib.Load(context.Background()); err != nil {
		_ = lib.Close()
		return nil, err
	}
	return lib, nil
}

func modelOptions(cfg config.AppConfig) model.Options {
	mode, err := model.ParseSelectionMode(cfg.Editor.SelectionMode)
	if err != nil {
		mode = model.SelectSingle
	}
	return model.Options{
		UndoMaxDepth:  cfg.Editor.UndoMaxDepth,
		UndoMaxBytes:  cfg.Editor.UndoMaxBytes,
		SelectionMode: mode,
	}
}

// openProject loads path into a fresh project. The caller closes both results.
func openProject(cfg config.AppConfig, doc *crash.Document, path string) (*library.Library, *model.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, nil, err
	}
	lib, err := openLibrary(cfg, filepath.Dir(abs))
	if err != nil {
		return nil, nil, err
	}
	pr := model.NewProject(lib, modelOptions(cfg))
	if err := pr.Load(data); err != nil {
		pr.Close()
		_ = lib.Close()
		return nil, nil, err
	}
	doc.Path = abs
	doc.Snapshot = pr.Save
	return lib, pr, nil
}

func closeAll(lib *library.Library, pr *model.Project) {
	pr.Close()
	if err := lib.Close(); err != nil {
		applog.WithComponent("cli").Warn("library close failed", slog.Any("err", err))
	}
}

func runInfo(cfg config.AppConfig, doc *crash.Document, path string) error {
	lib, pr, err := openProject(cfg, doc, path)
	if err != nil {
		return err
	}
	defer closeAll(lib, pr)

	for _, m := range pr.Models() {
		props := m.Properties()
		name := props.Name
		if name == "" {
			name = filepath.Base(path)
		}
		fmt.Printf("Model: %s\n", name)
		if props.Author != "" {
			fmt.Printf("  Author: %s\n", props.Author)
		}
		if props.Description != "" {
			fmt.Printf("  Description: %s\n", props.Description)
		}
		fmt.Printf("  Pieces: %d\n", len(m.Pieces()))
		fmt.Printf("  Steps: %d\n", m.LastStep())
		fmt.Printf("  Groups: %d\n", len(m.Groups()))
		fmt.Printf("  Cameras: %d  Lights: %d\n", len(m.Cameras()), len(m.Lights()))
		if box := m.BoundingBox(); !box.IsEmpty() {
			fmt.Printf("  Bounds: (%g, %g, %g) - (%g, %g, %g)\n",
				box.Min.X, box.Min.Y, box.Min.Z, box.Max.X, box.Max.Y, box.Max.Z)
		}
	}
	st := lib.Stats()
	fmt.Printf("Library: %d parts, %d pieces resolved, %d missing\n", st.Parts, st.Records, st.Missing)
	return nil
}

func runNormalize(cfg config.AppConfig, doc *crash.Document, in, out string) error {
	lib, pr, err := openProject(cfg, doc, in)
	if err != nil {
		return err
	}
	defer closeAll(lib, pr)

	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(out, pr.Save(), 0o644); err != nil {
		return err
	}
	pr.MarkSaved()
	fmt.Println("Wrote", out)
	return nil
}

func runBOM(cfg config.AppConfig, doc *crash.Document, in, out string) error {
	if _, err := export.FormatFor(out); err != nil {
		return err
	}
	lib, pr, err := openProject(cfg, doc, in)
	if err != nil {
		return err
	}
	defer closeAll(lib, pr)

	m := pr.ActiveModel()
	title := m.Name()
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	}
	entries := export.PartsList(m)
	if err := export.WriteFile(out, title, entries); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d parts)\n", out, export.Total(entries))
	return nil
}

func runIndex(cfg config.AppConfig, watch bool) error {
	lib, err := openLibrary(cfg, "")
	if err != nil {
		return err
	}
	defer func() { _ = lib.Close() }()
	fmt.Printf("Indexed %d parts\n", len(lib.Parts()))
	if !watch {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	changed := make(chan string, 1)
	if err := lib.Watch(ctx, func(path string) {
		select {
		case changed <- path:
		default:
		}
	}); err != nil {
		return err
	}
	fmt.Println("Watching library for changes, press Ctrl+C to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-changed:
			if err := lib.Load(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, library.ErrCanceled) {
				return err
			}
			fmt.Printf("Reindexed after change to %s: %d parts\n", path, len(lib.Parts()))
		}
	}
}
