/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

type LibraryConfig struct {
	OfficialArchive   string `yaml:"official_archive" json:"official_archive"`
	UnofficialArchive string `yaml:"unofficial_archive" json:"unofficial_archive"`
	PartsDir          string `yaml:"parts_dir" json:"parts_dir"`
	CacheDir          string `yaml:"cache_dir" json:"cache_dir"`
	Workers           int    `yaml:"workers" json:"workers"`
	Watch             bool   `yaml:"watch" json:"watch"`
	MeshCacheMaxBytes int64  `yaml:"mesh_cache_max_bytes" json:"mesh_cache_max_bytes"`
}

type EditorConfig struct {
	UndoMaxDepth  int    `yaml:"undo_max_depth" json:"undo_max_depth"`
	UndoMaxBytes  int    `yaml:"undo_max_bytes" json:"undo_max_bytes"`
	SelectionMode string `yaml:"selection_mode" json:"selection_mode"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Source bool   `yaml:"source" json:"source"`
	File   string `yaml:"file" json:"file"`
}

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are read-only overrides applied at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version" json:"config_version"`
	Library       LibraryConfig `yaml:"library" json:"library"`
	Editor        EditorConfig  `yaml:"editor" json:"editor"`
	Logging       LoggingConfig `yaml:"logging" json:"logging"`
}

//go:embed config.schema.json
var schemaJSON []byte

var ErrInvalidConfig = errors.New("invalid config")

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Library:       LibraryConfig{CacheDir: defaultCacheDir(), MeshCacheMaxBytes: 256 << 20},
		Editor:        EditorConfig{UndoMaxDepth: 100, UndoMaxBytes: 64 << 20, SelectionMode: "single"},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvOfficialArchive   = "BCAD_OFFICIAL_ARCHIVE"
	EnvUnofficialArchive = "BCAD_UNOFFICIAL_ARCHIVE"
	EnvPartsDir          = "BCAD_PARTS_DIR"
	EnvCacheDir          = "BCAD_CACHE_DIR"
	EnvWorkers           = "BCAD_WORKERS"
	EnvSelectionMode     = "BCAD_SELECTION_MODE"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "BCAD_LOG_LEVEL"
	EnvLogFormat = "BCAD_LOG_FORMAT"
	EnvLogSource = "BCAD_LOG_SOURCE"
	EnvLogFile   = "BCAD_LOG_FILE"
	// EnvConfigFile points Load and Save at another file.
	EnvConfigFile = "BCAD_CONFIG"
)

func appDir(goos string) (string, error) {
	var base string
	switch goos {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(base, "BrickCAD"), nil
	case "darwin":
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "BrickCAD"), nil
	default: // linux and others
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "brickcad"), nil
	}
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return homedir.Expand(p)
	}
	dir, err := appDir(runtime.GOOS)
	if err != nil {
		return "", fmt.Errorf("cannot resolve config directory: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "brickcad")
	}
	return ""
}

// Load reads the user config file (if present), applies defaults, merges environment overrides,
// expands "~" in paths and validates the result.
func Load() (AppConfig, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := expandPaths(&cfg); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the user config YAML.
func Save(cfg AppConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks cfg against the embedded JSON schema.
func Validate(cfg AppConfig) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(cfg))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func expandPaths(cfg *AppConfig) error {
	for _, p := range []*string{
		&cfg.Library.OfficialArchive, &cfg.Library.UnofficialArchive,
		&cfg.Library.PartsDir, &cfg.Library.CacheDir, &cfg.Logging.File,
	} {
		v, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = v
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// library
	setString(&dst.Library.OfficialArchive, src.Library.OfficialArchive)
	setString(&dst.Library.UnofficialArchive, src.Library.UnofficialArchive)
	setString(&dst.Library.PartsDir, src.Library.PartsDir)
	setString(&dst.Library.CacheDir, src.Library.CacheDir)
	if src.Library.Workers != 0 {
		dst.Library.Workers = src.Library.Workers
	}
	dst.Library.Watch = src.Library.Watch
	if src.Library.MeshCacheMaxBytes != 0 {
		dst.Library.MeshCacheMaxBytes = src.Library.MeshCacheMaxBytes
	}
	// editor
	if src.Editor.UndoMaxDepth != 0 {
		dst.Editor.UndoMaxDepth = src.Editor.UndoMaxDepth
	}
	if src.Editor.UndoMaxBytes != 0 {
		dst.Editor.UndoMaxBytes = src.Editor.UndoMaxBytes
	}
	if strings.TrimSpace(src.Editor.SelectionMode) != "" {
		dst.Editor.SelectionMode = strings.ToLower(strings.TrimSpace(src.Editor.SelectionMode))
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	setString(&dst.Logging.File, src.Logging.File)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	for env, dst := range map[string]*string{
		EnvOfficialArchive:   &cfg.Library.OfficialArchive,
		EnvUnofficialArchive: &cfg.Library.UnofficialArchive,
		EnvPartsDir:          &cfg.Library.PartsDir,
		EnvCacheDir:          &cfg.Library.CacheDir,
		EnvLogFile:           &cfg.Logging.File,
	} {
		setString(dst, os.Getenv(env))
	}
	if v := strings.TrimSpace(os.Getenv(EnvWorkers)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Library.Workers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvSelectionMode)); v != "" {
		cfg.Editor.SelectionMode = strings.ToLower(v)
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := map[string]string{
		"library.official_archive":   EnvOfficialArchive,
		"library.unofficial_archive": EnvUnofficialArchive,
		"library.parts_dir":          EnvPartsDir,
		"library.cache_dir":          EnvCacheDir,
		"library.workers":            EnvWorkers,
		"editor.selection_mode":      EnvSelectionMode,
		"logging.level":              EnvLogLevel,
		"logging.format":             EnvLogFormat,
		"logging.source":             EnvLogSource,
		"logging.file":               EnvLogFile,
	}[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}
