/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	homedir.DisableCache = true
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvConfigFile, filepath.Join(home, "brickcad", "config.yaml"))
	for _, k := range []string{EnvOfficialArchive, EnvUnofficialArchive, EnvPartsDir, EnvCacheDir, EnvWorkers,
		EnvSelectionMode, EnvLogLevel, EnvLogFormat, EnvLogSource, EnvLogFile} {
		t.Setenv(k, "")
	}
	return home
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ConfigVersion)
	assert.Equal(t, "single", cfg.Editor.SelectionMode)
	assert.Equal(t, 100, cfg.Editor.UndoMaxDepth)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	isolate(t)
	cfg := Defaults()
	cfg.Library.PartsDir = "/srv/ldraw"
	cfg.Library.Workers = 4
	cfg.Library.Watch = true
	cfg.Library.MeshCacheMaxBytes = 1 << 20
	cfg.Editor.SelectionMode = "piece-color"
	require.NoError(t, Save(cfg))

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/ldraw", got.Library.PartsDir)
	assert.Equal(t, 4, got.Library.Workers)
	assert.True(t, got.Library.Watch)
	assert.Equal(t, int64(1<<20), got.Library.MeshCacheMaxBytes)
	assert.Equal(t, "piece-color", got.Editor.SelectionMode)
}

func TestEnvOverridesFileValues(t *testing.T) {
	home := isolate(t)
	path, err := ConfigPath()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("library:\n  parts_dir: /from/file\nlogging:\n  level: error\n"), 0o600))

	t.Setenv(EnvPartsDir, "~/ldraw")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvLogSource, "yes")
	t.Setenv(EnvWorkers, "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "ldraw"), cfg.Library.PartsDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Source)
	assert.Equal(t, 3, cfg.Library.Workers)

	env, ok := EnvOverrideFor("library.parts_dir")
	assert.True(t, ok)
	assert.Equal(t, EnvPartsDir, env)
	_, ok = EnvOverrideFor("library.cache_dir")
	assert.False(t, ok)
}

func TestValidateRejectsUnknownSelectionMode(t *testing.T) {
	cfg := Defaults()
	cfg.Editor.SelectionMode = "everything"
	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = Defaults()
	cfg.Library.Workers = -1
	assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)

	cfg = Defaults()
	cfg.Library.MeshCacheMaxBytes = -1
	assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	isolate(t)
	path, err := ConfigPath()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: xml\n"), 0o600))
	_, err = Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAppDirLinux(t *testing.T) {
	home := isolate(t)
	dir, err := appDir("linux")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "brickcad"), dir)
}
