/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModePerform, cfg.Mode)
	assert.Equal(t, []string{"sounds.yml", "song.yml"}, cfg.Files)
	assert.Equal(t, "song", cfg.Entry)
	assert.Equal(t, 250*time.Millisecond, cfg.ReloadInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.PlayInterval)
	assert.Equal(t, BackendPortAudio, cfg.Audio.Backend)
	assert.Empty(t, cfg.NATS.URL, "remote rendering is off by default")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
source_dir: /srv/live
files: [drums.yml, song.yml]
reload_interval: 500ms
audio:
  backend: oto
  sample_rate: 48000
nats:
  url: nats://localhost:4222
`), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "/srv/live", cfg.SourceDir)
	assert.Equal(t, []string{"drums.yml", "song.yml"}, cfg.Files)
	assert.Equal(t, 500*time.Millisecond, cfg.ReloadInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.PlayInterval, "keys not in the file keep their value")
	assert.Equal(t, BackendOto, cfg.Audio.Backend)
	assert.Equal(t, 48000.0, cfg.Audio.SampleRate)
	assert.Equal(t, 512, cfg.Audio.BufferSize)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "loop-001", cfg.NATS.PerformerID)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	err := cfg.LoadFile(filepath.Join(dir, "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	unknown := filepath.Join(dir, "unknown.yml")
	require.NoError(t, os.WriteFile(unknown, []byte("tempo: 120\n"), 0o644))
	err = cfg.LoadFile(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tempo")

	empty := filepath.Join(dir, "empty.yml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.NoError(t, cfg.LoadFile(empty))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvSourceDir: "/tmp/live",
		EnvFiles:     "a.yml, b.yml,,",
		EnvBackend:   "null",
		EnvNATSURL:   "nats://hub:4222",
		EnvID:        "desk-2",
		EnvReload:    "1s",
		EnvPlay:      "0.05",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/live", cfg.SourceDir)
	assert.Equal(t, []string{"a.yml", "b.yml"}, cfg.Files)
	assert.Equal(t, BackendNull, cfg.Audio.Backend)
	assert.Equal(t, "nats://hub:4222", cfg.NATS.URL)
	assert.Equal(t, "desk-2", cfg.NATS.PerformerID)
	assert.Equal(t, time.Second, cfg.ReloadInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.PlayInterval)
	assert.Equal(t, "song", cfg.Entry, "unset variables change nothing")
}

func TestApplyEnv_BadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{EnvReload: "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvReload)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,b"))
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , "))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no files", func(c *Config) { c.Files = nil }, "no source files"},
		{"zero reload", func(c *Config) { c.ReloadInterval = 0 }, "reload interval"},
		{"negative play", func(c *Config) { c.PlayInterval = -time.Second }, "play interval"},
		{"empty entry", func(c *Config) { c.Entry = "" }, "entry"},
		{"unknown backend", func(c *Config) { c.Audio.Backend = "alsa" }, "alsa"},
		{"unknown mode", func(c *Config) { c.Mode = "dj" }, "dj"},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "sample rate"},
		{"synth without nats", func(c *Config) { c.Mode = ModeSynth }, "NATS URL"},
		{"synth without output", func(c *Config) {
			c.Mode = ModeSynth
			c.NATS.URL = "nats://localhost:4222"
			c.Audio.Backend = BackendNull
		}, "audio backend"},
		{"nats without id", func(c *Config) {
			c.NATS.URL = "nats://localhost:4222"
			c.NATS.PerformerID = ""
		}, "performer id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Files = nil
	cfg.Audio.Backend = "alsa"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source files")
	assert.Contains(t, err.Error(), "alsa")
}
