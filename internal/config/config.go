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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by AudioConfig.Backend
const (
	BackendPortAudio = "portaudio"
	BackendOto       = "oto"
	BackendNull      = "null"
)

// Modes accepted by Config.Mode
const (
	ModePerform = "perform"
	ModeSynth   = "synth"
)

// AudioConfig selects and shapes the local audio output
type AudioConfig struct {
	Backend    string  `yaml:"backend"`
	SampleRate float64 `yaml:"sample_rate"`
	BufferSize int     `yaml:"buffer_size"`
	MaxVoices  int     `yaml:"max_voices"`
	SamplesDir string  `yaml:"samples_dir"`
}

// NATSConfig enables remote rendering when URL is set
type NATSConfig struct {
	URL             string `yaml:"url"`
	PerformerID     string `yaml:"performer_id"`
	ConnectAttempts int    `yaml:"connect_attempts"`
}

// Config is the full runtime configuration of loqa-loop
type Config struct {
	Mode           string        `yaml:"mode"`
	SourceDir      string        `yaml:"source_dir"`
	Files          []string      `yaml:"files"`
	Entry          string        `yaml:"entry"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
	PlayInterval   time.Duration `yaml:"play_interval"`
	RecordPath     string        `yaml:"record_path"`
	Audio          AudioConfig   `yaml:"audio"`
	NATS           NATSConfig    `yaml:"nats"`
}

// Default returns the configuration used when nothing overrides it. The
// source directory is the working directory.
func Default() Config {
	return Config{
		Mode:           ModePerform,
		SourceDir:      ".",
		Files:          []string{"sounds.yml", "song.yml"},
		Entry:          "song",
		ReloadInterval: 250 * time.Millisecond,
		PlayInterval:   100 * time.Millisecond,
		Audio: AudioConfig{
			Backend:    BackendPortAudio,
			SampleRate: 44100,
			BufferSize: 512,
			MaxVoices:  64,
		},
		NATS: NATSConfig{
			PerformerID:     "loop-001",
			ConnectAttempts: 5,
		},
	}
}

// LoadFile overlays the YAML file at path onto c. Unknown keys are errors.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Environment variables read by ApplyEnv
const (
	EnvSourceDir = "LOQA_LOOP_DIR"
	EnvFiles     = "LOQA_LOOP_FILES"
	EnvEntry     = "LOQA_LOOP_ENTRY"
	EnvBackend   = "LOQA_LOOP_BACKEND"
	EnvSamples   = "LOQA_LOOP_SAMPLES"
	EnvNATSURL   = "LOQA_LOOP_NATS_URL"
	EnvID        = "LOQA_LOOP_ID"
	EnvRecord    = "LOQA_LOOP_RECORD"
	EnvReload    = "LOQA_LOOP_RELOAD_INTERVAL"
	EnvPlay      = "LOQA_LOOP_PLAY_INTERVAL"
)

// ApplyEnv overlays the LOQA_LOOP_* variables found by lookup, usually
// os.LookupEnv
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		EnvSourceDir: &c.SourceDir,
		EnvEntry:     &c.Entry,
		EnvBackend:   &c.Audio.Backend,
		EnvSamples:   &c.Audio.SamplesDir,
		EnvNATSURL:   &c.NATS.URL,
		EnvID:        &c.NATS.PerformerID,
		EnvRecord:    &c.RecordPath,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvFiles); ok {
		c.Files = SplitList(v)
	}

	durations := map[string]*time.Duration{
		EnvReload: &c.ReloadInterval,
		EnvPlay:   &c.PlayInterval,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// parseDuration accepts Go durations and plain numbers of seconds
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a duration", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// SplitList splits a comma-separated list, dropping empty entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem with c at once
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModePerform:
		if len(c.Files) == 0 {
			errs = append(errs, errors.New("no source files configured"))
		}
		if c.SourceDir == "" {
			errs = append(errs, errors.New("source directory is empty"))
		}
		if c.Entry == "" {
			errs = append(errs, errors.New("entry routine is empty"))
		}
		if c.ReloadInterval <= 0 {
			errs = append(errs, fmt.Errorf("reload interval must be positive, got %s", c.ReloadInterval))
		}
		if c.PlayInterval <= 0 {
			errs = append(errs, fmt.Errorf("play interval must be positive, got %s", c.PlayInterval))
		}
	case ModeSynth:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("synth mode needs a NATS URL"))
		}
		if c.Audio.Backend == BackendNull {
			errs = append(errs, errors.New("synth mode needs an audio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	switch c.Audio.Backend {
	case BackendPortAudio, BackendOto, BackendNull:
	default:
		errs = append(errs, fmt.Errorf("unknown audio backend %q", c.Audio.Backend))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %v", c.Audio.SampleRate))
	}
	if c.Audio.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer size must be positive, got %d", c.Audio.BufferSize))
	}
	if c.Audio.MaxVoices <= 0 {
		errs = append(errs, fmt.Errorf("max voices must be positive, got %d", c.Audio.MaxVoices))
	}
	if c.NATS.URL != "" && c.NATS.PerformerID == "" {
		errs = append(errs, errors.New("NATS performer id is empty"))
	}

	return errors.Join(errs...)
}
