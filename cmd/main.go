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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-loop/internal/audio"
	"github.com/loqalabs/loqa-loop/internal/config"
	"github.com/loqalabs/loqa-loop/internal/engine"
	"github.com/loqalabs/loqa-loop/internal/midi"
	"github.com/loqalabs/loqa-loop/internal/nats"
	"github.com/loqalabs/loqa-loop/internal/player"
	"github.com/loqalabs/loqa-loop/internal/reload"
	"github.com/loqalabs/loqa-loop/internal/routine"
	"github.com/loqalabs/loqa-loop/internal/samples"
	"github.com/loqalabs/loqa-loop/internal/sound"
)

// statsInterval is how often the running counters are logged
const statsInterval = 30 * time.Second

func main() {
	cfg, err := loadConfig(os.Args[1:], os.LookupEnv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	log.Printf("🚀 Starting Loqa Loop (%s mode)", cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("🛑 Shutting down...")
		cancel()
	}()

	switch cfg.Mode {
	case config.ModeSynth:
		err = runSynth(ctx, cfg)
	default:
		err = runPerform(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("❌ %v", err)
	}

	log.Println("👋 Loqa Loop stopped")
}

// flagValues mirrors the command line; only flags that were set override
// the file and environment
type flagValues struct {
	configPath string
	mode       string
	dir        string
	files      string
	entry      string
	backend    string
	samples    string
	natsURL    string
	id         string
	record     string
	reload     time.Duration
	play       time.Duration
}

// loadConfig applies defaults, then the config file, then LOQA_LOOP_*
// variables, then command line flags
func loadConfig(args []string, lookup func(string) (string, bool), output io.Writer) (config.Config, error) {
	cfg := config.Default()

	fs := flag.NewFlagSet("loqa-loop", flag.ContinueOnError)
	fs.SetOutput(output)

	var v flagValues
	fs.StringVar(&v.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&v.mode, "mode", cfg.Mode, "perform (play the source files) or synth (render a performer's events)")
	fs.StringVar(&v.dir, "dir", cfg.SourceDir, "Directory holding the source files")
	fs.StringVar(&v.files, "files", strings.Join(cfg.Files, ","), "Comma-separated source files in load order")
	fs.StringVar(&v.entry, "entry", cfg.Entry, "Routine the player invokes")
	fs.StringVar(&v.backend, "backend", cfg.Audio.Backend, "Audio output: portaudio, oto or null")
	fs.StringVar(&v.samples, "samples", "", "Directory of *.wav samples added to the built-in kit")
	fs.StringVar(&v.natsURL, "nats", "", "NATS server URL for remote rendering, e.g. nats://localhost:4222")
	fs.StringVar(&v.id, "id", cfg.NATS.PerformerID, "Performer identifier")
	fs.StringVar(&v.record, "record", "", "Write the performance to this MIDI file on exit")
	fs.DurationVar(&v.reload, "reload", cfg.ReloadInterval, "Delay between reloads of the source files")
	fs.DurationVar(&v.play, "play", cfg.PlayInterval, "Delay between invocations of the entry routine")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if v.configPath != "" {
		if err := cfg.LoadFile(v.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = v.mode
		case "dir":
			cfg.SourceDir = v.dir
		case "files":
			cfg.Files = config.SplitList(v.files)
		case "entry":
			cfg.Entry = v.entry
		case "backend":
			cfg.Audio.Backend = v.backend
		case "samples":
			cfg.Audio.SamplesDir = v.samples
		case "nats":
			cfg.NATS.URL = v.natsURL
		case "id":
			cfg.NATS.PerformerID = v.id
		case "record":
			cfg.RecordPath = v.record
		case "reload":
			cfg.ReloadInterval = v.reload
		case "play":
			cfg.PlayInterval = v.play
		}
	})

	return cfg, cfg.Validate()
}

// newBackend returns the audio backend named by the configuration, or nil
// for the null backend
func newBackend(name string) (audio.Backend, error) {
	switch name {
	case config.BackendPortAudio:
		return audio.NewPortAudioBackend(), nil
	case config.BackendOto:
		return audio.NewOtoBackend(), nil
	case config.BackendNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

// startRenderer opens the configured local output; a nil renderer means the
// null backend
func startRenderer(ctx context.Context, cfg config.Config) (*audio.Renderer, error) {
	backend, err := newBackend(cfg.Audio.Backend)
	if err != nil || backend == nil {
		return nil, err
	}

	bank := samples.NewBank(cfg.Audio.SampleRate)
	if cfg.Audio.SamplesDir != "" {
		n, err := bank.LoadDir(cfg.Audio.SamplesDir)
		if err != nil {
			log.Printf("⚠️  Some samples failed to load: %v", err)
		}
		log.Printf("🥁 Loaded %d sample(s) from %s", n, cfg.Audio.SamplesDir)
	}

	renderer := audio.NewRenderer(backend, bank, audio.RendererConfig{
		SampleRate: cfg.Audio.SampleRate,
		BufferSize: cfg.Audio.BufferSize,
		MaxVoices:  cfg.Audio.MaxVoices,
	})
	if err := renderer.Start(ctx); err != nil {
		return nil, err
	}
	return renderer, nil
}

// runPerform plays the entry routine from the source files, reloading them
// as they change, until ctx is cancelled
func runPerform(ctx context.Context, cfg config.Config) error {
	var outputs sound.Tee

	renderer, err := startRenderer(ctx, cfg)
	if err != nil {
		// keep performing so remote nodes and the recording still get events
		log.Printf("⚠️  Local audio unavailable, continuing without it: %v", err)
	}
	if renderer != nil {
		defer func() {
			if err := renderer.Close(); err != nil {
				log.Printf("⚠️  Error closing audio output: %v", err)
			}
		}()
		outputs = append(outputs, renderer)
	}

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, "loqa-loop-"+cfg.NATS.PerformerID, cfg.NATS.ConnectAttempts)
		if err != nil {
			return fmt.Errorf("failed to initialize remote rendering: %w", err)
		}
		defer conn.Close()

		publisher := nats.NewRenderPublisher(conn, cfg.NATS.PerformerID)
		log.Printf("📡 Publishing render events on %s", publisher.Subject())
		outputs = append(outputs, publisher)
	}

	if cfg.RecordPath != "" {
		recorder := midi.NewRecorder(cfg.RecordPath)
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Printf("❌ Failed to save recording: %v", err)
			}
		}()
		log.Printf("⏺️  Recording to %s", cfg.RecordPath)
		outputs = append(outputs, recorder)
	}

	if len(outputs) == 0 {
		log.Printf("⚠️  No audio output, NATS or recording configured; routines run silently")
	}

	table := routine.NewTable(cfg.Files)
	reloader := reload.New(table, cfg.SourceDir, cfg.Files, cfg.ReloadInterval)
	if err := reloader.ReloadOnce(); err != nil {
		log.Printf("⚠️  Initial load incomplete: %v", err)
	}
	log.Printf("📋 Loaded %d routine(s) from %s", table.Current().Len(), cfg.SourceDir)

	p := player.New(table, engine.NewInterpreter(outputs), cfg.Entry, cfg.PlayInterval)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_ = reloader.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = p.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		logStats(ctx, statsInterval, func() {
			rs, ps := reloader.Stats(), p.Stats()
			log.Printf("📊 reloads=%d applied=%d reload_failures=%d iterations=%d play_failures=%d",
				rs.Passes, rs.Applied, rs.Failures, ps.Iterations, ps.Failures)
		})
	}()

	wg.Wait()
	return ctx.Err()
}

// runSynth renders another performer's events on the local output
func runSynth(ctx context.Context, cfg config.Config) error {
	renderer, err := startRenderer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	if renderer == nil {
		return errors.New("synth mode needs an audio backend")
	}
	defer func() {
		if err := renderer.Close(); err != nil {
			log.Printf("⚠️  Error closing audio output: %v", err)
		}
	}()

	conn, err := nats.Connect(cfg.NATS.URL, "loqa-loop-synth-"+cfg.NATS.PerformerID, cfg.NATS.ConnectAttempts)
	if err != nil {
		return fmt.Errorf("failed to initialize remote rendering: %w", err)
	}

	subscriber := nats.NewRenderSubscriber(conn, cfg.NATS.PerformerID, renderer, nats.DefaultQueueCapacity)
	defer subscriber.Close()
	if err := subscriber.Start(); err != nil {
		return err
	}

	go logStats(ctx, statsInterval, func() {
		s := subscriber.Stats()
		log.Printf("📊 received=%d invalid=%d dropped=%d failed=%d voices=%d",
			s.Received, s.Invalid, s.Dropped, s.Failed, renderer.ActiveVoices())
	})

	return subscriber.Run(ctx)
}

// logStats calls report every interval until ctx is cancelled
func logStats(ctx context.Context, interval time.Duration, report func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			report()
			return
		case <-ticker.C:
			report()
		}
	}
}
