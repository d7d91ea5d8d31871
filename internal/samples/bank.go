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

package samples

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// resampleQuality is passed to beep.Resample when a file's rate differs
// from the bank's
const resampleQuality = 4

// Sample is a mono buffer at the bank's sample rate
type Sample struct {
	Name string
	Data []float32
}

// Bank holds the samples play_beat can trigger. It starts with a small
// synthesised drum kit and can be extended from WAV files.
type Bank struct {
	mu         sync.RWMutex
	sampleRate float64
	samples    map[string]*Sample
}

// NewBank creates a bank at sampleRate holding the built-in kit
func NewBank(sampleRate float64) *Bank {
	b := &Bank{
		sampleRate: sampleRate,
		samples:    make(map[string]*Sample),
	}
	for name, gen := range builtins {
		b.Add(name, gen(sampleRate))
	}
	return b
}

// SampleRate returns the rate every sample in the bank is stored at
func (b *Bank) SampleRate() float64 {
	return b.sampleRate
}

// Add stores data under name, replacing any sample with the same name
func (b *Bank) Add(name string, data []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[name] = &Sample{Name: name, Data: data}
}

// Get returns the sample stored under name
func (b *Bank) Get(name string) (*Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.samples[name]
	return s, ok
}

// Names returns the sorted sample names
func (b *Bank) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.samples))
	for name := range b.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir adds every *.wav file in dir, named after the file without its
// extension. Files that fail to decode are skipped and reported together.
func (b *Bank) LoadDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return 0, fmt.Errorf("failed to list samples in %s: %w", dir, err)
	}

	loaded := 0
	var failed []string
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := b.loadFile(name, path); err != nil {
			log.Printf("⚠️  Skipping sample %s: %v", path, err)
			failed = append(failed, filepath.Base(path))
			continue
		}
		loaded++
	}

	if len(failed) > 0 {
		return loaded, fmt.Errorf("failed to load %d sample(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return loaded, nil
}

func (b *Bank) loadFile(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.LoadWAV(name, f)
}

// LoadWAV decodes a WAV stream, mixes it down to mono, resamples it to the
// bank's rate and stores it under name
func (b *Bank) LoadWAV(name string, r io.Reader) error {
	streamer, format, err := wav.Decode(r)
	if err != nil {
		return fmt.Errorf("failed to decode wav: %w", err)
	}
	defer streamer.Close()

	target := beep.SampleRate(int(b.sampleRate))
	var s beep.Streamer = streamer
	if format.SampleRate != target {
		s = beep.Resample(resampleQuality, format.SampleRate, target, streamer)
	}

	var data []float32
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			data = append(data, float32((buf[i][0]+buf[i][1])/2))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return fmt.Errorf("failed to read wav data: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("wav has no audio data")
	}

	b.Add(name, data)
	return nil
}

type generator func(sampleRate float64) []float32

// builtins is the default drum kit
var builtins = map[string]generator{
	"kick":  kick,
	"snare": snare,
	"hh_c":  func(sr float64) []float32 { return hihat(sr, 0.05, 1) },
	"hh_o":  func(sr float64) []float32 { return hihat(sr, 0.35, 2) },
	"ride":  ride,

	"tabla_ghe1": tablaGhe,
}

// kick is a sine sweeping from 150Hz down to 50Hz with a fast decay
func kick(sr float64) []float32 {
	n := int(0.35 * sr)
	out := make([]float32, n)
	phase := 0.0
	for i := range out {
		t := float64(i) / sr
		freq := 50 + 100*math.Exp(-t*30)
		phase += 2 * math.Pi * freq / sr
		out[i] = float32(math.Sin(phase) * math.Exp(-t*9))
	}
	return out
}

// tablaGhe is a low tabla stroke: a 150Hz sine that bends up to 160Hz
// before settling, with a slower decay than the kick
func tablaGhe(sr float64) []float32 {
	n := int(0.6 * sr)
	out := make([]float32, n)
	phase := 0.0
	for i := range out {
		t := float64(i) / sr
		freq := 150 + 10*math.Sin(math.Pi*math.Min(t/0.08, 1))
		phase += 2 * math.Pi * freq / sr
		v := math.Sin(phase) + 0.2*math.Sin(2*phase)
		out[i] = float32(0.8 * v / 1.2 * math.Exp(-t*6))
	}
	return out
}

// snare mixes a 180Hz body with noise
func snare(sr float64) []float32 {
	n := int(0.2 * sr)
	out := make([]float32, n)
	rng := rand.New(rand.NewSource(38))
	for i := range out {
		t := float64(i) / sr
		body := math.Sin(2*math.Pi*180*t) * math.Exp(-t*30)
		noise := (rng.Float64()*2 - 1) * math.Exp(-t*18)
		out[i] = float32(0.4*body + 0.6*noise)
	}
	return out
}

// hihat is high-passed noise; seed keeps open and closed hats distinct
func hihat(sr, length float64, seed int64) []float32 {
	n := int(length * sr)
	out := make([]float32, n)
	rng := rand.New(rand.NewSource(42 + seed))
	decay := 4 / length
	prev := 0.0
	for i := range out {
		t := float64(i) / sr
		x := rng.Float64()*2 - 1
		hp := x - prev
		prev = x
		out[i] = float32(0.5 * hp * math.Exp(-t*decay))
	}
	return out
}

// ride stacks inharmonic partials over a little noise
func ride(sr float64) []float32 {
	n := int(0.9 * sr)
	out := make([]float32, n)
	rng := rand.New(rand.NewSource(51))
	partials := []float64{3100, 4200, 5350, 6800}
	for i := range out {
		t := float64(i) / sr
		v := 0.0
		for _, f := range partials {
			v += math.Sin(2 * math.Pi * f * t)
		}
		v = v/float64(len(partials))*0.6 + (rng.Float64()*2-1)*0.1
		out[i] = float32(0.5 * v * math.Exp(-t*4))
	}
	return out
}
