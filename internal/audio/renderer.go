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

package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-loop/internal/samples"
	"github.com/loqalabs/loqa-loop/internal/sound"
)

// RendererConfig holds the output format of a Renderer
type RendererConfig struct {
	SampleRate float64
	BufferSize int // frames per write
	MaxVoices  int // oldest voice is dropped beyond this
}

// DefaultRendererConfig returns 44.1kHz mono with 512-frame buffers
func DefaultRendererConfig() RendererConfig {
	return RendererConfig{
		SampleRate: 44100,
		BufferSize: 512,
		MaxVoices:  64,
	}
}

// Renderer implements sound.Synth. Render calls only add a voice; a mixer
// goroutine sums active voices into fixed-size buffers and writes them to
// the output stream, whose blocking Write sets the pace.
type Renderer struct {
	backend Backend
	bank    *samples.Bank
	cfg     RendererConfig

	mu     sync.Mutex
	voices []voice

	stream OutputStream
	cancel context.CancelFunc
	done   chan struct{}

	buffers     atomic.Uint64
	writeErrors atomic.Uint64
}

// NewRenderer creates a renderer; zero config fields take the defaults
func NewRenderer(backend Backend, bank *samples.Bank, cfg RendererConfig) *Renderer {
	def := DefaultRendererConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxVoices <= 0 {
		cfg.MaxVoices = def.MaxVoices
	}
	return &Renderer{
		backend: backend,
		bank:    bank,
		cfg:     cfg,
	}
}

// Start opens a mono output stream and launches the mixer
func (r *Renderer) Start(ctx context.Context) error {
	if r.cancel != nil {
		return fmt.Errorf("renderer already started")
	}

	if err := r.backend.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", err)
	}

	stream, err := r.backend.OpenOutput(r.cfg.SampleRate, 1, r.cfg.BufferSize)
	if err != nil {
		_ = r.backend.Terminate() // Ignore errors during cleanup
		return fmt.Errorf("failed to open output: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()        // Ignore errors during cleanup
		_ = r.backend.Terminate() // Ignore errors during cleanup
		return fmt.Errorf("failed to start output stream: %w", err)
	}

	mixCtx, cancel := context.WithCancel(ctx)
	r.stream = stream
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.mixLoop(mixCtx)

	log.Printf("🔊 Renderer: output started at %.0fHz, %d frames per buffer", r.cfg.SampleRate, r.cfg.BufferSize)
	return nil
}

// Close stops the mixer and releases the stream and backend
func (r *Renderer) Close() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	r.cancel = nil

	err := errors.Join(r.stream.Stop(), r.stream.Close(), r.backend.Terminate())
	log.Printf("🔇 Renderer: output closed after %d buffer(s)", r.buffers.Load())
	return err
}

// RenderTone adds a tone voice
func (r *Renderer) RenderTone(p sound.ToneParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.addVoice(newToneVoice(p, r.cfg.SampleRate))
	return nil
}

// RenderSample adds a voice playing a sample from the bank
func (r *Renderer) RenderSample(sampleID string, amplitude float64) error {
	if err := sound.ValidateAmplitude(amplitude); err != nil {
		return err
	}
	s, ok := r.bank.Get(sampleID)
	if !ok {
		return fmt.Errorf("%w: %q", sound.ErrUnknownSample, sampleID)
	}
	r.addVoice(&sampleVoice{data: s.Data, amplitude: float32(amplitude)})
	return nil
}

// ActiveVoices returns the number of voices still sounding
func (r *Renderer) ActiveVoices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.voices)
}

// Buffers returns how many buffers have been written to the stream
func (r *Renderer) Buffers() uint64 {
	return r.buffers.Load()
}

func (r *Renderer) addVoice(v voice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.voices) >= r.cfg.MaxVoices {
		r.voices = r.voices[1:]
	}
	r.voices = append(r.voices, v)
}

func (r *Renderer) mixLoop(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ Renderer: mixer panic: %v", rec)
		}
	}()

	buf := make([]float32, r.cfg.BufferSize)
	backoff := time.Duration(float64(r.cfg.BufferSize) / r.cfg.SampleRate * float64(time.Second))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.mix(buf)
		if err := r.stream.Write(buf); err != nil {
			if r.writeErrors.Add(1) == 1 {
				log.Printf("⚠️  Renderer: output write failed: %v", err)
			}
			time.Sleep(backoff)
			continue
		}
		r.buffers.Add(1)
	}
}

// mix sums every active voice into buf, drops finished voices and clips
// the result to [-1, 1]. NaN becomes silence.
func (r *Renderer) mix(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}

	r.mu.Lock()
	alive := r.voices[:0]
	for _, v := range r.voices {
		if v.render(buf) {
			alive = append(alive, v)
		}
	}
	for i := len(alive); i < len(r.voices); i++ {
		r.voices[i] = nil
	}
	r.voices = alive
	r.mu.Unlock()

	for i, v := range buf {
		if v != v { // NaN
			buf[i] = 0
		} else if v > 1 {
			buf[i] = 1
		} else if v < -1 {
			buf[i] = -1
		}
	}
}

// voice adds its next len(out) samples into out and reports whether it
// still has samples left
type voice interface {
	render(out []float32) bool
}

// toneVoice is an oscillator shaped by a linear attack/decay/sustain/release
// envelope. Decay and sustain hold full level.
type toneVoice struct {
	wave      sound.Wave
	amplitude float64
	step      float64 // cycles per sample
	phase     float64 // in cycles, [0, 1)
	n         int
	attack    int
	hold      int // attack + decay + sustain
	total     int
}

func newToneVoice(p sound.ToneParams, sampleRate float64) *toneVoice {
	toSamples := func(seconds float64) int { return int(seconds * sampleRate) }
	attack := toSamples(p.Attack)
	hold := attack + toSamples(p.Decay) + toSamples(p.Sustain)
	return &toneVoice{
		wave:      p.Wave,
		amplitude: p.Amplitude,
		step:      midiToFrequency(p.Pitch) / sampleRate,
		attack:    attack,
		hold:      hold,
		total:     hold + toSamples(p.Release),
	}
}

func (v *toneVoice) render(out []float32) bool {
	for i := range out {
		if v.n >= v.total {
			return false
		}
		out[i] += float32(v.amplitude * v.envelope() * oscillate(v.wave, v.phase))
		v.phase += v.step
		v.phase -= math.Floor(v.phase)
		v.n++
	}
	return v.n < v.total
}

func (v *toneVoice) envelope() float64 {
	switch {
	case v.n < v.attack:
		return float64(v.n) / float64(v.attack)
	case v.n < v.hold:
		return 1
	default:
		return 1 - float64(v.n-v.hold)/float64(v.total-v.hold)
	}
}

type sampleVoice struct {
	data      []float32
	amplitude float32
	pos       int
}

func (v *sampleVoice) render(out []float32) bool {
	for i := range out {
		if v.pos >= len(v.data) {
			return false
		}
		out[i] += v.data[v.pos] * v.amplitude
		v.pos++
	}
	return v.pos < len(v.data)
}

// midiToFrequency converts a MIDI note number to Hz, A4 (69) = 440Hz
func midiToFrequency(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

func oscillate(w sound.Wave, phase float64) float64 {
	switch w {
	case sound.WaveSaw:
		return 2*phase - 1
	case sound.WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
