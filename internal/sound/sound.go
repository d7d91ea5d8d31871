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

package sound

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Envelope constants used by Tone. Sustain and release are durations in
// seconds, not levels.
const (
	ToneAttack  = 0.01
	ToneSustain = 0.1
	ToneRelease = 0.1
)

// MaxSeconds bounds every envelope stage of a tone and every sleep
const MaxSeconds = 3600

// DefaultSample is the sample PlayBeat uses when none is given
const DefaultSample = "tabla_ghe1"

// DefaultAmplitude is the amplitude PlayBeat uses when none is given
const DefaultAmplitude = 1.0

// ErrUnknownSample is returned by a Synth asked to render a sample it does not have
var ErrUnknownSample = errors.New("unknown sample")

// Wave selects the oscillator shape of a tone
type Wave uint8

const (
	WaveSine Wave = iota
	WaveSaw
	WaveSquare
)

func (w Wave) String() string {
	switch w {
	case WaveSine:
		return "sine"
	case WaveSaw:
		return "saw"
	case WaveSquare:
		return "square"
	default:
		return fmt.Sprintf("wave(%d)", uint8(w))
	}
}

// ParseWave maps a synth name to a Wave. The empty name is a sine.
// A leading ':' is accepted so names read the same as in Sonic Pi.
func ParseWave(name string) (Wave, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ":") {
	case "", "sine", "beep":
		return WaveSine, nil
	case "saw":
		return WaveSaw, nil
	case "square":
		return WaveSquare, nil
	default:
		return 0, fmt.Errorf("unknown synth %q", name)
	}
}

// ToneParams is everything the audio runtime needs to render one tone.
// Pitch is a MIDI note number.
type ToneParams struct {
	Pitch     float64
	Attack    float64
	Decay     float64
	Sustain   float64
	Release   float64
	Amplitude float64
	Wave      Wave
}

// Length returns how long the tone sounds in total. Parameters that fail
// Validate give a length of zero.
func (p ToneParams) Length() time.Duration {
	if p.Validate() != nil {
		return 0
	}
	seconds := p.Attack + p.Decay + p.Sustain + p.Release
	return time.Duration(seconds * float64(time.Second))
}

// Validate rejects parameters no runtime can render: a non-finite pitch,
// an invalid amplitude, or an envelope stage that is negative, non-finite
// or longer than MaxSeconds.
func (p ToneParams) Validate() error {
	if !finite(p.Pitch) {
		return fmt.Errorf("invalid pitch %v", p.Pitch)
	}
	if err := ValidateAmplitude(p.Amplitude); err != nil {
		return err
	}
	for _, v := range []float64{p.Attack, p.Decay, p.Sustain, p.Release} {
		if err := ValidateSeconds(v); err != nil {
			return fmt.Errorf("invalid envelope %v/%v/%v/%v: %w", p.Attack, p.Decay, p.Sustain, p.Release, err)
		}
	}
	return nil
}

// ValidateAmplitude rejects negative and non-finite amplitudes
func ValidateAmplitude(amplitude float64) error {
	if !finite(amplitude) || amplitude < 0 {
		return fmt.Errorf("invalid amplitude %v", amplitude)
	}
	return nil
}

// ValidateSeconds rejects durations that are negative, non-finite or
// longer than MaxSeconds
func ValidateSeconds(seconds float64) error {
	if !finite(seconds) || seconds < 0 {
		return fmt.Errorf("invalid duration %v", seconds)
	}
	if seconds > MaxSeconds {
		return fmt.Errorf("duration %vs exceeds %ds", seconds, MaxSeconds)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Synth is the external audio capability. Implementations must be safe
// for concurrent use and should return quickly; rendering happens elsewhere.
type Synth interface {
	// RenderTone schedules a tone for immediate playback
	RenderTone(p ToneParams) error

	// RenderSample schedules a sample for immediate playback
	RenderSample(sampleID string, amplitude float64) error
}

// ToneOption customises a Tone call
type ToneOption func(*ToneParams)

// WithWave selects the oscillator for a tone
func WithWave(w Wave) ToneOption {
	return func(p *ToneParams) {
		p.Wave = w
	}
}

// Tone renders pitch for duration seconds at amplitude using the fixed
// envelope attack=0.01, decay=duration, sustain=0.1, release=0.1.
func Tone(s Synth, pitch, duration, amplitude float64, opts ...ToneOption) error {
	p := ToneParams{
		Pitch:     pitch,
		Attack:    ToneAttack,
		Decay:     duration,
		Sustain:   ToneSustain,
		Release:   ToneRelease,
		Amplitude: amplitude,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return s.RenderTone(p)
}

type beatParams struct {
	sample    string
	amplitude float64
}

// BeatOption customises a PlayBeat call
type BeatOption func(*beatParams)

// WithSample overrides DefaultSample
func WithSample(id string) BeatOption {
	return func(b *beatParams) {
		b.sample = id
	}
}

// WithAmplitude overrides DefaultAmplitude
func WithAmplitude(amplitude float64) BeatOption {
	return func(b *beatParams) {
		b.amplitude = amplitude
	}
}

// PlayBeat renders a sample, DefaultSample at DefaultAmplitude unless
// overridden.
func PlayBeat(s Synth, opts ...BeatOption) error {
	b := beatParams{sample: DefaultSample, amplitude: DefaultAmplitude}
	for _, opt := range opts {
		opt(&b)
	}
	if b.sample == "" {
		b.sample = DefaultSample
	}
	return s.RenderSample(b.sample, b.amplitude)
}

// Tee forwards every call to each of its synths. All synths are called
// even when one fails; the errors are joined.
type Tee []Synth

func (t Tee) RenderTone(p ToneParams) error {
	var errs []error
	for _, s := range t {
		if err := s.RenderTone(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) RenderSample(sampleID string, amplitude float64) error {
	var errs []error
	for _, s := range t {
		if err := s.RenderSample(sampleID, amplitude); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard accepts every call and renders nothing
var Discard Synth = discard{}

type discard struct{}

func (discard) RenderTone(ToneParams) error        { return nil }
func (discard) RenderSample(string, float64) error { return nil }
