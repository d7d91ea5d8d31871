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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTone_ForwardsEnvelope(t *testing.T) {
	synth := NewMockSynth()

	err := Tone(synth, 440, 1.0, 0.5)
	require.NoError(t, err)

	tones := synth.Tones()
	require.Len(t, tones, 1)
	assert.Equal(t, ToneParams{
		Pitch:     440,
		Attack:    0.01,
		Decay:     1.0,
		Sustain:   0.1,
		Release:   0.1,
		Amplitude: 0.5,
		Wave:      WaveSine,
	}, tones[0])
}

func TestTone_WithWave(t *testing.T) {
	synth := NewMockSynth()

	require.NoError(t, Tone(synth, 48, 0.25, 1, WithWave(WaveSaw)))

	tones := synth.Tones()
	require.Len(t, tones, 1)
	assert.Equal(t, WaveSaw, tones[0].Wave)
	assert.Equal(t, 0.25, tones[0].Decay)
}

func TestTone_PropagatesError(t *testing.T) {
	synth := NewMockSynth()
	synth.SetToneError(errors.New("runtime rejected tone"))

	err := Tone(synth, 60, 1, 1)
	assert.EqualError(t, err, "runtime rejected tone")
}

func TestPlayBeat(t *testing.T) {
	tests := []struct {
		name     string
		opts     []BeatOption
		expected SampleCall
	}{
		{
			name:     "defaults",
			expected: SampleCall{SampleID: "tabla_ghe1", Amplitude: 1},
		},
		{
			name:     "sample_override",
			opts:     []BeatOption{WithSample("snare")},
			expected: SampleCall{SampleID: "snare", Amplitude: 1},
		},
		{
			name:     "amplitude_override",
			opts:     []BeatOption{WithAmplitude(0.3)},
			expected: SampleCall{SampleID: "tabla_ghe1", Amplitude: 0.3},
		},
		{
			name:     "empty_sample_falls_back_to_default",
			opts:     []BeatOption{WithSample(""), WithAmplitude(0.7)},
			expected: SampleCall{SampleID: "tabla_ghe1", Amplitude: 0.7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := NewMockSynth()
			require.NoError(t, PlayBeat(synth, tt.opts...))

			samples := synth.Samples()
			require.Len(t, samples, 1)
			assert.Equal(t, tt.expected, samples[0])
		})
	}
}

func TestParseWave(t *testing.T) {
	tests := []struct {
		input    string
		expected Wave
		wantErr  bool
	}{
		{input: "", expected: WaveSine},
		{input: "sine", expected: WaveSine},
		{input: ":saw", expected: WaveSaw},
		{input: "Square", expected: WaveSquare},
		{input: "fm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			wave, err := ParseWave(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, wave)
		})
	}
}

func TestToneParams_Length(t *testing.T) {
	p := ToneParams{Attack: 0.01, Decay: 1, Sustain: 0.1, Release: 0.1}
	assert.InDelta(t, float64(1210*time.Millisecond), float64(p.Length()), float64(time.Microsecond))
}

func TestToneParams_Validate(t *testing.T) {
	valid := ToneParams{Pitch: 60, Attack: 0.01, Decay: 1, Sustain: 0.1, Release: 0.1, Amplitude: 1}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(p *ToneParams)
	}{
		{"nan_pitch", func(p *ToneParams) { p.Pitch = math.NaN() }},
		{"inf_pitch", func(p *ToneParams) { p.Pitch = math.Inf(-1) }},
		{"nan_amplitude", func(p *ToneParams) { p.Amplitude = math.NaN() }},
		{"inf_amplitude", func(p *ToneParams) { p.Amplitude = math.Inf(1) }},
		{"negative_amplitude", func(p *ToneParams) { p.Amplitude = -0.1 }},
		{"negative_decay", func(p *ToneParams) { p.Decay = -1 }},
		{"inf_decay", func(p *ToneParams) { p.Decay = math.Inf(1) }},
		{"nan_release", func(p *ToneParams) { p.Release = math.NaN() }},
		{"overlong_decay", func(p *ToneParams) { p.Decay = 1e12 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.modify(&p)
			assert.Error(t, p.Validate())
			assert.Equal(t, time.Duration(0), p.Length(), "invalid tones have no length")
		})
	}
}

func TestValidateSeconds(t *testing.T) {
	assert.NoError(t, ValidateSeconds(0))
	assert.NoError(t, ValidateSeconds(MaxSeconds))
	assert.Error(t, ValidateSeconds(MaxSeconds+0.5))
	assert.Error(t, ValidateSeconds(-0.1))
	assert.Error(t, ValidateSeconds(math.Inf(1)))
	assert.Error(t, ValidateSeconds(math.NaN()))
}

func TestTee(t *testing.T) {
	first := NewMockSynth()
	second := NewMockSynth()
	second.SetSampleError(ErrUnknownSample)
	tee := Tee{first, second}

	require.NoError(t, Tone(tee, 60, 0.5, 1))
	assert.Len(t, first.Tones(), 1)
	assert.Len(t, second.Tones(), 1)

	err := PlayBeat(tee)
	assert.ErrorIs(t, err, ErrUnknownSample)
	assert.Len(t, first.Samples(), 1, "every synth is called even after a failure")
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Tone(Discard, 60, 1, 1))
	assert.NoError(t, PlayBeat(Discard))
}
