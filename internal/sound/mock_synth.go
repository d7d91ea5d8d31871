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

import "sync"

// SampleCall records one RenderSample invocation
type SampleCall struct {
	SampleID  string
	Amplitude float64
}

// MockSynth implements Synth for testing without an audio runtime
type MockSynth struct {
	mu          sync.Mutex
	tones       []ToneParams
	samples     []SampleCall
	toneError   error
	sampleError error
}

// NewMockSynth creates a new mock synth
func NewMockSynth() *MockSynth {
	return &MockSynth{}
}

// SetToneError configures the synth to return an error on RenderTone()
func (m *MockSynth) SetToneError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toneError = err
}

// SetSampleError configures the synth to return an error on RenderSample()
func (m *MockSynth) SetSampleError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleError = err
}

func (m *MockSynth) RenderTone(p ToneParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.toneError != nil {
		return m.toneError
	}
	m.tones = append(m.tones, p)
	return nil
}

func (m *MockSynth) RenderSample(sampleID string, amplitude float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sampleError != nil {
		return m.sampleError
	}
	m.samples = append(m.samples, SampleCall{SampleID: sampleID, Amplitude: amplitude})
	return nil
}

// Tones returns a copy of every tone rendered so far
func (m *MockSynth) Tones() []ToneParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ToneParams, len(m.tones))
	copy(result, m.tones)
	return result
}

// Samples returns a copy of every sample rendered so far
func (m *MockSynth) Samples() []SampleCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]SampleCall, len(m.samples))
	copy(result, m.samples)
	return result
}

// Reset forgets everything recorded so far
func (m *MockSynth) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tones = nil
	m.samples = nil
}
