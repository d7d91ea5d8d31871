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
	"fmt"
	"sync"
	"time"
)

// MockBackend implements Backend for testing without hardware dependencies
type MockBackend struct {
	mu                 sync.Mutex
	initialized        bool
	streams            []*MockStream
	initError          error
	openError          error
	simulateRealTiming bool
	written            [][]float32
}

// NewMockBackend creates a new mock audio backend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		simulateRealTiming: true,
	}
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetOpenError configures the backend to return an error on OpenOutput()
func (m *MockBackend) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = err
}

// SetSimulateRealTiming controls whether Write sleeps for the duration of
// the buffer, as a real device would block
func (m *MockBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// Written returns a copy of every buffer written to any stream
func (m *MockBackend) Written() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]float32, len(m.written))
	copy(result, m.written)
	return result
}

// Streams returns the streams opened so far
func (m *MockBackend) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*MockStream, len(m.streams))
	copy(result, m.streams)
	return result
}

// IsInitialized reports whether Initialize succeeded and Terminate was not called
func (m *MockBackend) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Initialize initializes the mock audio subsystem
func (m *MockBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate terminates the mock audio subsystem
func (m *MockBackend) Terminate() error {
	m.mu.Lock()
	streams := append([]*MockStream(nil), m.streams...)
	m.mu.Unlock()

	// Stop/Close take the stream lock, never while holding the backend lock
	for _, stream := range streams {
		_ = stream.Stop()  // Ignore errors during cleanup
		_ = stream.Close() // Ignore errors during cleanup
	}

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

// OpenOutput creates a mock output stream
func (m *MockBackend) OpenOutput(sampleRate float64, channels, bufferSize int) (OutputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("mock audio backend %w", ErrNotInitialized)
	}

	if m.openError != nil {
		return nil, m.openError
	}

	stream := &MockStream{
		backend:            m,
		sampleRate:         sampleRate,
		channels:           channels,
		bufferSize:         bufferSize,
		simulateRealTiming: m.simulateRealTiming,
		isOpen:             true,
	}
	m.streams = append(m.streams, stream)
	return stream, nil
}

func (m *MockBackend) record(data []float32) {
	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)

	m.mu.Lock()
	m.written = append(m.written, dataCopy)
	m.mu.Unlock()
}

// MockStream implements OutputStream for testing
type MockStream struct {
	mu                 sync.Mutex
	backend            *MockBackend
	sampleRate         float64
	channels           int
	bufferSize         int
	isOpen             bool
	isActive           bool
	simulateRealTiming bool
	startError         error
	writeError         error
}

// SetStartError configures the stream to return an error on Start()
func (m *MockStream) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// SetWriteError configures the stream to return an error on Write()
func (m *MockStream) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

// IsActive returns true between Start and Stop
func (m *MockStream) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActive
}

// IsOpen returns true until Close
func (m *MockStream) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpen
}

// Start starts the mock stream
func (m *MockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startError != nil {
		return m.startError
	}
	if !m.isOpen {
		return fmt.Errorf("stream not open")
	}
	if m.isActive {
		return fmt.Errorf("stream already active")
	}

	m.isActive = true
	return nil
}

// Stop stops the mock stream
func (m *MockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isActive = false
	return nil
}

// Close closes the mock stream
func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOpen = false
	m.isActive = false
	return nil
}

// Write records the buffer on the backend
func (m *MockStream) Write(data []float32) error {
	m.mu.Lock()
	if m.writeError != nil {
		err := m.writeError
		m.mu.Unlock()
		return err
	}
	if !m.isOpen {
		m.mu.Unlock()
		return fmt.Errorf("stream not open")
	}
	simulate := m.simulateRealTiming
	frames := len(data) / max(m.channels, 1)
	rate := m.sampleRate
	m.mu.Unlock()

	m.backend.record(data)

	if simulate && rate > 0 {
		time.Sleep(time.Duration(float64(frames) / rate * float64(time.Second)))
	}
	return nil
}
