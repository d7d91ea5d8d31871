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

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend implements Backend using the real PortAudio library
type PortAudioBackend struct {
	initialized bool
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	return err
}

// OpenOutput opens a blocking output stream on the default device
func (p *PortAudioBackend) OpenOutput(sampleRate float64, channels, bufferSize int) (OutputStream, error) {
	if !p.initialized {
		return nil, fmt.Errorf("PortAudio %w", ErrNotInitialized)
	}

	buffer := make([]float32, bufferSize*channels)

	stream, err := portaudio.OpenDefaultStream(
		0,        // input channels
		channels, // output channels
		sampleRate,
		bufferSize,
		buffer,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	return &portAudioStream{stream: stream, buffer: buffer}, nil
}

// portAudioStream implements OutputStream using a blocking PortAudio stream
type portAudioStream struct {
	stream *portaudio.Stream
	buffer []float32
}

func (p *portAudioStream) Start() error {
	return p.stream.Start()
}

func (p *portAudioStream) Stop() error {
	return p.stream.Stop()
}

func (p *portAudioStream) Close() error {
	return p.stream.Close()
}

// Write copies data into the stream buffer, padding a short buffer with
// silence, and blocks until PortAudio accepts it
func (p *portAudioStream) Write(data []float32) error {
	n := copy(p.buffer, data)
	for i := n; i < len(p.buffer); i++ {
		p.buffer[i] = 0
	}
	return p.stream.Write()
}
