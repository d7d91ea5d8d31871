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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// ErrOtoContextInUse is returned on a second OpenOutput; oto allows a single
// context per process
var ErrOtoContextInUse = errors.New("oto supports a single output context per process")

// OtoBackend implements Backend with the pure Go oto library, for machines
// without PortAudio
type OtoBackend struct {
	mu          sync.Mutex
	initialized bool
	context     *oto.Context
}

// NewOtoBackend creates a new oto backend
func NewOtoBackend() *OtoBackend {
	return &OtoBackend{}
}

// Initialize marks the backend ready. The oto context itself is created by
// OpenOutput because it needs the stream format.
func (o *OtoBackend) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.initialized = true
	return nil
}

// Terminate suspends the oto context if one was created
func (o *OtoBackend) Terminate() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil
	}
	o.initialized = false
	if o.context == nil {
		return nil
	}
	return o.context.Suspend()
}

// OpenOutput creates the oto context and a player fed through a pipe
func (o *OtoBackend) OpenOutput(sampleRate float64, channels, bufferSize int) (OutputStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil, fmt.Errorf("oto %w", ErrNotInitialized)
	}
	if o.context != nil {
		return nil, ErrOtoContextInUse
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(sampleRate),
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   time.Duration(float64(bufferSize) / sampleRate * float64(time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready
	o.context = ctx

	reader, writer := io.Pipe()
	return &otoStream{
		player: ctx.NewPlayer(reader),
		reader: reader,
		writer: writer,
	}, nil
}

// otoStream implements OutputStream. The player pulls from the pipe, so a
// Write blocks until oto has consumed the previous data.
type otoStream struct {
	player  *oto.Player
	reader  *io.PipeReader
	writer  *io.PipeWriter
	scratch []byte
}

func (s *otoStream) Start() error {
	s.player.Play()
	return nil
}

func (s *otoStream) Stop() error {
	s.player.Pause()
	return nil
}

// Close ends the pipe; the player drains and stops reading
func (s *otoStream) Close() error {
	s.player.Pause()
	if err := s.writer.Close(); err != nil {
		return err
	}
	return s.reader.Close()
}

func (s *otoStream) Write(data []float32) error {
	s.scratch = float32ToLE(data, s.scratch[:0])
	if _, err := s.writer.Write(s.scratch); err != nil {
		return fmt.Errorf("failed to write to oto player: %w", err)
	}
	return nil
}

// float32ToLE appends the little-endian encoding of data to dst
func float32ToLE(data []float32, dst []byte) []byte {
	var b [4]byte
	for _, v := range data {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		dst = append(dst, b[:]...)
	}
	return dst
}
