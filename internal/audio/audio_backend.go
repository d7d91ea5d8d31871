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

import "errors"

// ErrNotInitialized is returned when a stream is requested from a backend
// that has not been initialized
var ErrNotInitialized = errors.New("not initialized")

// Backend provides an abstraction layer over the audio output device.
// This enables dependency injection and makes testing hardware-independent
type Backend interface {
	// Initialize the audio subsystem
	Initialize() error

	// Terminate the audio subsystem
	Terminate() error

	// OpenOutput creates a playback stream. Write blocks until the device
	// has room for the buffer, which paces the renderer.
	OpenOutput(sampleRate float64, channels, bufferSize int) (OutputStream, error)
}

// OutputStream abstracts a playback stream
type OutputStream interface {
	// Start the audio stream
	Start() error

	// Stop the audio stream
	Stop() error

	// Close the audio stream and release resources
	Close() error

	// Write interleaved samples to the stream
	Write(data []float32) error
}
