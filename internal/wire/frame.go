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

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/loqalabs/loqa-loop/internal/sound"
)

// Binary frame protocol for render events sent between performers and
// synth nodes over NATS

// FrameType represents the kind of render event a frame carries
type FrameType uint8

const (
	FrameTypeTone   FrameType = 0x01
	FrameTypeSample FrameType = 0x02
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeTone:
		return "tone"
	case FrameTypeSample:
		return "sample"
	default:
		return fmt.Sprintf("FrameType(0x%02X)", uint8(t))
	}
}

// FrameHeader represents the fixed-size frame header (20 bytes)
type FrameHeader struct {
	Magic     uint32    // 0x4C4F4F50 ("LOOP")
	Type      FrameType // Frame type (1 byte)
	Reserved  uint8     // Reserved for future use (1 byte)
	Length    uint16    // Payload length (2 bytes)
	Sequence  uint32    // Sequence number (4 bytes)
	Timestamp uint64    // Unix timestamp microseconds (8 bytes)
}

const (
	// Magic number for frame validation
	FrameMagic = 0x4C4F4F50 // "LOOP" in big-endian

	HeaderSize   = 20
	MaxFrameSize = 512
	MaxDataSize  = MaxFrameSize - HeaderSize

	// tone payload: six float64 fields and the wave
	tonePayloadSize = 6*8 + 1

	// MaxSampleIDLength bounds the sample name carried in a sample frame
	MaxSampleIDLength = 255
)

var (
	ErrInvalidMagic   = errors.New("invalid frame magic")
	ErrFrameSize      = errors.New("frame size mismatch")
	ErrUnknownType    = errors.New("unknown frame type")
	ErrInvalidPayload = errors.New("invalid frame payload")
)

// Event is a decoded render event
type Event struct {
	Type      FrameType
	Sequence  uint32
	Timestamp uint64

	Tone sound.ToneParams // FrameTypeTone

	SampleID  string  // FrameTypeSample
	Amplitude float64 // FrameTypeSample
}

// Time returns the send time carried in the header
func (e *Event) Time() time.Time {
	return time.UnixMicro(int64(e.Timestamp)) //nolint:gosec // G115: timestamps fit in int64 until year 294247
}

// Apply replays the event on s
func (e *Event) Apply(s sound.Synth) error {
	switch e.Type {
	case FrameTypeTone:
		return s.RenderTone(e.Tone)
	case FrameTypeSample:
		return s.RenderSample(e.SampleID, e.Amplitude)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownType, e.Type)
	}
}

// EncodeTone serializes a tone event
func EncodeTone(seq uint32, ts time.Time, p sound.ToneParams) ([]byte, error) {
	payload := new(bytes.Buffer)
	payload.Grow(tonePayloadSize)
	for _, v := range []float64{p.Pitch, p.Attack, p.Decay, p.Sustain, p.Release, p.Amplitude} {
		if err := binary.Write(payload, binary.BigEndian, math.Float64bits(v)); err != nil {
			return nil, fmt.Errorf("failed to write tone payload: %w", err)
		}
	}
	payload.WriteByte(uint8(p.Wave))

	return encode(FrameTypeTone, seq, ts, payload.Bytes())
}

// EncodeSample serializes a sample event
func EncodeSample(seq uint32, ts time.Time, sampleID string, amplitude float64) ([]byte, error) {
	if len(sampleID) > MaxSampleIDLength {
		return nil, fmt.Errorf("sample id too long: %d bytes (max %d)", len(sampleID), MaxSampleIDLength)
	}

	payload := new(bytes.Buffer)
	if err := binary.Write(payload, binary.BigEndian, math.Float64bits(amplitude)); err != nil {
		return nil, fmt.Errorf("failed to write sample payload: %w", err)
	}
	payload.WriteByte(uint8(len(sampleID))) //nolint:gosec // G115: bounded by MaxSampleIDLength above
	payload.WriteString(sampleID)

	return encode(FrameTypeSample, seq, ts, payload.Bytes())
}

func encode(t FrameType, seq uint32, ts time.Time, data []byte) ([]byte, error) {
	if len(data) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", len(data), MaxDataSize)
	}

	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      t,
		Length:    uint16(len(data)), //nolint:gosec // G115: bounded by MaxDataSize above
		Sequence:  seq,
		Timestamp: uint64(ts.UnixMicro()), //nolint:gosec // G115: timestamps are after 1970
	}

	buf := new(bytes.Buffer)
	buf.Grow(HeaderSize + len(data))

	// Write header in big-endian format
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	buf.Write(data)

	return buf.Bytes(), nil
}

// Decode parses a frame produced by EncodeTone or EncodeSample
func Decode(data []byte) (*Event, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: frame too small: %d bytes (min %d)", ErrFrameSize, len(data), HeaderSize)
	}

	r := bytes.NewReader(data)
	var header FrameHeader
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("%w: 0x%08X (expected 0x%08X)", ErrInvalidMagic, header.Magic, FrameMagic)
	}

	if expected := HeaderSize + int(header.Length); len(data) != expected {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrFrameSize, len(data), expected)
	}

	ev := &Event{
		Type:      header.Type,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}

	var err error
	switch header.Type {
	case FrameTypeTone:
		err = decodeTone(r, header.Length, ev)
	case FrameTypeSample:
		err = decodeSample(r, ev)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, header.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeTone(r *bytes.Reader, length uint16, ev *Event) error {
	if length != tonePayloadSize {
		return fmt.Errorf("%w: tone payload is %d bytes (expected %d)", ErrInvalidPayload, length, tonePayloadSize)
	}

	var bits [6]uint64
	if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	wave, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if sound.Wave(wave) > sound.WaveSquare {
		return fmt.Errorf("%w: unknown wave %d", ErrInvalidPayload, wave)
	}

	ev.Tone = sound.ToneParams{
		Pitch:     math.Float64frombits(bits[0]),
		Attack:    math.Float64frombits(bits[1]),
		Decay:     math.Float64frombits(bits[2]),
		Sustain:   math.Float64frombits(bits[3]),
		Release:   math.Float64frombits(bits[4]),
		Amplitude: math.Float64frombits(bits[5]),
		Wave:      sound.Wave(wave),
	}
	if err := ev.Tone.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func decodeSample(r *bytes.Reader, ev *Event) error {
	var bits uint64
	if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	n, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if int(n) != r.Len() {
		return fmt.Errorf("%w: sample id is %d bytes, %d remain", ErrInvalidPayload, n, r.Len())
	}
	id := make([]byte, n)
	if _, err := io.ReadFull(r, id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ev.Amplitude = math.Float64frombits(bits)
	if err := sound.ValidateAmplitude(ev.Amplitude); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ev.SampleID = string(id)
	return nil
}
