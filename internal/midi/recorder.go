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

package midi

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/loqalabs/loqa-loop/internal/sound"
)

const (
	// Resolution is the number of ticks per quarter note in written files
	Resolution = 960

	// TempoBPM is the tempo written files are timed against
	TempoBPM = 120.0

	// MaxEvents bounds a recording; later calls are counted and dropped
	MaxEvents = 1 << 20

	toneChannel = 0
	drumChannel = 9 // General MIDI channel 10

	drumLength = 100 * time.Millisecond
)

// drumKeys maps sample names to General MIDI percussion keys
var drumKeys = map[string]uint8{
	"kick":  36,
	"snare": 38,
	"hh_c":  42,
	"hh_o":  46,
	"ride":  51,

	"tabla_ghe1": 64, // low conga
}

// unknownDrumKey is the side stick, used for samples without a GM key
const unknownDrumKey = 37

type event struct {
	at  time.Duration
	seq int
	msg gomidi.Message
}

// Recorder is a sound.Synth that records every render call as MIDI notes,
// timed by the wall clock, and writes them as a Standard MIDI File
type Recorder struct {
	mu      sync.Mutex
	path    string
	start   time.Time
	now     func() time.Time
	events  []event
	dropped uint64
	closed  bool
}

// NewRecorder starts a recording that Close writes to path. An empty path
// records without writing; use WriteTo to get the file.
func NewRecorder(path string) *Recorder {
	r := &Recorder{path: path, now: time.Now}
	r.start = r.now()
	return r
}

// RenderTone records a note on the tone channel lasting the tone's length
func (r *Recorder) RenderTone(p sound.ToneParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	key, err := noteKey(p.Pitch)
	if err != nil {
		return err
	}
	vel := velocity(p.Amplitude)
	// NoteOff must never sort before its NoteOn
	length := max(p.Length(), 0)

	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now().Sub(r.start)
	r.add(at, gomidi.NoteOn(toneChannel, key, vel))
	r.add(at+length, gomidi.NoteOff(toneChannel, key))
	return nil
}

// RenderSample records a hit on the General MIDI drum channel
func (r *Recorder) RenderSample(sampleID string, amplitude float64) error {
	key, ok := drumKeys[sampleID]
	if !ok {
		key = unknownDrumKey
	}
	vel := velocity(amplitude)

	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now().Sub(r.start)
	r.add(at, gomidi.NoteOn(drumChannel, key, vel))
	r.add(at+drumLength, gomidi.NoteOff(drumChannel, key))
	return nil
}

func (r *Recorder) add(at time.Duration, msg gomidi.Message) {
	if r.closed {
		return
	}
	if len(r.events) >= MaxEvents {
		r.dropped++
		if r.dropped == 1 {
			log.Printf("⚠️  MIDI recorder: %d events recorded, dropping the rest", MaxEvents)
		}
		return
	}
	r.events = append(r.events, event{at: at, seq: len(r.events), msg: msg})
}

// Events returns the number of MIDI events recorded
func (r *Recorder) Events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// WriteTo writes the recording as a single-track Standard MIDI File
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	s, err := r.build()
	if err != nil {
		return 0, err
	}
	return s.WriteTo(w)
}

// Close stops recording and writes the file, if a path was given
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	count := len(r.events)
	r.mu.Unlock()

	if r.path == "" {
		return nil
	}

	s, err := r.build()
	if err != nil {
		return err
	}
	if err := s.WriteFile(r.path); err != nil {
		return fmt.Errorf("failed to write MIDI file %s: %w", r.path, err)
	}
	log.Printf("🎼 MIDI recorder: wrote %d event(s) to %s", count, r.path)
	return nil
}

func (r *Recorder) build() (*smf.SMF, error) {
	r.mu.Lock()
	events := append([]event(nil), r.events...)
	r.mu.Unlock()

	// note offs land between later note ons
	sort.Slice(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].seq < events[j].seq
	})

	var track smf.Track
	track.Add(0, smf.MetaTempo(TempoBPM))

	var last uint32
	for _, ev := range events {
		abs := ticks(ev.at)
		track.Add(abs-last, ev.msg)
		last = abs
	}
	track.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(Resolution)
	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("failed to add MIDI track: %w", err)
	}
	return s, nil
}

// ticks converts an offset from the start of the recording to absolute
// ticks at TempoBPM
func ticks(d time.Duration) uint32 {
	if d < 0 {
		return 0
	}
	return uint32(math.Round(d.Seconds() * TempoBPM / 60 * Resolution))
}

func noteKey(pitch float64) (uint8, error) {
	if math.IsNaN(pitch) || math.IsInf(pitch, 0) {
		return 0, fmt.Errorf("invalid pitch %v", pitch)
	}
	return uint8(math.Max(0, math.Min(127, math.Round(pitch)))), nil
}

func velocity(amplitude float64) uint8 {
	if math.IsNaN(amplitude) {
		return 1
	}
	return uint8(math.Max(1, math.Min(127, math.Round(amplitude*127))))
}

// WriteFile is a convenience for writing a recording to path without
// closing it
func (r *Recorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := r.WriteTo(f); err != nil {
		_ = f.Close() // Ignore errors during cleanup
		return err
	}
	return f.Close()
}
