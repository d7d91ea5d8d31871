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

package routine

import (
	"sort"

	"github.com/loqalabs/loqa-loop/internal/sound"
)

// StepKind identifies what a Step does when executed
type StepKind uint8

const (
	StepTone StepKind = iota + 1
	StepBeat
	StepSleep
	StepCall
	StepRepeat
)

func (k StepKind) String() string {
	switch k {
	case StepTone:
		return "tone"
	case StepBeat:
		return "beat"
	case StepSleep:
		return "sleep"
	case StepCall:
		return "call"
	case StepRepeat:
		return "repeat"
	default:
		return "unknown"
	}
}

// ToneStep plays one tone through sound.Tone. Duration is in seconds.
type ToneStep struct {
	Pitch     float64
	Duration  float64
	Amplitude float64
	Wave      sound.Wave
}

// BeatStep plays one sample through sound.PlayBeat
type BeatStep struct {
	Sample    string
	Amplitude float64
}

// RepeatStep runs Steps Times times
type RepeatStep struct {
	Times int
	Steps []Step
}

// Step is one instruction of a routine. Only the field matching Kind is set.
type Step struct {
	Kind   StepKind
	Tone   ToneStep
	Beat   BeatStep
	Sleep  float64 // seconds
	Call   string
	Repeat RepeatStep
}

// Routine is a named sequence of steps loaded from a source file
type Routine struct {
	Name   string
	Source string
	Steps  []Step
}

// Snapshot is an immutable view of every routine known at one moment.
// Readers keep the snapshot they were given for as long as they need a
// consistent picture; new versions are published as new snapshots.
type Snapshot struct {
	version  uint64
	routines map[string]*Routine
}

var emptySnapshot = &Snapshot{routines: map[string]*Routine{}}

// Version increases by one every time a file is applied to the table
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Lookup returns the routine currently bound to name
func (s *Snapshot) Lookup(name string) (*Routine, bool) {
	r, ok := s.routines[name]
	return r, ok
}

// Len returns the number of routines in the snapshot
func (s *Snapshot) Len() int {
	return len(s.routines)
}

// Names returns the sorted routine names
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.routines))
	for name := range s.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
