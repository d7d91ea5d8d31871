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

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-loop/internal/routine"
	"github.com/loqalabs/loqa-loop/internal/sound"
)

// MaxCallDepth bounds nested calls so a routine calling itself fails
// instead of exhausting the stack
const MaxCallDepth = 64

var (
	// ErrUnknownRoutine is returned when a name is not bound in the snapshot
	ErrUnknownRoutine = errors.New("unknown routine")

	// ErrCallDepth is returned when calls nest deeper than MaxCallDepth
	ErrCallDepth = errors.New("call depth exceeded")
)

// Interpreter executes routines against a Synth through the sound helpers
type Interpreter struct {
	synth sound.Synth
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInterpreter creates an interpreter that renders through synth
func NewInterpreter(synth sound.Synth) *Interpreter {
	return &Interpreter{
		synth: synth,
		sleep: sleepContext,
	}
}

// Run executes the routine bound to name in snap. Every call made while
// running resolves against the same snapshot, so a routine never mixes two
// versions of the table.
func (in *Interpreter) Run(ctx context.Context, snap *routine.Snapshot, name string) error {
	return in.call(ctx, snap, name, 0)
}

func (in *Interpreter) call(ctx context.Context, snap *routine.Snapshot, name string, depth int) error {
	if depth >= MaxCallDepth {
		return fmt.Errorf("%w: %q at depth %d", ErrCallDepth, name, depth)
	}
	r, ok := snap.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoutine, name)
	}
	return in.steps(ctx, snap, r.Steps, depth)
}

func (in *Interpreter) steps(ctx context.Context, snap *routine.Snapshot, steps []routine.Step, depth int) error {
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := in.step(ctx, snap, &steps[i], depth); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) step(ctx context.Context, snap *routine.Snapshot, s *routine.Step, depth int) error {
	switch s.Kind {
	case routine.StepTone:
		return sound.Tone(in.synth, s.Tone.Pitch, s.Tone.Duration, s.Tone.Amplitude, sound.WithWave(s.Tone.Wave))
	case routine.StepBeat:
		return sound.PlayBeat(in.synth, sound.WithSample(s.Beat.Sample), sound.WithAmplitude(s.Beat.Amplitude))
	case routine.StepSleep:
		if err := sound.ValidateSeconds(s.Sleep); err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
		return in.sleep(ctx, time.Duration(s.Sleep*float64(time.Second)))
	case routine.StepCall:
		return in.call(ctx, snap, s.Call, depth+1)
	case routine.StepRepeat:
		for i := 0; i < s.Repeat.Times; i++ {
			if err := in.steps(ctx, snap, s.Repeat.Steps, depth); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported step kind %s", s.Kind)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
