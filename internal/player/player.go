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

package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-loop/internal/routine"
)

// DefaultInterval is the pause between two invocations of the entry routine
const DefaultInterval = 100 * time.Millisecond

// DefaultEntry is the routine the player invokes
const DefaultEntry = "song"

// Runner executes a named routine from a snapshot
type Runner interface {
	Run(ctx context.Context, snap *routine.Snapshot, name string) error
}

// Stats counts what the player has done since it was created
type Stats struct {
	Iterations uint64 // invocations of the entry routine
	Failures   uint64 // invocations that returned an error or panicked
}

// Player invokes the entry routine over and over, looking it up in the
// current snapshot each time so reloads take effect on the next iteration.
type Player struct {
	table    *routine.Table
	runner   Runner
	entry    string
	interval time.Duration
	out      io.Writer

	mu      sync.Mutex
	lastErr string

	iterations atomic.Uint64
	failures   atomic.Uint64
}

// New creates a player for entry; empty entry and non-positive interval
// fall back to the defaults
func New(table *routine.Table, runner Runner, entry string, interval time.Duration) *Player {
	if entry == "" {
		entry = DefaultEntry
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Player{
		table:    table,
		runner:   runner,
		entry:    entry,
		interval: interval,
		out:      os.Stdout,
	}
}

// SetOutput redirects the restart notice
func (p *Player) SetOutput(w io.Writer) {
	p.out = w
}

// Run announces the restart once, then plays until ctx is cancelled.
// A failing iteration is logged and the loop carries on.
func (p *Player) Run(ctx context.Context) error {
	fmt.Fprintf(p.out, "restart '%s'\n", p.entry)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🎵 Player: stopped after %d iteration(s)", p.iterations.Load())
			return ctx.Err()
		case <-timer.C:
		}

		_ = p.PlayOnce(ctx)
		timer.Reset(p.interval)
	}
}

// PlayOnce looks the entry routine up in the current snapshot and runs it
func (p *Player) PlayOnce(ctx context.Context) (err error) {
	snap := p.table.Current()
	p.iterations.Add(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %q: %v", p.entry, r)
		}
		if err == nil {
			p.clearFailure()
			return
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}
		p.failures.Add(1)
		p.reportFailure(err)
	}()

	return p.runner.Run(ctx, snap, p.entry)
}

// Stats returns a snapshot of the player counters
func (p *Player) Stats() Stats {
	return Stats{
		Iterations: p.iterations.Load(),
		Failures:   p.failures.Load(),
	}
}

// reportFailure logs on change only; the loop runs ten times a second
func (p *Player) reportFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := err.Error()
	if msg == p.lastErr {
		return
	}
	p.lastErr = msg
	log.Printf("❌ Player: %s failed, carrying on: %v", p.entry, err)
}

func (p *Player) clearFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastErr != "" {
		p.lastErr = ""
		log.Printf("✅ Player: %s plays again", p.entry)
	}
}
