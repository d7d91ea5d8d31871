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

package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-loop/internal/routine"
)

// DefaultInterval is the pause between two reload passes
const DefaultInterval = 250 * time.Millisecond

// Stats counts what the reloader has done since it was created
type Stats struct {
	Passes   uint64 // completed ReloadOnce calls
	Applied  uint64 // files whose changed content was published
	Failures uint64 // files that could not be read or parsed
}

// Reloader keeps the definition table in sync with the source files on disk.
// A file that fails to load keeps its last good routines; other files are
// unaffected.
type Reloader struct {
	table    *routine.Table
	dir      string
	files    []string
	interval time.Duration
	readFile func(string) ([]byte, error)

	mu      sync.Mutex // serialises passes
	hashes  map[string]string
	failing map[string]string

	passes   atomic.Uint64
	applied  atomic.Uint64
	failures atomic.Uint64
}

// New creates a reloader for files, relative to dir unless absolute
func New(table *routine.Table, dir string, files []string, interval time.Duration) *Reloader {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reloader{
		table:    table,
		dir:      dir,
		files:    append([]string(nil), files...),
		interval: interval,
		readFile: os.ReadFile,
		hashes:   make(map[string]string),
		failing:  make(map[string]string),
	}
}

// Run reloads every interval until ctx is cancelled. The first pass is
// immediate unless ReloadOnce has already run, in which case Run waits a
// full interval.
func (r *Reloader) Run(ctx context.Context) error {
	log.Printf("🔁 Reloader: watching %d file(s) in %s every %v", len(r.files), r.dir, r.interval)

	var first time.Duration
	if r.passes.Load() > 0 {
		first = r.interval
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🔁 Reloader: stopped")
			return ctx.Err()
		case <-timer.C:
		}

		// errors are logged per file inside ReloadOnce
		_ = r.ReloadOnce()
		timer.Reset(r.interval)
	}
}

// ReloadOnce re-reads every file and publishes those whose content changed.
// The returned error joins the failures of this pass, one per file.
func (r *Reloader) ReloadOnce() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.passes.Add(1)

	var errs []error
	for _, file := range r.files {
		if err := r.reloadFile(file); err != nil {
			r.failures.Add(1)
			errs = append(errs, err)
			r.reportFailure(file, err)
			continue
		}
		if _, wasFailing := r.failing[file]; wasFailing {
			delete(r.failing, file)
			log.Printf("✅ Reloader: %s loads again", file)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the reloader counters
func (r *Reloader) Stats() Stats {
	return Stats{
		Passes:   r.passes.Load(),
		Applied:  r.applied.Load(),
		Failures: r.failures.Load(),
	}
}

func (r *Reloader) reloadFile(file string) error {
	path := r.path(file)
	data, err := r.readFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if prev, ok := r.hashes[file]; ok && prev == hash {
		return nil
	}

	routines, err := routine.Parse(file, data)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", file, err)
	}

	snap := r.table.Apply(file, routines)
	r.hashes[file] = hash
	r.applied.Add(1)
	log.Printf("📥 Reloader: loaded %s (%d routines, table v%d)", file, len(routines), snap.Version())
	return nil
}

// reportFailure logs a failure only when it differs from the last one seen
// for the same file, so a broken file does not flood the log every pass
func (r *Reloader) reportFailure(file string, err error) {
	msg := err.Error()
	if r.failing[file] == msg {
		return
	}
	r.failing[file] = msg
	log.Printf("❌ Reloader: keeping last good version of %s: %v", file, err)
}

func (r *Reloader) path(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(r.dir, file)
}
