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
	"sync"
	"sync/atomic"
)

// Table is the process-wide definition table. Writers apply whole files;
// readers take the current Snapshot without locking.
//
// When two files define the same routine, the file that comes later in load
// order wins. A routine that disappears from a file on reload is dropped,
// unless another file still defines it.
type Table struct {
	mu      sync.Mutex // serialises Apply
	order   []string
	files   map[string][]*Routine
	current atomic.Pointer[Snapshot]
}

// NewTable creates an empty table. loadOrder fixes override precedence;
// files applied that are not listed rank after all listed files.
func NewTable(loadOrder []string) *Table {
	t := &Table{
		order: append([]string(nil), loadOrder...),
		files: make(map[string][]*Routine),
	}
	t.current.Store(emptySnapshot)
	return t
}

// Current returns the latest published snapshot. It never returns nil.
func (t *Table) Current() *Snapshot {
	return t.current.Load()
}

// Apply replaces every routine contributed by file with routines and
// publishes the resulting snapshot in one atomic swap.
func (t *Table) Apply(file string, routines []*Routine) *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, known := t.files[file]; !known && !t.listed(file) {
		t.order = append(t.order, file)
	}
	t.files[file] = append([]*Routine(nil), routines...)

	next := &Snapshot{
		version:  t.current.Load().version + 1,
		routines: make(map[string]*Routine),
	}
	for _, f := range t.order {
		for _, r := range t.files[f] {
			next.routines[r.Name] = r
		}
	}

	t.current.Store(next)
	return next
}

// Files returns the files applied so far, in load order
func (t *Table) Files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	files := make([]string, 0, len(t.files))
	for _, f := range t.order {
		if _, ok := t.files[f]; ok {
			files = append(files, f)
		}
	}
	return files
}

func (t *Table) listed(file string) bool {
	for _, f := range t.order {
		if f == file {
			return true
		}
	}
	return false
}
