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
	"fmt"
	"math"
	"strconv"
	"strings"
)

// semitones above C for each note letter
var noteOffsets = map[byte]int{
	'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11,
}

// parsePitch reads a MIDI note number or a note name in Helmholtz notation.
// C is 36 and c is 48. Each trailing ' raises a lowercase name an octave and
// each leading , lowers an uppercase name an octave. A trailing octave number
// counts up from c (c1 is 60) or down from C (C1 is 24). A single # or b
// after the letter sharpens or flattens.
func parsePitch(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("pitch must be finite, got %q", s)
		}
		return v, nil
	}

	bad := fmt.Errorf("expected a MIDI note or a note name, got %q", s)

	rest := strings.TrimLeft(s, ",")
	commas := len(s) - len(rest)
	if rest == "" {
		return 0, bad
	}

	letter := rest[0]
	lower := letter >= 'a' && letter <= 'g'
	upper := letter >= 'A' && letter <= 'G'
	if !lower && !upper {
		return 0, bad
	}
	note := 36
	if lower {
		note = 48
	}
	note += noteOffsets[letter|0x20]
	rest = rest[1:]

	switch {
	case strings.HasPrefix(rest, "#"):
		note++
		rest = rest[1:]
	case strings.HasPrefix(rest, "b"):
		note--
		rest = rest[1:]
	}

	marks := strings.TrimLeft(rest, "'")
	primes := len(rest) - len(marks)

	switch {
	case commas > 0 && (lower || primes > 0 || marks != ""):
		return 0, bad
	case primes > 0 && (upper || marks != ""):
		return 0, bad
	case marks != "":
		octave, err := strconv.Atoi(marks)
		if err != nil || octave < 0 {
			return 0, bad
		}
		if upper {
			octave = -octave
		}
		note += 12 * octave
	default:
		note += 12 * (primes - commas)
	}

	if note < 0 || note > 127 {
		return 0, fmt.Errorf("note %q is outside the MIDI range", s)
	}
	return float64(note), nil
}

// parseDuration reads a count of beats ("1", "0.5"), a fraction of a beat
// ("1/4") or milliseconds ("250ms") and returns seconds. Milliseconds do not
// scale with the tempo.
func parseDuration(s string, secondsPerBeat float64) (float64, error) {
	s = strings.TrimSpace(s)
	bad := fmt.Errorf("expected a number, a fraction or milliseconds, got %q", s)

	if ms, ok := strings.CutSuffix(s, "ms"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(ms), 64)
		if err != nil {
			return 0, bad
		}
		return v / 1000, nil
	}

	num, den, fraction := strings.Cut(s, "/")
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, bad
	}
	if fraction {
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil || d == 0 {
			return 0, bad
		}
		v /= d
	}
	return v * secondsPerBeat, nil
}
