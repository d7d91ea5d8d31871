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
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-loop/internal/sound"
)

// MaxRepeat bounds the times of a single repeat step
const MaxRepeat = 10000

// fileDoc is the top level of a source file
type fileDoc struct {
	BPM      float64              `yaml:"bpm"`
	Routines map[string][]rawStep `yaml:"routines"`
}

// rawStep keeps the single key/value pair of a step for later conversion
type rawStep struct {
	kind  string
	line  int
	value *yaml.Node
}

func (s *rawStep) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: a step must be a mapping with exactly one key", node.Line)
	}
	s.kind = node.Content[0].Value
	s.line = node.Content[0].Line
	s.value = node.Content[1]
	return nil
}

// Parse decodes the routines defined by one source file. An empty file
// defines nothing. Any error rejects the whole file so a caller can keep the
// routines it had before.
func Parse(source string, data []byte) ([]*Routine, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	if doc.BPM < 0 || math.IsNaN(doc.BPM) || math.IsInf(doc.BPM, 0) {
		return nil, fmt.Errorf("%s: bpm must be a finite number not below zero, got %v", source, doc.BPM)
	}
	c := converter{source: source, scale: 1}
	if doc.BPM > 0 {
		c.scale = 60 / doc.BPM
	}

	routines := make([]*Routine, 0, len(doc.Routines))
	for name, raw := range doc.Routines {
		if name == "" {
			return nil, fmt.Errorf("%s: routine with empty name", source)
		}
		steps, err := c.steps(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: routine %q: %w", source, name, err)
		}
		routines = append(routines, &Routine{Name: name, Source: source, Steps: steps})
	}
	sort.Slice(routines, func(i, j int) bool {
		return routines[i].Name < routines[j].Name
	})
	return routines, nil
}

// converter turns raw steps into Steps. scale converts beats to seconds.
type converter struct {
	source string
	scale  float64
}

func (c converter) steps(raw []rawStep) ([]Step, error) {
	steps := make([]Step, 0, len(raw))
	for _, r := range raw {
		step, err := c.step(r)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", r.line, r.kind, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (c converter) step(r rawStep) (Step, error) {
	switch r.kind {
	case "tone":
		return c.tone(r.value)
	case "beat":
		return c.beat(r.value)
	case "sleep":
		seconds, err := c.seconds(r.value)
		if err != nil {
			return Step{}, err
		}
		return Step{Kind: StepSleep, Sleep: seconds}, nil
	case "call":
		if r.value.Kind != yaml.ScalarNode || r.value.Value == "" {
			return Step{}, errors.New("expected a routine name")
		}
		return Step{Kind: StepCall, Call: r.value.Value}, nil
	case "repeat":
		return c.repeat(r.value)
	default:
		return Step{}, errors.New("unknown step")
	}
}

func (c converter) tone(node *yaml.Node) (Step, error) {
	var raw struct {
		Pitch     *yaml.Node `yaml:"pitch"`
		Duration  *yaml.Node `yaml:"duration"`
		Amplitude *float64   `yaml:"amplitude"`
		Synth     string     `yaml:"synth"`
	}
	if err := decodeStrict(node, &raw, "pitch", "duration", "amplitude", "synth"); err != nil {
		return Step{}, err
	}
	if raw.Pitch == nil || isNull(raw.Pitch) {
		return Step{}, errors.New("pitch is required")
	}
	if raw.Duration == nil || isNull(raw.Duration) {
		return Step{}, errors.New("duration is required")
	}
	pitch, err := c.pitch(raw.Pitch)
	if err != nil {
		return Step{}, err
	}
	duration, err := c.seconds(raw.Duration)
	if err != nil {
		return Step{}, fmt.Errorf("duration: %w", err)
	}
	amplitude, err := amplitudeOrDefault(raw.Amplitude)
	if err != nil {
		return Step{}, err
	}
	wave, err := sound.ParseWave(raw.Synth)
	if err != nil {
		return Step{}, err
	}
	return Step{Kind: StepTone, Tone: ToneStep{
		Pitch:     pitch,
		Duration:  duration,
		Amplitude: amplitude,
		Wave:      wave,
	}}, nil
}

// pitch accepts a MIDI note number or a note name such as eb or c'
func (c converter) pitch(node *yaml.Node) (float64, error) {
	if node.Kind != yaml.ScalarNode {
		return 0, errors.New("expected a MIDI note or a note name")
	}
	v, ok, err := number(node)
	if err != nil {
		return 0, err
	}
	if !ok {
		return parsePitch(node.Value)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("pitch must be finite, got %v", v)
	}
	return v, nil
}

// beat accepts `beat: {}`, `beat:` and the shorthand `beat: snare`
func (c converter) beat(node *yaml.Node) (Step, error) {
	step := Step{Kind: StepBeat, Beat: BeatStep{Sample: sound.DefaultSample, Amplitude: sound.DefaultAmplitude}}
	if isNull(node) {
		return step, nil
	}
	if node.Kind == yaml.ScalarNode {
		step.Beat.Sample = node.Value
		return step, nil
	}

	var raw struct {
		Sample    string   `yaml:"sample"`
		Amplitude *float64 `yaml:"amplitude"`
	}
	if err := decodeStrict(node, &raw, "sample", "amplitude"); err != nil {
		return Step{}, err
	}
	if raw.Sample != "" {
		step.Beat.Sample = raw.Sample
	}
	amplitude, err := amplitudeOrDefault(raw.Amplitude)
	if err != nil {
		return Step{}, err
	}
	step.Beat.Amplitude = amplitude
	return step, nil
}

func (c converter) repeat(node *yaml.Node) (Step, error) {
	var raw struct {
		Times int       `yaml:"times"`
		Steps []rawStep `yaml:"steps"`
	}
	if err := decodeStrict(node, &raw, "times", "steps"); err != nil {
		return Step{}, err
	}
	if raw.Times < 1 || raw.Times > MaxRepeat {
		return Step{}, fmt.Errorf("times must be between 1 and %d, got %d", MaxRepeat, raw.Times)
	}
	steps, err := c.steps(raw.Steps)
	if err != nil {
		return Step{}, err
	}
	return Step{Kind: StepRepeat, Repeat: RepeatStep{Times: raw.Times, Steps: steps}}, nil
}

// seconds accepts beats, a fraction of a beat such as 1/4, or milliseconds
// such as 250ms
func (c converter) seconds(node *yaml.Node) (float64, error) {
	if node.Kind != yaml.ScalarNode {
		return 0, errors.New("expected a number")
	}
	v, ok, err := number(node)
	if err != nil {
		return 0, err
	}
	if ok {
		v *= c.scale
	} else if v, err = parseDuration(node.Value, c.scale); err != nil {
		return 0, err
	}
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return 0, fmt.Errorf("must be finite, got %q", node.Value)
	case v < 0:
		return 0, fmt.Errorf("must not be negative, got %v", v)
	case v > sound.MaxSeconds:
		return 0, fmt.Errorf("must not exceed %ds, got %q", sound.MaxSeconds, node.Value)
	}
	return v, nil
}

func amplitudeOrDefault(v *float64) (float64, error) {
	if v == nil {
		return sound.DefaultAmplitude, nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, fmt.Errorf("amplitude must be finite, got %v", *v)
	}
	if *v < 0 {
		return 0, fmt.Errorf("amplitude must not be negative, got %v", *v)
	}
	return *v, nil
}

// number decodes an int or float scalar. ok is false for strings, which
// carry notation.
func number(node *yaml.Node) (v float64, ok bool, err error) {
	switch node.ShortTag() {
	case "!!int", "!!float":
		if err := node.Decode(&v); err != nil {
			return 0, false, err
		}
		return v, true, nil
	}
	return 0, false, nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

// decodeStrict decodes a mapping node, rejecting keys not in allowed.
// yaml.Node.Decode has no KnownFields switch of its own.
func decodeStrict(node *yaml.Node, out interface{}, allowed ...string) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping, got %q", node.Value)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !contains(allowed, key) {
			return fmt.Errorf("line %d: unknown field %q", node.Content[i].Line, key)
		}
	}
	return node.Decode(out)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
