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

package nats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-loop/internal/sound"
	"github.com/loqalabs/loqa-loop/internal/wire"
)

// RenderPublisher is a sound.Synth that sends every render call as a wire
// frame, so remote synth nodes can play along with a performer
type RenderPublisher struct {
	conn    Connection
	subject string
	seq     atomic.Uint32
	now     func() time.Time

	published atomic.Uint64
}

// NewRenderPublisher publishes on RenderSubject(performerID)
func NewRenderPublisher(conn Connection, performerID string) *RenderPublisher {
	return &RenderPublisher{
		conn:    conn,
		subject: RenderSubject(performerID),
		now:     time.Now,
	}
}

// Subject returns the subject frames are published on
func (p *RenderPublisher) Subject() string {
	return p.subject
}

// Published returns how many frames have been sent
func (p *RenderPublisher) Published() uint64 {
	return p.published.Load()
}

func (p *RenderPublisher) RenderTone(params sound.ToneParams) error {
	data, err := wire.EncodeTone(p.seq.Add(1), p.now(), params)
	if err != nil {
		return err
	}
	return p.publish(data)
}

func (p *RenderPublisher) RenderSample(sampleID string, amplitude float64) error {
	data, err := wire.EncodeSample(p.seq.Add(1), p.now(), sampleID, amplitude)
	if err != nil {
		return err
	}
	return p.publish(data)
}

func (p *RenderPublisher) publish(data []byte) error {
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	p.published.Add(1)
	return nil
}
