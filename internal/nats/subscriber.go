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
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-loop/internal/sound"
	"github.com/loqalabs/loqa-loop/internal/wire"
)

// DefaultQueueCapacity bounds the events waiting to be rendered
const DefaultQueueCapacity = 256

// SubscriberStats counts what a RenderSubscriber has seen
type SubscriberStats struct {
	Received uint64 // frames decoded and queued
	Invalid  uint64 // frames that failed to decode
	Dropped  uint64 // frames dropped because the queue was full
	Failed   uint64 // events the local synth rejected
}

// RenderSubscriber receives render frames for one performer and the
// broadcast subject and replays them on a local synth
type RenderSubscriber struct {
	natsConn    Connection
	performerID string
	synth       sound.Synth
	events      chan *wire.Event

	received atomic.Uint64
	invalid  atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewRenderSubscriber creates a subscriber; a non-positive capacity takes
// DefaultQueueCapacity
func NewRenderSubscriber(conn Connection, performerID string, synth sound.Synth, capacity int) *RenderSubscriber {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &RenderSubscriber{
		natsConn:    conn,
		performerID: performerID,
		synth:       synth,
		events:      make(chan *wire.Event, capacity),
	}
}

// Start subscribes to the performer's render subject and the broadcast
// subject
func (rs *RenderSubscriber) Start() error {
	performerTopic := RenderSubject(rs.performerID)
	if _, err := rs.natsConn.Subscribe(performerTopic, rs.handleRenderMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", performerTopic, err)
	}

	if _, err := rs.natsConn.Subscribe(BroadcastSubject, rs.handleRenderMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", BroadcastSubject, err)
	}

	log.Printf("🎧 Subscribed to render topics: %s, %s", performerTopic, BroadcastSubject)
	return nil
}

// handleRenderMessage decodes a frame and queues it without blocking the
// NATS dispatcher
func (rs *RenderSubscriber) handleRenderMessage(msg *nats.Msg) {
	ev, err := wire.Decode(msg.Data)
	if err != nil {
		if rs.invalid.Add(1) == 1 {
			log.Printf("❌ Failed to decode render frame on %s: %v", msg.Subject, err)
		}
		return
	}

	select {
	case rs.events <- ev:
		rs.received.Add(1)
	default:
		if rs.dropped.Add(1) == 1 {
			log.Printf("⚠️  Render queue full, dropping %s frame %d", ev.Type, ev.Sequence)
		}
	}
}

// Run replays queued events on the synth until ctx is cancelled
func (rs *RenderSubscriber) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-rs.events:
			if err := ev.Apply(rs.synth); err != nil {
				if rs.failed.Add(1) == 1 {
					log.Printf("⚠️  Failed to render %s frame %d: %v", ev.Type, ev.Sequence, err)
				}
			}
		}
	}
}

// Stats returns a snapshot of the subscriber counters
func (rs *RenderSubscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Received: rs.received.Load(),
		Invalid:  rs.invalid.Load(),
		Dropped:  rs.dropped.Load(),
		Failed:   rs.failed.Load(),
	}
}

// Close closes the NATS connection
func (rs *RenderSubscriber) Close() {
	if rs.natsConn != nil {
		rs.natsConn.Close()
		log.Println("🔌 NATS connection closed")
	}
}
