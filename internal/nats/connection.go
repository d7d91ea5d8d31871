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
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// BroadcastSubject carries render events meant for every synth node
const BroadcastSubject = "loop.broadcast.render"

// RenderSubject returns the subject a performer publishes its render
// events on
func RenderSubject(performerID string) string {
	return fmt.Sprintf("loop.%s.render", performerID)
}

// Connection is the part of *nats.Conn the publisher and subscriber use,
// so tests can inject a mock
type Connection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// ConnectionAdapter adapts *nats.Conn to the Connection interface
type ConnectionAdapter struct {
	conn *nats.Conn
}

func NewConnectionAdapter(conn *nats.Conn) *ConnectionAdapter {
	return &ConnectionAdapter{conn: conn}
}

func (c *ConnectionAdapter) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *ConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, cb)
}

func (c *ConnectionAdapter) Close() {
	c.conn.Close()
}

// DefaultConnectAttempts is used when Connect is given no attempt count
const DefaultConnectAttempts = 5

// connectDelay is the pause between connection attempts
var connectDelay = 2 * time.Second

// Connect dials natsURL, retrying up to attempts times
func Connect(natsURL, name string, attempts int) (Connection, error) {
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}

	var nc *nats.Conn
	var err error

	for i := 0; i < attempts; i++ {
		nc, err = nats.Connect(natsURL,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Printf("⚠️  NATS disconnected: %v", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Printf("✅ NATS reconnected to %s", c.ConnectedUrl())
			}),
		)
		if err == nil {
			break
		}
		log.Printf("⚠️  Failed to connect to NATS (attempt %d/%d): %v", i+1, attempts, err)
		if i < attempts-1 {
			time.Sleep(connectDelay)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
	}

	log.Printf("✅ Connected to NATS at %s", natsURL)
	return NewConnectionAdapter(nc), nil
}
