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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-loop/internal/sound"
	"github.com/loqalabs/loqa-loop/internal/wire"
)

// MockNATSConnection delivers published messages to in-process subscribers
type MockNATSConnection struct {
	mu          sync.RWMutex
	subscribers map[string][]nats.MsgHandler
	published   []*nats.Msg
	connected   bool
	errors      map[string]error
}

func NewMockNATSConnection() *MockNATSConnection {
	return &MockNATSConnection{
		subscribers: make(map[string][]nats.MsgHandler),
		connected:   true,
		errors:      make(map[string]error),
	}
}

func (m *MockNATSConnection) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, nats.ErrConnectionClosed
	}
	if err, exists := m.errors[subject]; exists {
		return nil, err
	}

	m.subscribers[subject] = append(m.subscribers[subject], handler)
	return &nats.Subscription{}, nil
}

func (m *MockNATSConnection) Publish(subject string, data []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nats.ErrConnectionClosed
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	m.published = append(m.published, msg)
	handlers := append([]nats.MsgHandler(nil), m.subscribers[subject]...)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(msg)
	}
	return nil
}

func (m *MockNATSConnection) Published() []*nats.Msg {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*nats.Msg(nil), m.published...)
}

func (m *MockNATSConnection) Subjects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var subjects []string
	for subject := range m.subscribers {
		subjects = append(subjects, subject)
	}
	return subjects
}

func (m *MockNATSConnection) SetError(subject string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[subject] = err
}

func (m *MockNATSConnection) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockNATSConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func TestRenderSubject(t *testing.T) {
	assert.Equal(t, "loop.desk-1.render", RenderSubject("desk-1"))
	assert.Equal(t, "loop.broadcast.render", BroadcastSubject)
}

func TestRenderPublisher_PublishesFrames(t *testing.T) {
	conn := NewMockNATSConnection()
	pub := NewRenderPublisher(conn, "desk-1")
	fixed := time.UnixMicro(1700000000000000)
	pub.now = func() time.Time { return fixed }

	require.NoError(t, sound.Tone(pub, 60, 0.5, 0.8))
	require.NoError(t, sound.PlayBeat(pub, sound.WithSample("snare")))

	msgs := conn.Published()
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(2), pub.Published())

	tone, err := wire.Decode(msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "loop.desk-1.render", msgs[0].Subject)
	assert.Equal(t, wire.FrameTypeTone, tone.Type)
	assert.Equal(t, uint32(1), tone.Sequence)
	assert.True(t, tone.Time().Equal(fixed))
	assert.Equal(t, 60.0, tone.Tone.Pitch)
	assert.Equal(t, 0.5, tone.Tone.Decay)
	assert.Equal(t, 0.8, tone.Tone.Amplitude)

	beat, err := wire.Decode(msgs[1].Data)
	require.NoError(t, err)
	assert.Equal(t, wire.FrameTypeSample, beat.Type)
	assert.Equal(t, uint32(2), beat.Sequence)
	assert.Equal(t, "snare", beat.SampleID)
	assert.Equal(t, 1.0, beat.Amplitude)
}

func TestRenderPublisher_PublishError(t *testing.T) {
	conn := NewMockNATSConnection()
	conn.Close()
	pub := NewRenderPublisher(conn, "desk-1")

	err := sound.PlayBeat(pub)
	require.Error(t, err)
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	assert.Contains(t, err.Error(), "loop.desk-1.render")
	assert.Equal(t, uint64(0), pub.Published())
}

func TestRenderSubscriber_Subscribes(t *testing.T) {
	conn := NewMockNATSConnection()
	sub := NewRenderSubscriber(conn, "desk-1", sound.Discard, 0)

	require.NoError(t, sub.Start())
	assert.ElementsMatch(t, []string{"loop.desk-1.render", "loop.broadcast.render"}, conn.Subjects())
	assert.Equal(t, DefaultQueueCapacity, cap(sub.events))
}

func TestRenderSubscriber_SubscribeErrors(t *testing.T) {
	tests := []struct {
		name    string
		subject string
	}{
		{"performer_subject", "loop.desk-1.render"},
		{"broadcast_subject", BroadcastSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := NewMockNATSConnection()
			conn.SetError(tt.subject, errors.New("permission denied"))
			sub := NewRenderSubscriber(conn, "desk-1", sound.Discard, 1)

			err := sub.Start()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.subject)
		})
	}
}

func TestRenderSubscriber_ReplaysOnSynth(t *testing.T) {
	conn := NewMockNATSConnection()
	synth := sound.NewMockSynth()
	sub := NewRenderSubscriber(conn, "desk-1", synth, 16)
	require.NoError(t, sub.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	pub := NewRenderPublisher(conn, "desk-1")
	require.NoError(t, sound.Tone(pub, 69, 1, 0.5, sound.WithWave(sound.WaveSaw)))
	require.NoError(t, sound.PlayBeat(pub, sound.WithSample("ride"), sound.WithAmplitude(0.3)))

	// another performer's events are not for this node
	other := NewRenderPublisher(conn, "desk-2")
	require.NoError(t, sound.PlayBeat(other))

	require.Eventually(t, func() bool {
		return len(synth.Tones()) == 1 && len(synth.Samples()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, sound.WaveSaw, synth.Tones()[0].Wave)
	assert.Equal(t, sound.SampleCall{SampleID: "ride", Amplitude: 0.3}, synth.Samples()[0])
	assert.Equal(t, SubscriberStats{Received: 2}, sub.Stats())
}

func TestRenderSubscriber_Broadcast(t *testing.T) {
	conn := NewMockNATSConnection()
	sub := NewRenderSubscriber(conn, "desk-1", sound.Discard, 4)
	require.NoError(t, sub.Start())

	data, err := wire.EncodeSample(1, time.Now(), "kick", 1)
	require.NoError(t, err)
	require.NoError(t, conn.Publish(BroadcastSubject, data))

	assert.Equal(t, uint64(1), sub.Stats().Received)
}

func TestRenderSubscriber_InvalidFrames(t *testing.T) {
	conn := NewMockNATSConnection()
	sub := NewRenderSubscriber(conn, "desk-1", sound.Discard, 4)
	require.NoError(t, sub.Start())

	require.NoError(t, conn.Publish("loop.desk-1.render", []byte("not a frame")))
	require.NoError(t, conn.Publish("loop.desk-1.render", nil))

	assert.Equal(t, SubscriberStats{Invalid: 2}, sub.Stats())
}

func TestRenderSubscriber_QueueOverflow(t *testing.T) {
	conn := NewMockNATSConnection()
	sub := NewRenderSubscriber(conn, "desk-1", sound.Discard, 2)
	require.NoError(t, sub.Start())

	pub := NewRenderPublisher(conn, "desk-1")
	for i := 0; i < 5; i++ {
		require.NoError(t, sound.PlayBeat(pub))
	}

	stats := sub.Stats()
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, uint64(3), stats.Dropped)
}

func TestRenderSubscriber_SynthFailures(t *testing.T) {
	conn := NewMockNATSConnection()
	synth := sound.NewMockSynth()
	synth.SetSampleError(sound.ErrUnknownSample)
	sub := NewRenderSubscriber(conn, "desk-1", synth, 4)
	require.NoError(t, sub.Start())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	pub := NewRenderPublisher(conn, "desk-1")
	require.NoError(t, sound.PlayBeat(pub, sound.WithSample("cowbell")))
	require.NoError(t, sound.Tone(pub, 60, 0.1, 1))

	require.Eventually(t, func() bool {
		return sub.Stats().Failed == 1 && len(synth.Tones()) == 1
	}, time.Second, 5*time.Millisecond, "a rejected event does not stop the subscriber")
}

func TestRenderSubscriber_Close(t *testing.T) {
	conn := NewMockNATSConnection()
	sub := NewRenderSubscriber(conn, "desk-1", sound.Discard, 1)

	sub.Close()
	assert.False(t, conn.IsConnected())

	empty := &RenderSubscriber{}
	empty.Close()
}

func TestNewConnectionAdapter(t *testing.T) {
	adapter := NewConnectionAdapter(nil)
	require.NotNil(t, adapter)
	assert.Nil(t, adapter.conn)
}

func TestConnect_Unreachable(t *testing.T) {
	saved := connectDelay
	connectDelay = time.Millisecond
	defer func() { connectDelay = saved }()

	conn, err := Connect("nats://127.0.0.1:1", "loqa-loop-test", 2)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
