package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/gorilla/websocket"
)

// conforms to `MessageTransport`
type channelTransport struct {
	messages  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newChannelTransport() *channelTransport {
	return &channelTransport{
		messages: make(chan []byte, 1024),
		closed:   make(chan struct{}),
	}
}

func (self *channelTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-self.closed:
		return errors.New("transport closed")
	default:
	}
	if messageType != websocket.TextMessage {
		// pings are not interesting here
		return nil
	}
	select {
	case self.messages <- data:
		return nil
	case <-self.closed:
		return errors.New("transport closed")
	}
}

func (self *channelTransport) SetWriteDeadline(t time.Time) error {
	return nil
}

func (self *channelTransport) Close() error {
	self.closeOnce.Do(func() {
		close(self.closed)
	})
	return nil
}

func (self *channelTransport) read(t *testing.T, timeout time.Duration) []byte {
	select {
	case message := <-self.messages:
		return message
	case <-time.After(timeout):
		t.FailNow()
		return nil
	}
}

// conforms to `MessageTransport`. Writes block until closed.
type stuckTransport struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func newStuckTransport() *stuckTransport {
	return &stuckTransport{
		closed: make(chan struct{}),
	}
}

func (self *stuckTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-self.closed:
		return errors.New("transport closed")
	}
}

func (self *stuckTransport) SetWriteDeadline(t time.Time) error {
	return nil
}

func (self *stuckTransport) Close() error {
	self.closeOnce.Do(func() {
		close(self.closed)
	})
	return nil
}

func TestBroadcastFifo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewConnectionRegistryWithDefaults(ctx)
	defer registry.Close()

	transport := newChannelTransport()
	connection := registry.Register(transport)
	connection.Activate()

	n := 100
	for i := 0; i < n; i += 1 {
		registry.Broadcast([]byte(fmt.Sprintf("message %d", i)))
	}

	for i := 0; i < n; i += 1 {
		message := transport.read(t, 5*time.Second)
		assert.Equal(t, fmt.Sprintf("message %d", i), string(message))
	}
}

func TestSlowPeerIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultConnectionRegistrySettings()
	settings.SendBufferSize = 4

	registry := NewConnectionRegistry(ctx, settings)
	defer registry.Close()

	var closedCount atomic.Int32
	closedIds := make(chan Id, 8)
	registry.SetCloseCallback(func(connectionId Id) {
		closedCount.Add(1)
		closedIds <- connectionId
	})

	stuck := newStuckTransport()
	slow := registry.Register(stuck)
	slow.Activate()

	healthy := newChannelTransport()
	fast := registry.Register(healthy)
	fast.Activate()

	// overflow the slow peer's queue. +1 in flight at the stuck write.
	n := settings.SendBufferSize + 10
	for i := 0; i < n; i += 1 {
		registry.Broadcast([]byte(fmt.Sprintf("message %d", i)))
	}

	// the healthy peer sees every message, in order
	for i := 0; i < n; i += 1 {
		message := healthy.read(t, 5*time.Second)
		assert.Equal(t, fmt.Sprintf("message %d", i), string(message))
	}

	// the slow peer is closed, exactly once
	select {
	case closedId := <-closedIds:
		assert.Equal(t, slow.ConnectionId(), closedId)
	case <-time.After(5 * time.Second):
		t.FailNow()
	}
	assert.Equal(t, int32(1), closedCount.Load())
	assert.Equal(t, 1, registry.Len())
}

func TestCloseIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewConnectionRegistryWithDefaults(ctx)
	defer registry.Close()

	var closedCount atomic.Int32
	registry.SetCloseCallback(func(connectionId Id) {
		closedCount.Add(1)
	})

	transport := newChannelTransport()
	connection := registry.Register(transport)
	connection.Activate()

	// concurrent error and explicit close paths collapse to one cleanup
	connection.Close()
	connection.Close()
	registry.Unregister(connection.ConnectionId())

	assert.Equal(t, int32(1), closedCount.Load())
	assert.Equal(t, 0, registry.Len())

	err := connection.Send([]byte("late"))
	assert.NotEqual(t, err, nil)
}

func TestConnectionIdsUnique(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewConnectionRegistryWithDefaults(ctx)
	defer registry.Close()

	seen := map[Id]bool{}
	for i := 0; i < 100; i += 1 {
		connection := registry.Register(newChannelTransport())
		assert.Equal(t, false, seen[connection.ConnectionId()])
		seen[connection.ConnectionId()] = true
	}
	assert.Equal(t, 100, registry.Len())
}
