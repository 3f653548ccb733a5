package collab

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// the transport side of one live client session. `*websocket.Conn` satisfies
// this. Tests use in-memory implementations.
type MessageTransport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type ConnectionRegistrySettings struct {
	SendBufferSize int
	WriteTimeout   time.Duration
	PingTimeout    time.Duration
}

func DefaultConnectionRegistrySettings() *ConnectionRegistrySettings {
	return &ConnectionRegistrySettings{
		SendBufferSize: 256,
		WriteTimeout:   5 * time.Second,
		PingTimeout:    30 * time.Second,
	}
}

// one live client session. Owned by the registry: created on connect,
// destroyed on disconnect or error. The id is never reused.
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	connectionId Id
	transport    MessageTransport
	settings     *ConnectionRegistrySettings

	send chan []byte

	// inactive until the snapshot has been queued
	active atomic.Bool

	closeOnce     sync.Once
	closeCallback func(Id)
}

func (self *Connection) ConnectionId() Id {
	return self.connectionId
}

// makes the connection visible to broadcasts
func (self *Connection) Activate() {
	self.active.Store(true)
}

// enqueues one frame, preserving enqueue order per connection.
// never blocks: a full queue means a slow or dead peer, which is closed
// rather than allowed to stall delivery to other peers.
func (self *Connection) Send(message []byte) error {
	select {
	case <-self.ctx.Done():
		return errors.New("connection closed")
	default:
	}
	select {
	case self.send <- message:
		return nil
	default:
		glog.Infof("[c]drop %s-> send queue full\n", self.connectionId)
		// close off the caller's goroutine. Send is called with the core
		// lock held and the close path takes it again for cleanup.
		go self.Close()
		return errors.New("send queue full")
	}
}

// single writer per connection keeps delivery order equal to enqueue order
func (self *Connection) run() {
	defer self.Close()

	for {
		select {
		case <-self.ctx.Done():
			return
		case message := <-self.send:
			self.transport.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.transport.WriteMessage(websocket.TextMessage, message); err != nil {
				// a websocket deadline timeout cannot be recovered
				glog.Infof("[c]%s-> error = %s\n", self.connectionId, err)
				return
			}
			glog.V(2).Infof("[c]%s->\n", self.connectionId)
		case <-time.After(self.settings.PingTimeout):
			self.transport.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.transport.WriteMessage(websocket.PingMessage, make([]byte, 0)); err != nil {
				return
			}
		}
	}
}

// safe to call from any path (transport error, explicit close, protocol
// violation) any number of times. The close callback runs exactly once.
func (self *Connection) Close() {
	self.closeOnce.Do(func() {
		self.active.Store(false)
		self.cancel()
		self.transport.Close()
		if self.closeCallback != nil {
			HandleError(func() {
				self.closeCallback(self.connectionId)
			})
		}
	})
}

type CloseFunction func(connectionId Id)

// tracks each live client connection and its ephemeral identity.
// Reads connection handles only; never touches document or presence state.
type ConnectionRegistry struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *ConnectionRegistrySettings

	mutex         sync.Mutex
	connections   map[Id]*Connection
	closeCallback CloseFunction
}

func NewConnectionRegistryWithDefaults(ctx context.Context) *ConnectionRegistry {
	return NewConnectionRegistry(ctx, DefaultConnectionRegistrySettings())
}

func NewConnectionRegistry(ctx context.Context, settings *ConnectionRegistrySettings) *ConnectionRegistry {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ConnectionRegistry{
		ctx:         cancelCtx,
		cancel:      cancel,
		settings:    settings,
		connections: map[Id]*Connection{},
	}
}

// the close callback runs exactly once per connection, after the
// connection has been removed from the registry
func (self *ConnectionRegistry) SetCloseCallback(closeCallback CloseFunction) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.closeCallback = closeCallback
}

func (self *ConnectionRegistry) Register(transport MessageTransport) *Connection {
	cancelCtx, cancel := context.WithCancel(self.ctx)
	connection := &Connection{
		ctx:           cancelCtx,
		cancel:        cancel,
		connectionId:  NewId(),
		transport:     transport,
		settings:      self.settings,
		send:          make(chan []byte, self.settings.SendBufferSize),
		closeCallback: self.closed,
	}

	self.mutex.Lock()
	self.connections[connection.connectionId] = connection
	count := len(self.connections)
	self.mutex.Unlock()

	go connection.run()

	glog.V(1).Infof("[r]register %s (%d live)\n", connection.connectionId, count)
	return connection
}

func (self *ConnectionRegistry) closed(connectionId Id) {
	self.mutex.Lock()
	_, ok := self.connections[connectionId]
	delete(self.connections, connectionId)
	closeCallback := self.closeCallback
	self.mutex.Unlock()

	if !ok {
		return
	}
	glog.V(1).Infof("[r]unregister %s\n", connectionId)
	if closeCallback != nil {
		closeCallback(connectionId)
	}
}

func (self *ConnectionRegistry) Unregister(connectionId Id) {
	self.mutex.Lock()
	connection, ok := self.connections[connectionId]
	self.mutex.Unlock()

	if ok {
		connection.Close()
	}
}

func (self *ConnectionRegistry) Get(connectionId Id) *Connection {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.connections[connectionId]
}

func (self *ConnectionRegistry) Send(connectionId Id, message []byte) error {
	self.mutex.Lock()
	connection, ok := self.connections[connectionId]
	self.mutex.Unlock()

	if !ok {
		return errors.New("no such connection")
	}
	return connection.Send(message)
}

// enqueues to every active connection. A failure to one peer never affects
// delivery to the others.
func (self *ConnectionRegistry) Broadcast(message []byte, excluding ...Id) {
	self.mutex.Lock()
	connections := make([]*Connection, 0, len(self.connections))
	for _, connection := range self.connections {
		connections = append(connections, connection)
	}
	self.mutex.Unlock()

	for _, connection := range connections {
		if !connection.active.Load() {
			continue
		}
		excluded := false
		for _, excludedId := range excluding {
			if connection.connectionId == excludedId {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		connection.Send(message)
	}
}

func (self *ConnectionRegistry) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.connections)
}

func (self *ConnectionRegistry) Close() {
	self.mutex.Lock()
	connections := make([]*Connection, 0, len(self.connections))
	for _, connection := range self.connections {
		connections = append(connections, connection)
	}
	self.mutex.Unlock()

	for _, connection := range connections {
		connection.Close()
	}
	self.cancel()
}
