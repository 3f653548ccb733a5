package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type CollabServerSettings struct {
	ReadLimit   int64
	ReadTimeout time.Duration

	RegistrySettings  *ConnectionRegistrySettings
	ProcessorSettings *EventProcessorSettings

	// verifies join tokens when set. When unset, tokens are parsed
	// without verification, which is for local development only.
	JwtSecret []byte
}

func DefaultCollabServerSettings() *CollabServerSettings {
	return &CollabServerSettings{
		ReadLimit:         mib(1),
		ReadTimeout:       60 * time.Second,
		RegistrySettings:  DefaultConnectionRegistrySettings(),
		ProcessorSettings: DefaultEventProcessorSettings(),
	}
}

// one long-lived bidirectional message channel per client, textual json
// frames. The server is an `http.Handler` that upgrades each request.
type CollabServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *CollabServerSettings

	registry   *ConnectionRegistry
	dispatcher *BroadcastDispatcher
	processor  *EventProcessor

	upgrader *websocket.Upgrader
}

func NewCollabServerWithDefaults(ctx context.Context) *CollabServer {
	return NewCollabServer(ctx, DefaultCollabServerSettings())
}

func NewCollabServer(ctx context.Context, settings *CollabServerSettings) *CollabServer {
	cancelCtx, cancel := context.WithCancel(ctx)

	registry := NewConnectionRegistry(cancelCtx, settings.RegistrySettings)
	dispatcher := NewBroadcastDispatcher(registry)
	processor := NewEventProcessor(cancelCtx, dispatcher, settings.ProcessorSettings)
	// disconnect cleanup runs exactly once per connection
	registry.SetCloseCallback(processor.Detach)

	return &CollabServer{
		ctx:        cancelCtx,
		cancel:     cancel,
		settings:   settings,
		registry:   registry,
		dispatcher: dispatcher,
		processor:  processor,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (self *CollabServer) Processor() *EventProcessor {
	return self.processor
}

func (self *CollabServer) Registry() *ConnectionRegistry {
	return self.registry
}

// connection lifecycle: register, snapshot, then the active read loop.
// Any read error, protocol violation, or explicit close funnels into the
// same idempotent close path.
func (self *CollabServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[s]upgrade error = %s\n", err)
		return
	}

	connection := self.registry.Register(ws)
	defer connection.Close()

	connectionId := connection.ConnectionId()

	var userInfo *Collaborator
	if token := r.URL.Query().Get("token"); token != "" {
		userInfo, err = ParseJoinToken(token, self.settings.JwtSecret)
		if err != nil {
			// a bad token is a validation error. The connection stays
			// open as anonymous.
			if frame, marshalErr := json.Marshal(NewErrorMessage(err)); marshalErr == nil {
				connection.Send(frame)
			}
			userInfo = nil
		}
	}

	if err := self.processor.Attach(connection); err != nil {
		glog.Infof("[s]%s initial state error = %s\n", connectionId, err)
		return
	}

	if userInfo != nil {
		self.processor.Join(connectionId, userInfo)
	}

	ws.SetReadLimit(self.settings.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[s]%s<- error = %s\n", connectionId, err)
			return
		}
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))

		switch messageType {
		case websocket.TextMessage:
			if _, err := self.processor.Process(connectionId, message); err != nil {
				var validationErr *ValidationError
				if errors.As(err, &validationErr) {
					// report only to the sender, never broadcast.
					// the connection stays open.
					glog.V(1).Infof("[s]%s<- rejected = %s\n", connectionId, validationErr)
					if frame, marshalErr := json.Marshal(NewErrorMessage(validationErr)); marshalErr == nil {
						connection.Send(frame)
					}
				} else {
					glog.Infof("[s]%s<- process error = %s\n", connectionId, err)
				}
			}
		default:
			glog.V(2).Infof("[s]other=%d %s<-\n", messageType, connectionId)
		}
	}
}

func (self *CollabServer) Close() {
	self.registry.Close()
	self.cancel()
}

// use this type when counting bytes
type ByteCount = int64

func mib(c ByteCount) ByteCount {
	return c * ByteCount(1024*1024)
}
