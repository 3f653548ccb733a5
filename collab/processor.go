package collab

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

type EventProcessorSettings struct {
	// per-collaborator bounded event log, diagnostics only
	HistorySize int
}

func DefaultEventProcessorSettings() *EventProcessorSettings {
	return &EventProcessorSettings{
		HistorySize: 100,
	}
}

type EventProcessorStats struct {
	Version       int64 `json:"version"`
	EventCount    int64 `json:"event_count"`
	Collaborators int   `json:"collaborators"`
	Elements      int   `json:"elements"`
}

// validates, versions, and applies incoming changes, then hands them to the
// dispatcher. All stores are owned here and mutated only under one lock, so
// version assignment, store mutation, and broadcast enqueue are atomic with
// respect to every other event. This keeps the event order globally total.
type EventProcessor struct {
	ctx context.Context

	settings *EventProcessorSettings

	dispatcher *BroadcastDispatcher

	// single shared counter, never wall clock. Wall-clock versions collide
	// under bursts within the same millisecond.
	version atomic.Int64

	eventCount atomic.Int64

	mutex    sync.Mutex
	previews *PreviewStore
	presence *PresenceTracker
	comments *CommentStore
	viewport *ViewportController
	// connection id -> recent events
	history map[Id][]*ChangeEvent
}

func NewEventProcessorWithDefaults(ctx context.Context, dispatcher *BroadcastDispatcher) *EventProcessor {
	return NewEventProcessor(ctx, dispatcher, DefaultEventProcessorSettings())
}

func NewEventProcessor(ctx context.Context, dispatcher *BroadcastDispatcher, settings *EventProcessorSettings) *EventProcessor {
	return &EventProcessor{
		ctx:        ctx,
		settings:   settings,
		dispatcher: dispatcher,
		previews:   NewPreviewStore(),
		presence:   NewPresenceTracker(),
		comments:   NewCommentStore(),
		viewport:   NewViewportController(),
		history:    map[Id][]*ChangeEvent{},
	}
}

// parses, validates, versions, applies, and broadcasts one inbound frame.
// A `*ValidationError` return must be reported only to the sender.
func (self *EventProcessor) Process(connectionId Id, message []byte) (*ChangeEvent, error) {
	eventType, data, validationErr := parseClientEvent(message)
	if validationErr != nil {
		return nil, validationErr
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.applyLocked(connectionId, eventType, data), nil
}

// inserts a collaborator directly, used for token-seeded identities.
// Equivalent to processing a `user_join` frame from the connection.
func (self *EventProcessor) Join(connectionId Id, userInfo *Collaborator) *ChangeEvent {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.applyLocked(connectionId, EventTypeUserJoin, &UserJoin{UserInfo: userInfo})
}

func (self *EventProcessor) applyLocked(connectionId Id, eventType EventType, data any) *ChangeEvent {
	event := &ChangeEvent{
		EventId:   NewId(),
		Type:      eventType,
		Data:      data,
		UserId:    connectionId,
		Timestamp: time.Now(),
		Version:   self.version.Add(1),
	}

	switch change := data.(type) {
	case *ContentChange:
		self.previews.ApplyContent(change, event.Version, connectionId, event.Timestamp)
		self.dispatcher.Publish(event, connectionId)
	case *StyleChange:
		self.previews.ApplyStyles(change, event.Version, connectionId, event.Timestamp)
		self.dispatcher.Publish(event, connectionId)
	case *LayoutChange:
		self.previews.ApplyLayout(change, event.Version, connectionId, event.Timestamp)
		self.dispatcher.Publish(event, connectionId)
	case *UserJoin:
		collaborator := self.presence.Join(connectionId, change.UserInfo, event.Timestamp)
		// the joiner already has the full snapshot
		self.dispatcher.PublishMessage(&UserJoinMessage{
			Type:      MessageTypeUserJoin,
			UserId:    connectionId,
			UserInfo:  collaborator,
			Timestamp: event.Timestamp,
			Version:   event.Version,
		}, connectionId)
	case *UserLeave:
		if self.presence.Leave(connectionId) {
			self.dispatcher.PublishMessage(&UserLeaveMessage{
				Type:      MessageTypeUserLeave,
				UserId:    connectionId,
				Timestamp: event.Timestamp,
				Version:   event.Version,
			})
		}
	case *CursorMove:
		cursor := self.presence.SetCursor(connectionId, change, event.Timestamp)
		self.dispatcher.PublishMessage(&CursorUpdateMessage{
			Type:    MessageTypeCursorUpdate,
			UserId:  connectionId,
			Cursor:  cursor,
			Version: event.Version,
		})
	case *SelectionChange:
		selection := self.presence.SetSelection(connectionId, change, event.Timestamp)
		self.dispatcher.PublishMessage(&SelectionUpdateMessage{
			Type:      MessageTypeSelectionUpdate,
			UserId:    connectionId,
			Selection: selection,
			Version:   event.Version,
		})
	case *CommentAdd:
		comment := self.comments.Add(
			change.Comment.ElementId,
			connectionId,
			change.Comment.Text,
			change.Comment.Position,
			event.Timestamp,
		)
		self.dispatcher.PublishMessage(&CommentAddMessage{
			Type:    MessageTypeCommentAdd,
			Comment: comment,
			Version: event.Version,
		})
	case *CommentUpdate:
		// unknown id is a no-op, not an error
		if comment := self.comments.Update(change.CommentId, change.Text, event.Timestamp); comment != nil {
			self.dispatcher.PublishMessage(&CommentUpdateMessage{
				Type:    MessageTypeCommentUpdate,
				Comment: comment,
				Version: event.Version,
			})
		}
	case *CommentDelete:
		if self.comments.Delete(change.CommentId) {
			self.dispatcher.PublishMessage(&CommentDeleteMessage{
				Type:      MessageTypeCommentDelete,
				CommentId: change.CommentId,
				UserId:    connectionId,
				Version:   event.Version,
			})
		}
	case *PreviewModeChange:
		config := self.viewport.SetMode(change, connectionId, event.Timestamp)
		self.dispatcher.PublishMessage(&PreviewModeChangeMessage{
			Type:     MessageTypePreviewModeChange,
			UserId:   connectionId,
			Viewport: config,
			Version:  event.Version,
		})
	}

	self.appendHistoryLocked(connectionId, event)
	self.eventCount.Add(1)
	return event
}

func (self *EventProcessor) appendHistoryLocked(connectionId Id, event *ChangeEvent) {
	events := append(self.history[connectionId], event)
	if max := self.settings.HistorySize; 0 < max && max < len(events) {
		events = events[len(events)-max:]
	}
	self.history[connectionId] = events
}

// queues the full snapshot to the connection and makes it visible to
// broadcasts, atomically with respect to event processing. A connection
// attached after events E1..En sees exactly E1..En in its snapshot and
// every later event as a broadcast.
func (self *EventProcessor) Attach(connection *Connection) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	frame, err := json.Marshal(self.snapshotLocked())
	if err != nil {
		return err
	}
	if err := connection.Send(frame); err != nil {
		return err
	}
	connection.Activate()
	return nil
}

// presence cleanup for a closed connection. Broadcasts exactly one
// `user_leave` to the remaining connections, with a version of its own so
// the total order covers disconnects too.
func (self *EventProcessor) Detach(connectionId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.history, connectionId)
	if self.presence.Leave(connectionId) {
		self.dispatcher.PublishMessage(&UserLeaveMessage{
			Type:      MessageTypeUserLeave,
			UserId:    connectionId,
			Timestamp: time.Now(),
			Version:   self.version.Add(1),
		})
	}
}

func (self *EventProcessor) Snapshot() *InitialStateMessage {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.snapshotLocked()
}

func (self *EventProcessor) snapshotLocked() *InitialStateMessage {
	return &InitialStateMessage{
		Type:          MessageTypeInitialState,
		PreviewStates: self.previews.snapshot(),
		Collaborators: self.presence.snapshotCollaborators(),
		Comments:      self.comments.snapshot(),
		Cursors:       self.presence.snapshotCursors(),
		Selections:    self.presence.snapshotSelections(),
		Viewport:      self.viewport.Config(),
	}
}

// diagnostics only
func (self *EventProcessor) History(connectionId Id) []*ChangeEvent {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	events := self.history[connectionId]
	historyCopy := make([]*ChangeEvent, len(events))
	copy(historyCopy, events)
	return historyCopy
}

func (self *EventProcessor) PreviewState(elementId string) *PreviewState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.previews.Get(elementId)
}

func (self *EventProcessor) Comments(elementId string) []*Comment {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.comments.List(elementId)
}

func (self *EventProcessor) Viewport() *ViewportConfig {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.viewport.Config()
}

func (self *EventProcessor) Stats() *EventProcessorStats {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return &EventProcessorStats{
		Version:       self.version.Load(),
		EventCount:    self.eventCount.Load(),
		Collaborators: self.presence.Len(),
		Elements:      self.previews.Len(),
	}
}
