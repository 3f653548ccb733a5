package collab

import (
	"time"
)

// server -> client envelopes. One struct per frame type, the type tag is
// fixed by the constructor.

const (
	MessageTypeEvent             = "event"
	MessageTypeInitialState      = "initial_state"
	MessageTypeUserJoin          = "user_join"
	MessageTypeUserLeave         = "user_leave"
	MessageTypeCursorUpdate      = "cursor_update"
	MessageTypeSelectionUpdate   = "selection_update"
	MessageTypeCommentAdd        = "comment_add"
	MessageTypeCommentUpdate     = "comment_update"
	MessageTypeCommentDelete     = "comment_delete"
	MessageTypePreviewModeChange = "preview_mode_change"
	MessageTypeError             = "error"
)

type EventMessage struct {
	Type  string       `json:"type"`
	Event *ChangeEvent `json:"event"`
}

func NewEventMessage(event *ChangeEvent) *EventMessage {
	return &EventMessage{
		Type:  MessageTypeEvent,
		Event: event,
	}
}

// full snapshot of all stores known at the instant of connect
type InitialStateMessage struct {
	Type          string                   `json:"type"`
	PreviewStates map[string]*PreviewState `json:"preview_states"`
	Collaborators map[Id]*Collaborator     `json:"collaborators"`
	Comments      map[string][]*Comment    `json:"comments"`
	Cursors       map[Id]*CursorInfo       `json:"cursors"`
	Selections    map[Id]*SelectionInfo    `json:"selections"`
	Viewport      *ViewportConfig          `json:"viewport,omitempty"`
}

type UserJoinMessage struct {
	Type      string        `json:"type"`
	UserId    Id            `json:"user_id"`
	UserInfo  *Collaborator `json:"user_info"`
	Timestamp time.Time     `json:"timestamp"`
	Version   int64         `json:"version"`
}

type UserLeaveMessage struct {
	Type      string    `json:"type"`
	UserId    Id        `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
}

type CursorUpdateMessage struct {
	Type    string      `json:"type"`
	UserId  Id          `json:"user_id"`
	Cursor  *CursorInfo `json:"cursor"`
	Version int64       `json:"version"`
}

type SelectionUpdateMessage struct {
	Type      string         `json:"type"`
	UserId    Id             `json:"user_id"`
	Selection *SelectionInfo `json:"selection"`
	Version   int64          `json:"version"`
}

type CommentAddMessage struct {
	Type    string   `json:"type"`
	Comment *Comment `json:"comment"`
	Version int64    `json:"version"`
}

type CommentUpdateMessage struct {
	Type    string   `json:"type"`
	Comment *Comment `json:"comment"`
	Version int64    `json:"version"`
}

type CommentDeleteMessage struct {
	Type      string `json:"type"`
	CommentId Id     `json:"comment_id"`
	UserId    Id     `json:"user_id"`
	Version   int64  `json:"version"`
}

type PreviewModeChangeMessage struct {
	Type     string          `json:"type"`
	UserId   Id              `json:"user_id"`
	Viewport *ViewportConfig `json:"viewport"`
	Version  int64           `json:"version"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewErrorMessage(err error) *ErrorMessage {
	return &ErrorMessage{
		Type:  MessageTypeError,
		Error: err.Error(),
	}
}
