package collab

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventTypeContentChange     EventType = "content_change"
	EventTypeStyleChange       EventType = "style_change"
	EventTypeLayoutChange      EventType = "layout_change"
	EventTypeUserJoin          EventType = "user_join"
	EventTypeUserLeave         EventType = "user_leave"
	EventTypeCursorMove        EventType = "cursor_move"
	EventTypeSelectionChange   EventType = "selection_change"
	EventTypeCommentAdd        EventType = "comment_add"
	EventTypeCommentUpdate     EventType = "comment_update"
	EventTypeCommentDelete     EventType = "comment_delete"
	EventTypePreviewModeChange EventType = "preview_mode_change"
)

// the unit of synchronization
// `Data` is one of the change structs below, keyed by `Type`
type ChangeEvent struct {
	EventId   Id        `json:"id"`
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	UserId    Id        `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ContentChange struct {
	ElementId string         `json:"element_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type StyleChange struct {
	ElementId string            `json:"element_id"`
	Styles    map[string]string `json:"styles"`
}

type LayoutChange struct {
	ElementId string            `json:"element_id"`
	Layout    map[string]string `json:"layout"`
}

type UserJoin struct {
	UserInfo *Collaborator `json:"user_info"`
}

type UserLeave struct {
}

type CursorMove struct {
	Position Position `json:"position"`
	Element  string   `json:"element"`
}

type SelectionChange struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Element string `json:"element"`
}

// client-supplied part of a comment. The store fills in the rest.
type CommentDraft struct {
	ElementId string   `json:"element_id"`
	Text      string   `json:"text"`
	Position  Position `json:"position"`
}

type CommentAdd struct {
	Comment *CommentDraft `json:"comment"`
}

type CommentUpdate struct {
	CommentId Id     `json:"comment_id"`
	Text      string `json:"text"`
}

type CommentDelete struct {
	CommentId Id `json:"comment_id"`
}

type PreviewModeChange struct {
	Mode   PreviewMode `json:"mode"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
}

// reported only to the offending connection. Never broadcast.
type ValidationError struct {
	reason string
}

func NewValidationError(format string, a ...any) *ValidationError {
	return &ValidationError{
		reason: fmt.Sprintf(format, a...),
	}
}

func (self *ValidationError) Error() string {
	return self.reason
}

// client -> server envelope
type clientEnvelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// parses one inbound frame into a typed change.
// anything unknown or malformed is rejected here at the boundary.
func parseClientEvent(message []byte) (EventType, any, *ValidationError) {
	var envelope clientEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		return "", nil, NewValidationError("malformed json: %s", err)
	}

	data := envelope.Data
	if data == nil {
		data = []byte("{}")
	}

	switch envelope.Type {
	case EventTypeContentChange:
		change := &ContentChange{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		if change.ElementId == "" {
			return envelope.Type, nil, NewValidationError("%s: missing element_id", envelope.Type)
		}
		return envelope.Type, change, nil
	case EventTypeStyleChange:
		change := &StyleChange{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		if change.ElementId == "" {
			return envelope.Type, nil, NewValidationError("%s: missing element_id", envelope.Type)
		}
		return envelope.Type, change, nil
	case EventTypeLayoutChange:
		change := &LayoutChange{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		if change.ElementId == "" {
			return envelope.Type, nil, NewValidationError("%s: missing element_id", envelope.Type)
		}
		return envelope.Type, change, nil
	case EventTypeUserJoin:
		change := &UserJoin{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		if change.UserInfo == nil {
			change.UserInfo = &Collaborator{}
		}
		return envelope.Type, change, nil
	case EventTypeUserLeave:
		return envelope.Type, &UserLeave{}, nil
	case EventTypeCursorMove:
		change := &CursorMove{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		return envelope.Type, change, nil
	case EventTypeSelectionChange:
		change := &SelectionChange{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		return envelope.Type, change, nil
	case EventTypeCommentAdd:
		change := &CommentAdd{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		if change.Comment == nil {
			return envelope.Type, nil, NewValidationError("%s: missing comment", envelope.Type)
		}
		if change.Comment.ElementId == "" {
			return envelope.Type, nil, NewValidationError("%s: missing element_id", envelope.Type)
		}
		return envelope.Type, change, nil
	case EventTypeCommentUpdate:
		change := &CommentUpdate{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		if (change.CommentId == Id{}) {
			return envelope.Type, nil, NewValidationError("%s: missing comment_id", envelope.Type)
		}
		return envelope.Type, change, nil
	case EventTypeCommentDelete:
		change := &CommentDelete{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		if (change.CommentId == Id{}) {
			return envelope.Type, nil, NewValidationError("%s: missing comment_id", envelope.Type)
		}
		return envelope.Type, change, nil
	case EventTypePreviewModeChange:
		change := &PreviewModeChange{}
		if err := json.Unmarshal(data, change); err != nil {
			return envelope.Type, nil, NewValidationError("malformed %s: %s", envelope.Type, err)
		}
		if !change.Mode.Valid() {
			return envelope.Type, nil, NewValidationError("%s: unknown mode %s", envelope.Type, change.Mode)
		}
		if change.Mode == PreviewModeCustom && (change.Width <= 0 || change.Height <= 0) {
			return envelope.Type, nil, NewValidationError("%s: custom mode needs width and height", envelope.Type)
		}
		return envelope.Type, change, nil
	default:
		return envelope.Type, nil, NewValidationError("unknown event type: %s", envelope.Type)
	}
}
