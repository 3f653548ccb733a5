package collab

import (
	"encoding/json"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// identity/presence metadata for one connection
type Collaborator struct {
	UserId      Id                 `json:"user_id"`
	Name        string             `json:"name"`
	Avatar      string             `json:"avatar,omitempty"`
	Color       string             `json:"color,omitempty"`
	Role        string             `json:"role,omitempty"`
	Permissions mapset.Set[string] `json:"permissions,omitempty"`
	JoinTime    time.Time          `json:"joined_at"`
}

// permissions arrive as a json array. `mapset.Set` is an interface so the
// decoder cannot allocate it without help.
func (self *Collaborator) UnmarshalJSON(src []byte) error {
	type collaboratorFields struct {
		UserId   Id        `json:"user_id"`
		Name     string    `json:"name"`
		Avatar   string    `json:"avatar,omitempty"`
		Color    string    `json:"color,omitempty"`
		Role     string    `json:"role,omitempty"`
		JoinTime time.Time `json:"joined_at"`

		Permissions []string `json:"permissions,omitempty"`
	}
	fields := &collaboratorFields{}
	if err := json.Unmarshal(src, fields); err != nil {
		return err
	}
	self.UserId = fields.UserId
	self.Name = fields.Name
	self.Avatar = fields.Avatar
	self.Color = fields.Color
	self.Role = fields.Role
	self.JoinTime = fields.JoinTime
	if fields.Permissions != nil {
		self.Permissions = mapset.NewSet(fields.Permissions...)
	}
	return nil
}

func (self *Collaborator) copy() *Collaborator {
	collaboratorCopy := &Collaborator{
		UserId:   self.UserId,
		Name:     self.Name,
		Avatar:   self.Avatar,
		Color:    self.Color,
		Role:     self.Role,
		JoinTime: self.JoinTime,
	}
	if self.Permissions != nil {
		collaboratorCopy.Permissions = self.Permissions.Clone()
	}
	return collaboratorCopy
}

type CursorInfo struct {
	Position   Position  `json:"position"`
	Element    string    `json:"element,omitempty"`
	UpdateTime time.Time `json:"updated_at"`
}

type SelectionInfo struct {
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Element    string    `json:"element,omitempty"`
	UpdateTime time.Time `json:"updated_at"`
}

// per-collaborator display metadata, cursor position, and selection,
// keyed by connection id. Overwritten in place on every update, no history.
// Not safe for concurrent use; the event processor owns all mutation.
type PresenceTracker struct {
	collaborators map[Id]*Collaborator
	cursors       map[Id]*CursorInfo
	selections    map[Id]*SelectionInfo
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		collaborators: map[Id]*Collaborator{},
		cursors:       map[Id]*CursorInfo{},
		selections:    map[Id]*SelectionInfo{},
	}
}

func (self *PresenceTracker) Join(userId Id, userInfo *Collaborator, joinTime time.Time) *Collaborator {
	collaborator := userInfo.copy()
	collaborator.UserId = userId
	if collaborator.Name == "" {
		collaborator.Name = "Anonymous"
	}
	if collaborator.Role == "" {
		collaborator.Role = "editor"
	}
	if collaborator.Permissions == nil {
		collaborator.Permissions = mapset.NewSet("edit", "comment")
	}
	if existing, ok := self.collaborators[userId]; ok {
		// rejoin keeps the original join time
		collaborator.JoinTime = existing.JoinTime
	} else {
		collaborator.JoinTime = joinTime
	}
	self.collaborators[userId] = collaborator
	return collaborator.copy()
}

// removes the collaborator and its cursor and selection
func (self *PresenceTracker) Leave(userId Id) bool {
	_, ok := self.collaborators[userId]
	delete(self.collaborators, userId)
	delete(self.cursors, userId)
	delete(self.selections, userId)
	return ok
}

func (self *PresenceTracker) SetCursor(userId Id, change *CursorMove, eventTime time.Time) *CursorInfo {
	cursor := &CursorInfo{
		Position:   change.Position,
		Element:    change.Element,
		UpdateTime: eventTime,
	}
	self.cursors[userId] = cursor
	return cursor
}

func (self *PresenceTracker) SetSelection(userId Id, change *SelectionChange, eventTime time.Time) *SelectionInfo {
	selection := &SelectionInfo{
		Start:      change.Start,
		End:        change.End,
		Element:    change.Element,
		UpdateTime: eventTime,
	}
	self.selections[userId] = selection
	return selection
}

func (self *PresenceTracker) Collaborator(userId Id) *Collaborator {
	collaborator, ok := self.collaborators[userId]
	if !ok {
		return nil
	}
	return collaborator.copy()
}

func (self *PresenceTracker) Len() int {
	return len(self.collaborators)
}

func (self *PresenceTracker) snapshotCollaborators() map[Id]*Collaborator {
	collaborators := map[Id]*Collaborator{}
	for userId, collaborator := range self.collaborators {
		collaborators[userId] = collaborator.copy()
	}
	return collaborators
}

func (self *PresenceTracker) snapshotCursors() map[Id]*CursorInfo {
	cursors := map[Id]*CursorInfo{}
	for userId, cursor := range self.cursors {
		cursorCopy := *cursor
		cursors[userId] = &cursorCopy
	}
	return cursors
}

func (self *PresenceTracker) snapshotSelections() map[Id]*SelectionInfo {
	selections := map[Id]*SelectionInfo{}
	for userId, selection := range self.selections {
		selectionCopy := *selection
		selections[userId] = &selectionCopy
	}
	return selections
}
