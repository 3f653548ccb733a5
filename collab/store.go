package collab

import (
	"time"

	"golang.org/x/exp/maps"
)

// the authoritative, versioned content/style/layout for one document element
type PreviewState struct {
	ElementId  string            `json:"element_id"`
	Content    string            `json:"content"`
	Styles     map[string]string `json:"styles"`
	Layout     map[string]string `json:"layout"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	UpdatedBy  Id                `json:"updated_by"`
	Version    int64             `json:"version"`
	UpdateTime time.Time         `json:"updated_at"`
}

func (self *PreviewState) copy() *PreviewState {
	stateCopy := &PreviewState{
		ElementId:  self.ElementId,
		Content:    self.Content,
		Styles:     maps.Clone(self.Styles),
		Layout:     maps.Clone(self.Layout),
		UpdatedBy:  self.UpdatedBy,
		Version:    self.Version,
		UpdateTime: self.UpdateTime,
	}
	if self.Metadata != nil {
		stateCopy.Metadata = maps.Clone(self.Metadata)
	}
	return stateCopy
}

// per-element latest state. States are created lazily on the first change
// touching an element and never removed here. Not safe for concurrent use;
// the event processor owns all mutation.
type PreviewStore struct {
	// element id -> state
	states map[string]*PreviewState
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{
		states: map[string]*PreviewState{},
	}
}

func (self *PreviewStore) upsert(elementId string, version int64, userId Id, eventTime time.Time) (*PreviewState, bool) {
	state, ok := self.states[elementId]
	if !ok {
		state = &PreviewState{
			ElementId: elementId,
			Styles:    map[string]string{},
			Layout:    map[string]string{},
		}
		self.states[elementId] = state
	}
	// last-write-wins. Equal versions favor the most recently processed.
	if version < state.Version {
		return state, false
	}
	state.Version = version
	state.UpdatedBy = userId
	state.UpdateTime = eventTime
	return state, true
}

// replaces content wholesale
func (self *PreviewStore) ApplyContent(change *ContentChange, version int64, userId Id, eventTime time.Time) bool {
	state, apply := self.upsert(change.ElementId, version, userId, eventTime)
	if !apply {
		return false
	}
	state.Content = change.Content
	if change.Metadata != nil {
		if state.Metadata == nil {
			state.Metadata = map[string]any{}
		}
		for k, v := range change.Metadata {
			state.Metadata[k] = v
		}
	}
	return true
}

// merges the style map: new keys override, others are retained
func (self *PreviewStore) ApplyStyles(change *StyleChange, version int64, userId Id, eventTime time.Time) bool {
	state, apply := self.upsert(change.ElementId, version, userId, eventTime)
	if !apply {
		return false
	}
	for k, v := range change.Styles {
		state.Styles[k] = v
	}
	return true
}

// merges the layout map: new keys override, others are retained
func (self *PreviewStore) ApplyLayout(change *LayoutChange, version int64, userId Id, eventTime time.Time) bool {
	state, apply := self.upsert(change.ElementId, version, userId, eventTime)
	if !apply {
		return false
	}
	for k, v := range change.Layout {
		state.Layout[k] = v
	}
	return true
}

func (self *PreviewStore) Get(elementId string) *PreviewState {
	state, ok := self.states[elementId]
	if !ok {
		return nil
	}
	return state.copy()
}

func (self *PreviewStore) Len() int {
	return len(self.states)
}

func (self *PreviewStore) snapshot() map[string]*PreviewState {
	states := map[string]*PreviewState{}
	for elementId, state := range self.states {
		states[elementId] = state.copy()
	}
	return states
}
