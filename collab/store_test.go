package collab

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLastWriteWins(t *testing.T) {
	store := NewPreviewStore()
	userId := NewId()
	now := time.Now()

	applied := store.ApplyContent(&ContentChange{ElementId: "hero", Content: "A"}, 5, userId, now)
	assert.Equal(t, true, applied)

	// out-of-order arrival: the lower version loses
	applied = store.ApplyContent(&ContentChange{ElementId: "hero", Content: "B"}, 4, userId, now)
	assert.Equal(t, false, applied)

	state := store.Get("hero")
	assert.Equal(t, "A", state.Content)
	assert.Equal(t, int64(5), state.Version)

	// equal versions favor the most recently processed
	applied = store.ApplyContent(&ContentChange{ElementId: "hero", Content: "C"}, 5, userId, now)
	assert.Equal(t, true, applied)
	assert.Equal(t, "C", store.Get("hero").Content)
}

func TestStyleMerge(t *testing.T) {
	store := NewPreviewStore()
	userId := NewId()
	now := time.Now()

	store.ApplyStyles(&StyleChange{
		ElementId: "hero",
		Styles:    map[string]string{"color": "red", "font": "serif"},
	}, 1, userId, now)
	store.ApplyStyles(&StyleChange{
		ElementId: "hero",
		Styles:    map[string]string{"color": "blue"},
	}, 2, userId, now)

	state := store.Get("hero")
	// new keys override, others are retained
	assert.Equal(t, "blue", state.Styles["color"])
	assert.Equal(t, "serif", state.Styles["font"])
	assert.Equal(t, int64(2), state.Version)
}

func TestLayoutMergeKeepsContent(t *testing.T) {
	store := NewPreviewStore()
	userId := NewId()
	now := time.Now()

	store.ApplyContent(&ContentChange{ElementId: "hero", Content: "<h1>Hi</h1>"}, 1, userId, now)
	store.ApplyLayout(&LayoutChange{
		ElementId: "hero",
		Layout:    map[string]string{"x": "10", "y": "20"},
	}, 2, userId, now)
	store.ApplyLayout(&LayoutChange{
		ElementId: "hero",
		Layout:    map[string]string{"x": "30"},
	}, 3, userId, now)

	state := store.Get("hero")
	assert.Equal(t, "<h1>Hi</h1>", state.Content)
	assert.Equal(t, "30", state.Layout["x"])
	assert.Equal(t, "20", state.Layout["y"])
}

func TestGetCopies(t *testing.T) {
	store := NewPreviewStore()
	userId := NewId()
	now := time.Now()

	store.ApplyStyles(&StyleChange{
		ElementId: "hero",
		Styles:    map[string]string{"color": "red"},
	}, 1, userId, now)

	state := store.Get("hero")
	state.Styles["color"] = "green"
	state.Content = "mutated"

	assert.Equal(t, "red", store.Get("hero").Styles["color"])
	assert.Equal(t, "", store.Get("hero").Content)
}

func TestGetUnknownElement(t *testing.T) {
	store := NewPreviewStore()
	var nilState *PreviewState
	assert.Equal(t, nilState, store.Get("missing"))
	assert.Equal(t, 0, store.Len())
}
