package collab

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/gorilla/websocket"
)

func dialTestServer(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error = %s", err)
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn, out any) {
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, message, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %s", err)
	}
	if err := json.Unmarshal(message, out); err != nil {
		t.Fatalf("unmarshal error = %s (%s)", err, message)
	}
}

func TestServeContentSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewCollabServerWithDefaults(ctx)
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	a := dialTestServer(t, ts, "")
	defer a.Close()

	initialState := &InitialStateMessage{}
	readFrame(t, a, initialState)
	assert.Equal(t, MessageTypeInitialState, initialState.Type)
	assert.Equal(t, 0, len(initialState.PreviewStates))

	err := a.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"content_change","data":{"element_id":"hero","content":"<h1>Hi</h1>"}}`,
	))
	assert.Equal(t, err, nil)

	// the sender receives its own change back
	eventMessage := &EventMessage{}
	readFrame(t, a, eventMessage)
	assert.Equal(t, MessageTypeEvent, eventMessage.Type)
	assert.Equal(t, EventTypeContentChange, eventMessage.Event.Type)
	assert.Equal(t, int64(1), eventMessage.Event.Version)

	// a late joiner sees the applied change in its snapshot
	b := dialTestServer(t, ts, "")
	defer b.Close()

	lateState := &InitialStateMessage{}
	readFrame(t, b, lateState)
	assert.Equal(t, "<h1>Hi</h1>", lateState.PreviewStates["hero"].Content)
	assert.Equal(t, int64(1), lateState.PreviewStates["hero"].Version)
}

func TestServePresenceLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secret := []byte("test-secret")
	settings := DefaultCollabServerSettings()
	settings.JwtSecret = secret
	server := NewCollabServer(ctx, settings)
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	observer := dialTestServer(t, ts, "")
	defer observer.Close()
	readFrame(t, observer, &InitialStateMessage{})

	token, err := NewJoinToken(secret, &Collaborator{Name: "Ada", Color: "#ff8800"}, time.Hour)
	assert.Equal(t, err, nil)

	ada := dialTestServer(t, ts, "?token="+token)
	readFrame(t, ada, &InitialStateMessage{})

	joinMessage := &UserJoinMessage{}
	readFrame(t, observer, joinMessage)
	assert.Equal(t, MessageTypeUserJoin, joinMessage.Type)
	assert.Equal(t, "Ada", joinMessage.UserInfo.Name)
	assert.Equal(t, "#ff8800", joinMessage.UserInfo.Color)

	ada.Close()

	leaveMessage := &UserLeaveMessage{}
	readFrame(t, observer, leaveMessage)
	assert.Equal(t, MessageTypeUserLeave, leaveMessage.Type)
	assert.Equal(t, joinMessage.UserId, leaveMessage.UserId)
}

func TestServeBadTokenStaysAnonymous(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultCollabServerSettings()
	settings.JwtSecret = []byte("test-secret")
	server := NewCollabServer(ctx, settings)
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	ws := dialTestServer(t, ts, "?token=garbage")
	defer ws.Close()

	errorMessage := &ErrorMessage{}
	readFrame(t, ws, errorMessage)
	assert.Equal(t, MessageTypeError, errorMessage.Type)

	initialState := &InitialStateMessage{}
	readFrame(t, ws, initialState)
	assert.Equal(t, MessageTypeInitialState, initialState.Type)

	// the connection still works
	err := ws.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"content_change","data":{"element_id":"hero","content":"ok"}}`,
	))
	assert.Equal(t, err, nil)
	eventMessage := &EventMessage{}
	readFrame(t, ws, eventMessage)
	assert.Equal(t, EventTypeContentChange, eventMessage.Event.Type)

	// no collaborator was seeded
	assert.Equal(t, 0, server.Processor().Stats().Collaborators)
}

func TestServeCursorFanout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewCollabServerWithDefaults(ctx)
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	a := dialTestServer(t, ts, "")
	defer a.Close()
	readFrame(t, a, &InitialStateMessage{})

	b := dialTestServer(t, ts, "")
	defer b.Close()
	readFrame(t, b, &InitialStateMessage{})

	err := a.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"cursor_move","data":{"position":{"x":120,"y":48},"element":"hero"}}`,
	))
	assert.Equal(t, err, nil)

	cursorMessage := &CursorUpdateMessage{}
	readFrame(t, b, cursorMessage)
	assert.Equal(t, MessageTypeCursorUpdate, cursorMessage.Type)
	assert.Equal(t, float64(120), cursorMessage.Cursor.Position.X)
	assert.Equal(t, float64(48), cursorMessage.Cursor.Position.Y)
	assert.Equal(t, "hero", cursorMessage.Cursor.Element)
}

func TestServeValidationErrorKeepsConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewCollabServerWithDefaults(ctx)
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	a := dialTestServer(t, ts, "")
	defer a.Close()
	readFrame(t, a, &InitialStateMessage{})

	b := dialTestServer(t, ts, "")
	defer b.Close()
	readFrame(t, b, &InitialStateMessage{})

	err := a.WriteMessage(websocket.TextMessage, []byte(`{"type":"content_change","data":{}}`))
	assert.Equal(t, err, nil)

	// the error goes only to the sender
	errorMessage := &ErrorMessage{}
	readFrame(t, a, errorMessage)
	assert.Equal(t, MessageTypeError, errorMessage.Type)

	err = a.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"content_change","data":{"element_id":"hero","content":"ok"}}`,
	))
	assert.Equal(t, err, nil)

	// b sees only the valid change
	eventMessage := &EventMessage{}
	readFrame(t, b, eventMessage)
	assert.Equal(t, EventTypeContentChange, eventMessage.Event.Type)
}

func TestServeOrderAcrossClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewCollabServerWithDefaults(ctx)
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	observer := dialTestServer(t, ts, "")
	defer observer.Close()
	readFrame(t, observer, &InitialStateMessage{})

	senderCount := 4
	eventCount := 25
	senders := []*websocket.Conn{}
	for s := 0; s < senderCount; s += 1 {
		sender := dialTestServer(t, ts, "")
		defer sender.Close()
		readFrame(t, sender, &InitialStateMessage{})
		senders = append(senders, sender)
	}
	for _, sender := range senders {
		go func(sender *websocket.Conn) {
			for i := 0; i < eventCount; i += 1 {
				sender.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"style_change","data":{"element_id":"hero","styles":{"color":"red"}}}`,
				))
			}
		}(sender)
	}

	// every observer sees one strictly increasing version sequence
	lastVersion := int64(0)
	for i := 0; i < senderCount*eventCount; i += 1 {
		eventMessage := &EventMessage{}
		readFrame(t, observer, eventMessage)
		assert.Equal(t, true, lastVersion < eventMessage.Event.Version)
		lastVersion = eventMessage.Event.Version
	}
}
