package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/inkroom/internal/protocol"
	"github.com/manpreetbhatti/inkroom/internal/ws"
)

func setupTestRelay(t *testing.T) (string, func()) {
	t.Helper()

	hub := ws.NewHub(nil)
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	}))

	cleanup := func() {
		server.Close()
		hub.Stop()
	}
	return "ws" + strings.TrimPrefix(server.URL, "http"), cleanup
}

func dialParticipant(t *testing.T, url, participant string) *WebSocket {
	t.Helper()
	opts := DefaultOptions()
	opts.ParticipantID = participant

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, opts)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	return c
}

func TestJoinAndRelay(t *testing.T) {
	url, cleanup := setupTestRelay(t)
	defer cleanup()

	alice := dialParticipant(t, url, "alice")
	defer alice.Close()
	bob := dialParticipant(t, url, "bob")
	defer bob.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := alice.Join(ctx, "room"); err != nil {
		t.Fatalf("Alice failed to join: %v", err)
	}
	if err := bob.Join(ctx, "room"); err != nil {
		t.Fatalf("Bob failed to join: %v", err)
	}

	if n, ok := alice.Joined("room"); !ok || !n.Creator {
		t.Errorf("Expected alice to hold authority, got %+v", n)
	}
	if n, ok := bob.Joined("room"); !ok || n.Creator {
		t.Errorf("Expected bob to observe, got %+v", n)
	}

	sent := []protocol.DrawOp{
		{Tool: protocol.ToolPencil, Color: protocol.RGB{R: 255}, LineWidth: 2, X: 10, Y: 10, Begin: true},
		{Tool: protocol.ToolPencil, Color: protocol.RGB{R: 255}, LineWidth: 2, X: 50, Y: 50},
	}
	for _, op := range sent {
		alice.Emit("room", op)
	}

	for i, want := range sent {
		want.RoomID = "room"
		select {
		case got := <-bob.Incoming():
			if got != want {
				t.Errorf("Op %d: expected %+v, got %+v", i, want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for op %d", i)
		}
	}
}

func TestRejectedNotice(t *testing.T) {
	url, cleanup := setupTestRelay(t)
	defer cleanup()

	alice := dialParticipant(t, url, "alice")
	defer alice.Close()
	bob := dialParticipant(t, url, "bob")
	defer bob.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	alice.Join(ctx, "room")
	bob.Join(ctx, "room")

	bob.Emit("room", protocol.DrawOp{Tool: protocol.ToolEraser, X: 1, Y: 1})

	select {
	case n := <-bob.Notices():
		if n.Type != protocol.NoticeRejected {
			t.Errorf("Expected rejected notice, got %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a rejected notice")
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"canvas-update","data":{"roomId":"r","tool":"pencil"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"canvas-update","data":{"roomId":"r","tool":"eraser","x":4,"y":5}}`))

		// Hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer server.Close()

	c := dialParticipant(t, "ws"+strings.TrimPrefix(server.URL, "http"), "p")
	defer c.Close()

	select {
	case op := <-c.Incoming():
		if op.Tool != protocol.ToolEraser || op.X != 4 || op.Y != 5 {
			t.Errorf("Expected only the valid eraser op, got %+v", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for op")
	}
}

func TestJoinHonoursContext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := dialParticipant(t, "ws"+strings.TrimPrefix(server.URL, "http"), "p")
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.Join(ctx, "room"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	url, cleanup := setupTestRelay(t)
	defer cleanup()

	c := dialParticipant(t, url, "alice")
	if err := c.Close(); err != nil {
		t.Logf("close: %v", err)
	}

	// Emitting after close is a silent no-op
	c.Emit("room", protocol.DrawOp{Tool: protocol.ToolEraser})

	if err := c.Join(context.Background(), "room"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	select {
	case _, ok := <-c.Incoming():
		if ok {
			t.Error("Expected incoming to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Incoming was not closed")
	}
}

func TestFlushDeliversQueuedOps(t *testing.T) {
	url, cleanup := setupTestRelay(t)
	defer cleanup()

	alice := dialParticipant(t, url, "alice")
	bob := dialParticipant(t, url, "bob")
	defer bob.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	alice.Join(ctx, "room")
	bob.Join(ctx, "room")

	const n = 50
	for i := 0; i < n; i++ {
		alice.Emit("room", protocol.DrawOp{Tool: protocol.ToolEraser, X: float64(i), Y: 1})
	}
	if err := alice.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	alice.Close()

	for i := 0; i < n; i++ {
		select {
		case op := <-bob.Incoming():
			if op.X != float64(i) {
				t.Errorf("Expected op %d in order, got x=%v", i, op.X)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for op %d", i)
		}
	}
}

func TestFlushAfterClose(t *testing.T) {
	url, cleanup := setupTestRelay(t)
	defer cleanup()

	c := dialParticipant(t, url, "alice")
	c.Close()

	if err := c.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
