package room

import (
	"sync"
	"testing"

	"github.com/manpreetbhatti/inkroom/internal/canvas"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

func pencilOp(x, y float64, begin bool) protocol.DrawOp {
	return protocol.DrawOp{RoomID: "r", Tool: protocol.ToolPencil, Color: protocol.RGB{R: 255}, LineWidth: 2, X: x, Y: y, Begin: begin}
}

func TestClaimFirstParticipant(t *testing.T) {
	r := NewRoom("r", 0)

	if got := r.Claim("alice"); got != "alice" {
		t.Errorf("Expected alice to become creator, got %s", got)
	}
	if got := r.Claim("bob"); got != "alice" {
		t.Errorf("Expected creator to stay alice, got %s", got)
	}
	if !r.IsCreator("alice") || r.IsCreator("bob") {
		t.Error("Authority should belong to alice only")
	}
}

func TestEmptyCreatorHoldsNoAuthority(t *testing.T) {
	r := NewRoom("r", 0)
	if r.IsCreator("") {
		t.Error("Empty participant id must not be creator of an unclaimed room")
	}
}

func TestAddUpdate(t *testing.T) {
	r := NewRoom("r", 0)

	r.AddUpdate(pencilOp(10, 10, true), []byte("a"))
	r.AddUpdate(pencilOp(50, 50, false), []byte("b"))

	updates := r.GetUpdates()
	if len(updates) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(updates))
	}
	if string(updates[0].Frame) != "a" || string(updates[1].Frame) != "b" {
		t.Error("Update order mismatch")
	}
	if !updates[0].Op.Begin {
		t.Error("Expected first op to begin the stroke")
	}
}

func TestBoundedLogTruncates(t *testing.T) {
	r := NewRoom("r", 3)

	for i := 0; i < 5; i++ {
		r.AddUpdate(pencilOp(float64(i), 0, false), []byte{byte('0' + i)})
	}

	frames := r.Frames()
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	if string(frames[0]) != "2" || string(frames[2]) != "4" {
		t.Errorf("Expected oldest frames to be dropped, got %q", frames)
	}
	if !r.Truncated() {
		t.Error("Expected room to be marked truncated")
	}

	r.ClearUpdates()
	if r.UpdateCount() != 0 || r.Truncated() {
		t.Error("Expected clear to reset the log")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRoom("r", 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.AddUpdate(pencilOp(float64(i), 0, false), []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	if r.UpdateCount() != 100 {
		t.Errorf("Expected 100 updates, got %d", r.UpdateCount())
	}
}

func TestRenderMatchesLiveSurface(t *testing.T) {
	r := NewRoom("r", 0)
	live := canvas.New(200, 100)

	ops := []protocol.DrawOp{pencilOp(10, 10, true), pencilOp(50, 50, false), pencilOp(90, 20, false)}
	for _, op := range ops {
		live.Apply(op)
		r.AddUpdate(op, nil)
	}

	rendered := r.Render(200, 100)
	for i := range rendered.Pix {
		if rendered.Pix[i] != live.Image().Pix[i] {
			t.Fatalf("Rendered room differs from live surface at byte %d", i)
		}
	}
}
