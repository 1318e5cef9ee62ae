package history

import "image"

// Snapshot is an immutable copy of the raster at a stroke boundary.
type Snapshot struct {
	Index int
	Image *image.RGBA
}

// Stack is a linear undo/redo history.
//
// Invariant: once the first snapshot is pushed, 0 <= cursor < len(entries).
// Pushing while the cursor is not at the top discards the redo branch.
type Stack struct {
	entries []Snapshot
	cursor  int
	limit   int
	next    int
}

// New creates an empty stack. A limit <= 0 keeps every snapshot; otherwise
// the oldest snapshots are evicted once the stack holds more than limit.
func New(limit int) *Stack {
	return &Stack{cursor: -1, limit: limit}
}

// Push takes ownership of img, so callers hand over a copy of the live buffer.
func (s *Stack) Push(img *image.RGBA) Snapshot {
	if s.cursor < len(s.entries)-1 {
		// Drop references so pruned buffers can be collected
		for i := s.cursor + 1; i < len(s.entries); i++ {
			s.entries[i] = Snapshot{}
		}
		s.entries = s.entries[:s.cursor+1]
	}

	snap := Snapshot{Index: s.next, Image: img}
	s.next++
	s.entries = append(s.entries, snap)

	if s.limit > 0 && len(s.entries) > s.limit {
		evict := len(s.entries) - s.limit
		for i := 0; i < evict; i++ {
			s.entries[i] = Snapshot{}
		}
		s.entries = append(s.entries[:0], s.entries[evict:]...)
	}

	s.cursor = len(s.entries) - 1
	return snap
}

// Undo moves the cursor back and returns the snapshot to restore. At the
// bottom of the stack it is a no-op and reports false.
func (s *Stack) Undo() (Snapshot, bool) {
	if s.cursor <= 0 {
		return Snapshot{}, false
	}
	s.cursor--
	return s.entries[s.cursor], true
}

// Redo is the inverse of Undo; a no-op at the top of the stack.
func (s *Stack) Redo() (Snapshot, bool) {
	if s.cursor < 0 || s.cursor >= len(s.entries)-1 {
		return Snapshot{}, false
	}
	s.cursor++
	return s.entries[s.cursor], true
}

func (s *Stack) CanUndo() bool { return s.cursor > 0 }

func (s *Stack) CanRedo() bool { return s.cursor >= 0 && s.cursor < len(s.entries)-1 }

func (s *Stack) Len() int { return len(s.entries) }

// Cursor is -1 until the first push.
func (s *Stack) Cursor() int { return s.cursor }

// Current returns the snapshot under the cursor.
func (s *Stack) Current() (Snapshot, bool) {
	if s.cursor < 0 {
		return Snapshot{}, false
	}
	return s.entries[s.cursor], true
}
