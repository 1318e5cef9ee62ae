package channel

import (
	"context"
	"errors"

	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

var ErrClosed = errors.New("channel closed")

// Channel is a participant's room-scoped connection to the relay.
//
// Emit is fire-and-forget: it never blocks on the network and ops are dropped
// once the connection is gone. Incoming delivers ops in the order the relay
// sent them and is closed when the connection ends.
type Channel interface {
	Join(ctx context.Context, roomID string) error
	Leave(roomID string) error
	Emit(roomID string, op protocol.DrawOp)
	Incoming() <-chan protocol.DrawOp
	Close() error
}
