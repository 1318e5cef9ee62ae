package channel

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

type Options struct {
	// Sent as the "participant" query parameter
	ParticipantID string

	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
	ReceiveBuffer  int

	Logger zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     1024,
		ReceiveBuffer:  1024,
		Logger:         zerolog.Nop(),
	}
}

// A nil frame with an ack is a flush marker
type outbound struct {
	frame []byte
	ack   chan struct{}
}

// WebSocket is a Channel backed by one gorilla/websocket connection.
type WebSocket struct {
	conn *websocket.Conn
	opts Options
	log  zerolog.Logger

	send     chan outbound
	incoming chan protocol.DrawOp
	notices  chan protocol.Notice
	done     chan struct{}

	mu      sync.Mutex
	joined  map[string]protocol.Notice
	waiters map[string][]chan protocol.Notice

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to a relay websocket endpoint such as ws://host:8080/ws.
func Dial(ctx context.Context, rawURL string, opts Options) (*WebSocket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if opts.ParticipantID != "" {
		q := u.Query()
		q.Set("participant", opts.ParticipantID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	ws := newWebSocket(conn, opts)
	go ws.writePump()
	go ws.readPump()
	return ws, nil
}

func newWebSocket(conn *websocket.Conn, opts Options) *WebSocket {
	d := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = d.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = d.PongWait
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = d.PingPeriod
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = d.MaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = d.SendBuffer
	}
	if opts.ReceiveBuffer <= 0 {
		opts.ReceiveBuffer = d.ReceiveBuffer
	}

	return &WebSocket{
		conn:     conn,
		opts:     opts,
		log:      opts.Logger,
		send:     make(chan outbound, opts.SendBuffer),
		incoming: make(chan protocol.DrawOp, opts.ReceiveBuffer),
		notices:  make(chan protocol.Notice, 16),
		done:     make(chan struct{}),
		joined:   make(map[string]protocol.Notice),
		waiters:  make(map[string][]chan protocol.Notice),
	}
}

// Join subscribes to the room and waits for the relay to confirm it.
func (w *WebSocket) Join(ctx context.Context, roomID string) error {
	wait := make(chan protocol.Notice, 1)
	w.mu.Lock()
	w.waiters[roomID] = append(w.waiters[roomID], wait)
	w.mu.Unlock()

	if err := w.enqueue(protocol.EventJoinRoom, roomID, true); err != nil {
		return err
	}

	select {
	case <-wait:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Joined returns the relay's confirmation for a room, including whether
// this participant holds draw authority there.
func (w *WebSocket) Joined(roomID string) (protocol.Notice, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.joined[roomID]
	return n, ok
}

func (w *WebSocket) Leave(roomID string) error {
	w.mu.Lock()
	delete(w.joined, roomID)
	w.mu.Unlock()
	return w.enqueue(protocol.EventLeaveRoom, roomID, true)
}

func (w *WebSocket) Emit(roomID string, op protocol.DrawOp) {
	op.RoomID = roomID
	if err := w.enqueue(protocol.EventCanvasUpdate, op, false); err != nil {
		w.log.Debug().Err(err).Msg("op not sent")
	}
}

func (w *WebSocket) Incoming() <-chan protocol.DrawOp {
	return w.incoming
}

// Notices delivers relay notifications other than join confirmations.
// Notices arriving while the buffer is full are dropped.
func (w *WebSocket) Notices() <-chan protocol.Notice {
	return w.notices
}

// Done is closed once the connection has ended.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}

func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(w.opts.WriteWait))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// Control frames (join, leave) wait for buffer space; ops are dropped when it is full.
func (w *WebSocket) enqueue(event string, payload any, wait bool) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	if wait {
		select {
		case w.send <- outbound{frame: frame}:
			return nil
		case <-w.done:
			return ErrClosed
		}
	}
	select {
	case w.send <- outbound{frame: frame}:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Flush blocks until every frame queued before the call has been written to
// the connection.
func (w *WebSocket) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case w.send <- outbound{ack: ack}:
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WebSocket) readPump() {
	defer func() {
		close(w.incoming)
		w.Close()
	}()

	w.conn.SetReadLimit(w.opts.MaxMessageSize)
	w.conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
		return nil
	})

	for {
		_, frame, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Warn().Err(err).Msg("relay connection lost")
			}
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))

		env, err := protocol.ParseEnvelope(frame)
		if err != nil {
			w.log.Warn().Err(err).Msg("dropped invalid frame")
			continue
		}

		switch env.Event {
		case protocol.EventCanvasUpdate:
			op, err := protocol.DecodeDrawOp(env.Data)
			if err != nil {
				w.log.Warn().Err(err).Msg("dropped malformed op")
				continue
			}
			select {
			case w.incoming <- op:
			case <-w.done:
				return
			}

		case protocol.EventMessage:
			n, err := protocol.DecodeNotice(env.Data)
			if err != nil {
				w.log.Warn().Err(err).Msg("dropped invalid notice")
				continue
			}
			w.handleNotice(n)
		}
	}
}

func (w *WebSocket) handleNotice(n protocol.Notice) {
	if n.Type == protocol.NoticeJoined {
		w.mu.Lock()
		w.joined[n.RoomID] = n
		waiters := w.waiters[n.RoomID]
		delete(w.waiters, n.RoomID)
		w.mu.Unlock()

		for _, ch := range waiters {
			ch <- n
		}
		return
	}

	if n.Type == protocol.NoticeRejected {
		w.log.Warn().Str("room_id", n.RoomID).Str("reason", n.Reason).Msg("relay rejected op")
	}
	select {
	case w.notices <- n:
	default:
	}
}

func (w *WebSocket) writePump() {
	ticker := time.NewTicker(w.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case out := <-w.send:
			if out.frame == nil {
				close(out.ack)
				continue
			}
			w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, out.frame); err != nil {
				w.log.Warn().Err(err).Msg("write failed")
				w.Close()
				return
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.Close()
				return
			}
		}
	}
}
