package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope wraps every websocket frame
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode marshals payload and wraps it under the given event name.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Parses a frame and checks the event name is one we know
func ParseEnvelope(frame []byte) (*Envelope, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventJoinRoom, EventLeaveRoom, EventCanvasUpdate, EventMessage:
		return &env, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func DecodeDrawOp(data json.RawMessage) (DrawOp, error) {
	var op DrawOp
	if len(data) == 0 {
		return op, fmt.Errorf("%w: empty payload", ErrMalformedOp)
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return DrawOp{}, err
	}
	return op, nil
}

// DecodeRoomID reads the string payload of join-room / leave-room.
func DecodeRoomID(data json.RawMessage) (string, error) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		return "", fmt.Errorf("invalid room id: %w", err)
	}
	if roomID == "" {
		return "", fmt.Errorf("empty room id")
	}
	return roomID, nil
}

func DecodeNotice(data json.RawMessage) (Notice, error) {
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("invalid notice: %w", err)
	}
	return n, nil
}
