package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytebrain/docchat/internal/model/chat"
)

var (
	// ErrMalformedFrame is matched by every *FrameError.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMissingToken is reported for a non-terminal frame without a token field.
	ErrMissingToken = errors.New("missing token field")
	// ErrClosedBeforeCompletion is returned when the connection ends before the terminal event.
	ErrClosedBeforeCompletion = errors.New("stream closed before completion")
)

// FrameError describes an inbound frame that could not be turned into a token event.
type FrameError struct {
	Raw []byte
	Err error
}

func (e *FrameError) Error() string {
	raw := e.Raw
	if len(raw) > 64 {
		raw = raw[:64]
	}
	return fmt.Sprintf("malformed frame %q: %v", raw, e.Err)
}

func (e *FrameError) Unwrap() []error {
	return []error{ErrMalformedFrame, e.Err}
}

// ServerError carries the message of an {"error": ...} frame.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "chat server error: " + e.Message
}

type inboundFrame struct {
	Token      *string              `json:"token"`
	References []chat.ReferenceItem `json:"references"`
	Completed  bool                 `json:"completed"`
	Error      *string              `json:"error"`
}

// DecodeFrame parses one inbound websocket frame.
//
// The terminal frame may omit the token, every other frame must carry one.
// Nothing is returned for a frame that fails to decode, so a partially parsed
// event can never reach the transcript.
func DecodeFrame(data []byte) (chat.TokenEvent, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return chat.TokenEvent{}, &FrameError{Raw: data, Err: err}
	}
	if frame.Error != nil {
		return chat.TokenEvent{}, &ServerError{Message: *frame.Error}
	}
	if frame.Token == nil && !frame.Completed {
		return chat.TokenEvent{}, &FrameError{Raw: data, Err: ErrMissingToken}
	}

	event := chat.TokenEvent{
		References: frame.References,
		Completed:  frame.Completed,
	}
	if frame.Token != nil {
		event.Token = *frame.Token
	}
	return event, nil
}
