// Package protocol implements the JSON hub protocol spoken between the chat
// session and the messaging backend, and normalises inbound payloads into
// one canonical shape.
//
// Every record is a JSON document terminated by RecordSeparator. A single
// websocket text frame may carry several records.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const RecordSeparator byte = 0x1e

// Remote method and event names.
const (
	MethodJoinChat         = "JoinChat"
	MethodLeaveChat        = "LeaveChat"
	MethodSendTypingStatus = "SendTypingStatus"

	EventReceiveMessage = "ReceiveMessage"
	EventUserTyping     = "UserTyping"
)

type FrameType int

const (
	FrameInvocation FrameType = 1
	FramePing       FrameType = 6
	FrameClose      FrameType = 7
)

type Handshake struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// DefaultHandshake is the only handshake this package speaks.
var DefaultHandshake = Handshake{Protocol: "json", Version: 1}

type Frame struct {
	Type           FrameType         `json:"type"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

var ErrEmptyRecord = errors.New("protocol: empty record")

// NewInvocation builds a non-blocking invocation (no invocation id, no
// completion expected).
func NewInvocation(target string, args ...any) (Frame, error) {
	f := Frame{Type: FrameInvocation, Target: target, Arguments: make([]json.RawMessage, 0, len(args))}
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return Frame{}, fmt.Errorf("protocol: marshal argument %d of %s: %w", i, target, err)
		}
		f.Arguments = append(f.Arguments, b)
	}
	return f, nil
}

// Encode marshals v and appends the record separator.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, RecordSeparator), nil
}

// Split returns the non-empty records contained in data, without separators.
func Split(data []byte) [][]byte {
	parts := bytes.Split(data, []byte{RecordSeparator})
	out := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func DecodeFrame(record []byte) (Frame, error) {
	if len(bytes.TrimSpace(record)) == 0 {
		return Frame{}, ErrEmptyRecord
	}
	var f Frame
	if err := json.Unmarshal(record, &f); err != nil {
		return Frame{}, fmt.Errorf("protocol: decode frame: %w", err)
	}
	return f, nil
}

func DecodeHandshakeResponse(record []byte) (HandshakeResponse, error) {
	var r HandshakeResponse
	if err := json.Unmarshal(record, &r); err != nil {
		return HandshakeResponse{}, fmt.Errorf("protocol: decode handshake response: %w", err)
	}
	return r, nil
}

func DecodeHandshake(record []byte) (Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(record, &h); err != nil {
		return Handshake{}, fmt.Errorf("protocol: decode handshake: %w", err)
	}
	return h, nil
}
