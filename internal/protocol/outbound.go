// internal/protocol/outbound.go
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/user/gravia/internal/types"
)

// Control is the "type" of an outbound control frame.
type Control string

const (
	ControlInterrupt      Control = "interrupt"
	ControlStartVoice     Control = "start_voice"
	ControlSpeak          Control = "speak"
	ControlStopSpeaking   Control = "stop_speaking"
	ControlStartListening Control = "start_listening"
	ControlStopListening  Control = "stop_listening"
)

// QueryFrame is the outbound frame for a user send. It has no "type" tag.
type QueryFrame struct {
	Query string             `json:"query"`
	Agent string             `json:"agent"`
	Files []types.Attachment `json:"files,omitempty"`
}

type controlFrame struct {
	Type Control `json:"type"`
}

type speakFrame struct {
	Type Control `json:"type"`
	Text string  `json:"text"`
}

// EncodeQuery encodes req as a query frame.
func EncodeQuery(req *types.OutboundRequest) ([]byte, error) {
	agent := req.Agent
	if agent == "" {
		agent = types.DefaultAgent
	}
	data, err := json.Marshal(QueryFrame{Query: req.Query, Agent: agent, Files: req.Attachments})
	if err != nil {
		return nil, fmt.Errorf("marshal query frame: %w", err)
	}
	return data, nil
}

// EncodeControl encodes a control frame that carries no payload.
func EncodeControl(c Control) ([]byte, error) {
	if c == ControlSpeak {
		return nil, fmt.Errorf("encode control: %s requires text", c)
	}
	data, err := json.Marshal(controlFrame{Type: c})
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", c, err)
	}
	return data, nil
}

// EncodeSpeak encodes a speak control frame.
func EncodeSpeak(text string) ([]byte, error) {
	data, err := json.Marshal(speakFrame{Type: ControlSpeak, Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal speak frame: %w", err)
	}
	return data, nil
}

// ClientMessage is the server-side view of any outbound frame. Type is empty
// for a query frame.
type ClientMessage struct {
	Type  Control            `json:"type,omitempty"`
	Query string             `json:"query,omitempty"`
	Agent string             `json:"agent,omitempty"`
	Files []types.Attachment `json:"files,omitempty"`
	Text  string             `json:"text,omitempty"`
}

// IsQuery reports whether the message is a user query rather than a control frame.
func (m *ClientMessage) IsQuery() bool {
	return m.Type == ""
}

// DecodeClientMessage parses an outbound frame as the server receives it.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &m, nil
}
