// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Attachment is one file sent alongside a query. Exactly one of DataB64 or
// Path carries the payload reference.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Size     int64  `json:"size"`
	DataB64  string `json:"data_b64,omitempty"`
	Path     string `json:"path,omitempty"`
}

// OutboundRequest is a user send. It is not modified after it is enqueued.
type OutboundRequest struct {
	ID          RequestID
	Query       string
	Attachments []Attachment
	Agent       string
	CreatedAt   time.Time
}

// NewOutboundRequest builds a request with its own copy of the attachments,
// defaulting the agent tag.
func NewOutboundRequest(query string, files []Attachment, agent string) *OutboundRequest {
	if agent == "" {
		agent = DefaultAgent
	}
	var atts []Attachment
	if len(files) > 0 {
		atts = append([]Attachment(nil), files...)
	}
	return &OutboundRequest{
		ID:          NewRequestID(),
		Query:       query,
		Attachments: atts,
		Agent:       agent,
		CreatedAt:   time.Now(),
	}
}

// Direction marks which way a traced frame travelled.
type Direction string

const (
	DirectionInbound  Direction = "in"
	DirectionOutbound Direction = "out"
)

// FrameRecord is one line of the frame trace.
type FrameRecord struct {
	Seq       int64           `json:"seq"`
	SessionID SessionID       `json:"session_id,omitempty"`
	Direction Direction       `json:"dir"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// ArtifactMeta describes a file received from the server and stored locally.
type ArtifactMeta struct {
	ID        ArtifactID `json:"id"`
	SessionID SessionID  `json:"session_id"`
	Name      string     `json:"name"`
	MimeType  string     `json:"mime_type,omitempty"`
	Source    string     `json:"source"`
	Size      int64      `json:"size"`
	CreatedAt time.Time  `json:"created_at"`
}
