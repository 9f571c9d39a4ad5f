// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionID string
type RequestID string
type ArtifactID string

// DefaultAgent is the agent tag used when a send does not name one.
const DefaultAgent = "general"

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.New().String())
}

// NormalizeSessionID returns the trimmed id, or "" when the value is one of the
// placeholders the backend treats as "no session" ("", "null", "undefined").
func NormalizeSessionID(raw string) SessionID {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "null", "undefined":
		return ""
	}
	return SessionID(s)
}

// IsSet reports whether the id refers to a real session.
func (id SessionID) IsSet() bool {
	return NormalizeSessionID(string(id)) != ""
}
