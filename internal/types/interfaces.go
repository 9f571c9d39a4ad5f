// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
)

// SessionStore persists the last session id outside the process.
type SessionStore interface {
	Load(ctx context.Context) (SessionID, error)
	Save(ctx context.Context, id SessionID) error
	Clear(ctx context.Context) error
}

// FrameRecorder receives a copy of every frame crossing the wire.
type FrameRecorder interface {
	Record(ctx context.Context, sessionID SessionID, dir Direction, payload json.RawMessage) error
}

type ArtifactStore interface {
	Put(ctx context.Context, sessionID SessionID, name, mimeType, source string, data []byte) (*ArtifactMeta, error)
	List(ctx context.Context, sessionID SessionID) ([]*ArtifactMeta, error)
}
