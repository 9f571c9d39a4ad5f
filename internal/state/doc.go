// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/gravia/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.SessionStore = (*MemorySessionStore)(nil)
var _ types.FrameRecorder = (*FrameLog)(nil)
var _ types.ArtifactStore = (*ArtifactStore)(nil)
