// Package events defines the typed events published by the chat client and
// the bus that delivers them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/gravia/internal/types"
)

// Kind names an event channel. Kinds derived from inbound frames carry the
// frame's tag.
type Kind string

const (
	KindConnecting   Kind = "connecting"
	KindOpen         Kind = "open"
	KindClosed       Kind = "closed"
	KindReconnecting Kind = "reconnecting"
	KindError        Kind = "error"
	KindAuthRequired Kind = "auth_required"

	KindSessionCreated Kind = "session_created"
	KindSessionCleared Kind = "session_cleared"

	KindStart Kind = "start"
	KindChunk Kind = "chunk"
	KindEnd   Kind = "end"

	KindStatus               Kind = "event"
	KindTTSStart             Kind = "tts_start"
	KindTTSComplete          Kind = "tts_complete"
	KindTranscriptionPartial Kind = "transcription_partial"
	KindTranscriptionFinal   Kind = "transcription_final"
	KindTranscriptionStatus  Kind = "transcription_status"
	KindTranscriptionError   Kind = "transcription_error"
	KindFileArtifact         Kind = "file_artifact"
	KindImage                Kind = "image"
	KindReasoningStep        Kind = "reasoning_step"
	KindToolCallStarted      Kind = "tool_call_started"
	KindToolCallCompleted    Kind = "tool_call_completed"
)

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// ErrorCategory classifies an Error event.
type ErrorCategory string

const (
	CategoryTransport ErrorCategory = "transport"
	CategoryAuth      ErrorCategory = "auth"
	CategoryExhausted ErrorCategory = "exhausted"
	CategoryServer    ErrorCategory = "server"
)

// EndReason records why a streamed response was closed.
type EndReason string

const (
	EndTerminator  EndReason = "terminator"
	EndInactivity  EndReason = "inactivity"
	EndError       EndReason = "error"
	EndInterrupted EndReason = "interrupted"
	EndSuperseded  EndReason = "superseded"
	EndReset       EndReason = "reset"
)

// Connection lifecycle.

type Connecting struct {
	Attempt int
	URL     string
}

// Open reports a connection; Pending requests are flushed right after it.
type Open struct {
	URL     string
	Pending int
}

type Closed struct {
	Code   int
	Reason string
	Clean  bool
}

type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

type Error struct {
	Category ErrorCategory
	Code     int
	Message  string
	Terminal bool
}

func (e Error) String() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (%d): %s", e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// AuthRequired reports that the server rejected the caller's credentials.
// Source is "probe" or "frame".
type AuthRequired struct {
	Source  string
	Status  int
	Message string
}

// Session lifecycle.

type SessionCreated struct {
	ID types.SessionID
}

type SessionCleared struct {
	Previous types.SessionID
}

// Streamed response lifecycle.

type Start struct {
	RequestID types.RequestID
	Implicit  bool
}

type Chunk struct {
	Text string
}

type End struct {
	Reason  EndReason
	Content string
}

// Server-pushed notifications.

type Status struct {
	Message string
}

type TTSStart struct {
	Message string
}

type TTSComplete struct {
	Message string
}

type TranscriptionPartial struct {
	Text string
}

type TranscriptionFinal struct {
	Text string
}

type TranscriptionStatus struct {
	Status string
}

type TranscriptionError struct {
	Message string
}

type FileArtifact struct {
	Name    string
	Path    string
	DataB64 string
}

// Image carries either a data: URL or raw base64 in Data.
type Image struct {
	Data     string
	MimeType string
	Name     string
}

type ReasoningStep struct {
	Message string
}

// Tool is passed through as the server sent it.
type ToolCallStarted struct {
	Tool json.RawMessage
}

type ToolCallCompleted struct {
	Tool json.RawMessage
}

func (Connecting) Kind() Kind           { return KindConnecting }
func (Open) Kind() Kind                 { return KindOpen }
func (Closed) Kind() Kind               { return KindClosed }
func (Reconnecting) Kind() Kind         { return KindReconnecting }
func (Error) Kind() Kind                { return KindError }
func (AuthRequired) Kind() Kind         { return KindAuthRequired }
func (SessionCreated) Kind() Kind       { return KindSessionCreated }
func (SessionCleared) Kind() Kind       { return KindSessionCleared }
func (Start) Kind() Kind                { return KindStart }
func (Chunk) Kind() Kind                { return KindChunk }
func (End) Kind() Kind                  { return KindEnd }
func (Status) Kind() Kind               { return KindStatus }
func (TTSStart) Kind() Kind             { return KindTTSStart }
func (TTSComplete) Kind() Kind          { return KindTTSComplete }
func (TranscriptionPartial) Kind() Kind { return KindTranscriptionPartial }
func (TranscriptionFinal) Kind() Kind   { return KindTranscriptionFinal }
func (TranscriptionStatus) Kind() Kind  { return KindTranscriptionStatus }
func (TranscriptionError) Kind() Kind   { return KindTranscriptionError }
func (FileArtifact) Kind() Kind         { return KindFileArtifact }
func (Image) Kind() Kind                { return KindImage }
func (ReasoningStep) Kind() Kind        { return KindReasoningStep }
func (ToolCallStarted) Kind() Kind      { return KindToolCallStarted }
func (ToolCallCompleted) Kind() Kind    { return KindToolCallCompleted }

func (Connecting) sealed()           {}
func (Open) sealed()                 {}
func (Closed) sealed()               {}
func (Reconnecting) sealed()         {}
func (Error) sealed()                {}
func (AuthRequired) sealed()         {}
func (SessionCreated) sealed()       {}
func (SessionCleared) sealed()       {}
func (Start) sealed()                {}
func (Chunk) sealed()                {}
func (End) sealed()                  {}
func (Status) sealed()               {}
func (TTSStart) sealed()             {}
func (TTSComplete) sealed()          {}
func (TranscriptionPartial) sealed() {}
func (TranscriptionFinal) sealed()   {}
func (TranscriptionStatus) sealed()  {}
func (TranscriptionError) sealed()   {}
func (FileArtifact) sealed()         {}
func (Image) sealed()                {}
func (ReasoningStep) sealed()        {}
func (ToolCallStarted) sealed()      {}
func (ToolCallCompleted) sealed()    {}
