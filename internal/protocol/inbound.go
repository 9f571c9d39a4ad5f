// Package protocol defines the JSON frames exchanged over the chat socket.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/gravia/internal/types"
)

var (
	// ErrMalformed means the payload is not a JSON object with a string "type".
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownType means the "type" tag is not one this client understands.
	ErrUnknownType = errors.New("unknown frame type")
	// ErrInvalidFrame means the frame failed validation for its tag.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Tag is the "type" discriminant of an inbound frame.
type Tag string

const (
	TagMessageChunk         Tag = "message_chunk"
	TagEvent                Tag = "event"
	TagError                Tag = "error"
	TagSessionCreated       Tag = "session_created"
	TagMessageEnd           Tag = "message_end"
	TagTTSStart             Tag = "tts_start"
	TagTTSComplete          Tag = "tts_complete"
	TagTranscriptionPartial Tag = "transcription_partial"
	TagTranscriptionFinal   Tag = "transcription_final"
	TagTranscriptionStatus  Tag = "transcription_status"
	TagTranscriptionError   Tag = "transcription_error"
	TagFileArtifact         Tag = "file_artifact"
	TagImage                Tag = "image"
	TagReasoningStep        Tag = "reasoning_step"
	TagToolCallStarted      Tag = "tool_call_started"
	TagToolCallCompleted    Tag = "tool_call_completed"
)

// Frame is one decoded inbound frame.
type Frame interface {
	Tag() Tag
}

type MessageChunk struct {
	Message string `json:"message"`
}

type Event struct {
	Message string `json:"message"`
}

type Error struct {
	Message string `json:"message"`
}

type SessionCreated struct {
	SessionID types.SessionID `json:"session_id"`
}

type MessageEnd struct{}

type TTSStart struct {
	Message string `json:"message,omitempty"`
}

type TTSComplete struct {
	Message string `json:"message,omitempty"`
}

type TranscriptionPartial struct {
	Message string `json:"message"`
}

type TranscriptionFinal struct {
	Message string `json:"message"`
}

type TranscriptionStatus struct {
	Status string `json:"status"`
}

type TranscriptionError struct {
	Error string `json:"error"`
}

// FileRef is the file object of a file_artifact frame.
type FileRef struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	DataB64 string `json:"data_b64,omitempty"`
}

type FileArtifact struct {
	File FileRef `json:"file"`
}

type Image struct {
	Data string `json:"data"`
	Mime string `json:"mime,omitempty"`
	Name string `json:"name,omitempty"`
}

type ReasoningStep struct {
	Message string `json:"message"`
}

type ToolCallStarted struct {
	Tool json.RawMessage `json:"tool"`
}

type ToolCallCompleted struct {
	Tool json.RawMessage `json:"tool"`
}

func (MessageChunk) Tag() Tag         { return TagMessageChunk }
func (Event) Tag() Tag                { return TagEvent }
func (Error) Tag() Tag                { return TagError }
func (SessionCreated) Tag() Tag       { return TagSessionCreated }
func (MessageEnd) Tag() Tag           { return TagMessageEnd }
func (TTSStart) Tag() Tag             { return TagTTSStart }
func (TTSComplete) Tag() Tag          { return TagTTSComplete }
func (TranscriptionPartial) Tag() Tag { return TagTranscriptionPartial }
func (TranscriptionFinal) Tag() Tag   { return TagTranscriptionFinal }
func (TranscriptionStatus) Tag() Tag  { return TagTranscriptionStatus }
func (TranscriptionError) Tag() Tag   { return TagTranscriptionError }
func (FileArtifact) Tag() Tag         { return TagFileArtifact }
func (Image) Tag() Tag                { return TagImage }
func (ReasoningStep) Tag() Tag        { return TagReasoningStep }
func (ToolCallStarted) Tag() Tag      { return TagToolCallStarted }
func (ToolCallCompleted) Tag() Tag    { return TagToolCallCompleted }

// decoders maps every known tag to a constructor for its frame type.
var decoders = map[Tag]func([]byte) (Frame, error){
	TagMessageChunk:         decodeAs[MessageChunk],
	TagEvent:                decodeAs[Event],
	TagError:                decodeAs[Error],
	TagSessionCreated:       decodeAs[SessionCreated],
	TagMessageEnd:           decodeAs[MessageEnd],
	TagTTSStart:             decodeAs[TTSStart],
	TagTTSComplete:          decodeAs[TTSComplete],
	TagTranscriptionPartial: decodeAs[TranscriptionPartial],
	TagTranscriptionFinal:   decodeAs[TranscriptionFinal],
	TagTranscriptionStatus:  decodeAs[TranscriptionStatus],
	TagTranscriptionError:   decodeAs[TranscriptionError],
	TagFileArtifact:         decodeAs[FileArtifact],
	TagImage:                decodeAs[Image],
	TagReasoningStep:        decodeAs[ReasoningStep],
	TagToolCallStarted:      decodeAs[ToolCallStarted],
	TagToolCallCompleted:    decodeAs[ToolCallCompleted],
}

func decodeAs[T Frame](data []byte) (Frame, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

type envelope struct {
	Type *string `json:"type"`
}

// Parse decodes one inbound payload. The returned error wraps ErrMalformed,
// ErrUnknownType or ErrInvalidFrame; callers drop the frame in every case.
func Parse(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	tag := Tag(*env.Type)
	decode, ok := decoders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}

	if err := validate(tag, trimmed); err != nil {
		return nil, err
	}

	frame, err := decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFrame, tag, err)
	}

	if sc, ok := frame.(SessionCreated); ok {
		id := types.NormalizeSessionID(string(sc.SessionID))
		if !id.IsSet() {
			return nil, fmt.Errorf("%w: session_created: placeholder session_id %q", ErrInvalidFrame, sc.SessionID)
		}
		frame = SessionCreated{SessionID: id}
	}
	return frame, nil
}

// Marshal encodes an inbound frame with its "type" tag. It is used by the
// reference backend and tests.
func Marshal(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", f.Tag(), err)
	}
	tag, err := json.Marshal(string(f.Tag()))
	if err != nil {
		return nil, fmt.Errorf("marshal %s tag: %w", f.Tag(), err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode returns the file's inline bytes, or nil when the server only sent a path.
func (f FileRef) Decode() ([]byte, error) {
	if f.DataB64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(f.DataB64)
	if err != nil {
		return nil, fmt.Errorf("decode file %s: %w", f.Name, err)
	}
	return data, nil
}

// Decode returns the image bytes and MIME type. Data may be a data: URL or
// bare base64; the URL's media type wins over Mime when both are present.
func (i Image) Decode() (mimeType string, data []byte, err error) {
	mimeType, data, err = DecodeDataURL(i.Data)
	if err != nil {
		return "", nil, err
	}
	if mimeType == "" {
		mimeType = i.Mime
	}
	return mimeType, data, nil
}

// DecodeDataURL decodes "data:<mime>;base64,<payload>". A string without the
// data: prefix is treated as bare base64 with an empty media type.
func DecodeDataURL(s string) (mimeType string, data []byte, err error) {
	payload := s
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, body, found := strings.Cut(rest, ",")
		if !found {
			return "", nil, fmt.Errorf("decode data url: missing comma")
		}
		params := strings.Split(meta, ";")
		mimeType = params[0]
		isBase64 := false
		for _, p := range params[1:] {
			if p == "base64" {
				isBase64 = true
			}
		}
		if !isBase64 {
			return mimeType, []byte(body), nil
		}
		payload = body
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	return mimeType, data, nil
}
