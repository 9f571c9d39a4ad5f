// internal/protocol/protocol_test.go
package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/user/gravia/internal/types"
)

func TestParseKnownFrames(t *testing.T) {
	cases := []struct {
		raw  string
		want Frame
	}{
		{`{"type":"message_chunk","message":"Hi"}`, MessageChunk{Message: "Hi"}},
		{`{"type":"event","message":"processing_query"}`, Event{Message: "processing_query"}},
		{`{"type":"error","message":"boom"}`, Error{Message: "boom"}},
		{`{"type":"session_created","session_id":" abc "}`, SessionCreated{SessionID: "abc"}},
		{`{"type":"message_end"}`, MessageEnd{}},
		{`{"type":"tts_start"}`, TTSStart{}},
		{`{"type":"tts_complete","message":"TTS stopped."}`, TTSComplete{Message: "TTS stopped."}},
		{`{"type":"transcription_partial","message":"hel"}`, TranscriptionPartial{Message: "hel"}},
		{`{"type":"transcription_final","message":"hello"}`, TranscriptionFinal{Message: "hello"}},
		{`{"type":"transcription_status","status":"listening"}`, TranscriptionStatus{Status: "listening"}},
		{`{"type":"transcription_error","error":"mic"}`, TranscriptionError{Error: "mic"}},
		{`{"type":"image","data":"aGk=","mime":"image/png"}`, Image{Data: "aGk=", Mime: "image/png"}},
		{`{"type":"reasoning_step","message":"thinking"}`, ReasoningStep{Message: "thinking"}},
	}
	for _, tc := range cases {
		got, err := Parse([]byte(tc.raw))
		if err != nil {
			t.Errorf("Parse(%s): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%s) = %#v, want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestParseFileArtifactAndTool(t *testing.T) {
	f, err := Parse([]byte(`{"type":"file_artifact","file":{"name":"a.txt","path":"/tmp/a.txt","data_b64":"aGk="}}`))
	if err != nil {
		t.Fatal(err)
	}
	fa, ok := f.(FileArtifact)
	if !ok {
		t.Fatalf("expected FileArtifact, got %T", f)
	}
	data, err := fa.File.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi" {
		t.Errorf("expected decoded 'hi', got %q", data)
	}

	f, err = Parse([]byte(`{"type":"tool_call_started","tool":{"name":"search"}}`))
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := f.(ToolCallStarted)
	if !ok {
		t.Fatalf("expected ToolCallStarted, got %T", f)
	}
	if string(tc.Tool) != `{"name":"search"}` {
		t.Errorf("unexpected tool payload: %s", tc.Tool)
	}
}

func TestParseDropsBadFrames(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{`not json`, ErrMalformed},
		{`[1,2]`, ErrMalformed},
		{`{"message":"no type"}`, ErrMalformed},
		{`{"type":7}`, ErrMalformed},
		{`{"type":"mystery"}`, ErrUnknownType},
		{`{"type":"session_created"}`, ErrInvalidFrame},
		{`{"type":"session_created","session_id":""}`, ErrInvalidFrame},
		{`{"type":"session_created","session_id":42}`, ErrInvalidFrame},
		{`{"type":"session_created","session_id":"undefined"}`, ErrInvalidFrame},
		{`{"type":"message_chunk"}`, ErrInvalidFrame},
		{`{"type":"message_chunk","message":{"text":"x"}}`, ErrInvalidFrame},
		{`{"type":"file_artifact","file":{"path":"/x"}}`, ErrInvalidFrame},
		{`{"type":"image","data":""}`, ErrInvalidFrame},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.raw))
		if !errors.Is(err, tc.want) {
			t.Errorf("Parse(%s) error = %v, want %v", tc.raw, err, tc.want)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(MessageEnd{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"message_end"}` {
		t.Errorf("unexpected encoding: %s", data)
	}

	data, err = Marshal(SessionCreated{SessionID: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"session_created","session_id":"abc"}` {
		t.Errorf("unexpected encoding: %s", data)
	}
	f, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if f != (SessionCreated{SessionID: "abc"}) {
		t.Errorf("unexpected frame: %#v", f)
	}
}

func TestEveryTagHasSchema(t *testing.T) {
	for tag := range decoders {
		if _, ok := schemas[tag]; !ok {
			t.Errorf("tag %s has no schema", tag)
		}
	}
}

func TestEncodeQuery(t *testing.T) {
	req := types.NewOutboundRequest("Hello", nil, "")
	data, err := EncodeQuery(req)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"query":"Hello","agent":"general"}` {
		t.Errorf("unexpected query frame: %s", data)
	}

	req = types.NewOutboundRequest("look", []types.Attachment{{Name: "a.png", MimeType: "image/png", Size: 3, DataB64: "YWJj"}}, "research")
	data, err = EncodeQuery(req)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	files, ok := decoded["files"].([]any)
	if !ok || len(files) != 1 {
		t.Fatalf("expected one file, got %v", decoded["files"])
	}
	file := files[0].(map[string]any)
	if file["type"] != "image/png" || file["data_b64"] != "YWJj" {
		t.Errorf("unexpected file encoding: %v", file)
	}
}

func TestEncodeControl(t *testing.T) {
	data, err := EncodeControl(ControlInterrupt)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"interrupt"}` {
		t.Errorf("unexpected control frame: %s", data)
	}
	if _, err := EncodeControl(ControlSpeak); err == nil {
		t.Error("expected error encoding speak without text")
	}
	data, err = EncodeSpeak("")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"speak","text":""}` {
		t.Errorf("unexpected speak frame: %s", data)
	}
}

func TestDecodeClientMessage(t *testing.T) {
	m, err := DecodeClientMessage([]byte(`{"query":"Hello","agent":"general"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsQuery() || m.Query != "Hello" {
		t.Errorf("unexpected message: %+v", m)
	}
	m, err = DecodeClientMessage([]byte(`{"type":"speak","text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.IsQuery() || m.Type != ControlSpeak || m.Text != "hi" {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestDecodeDataURL(t *testing.T) {
	mime, data, err := DecodeDataURL("data:image/png;base64,aGk=")
	if err != nil {
		t.Fatal(err)
	}
	if mime != "image/png" || string(data) != "hi" {
		t.Errorf("got %q %q", mime, data)
	}

	mime, data, err = DecodeDataURL("aGk=")
	if err != nil {
		t.Fatal(err)
	}
	if mime != "" || string(data) != "hi" {
		t.Errorf("got %q %q", mime, data)
	}

	if _, _, err := DecodeDataURL("data:image/png;base64"); err == nil {
		t.Error("expected error for data url without comma")
	}

	img := Image{Data: "aGk=", Mime: "image/jpeg"}
	mime, _, err = img.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if mime != "image/jpeg" {
		t.Errorf("expected fallback mime, got %q", mime)
	}
}
