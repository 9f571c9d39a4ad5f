// internal/types/models_test.go
package types

import (
	"encoding/json"
	"testing"
)

func TestNewOutboundRequestDefaults(t *testing.T) {
	req := NewOutboundRequest("Hello", nil, "")
	if req.Agent != DefaultAgent {
		t.Errorf("expected agent %q, got %q", DefaultAgent, req.Agent)
	}
	if req.ID == "" {
		t.Error("expected request ID to be assigned")
	}
	if req.Attachments != nil {
		t.Errorf("expected nil attachments, got %v", req.Attachments)
	}
}

func TestNewOutboundRequestCopiesAttachments(t *testing.T) {
	files := []Attachment{{Name: "a.txt", MimeType: "text/plain", Size: 3, DataB64: "YWJj"}}
	req := NewOutboundRequest("see file", files, "research")

	files[0].Name = "changed.txt"
	if req.Attachments[0].Name != "a.txt" {
		t.Errorf("request attachments should not alias caller slice, got %q", req.Attachments[0].Name)
	}
}

func TestAttachmentWireNames(t *testing.T) {
	data, err := json.Marshal(Attachment{Name: "n", MimeType: "image/png", Size: 10, Path: "/tmp/n"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "image/png" {
		t.Errorf("expected mime under \"type\", got %v", m)
	}
	if _, ok := m["data_b64"]; ok {
		t.Error("empty data_b64 should be omitted")
	}
}
