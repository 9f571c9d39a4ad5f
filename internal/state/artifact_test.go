// internal/state/artifact_test.go
package state

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/gravia/internal/types"
)

func TestArtifactStore(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	ctx := context.Background()

	sessionID := types.NewSessionID()

	meta, err := store.Put(ctx, sessionID, "chart.png", "image/png", "image", []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatal(err)
	}
	if meta.ID == "" {
		t.Error("expected non-empty artifact ID")
	}
	if meta.Size != 4 {
		t.Errorf("expected size 4, got %d", meta.Size)
	}

	got, data, err := store.Get(ctx, sessionID, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "chart.png" || got.MimeType != "image/png" {
		t.Errorf("meta mismatch: %+v", got)
	}
	if string(data) != "\x89PNG" {
		t.Errorf("data mismatch: %q", data)
	}

	// Reference-only artifact
	if _, err := store.Put(ctx, sessionID, "report.pdf", "", "/srv/files/report.pdf", nil); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(list))
	}
	if list[0].Name != "chart.png" || list[1].Source != "/srv/files/report.pdf" {
		t.Errorf("unexpected order or content: %+v, %+v", list[0], list[1])
	}
}

func TestArtifactStoreEmptySession(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	list, err := store.List(context.Background(), "nothing-here")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected no artifacts, got %d", len(list))
	}
}

func TestArtifactStoreSanitizesName(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)

	meta, err := store.Put(context.Background(), "s1", "../../etc/passwd", "text/plain", "file", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	path := store.DataPath(meta)
	if !strings.HasPrefix(path, filepath.Join(dir, "sessions", "s1", "artifacts")) {
		t.Errorf("data path escaped artifacts dir: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("data file missing: %v", err)
	}
}

func TestArtifactStoreJSONNamedArtifacts(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	ctx := context.Background()

	for _, tc := range []struct{ name, data string }{
		{"dump.json", `[1,2,3]`},
		{"report.json", `{"ok":true}`},
		{"trick.meta.json", `{"id":"x"}`},
	} {
		if _, err := store.Put(ctx, "s1", tc.name, "application/json", "inline", []byte(tc.data)); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
	}

	list, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(list))
	}
	for _, meta := range list {
		_, data, err := store.Get(ctx, "s1", meta.ID)
		if err != nil {
			t.Fatalf("%s: %v", meta.Name, err)
		}
		if len(data) == 0 {
			t.Errorf("%s: empty data", meta.Name)
		}
	}
}

func TestArtifactStoreHostileSessionID(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "data")
	store := NewArtifactStore(root)
	ctx := context.Background()

	for _, id := range []types.SessionID{"../../escaped", "..", `..\evil`} {
		meta, err := store.Put(ctx, id, "x.txt", "text/plain", "inline", []byte("x"))
		if err != nil {
			t.Fatalf("%q: %v", id, err)
		}
		path := store.DataPath(meta)
		if !strings.HasPrefix(path, filepath.Join(root, "sessions")+string(filepath.Separator)) {
			t.Errorf("%q: data path escaped root: %s", id, path)
		}
		list, err := store.List(ctx, id)
		if err != nil || len(list) != 1 {
			t.Errorf("%q: expected 1 artifact, got %d (%v)", id, len(list), err)
		}
	}
	if _, err := os.Stat(filepath.Join(base, "escaped")); !os.IsNotExist(err) {
		t.Errorf("expected nothing written outside root, stat err %v", err)
	}
}
