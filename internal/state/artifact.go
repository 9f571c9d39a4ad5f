// internal/state/artifact.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/user/gravia/internal/types"
)

// ArtifactStore keeps files received from the server on disk.
// Each artifact is two files under sessions/<sessionID>/artifacts/:
// <artifactID>.meta.json holds the metadata, <artifactID>-<name> holds the bytes.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates a new file-backed ArtifactStore rooted at the given directory.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (a *ArtifactStore) artifactsDir(sessionID types.SessionID) string {
	return filepath.Join(a.root, "sessions", sessionDir(sessionID), "artifacts")
}

func (a *ArtifactStore) metaPath(sessionID types.SessionID, id types.ArtifactID) string {
	return filepath.Join(a.artifactsDir(sessionID), string(id)+metaSuffix)
}

// DataPath returns where the bytes for meta are stored.
func (a *ArtifactStore) DataPath(meta *types.ArtifactMeta) string {
	return filepath.Join(a.artifactsDir(meta.SessionID), string(meta.ID)+"-"+safeName(meta.Name))
}

// metaSuffix never ends a data file name, see safeName.
const metaSuffix = ".meta.json"

// safeName reduces a server-supplied name to a single path element.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "artifact"
	}
	if strings.HasSuffix(name, metaSuffix) {
		name += "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			return '_'
		}
		return r
	}, name)
}

// writeAtomic writes content via temp file + rename.
func writeAtomic(target string, content []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Put stores an artifact and returns its metadata. data may be empty when the
// server only referenced a path on its side; source then records that path.
func (a *ArtifactStore) Put(_ context.Context, sessionID types.SessionID, name, mimeType, source string, data []byte) (*types.ArtifactMeta, error) {
	meta := &types.ArtifactMeta{
		ID:        types.NewArtifactID(),
		SessionID: sessionID,
		Name:      name,
		MimeType:  mimeType,
		Source:    source,
		Size:      int64(len(data)),
		CreatedAt: time.Now(),
	}

	dir := a.artifactsDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	if len(data) > 0 {
		if err := writeAtomic(a.DataPath(meta), data); err != nil {
			return nil, fmt.Errorf("store artifact data: %w", err)
		}
	}

	content, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact meta: %w", err)
	}
	if err := writeAtomic(a.metaPath(sessionID, meta.ID), content); err != nil {
		return nil, fmt.Errorf("store artifact meta: %w", err)
	}
	return meta, nil
}

// Get returns the metadata and bytes for the given artifact.
func (a *ArtifactStore) Get(_ context.Context, sessionID types.SessionID, id types.ArtifactID) (*types.ArtifactMeta, []byte, error) {
	raw, err := os.ReadFile(a.metaPath(sessionID, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("artifact not found: %s", id)
		}
		return nil, nil, fmt.Errorf("read artifact meta: %w", err)
	}
	var meta types.ArtifactMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshal artifact meta: %w", err)
	}
	if meta.Size == 0 {
		return &meta, nil, nil
	}
	data, err := os.ReadFile(a.DataPath(&meta))
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact data: %w", err)
	}
	return &meta, data, nil
}

// List returns every artifact stored for the session, oldest first.
func (a *ArtifactStore) List(_ context.Context, sessionID types.SessionID) ([]*types.ArtifactMeta, error) {
	matches, err := filepath.Glob(filepath.Join(a.artifactsDir(sessionID), "*"+metaSuffix))
	if err != nil {
		return nil, fmt.Errorf("glob artifacts: %w", err)
	}

	metas := make([]*types.ArtifactMeta, 0, len(matches))
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read artifact meta: %w", err)
		}
		var meta types.ArtifactMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal artifact meta %s: %w", filepath.Base(path), err)
		}
		metas = append(metas, &meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	return metas, nil
}
