// internal/state/framelog.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/gravia/internal/types"
)

// unsessioned is the directory used for frames seen before the server
// assigned a session id.
const unsessioned = "_unsessioned"

// FrameLog is a JSONL-backed append-only trace of wire frames.
// Frames are stored per-session in sessions/<sessionID>/frames.jsonl.
type FrameLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
	seqs  map[types.SessionID]int64
}

// NewFrameLog creates a new file-backed FrameLog rooted at the given directory.
func NewFrameLog(root string) *FrameLog {
	return &FrameLog{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
		seqs:  make(map[types.SessionID]int64),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (l *FrameLog) getLock(sessionID types.SessionID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[sessionID] = lock
	return lock
}

// sessionDir maps a server-assigned session id to a single path element.
// Separators are percent-encoded so an id can never leave sessions/.
func sessionDir(sessionID types.SessionID) string {
	if !sessionID.IsSet() {
		return unsessioned
	}
	dir := url.PathEscape(string(sessionID))
	if dir == "." || dir == ".." {
		dir = strings.ReplaceAll(dir, ".", "%2E")
	}
	return dir
}

func (l *FrameLog) framesPath(sessionID types.SessionID) string {
	return filepath.Join(l.root, "sessions", sessionDir(sessionID), "frames.jsonl")
}

// count reads the frame file and counts lines. Caller must hold the session lock.
func (l *FrameLog) count(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(l.framesPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open frames file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan frames file: %w", err)
	}
	return count, nil
}

// Record appends one frame to the session's trace with the next sequence number.
func (l *FrameLog) Record(_ context.Context, sessionID types.SessionID, dir types.Direction, payload json.RawMessage) error {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := l.framesPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	l.mu.Lock()
	seq, known := l.seqs[sessionID]
	l.mu.Unlock()
	if !known {
		existing, err := l.count(sessionID)
		if err != nil {
			return err
		}
		seq = existing
	}
	seq++

	// Payloads that are not valid JSON are kept as a JSON string.
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return fmt.Errorf("quote payload: %w", err)
		}
		payload = quoted
	}

	data, err := json.Marshal(&types.FrameRecord{
		Seq:       seq,
		SessionID: sessionID,
		Direction: dir,
		At:        time.Now(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal frame record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open frames file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write frame record: %w", err)
	}

	l.mu.Lock()
	l.seqs[sessionID] = seq
	l.mu.Unlock()
	return nil
}

// Tail returns the last N frame records for the given session.
func (l *FrameLog) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.FrameRecord, error) {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(l.framesPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open frames file: %w", err)
	}
	defer f.Close()

	var records []*types.FrameRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec types.FrameRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal frame record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan frames file: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Count returns the number of frames traced for the given session.
func (l *FrameLog) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return l.count(sessionID)
}
