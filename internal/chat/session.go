package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/user/gravia/internal/types"
)

// chatPath is the websocket endpoint relative to the server base URL.
const chatPath = "/chat/ws"

// session holds the current session id and writes changes through to the
// optional persistent store.
type session struct {
	id    types.SessionID
	store types.SessionStore
	log   *slog.Logger
}

func (s *session) set(ctx context.Context, id types.SessionID) {
	s.id = id
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, id); err != nil {
		s.log.Warn("failed to persist session id", "session_id", string(id), "error", err)
	}
}

func (s *session) clear(ctx context.Context) types.SessionID {
	prev := s.id
	s.id = ""
	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			s.log.Warn("failed to clear persisted session id", "error", err)
		}
	}
	return prev
}

// chatURL builds the websocket URL for base, embedding id when it is set.
// http and https bases are mapped to ws and wss.
func chatURL(base string, id types.SessionID) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url has no host: %q", base)
	}

	if !strings.HasSuffix(u.Path, chatPath) {
		u.Path = strings.TrimRight(u.Path, "/") + chatPath
	}

	q := u.Query()
	q.Del("session_id")
	if id = types.NormalizeSessionID(string(id)); id.IsSet() {
		q.Set("session_id", string(id))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
