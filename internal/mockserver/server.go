// Package mockserver is a small reference backend that speaks the chat
// socket protocol. It backs the CLI's mock-server command and the tests.
package mockserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/user/gravia/internal/protocol"
	"github.com/user/gravia/internal/state"
	"github.com/user/gravia/internal/types"
)

// ReplyFunc returns the chunks streamed back for a query.
type ReplyFunc func(query string) []string

// Config controls the scripted behaviour of the backend.
type Config struct {
	// AuthToken, when set, is required as a Bearer token on /chat/ws and
	// /user/profile.
	AuthToken      string
	ChunkDelay     time.Duration
	MaxConnections int64
	Reply          ReplyFunc
}

// EchoReply streams "You said: <query>" one word at a time.
func EchoReply(query string) []string {
	words := strings.Fields("You said: " + query)
	chunks := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks[i] = w
	}
	return chunks
}

// Server is an http.Handler serving the chat socket, the profile endpoint and
// a read-only frame trace API.
type Server struct {
	cfg      Config
	frames   *state.FrameLog
	sem      *semaphore.Weighted
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	log      *slog.Logger

	mu            sync.Mutex
	profileStatus int
}

// NewServer creates a Server. frames may be nil, in which case no frames are
// recorded and the trace API answers 503.
func NewServer(cfg Config, frames *state.FrameLog) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	if cfg.Reply == nil {
		cfg.Reply = EchoReply
	}
	s := &Server{
		cfg:    cfg,
		frames: frames,
		sem:    semaphore.NewWeighted(cfg.MaxConnections),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		mux:           http.NewServeMux(),
		log:           slog.Default().With("component", "mockserver"),
		profileStatus: http.StatusOK,
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /user/profile", s.handleProfile)
	s.mux.HandleFunc("GET /chat/ws", s.handleChat)
	s.mux.HandleFunc("GET /api/sessions/", s.handleAPISessionFrames)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SetProfileStatus forces /user/profile to answer with code.
func (s *Server) SetProfileStatus(code int) {
	s.mu.Lock()
	s.profileStatus = code
	s.mu.Unlock()
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.AuthToken
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	code := s.profileStatus
	s.mu.Unlock()
	if !s.authorized(r) {
		code = http.StatusUnauthorized
	}
	if code != http.StatusOK {
		http.Error(w, `{"error":"`+http.StatusText(code)+`"}`, code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"user": "local"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !s.sem.TryAcquire(1) {
		http.Error(w, `{"error":"too many connections"}`, http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}

	sess := &conn{
		srv: s,
		ws:  ws,
		id:  types.NormalizeSessionID(r.URL.Query().Get("session_id")),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess.serve(ctx)
}

func (s *Server) handleAPISessionFrames(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		http.Error(w, `{"error":"frame trace not configured"}`, http.StatusServiceUnavailable)
		return
	}

	// Path: /api/sessions/{id}/frames
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[1] != "frames" || parts[0] == "" {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	sessionID := types.SessionID(parts[0])

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	frames, err := s.frames.Tail(r.Context(), sessionID, limit)
	if err != nil {
		s.log.Error("tail frames failed", "session_id", sessionID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if frames == nil {
		frames = []*types.FrameRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(frames)
}

// conn is one upgraded chat socket.
type conn struct {
	srv *Server
	ws  *websocket.Conn
	id  types.SessionID

	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *conn) serve(ctx context.Context) {
	defer c.ws.Close()
	defer c.wg.Wait()
	defer c.cancelReply()

	if !c.id.IsSet() {
		c.id = types.NewSessionID()
		if err := c.send(ctx, protocol.SessionCreated{SessionID: c.id}); err != nil {
			return
		}
	}
	log := c.srv.log.With("session_id", c.id)
	log.Debug("chat connected")

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("chat read failed", "error", err)
			}
			return
		}
		c.record(ctx, types.DirectionOutbound, data)

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			log.Debug("bad client frame", "error", err)
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			log.Debug("chat write failed", "error", err)
			return
		}
	}
}

func (c *conn) handle(ctx context.Context, msg *protocol.ClientMessage) error {
	switch msg.Type {
	case "":
		return c.query(ctx, msg)
	case protocol.ControlInterrupt:
		c.cancelReply()
		return c.send(ctx, protocol.Event{Message: "Response manually interrupted."})
	case protocol.ControlSpeak:
		if err := c.send(ctx, protocol.TTSStart{Message: msg.Text}); err != nil {
			return err
		}
		return c.send(ctx, protocol.TTSComplete{})
	case protocol.ControlStopSpeaking:
		return c.send(ctx, protocol.TTSComplete{Message: "TTS stopped."})
	case protocol.ControlStartVoice, protocol.ControlStartListening:
		return c.send(ctx, protocol.TranscriptionStatus{Status: "listening"})
	case protocol.ControlStopListening:
		return c.send(ctx, protocol.TranscriptionStatus{Status: "stopped"})
	default:
		c.srv.log.Debug("ignoring client frame", "type", msg.Type)
		return nil
	}
}

func (c *conn) query(ctx context.Context, msg *protocol.ClientMessage) error {
	if strings.TrimSpace(msg.Query) == "" && len(msg.Files) == 0 {
		if err := c.send(ctx, protocol.Error{Message: "query is required"}); err != nil {
			return err
		}
		return c.send(ctx, protocol.MessageEnd{})
	}
	for _, f := range msg.Files {
		if f.DataB64 == "" {
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(f.DataB64); err != nil {
			return c.send(ctx, protocol.Error{Message: "Error processing file: " + err.Error()})
		}
	}

	c.cancelReply()
	replyCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.send(ctx, protocol.Event{Message: "processing_query"}); err != nil {
		cancel()
		return err
	}
	chunks := c.srv.cfg.Reply(msg.Query)
	files := msg.Files

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		if err := c.stream(replyCtx, chunks, files); err != nil && !errors.Is(err, context.Canceled) {
			c.srv.log.Debug("reply stream failed", "session_id", c.id, "error", err)
		}
	}()
	return nil
}

// stream writes chunks, echoes inline attachments, then terminates the response.
// A cancelled stream sends no message_end.
func (c *conn) stream(ctx context.Context, chunks []string, files []types.Attachment) error {
	for _, text := range chunks {
		if delay := c.srv.cfg.ChunkDelay; delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.send(ctx, protocol.MessageChunk{Message: text}); err != nil {
			return err
		}
	}
	for _, f := range files {
		if f.DataB64 == "" {
			continue
		}
		name := f.Name
		if name == "" {
			name = "attachment"
		}
		ref := protocol.FileRef{Name: name, Path: "artifacts/" + name, DataB64: f.DataB64}
		if err := c.send(ctx, protocol.FileArtifact{File: ref}); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(ctx, protocol.MessageEnd{})
}

func (c *conn) cancelReply() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *conn) send(ctx context.Context, f protocol.Frame) error {
	data, err := protocol.Marshal(f)
	if err != nil {
		return err
	}
	c.record(ctx, types.DirectionInbound, data)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// record traces a frame from the client's point of view: frames the server
// writes are inbound.
func (c *conn) record(ctx context.Context, dir types.Direction, data []byte) {
	if c.srv.frames == nil {
		return
	}
	if err := c.srv.frames.Record(ctx, c.id, dir, json.RawMessage(data)); err != nil {
		c.srv.log.Warn("record frame failed", "session_id", c.id, "error", err)
	}
}
