// Package chat implements the realtime chat transport: one logical
// conversation carried over a websocket that may drop and reconnect.
//
// All state lives on a single event-loop goroutine. Public methods post
// commands to it; transport callbacks and timers post back to it, so no two
// transitions ever run at once.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/user/gravia/internal/events"
	"github.com/user/gravia/internal/protocol"
	"github.com/user/gravia/internal/transport"
	"github.com/user/gravia/internal/types"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("chat client closed")
	// ErrNotConnected is returned by control operations while no connection is open.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyMessage is returned by Send when there is nothing to send.
	ErrEmptyMessage = errors.New("empty message")
)

// Defaults applied by Config for zero values.
const (
	DefaultInactivityTimeout = 3 * time.Second
	DefaultProfilePath       = "/user/profile"
)

// Config configures a Client. Zero values fall back to defaults.
type Config struct {
	// BaseURL is the server root, e.g. http://127.0.0.1:8000.
	BaseURL   string
	AuthToken string
	// ProfilePath is the endpoint the auth probe fetches.
	ProfilePath string
	// Agent is used when Send is called without one.
	Agent string
	// SessionID resumes a known session. When empty the session store is consulted.
	SessionID types.SessionID

	InactivityTimeout    time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
	// PingInterval turns on websocket keepalive for the default dialer, so a
	// stalled socket fails its read instead of hanging. Zero disables it.
	PingInterval time.Duration
}

func (c *Config) defaults() {
	b := DefaultBackoff()
	if c.ProfilePath == "" {
		c.ProfilePath = DefaultProfilePath
	}
	if c.Agent == "" {
		c.Agent = types.DefaultAgent
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = b.Base
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = b.Max
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = b.MaxAttempts
	}
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithSessionStore persists the session id across restarts.
func WithSessionStore(s types.SessionStore) Option {
	return func(c *Client) { c.store = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHTTPClient sets the client used by the auth probe.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithFrameTap records every frame sent and received.
func WithFrameTap(r types.FrameRecorder) Option {
	return func(c *Client) { c.tap = r }
}

// Client is the chat transport. Create one with New; it is safe for
// concurrent use.
type Client struct {
	cfg        Config
	dialer     transport.Dialer
	httpClient *http.Client
	store      types.SessionStore
	tap        types.FrameRecorder
	bus        *events.Bus
	log        *slog.Logger
	backoff    *Backoff

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the event loop.
	state        ConnectionState
	conn         transport.Conn
	connGen      uint64
	dialGen      uint64
	dialCancel   context.CancelFunc
	dials        int
	attempts     int
	reconnect    *time.Timer
	reconnectGen uint64
	queue        PendingQueue
	session      session
	asm          *assembler
	probe        authProbe
	closed       bool
}

// New creates a Client and starts its event loop. It does not connect;
// call Connect, or Send, which connects on demand.
func New(cfg Config, opts ...Option) *Client {
	cfg.defaults()
	c := &Client{
		cfg:  cfg,
		cmds: make(chan func(), 64),
		done: make(chan struct{}),
		bus:  events.NewBus(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &transport.WebSocketDialer{PingInterval: cfg.PingInterval}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: probeTimeout}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "chat")
	c.backoff = &Backoff{
		MaxAttempts: cfg.MaxReconnectAttempts,
		Base:        cfg.ReconnectBase,
		Max:         cfg.ReconnectMax,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.session = session{
		id:    types.NormalizeSessionID(string(cfg.SessionID)),
		store: c.store,
		log:   c.log,
	}
	if !c.session.id.IsSet() && c.store != nil {
		id, err := c.store.Load(c.ctx)
		if err != nil {
			c.log.Warn("failed to load persisted session id", "error", err)
		}
		c.session.id = id
	}

	c.probe = authProbe{client: c.httpClient, token: cfg.AuthToken}
	if u, err := profileURL(cfg.BaseURL, cfg.ProfilePath); err != nil {
		c.log.Warn("auth probe disabled", "error", err)
		c.probe.fired = true
	} else {
		c.probe.url = u
	}

	c.asm = newAssembler(cfg.InactivityTimeout, c.schedule, c.bus.Publish)

	go c.loop()
	return c
}

// Events returns the bus the client publishes on.
func (c *Client) Events() *events.Bus {
	return c.bus
}

// Connect opens the connection if none is open or in progress. It resets the
// reconnect counter, so it also recovers from the failed state.
func (c *Client) Connect(ctx context.Context) error {
	return c.call(ctx, func() error { return c.connect(true) })
}

// Send transmits a query, or queues it until the connection opens. An empty
// agent uses the configured default.
func (c *Client) Send(ctx context.Context, query string, files []types.Attachment, agent string) error {
	if strings.TrimSpace(query) == "" && len(files) == 0 {
		return ErrEmptyMessage
	}
	if agent == "" {
		agent = c.cfg.Agent
	}
	req := types.NewOutboundRequest(query, files, agent)
	if _, err := protocol.EncodeQuery(req); err != nil {
		return err
	}
	return c.call(ctx, func() error { return c.send(req) })
}

// Interrupt asks the server to stop generating and closes the current
// response locally. The response is closed even when the frame cannot be sent.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.call(ctx, func() error {
		err := c.sendControl(protocol.EncodeControl(protocol.ControlInterrupt))
		c.asm.end(events.EndInterrupted)
		return err
	})
}

func (c *Client) StartVoice(ctx context.Context) error {
	return c.control(ctx, protocol.ControlStartVoice)
}

func (c *Client) StopSpeaking(ctx context.Context) error {
	return c.control(ctx, protocol.ControlStopSpeaking)
}

func (c *Client) StartListening(ctx context.Context) error {
	return c.control(ctx, protocol.ControlStartListening)
}

func (c *Client) StopListening(ctx context.Context) error {
	return c.control(ctx, protocol.ControlStopListening)
}

// Speak asks the server to read text aloud.
func (c *Client) Speak(ctx context.Context, text string) error {
	return c.call(ctx, func() error {
		return c.sendControl(protocol.EncodeSpeak(text))
	})
}

// NewChat drops the current connection, pending sends and session, then
// connects again so the server assigns a fresh session.
func (c *Client) NewChat(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.resetSession()
		return c.connect(true)
	})
}

// State returns the current connection state.
func (c *Client) State(ctx context.Context) (ConnectionState, error) {
	var s ConnectionState
	err := c.call(ctx, func() error {
		s = c.state
		return nil
	})
	return s, err
}

// SessionID returns the current session id, or "" when none is assigned.
func (c *Client) SessionID(ctx context.Context) (types.SessionID, error) {
	var id types.SessionID
	err := c.call(ctx, func() error {
		id = c.session.id
		return nil
	})
	return id, err
}

// Pending returns the number of queued sends.
func (c *Client) Pending(ctx context.Context) (int, error) {
	var n int
	err := c.call(ctx, func() error {
		n = c.queue.Len()
		return nil
	})
	return n, err
}

// Close stops the client, closing the connection and the event bus.
// Subscribers still receive events published before Close.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.call(context.Background(), func() error {
			c.shutdown()
			return nil
		})
		if errors.Is(err, ErrClosed) {
			err = nil
		}
		c.cancel()
		c.bus.Close()
	})
	return err
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		fn := <-c.cmds
		fn()
		if c.closed {
			return
		}
	}
}

// post queues fn on the event loop. It reports false once the loop has exited.
func (c *Client) post(fn func()) bool {
	select {
	case c.cmds <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the event loop and waits for its result.
func (c *Client) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.cmds <- func() { errc <- fn() }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-c.done:
		// fn may be the command that stopped the loop.
		select {
		case err := <-errc:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) schedule(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { c.post(fn) })
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.cfg.AuthToken != "" {
		h.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	return h
}

// connect starts a dial unless one is open or in flight.
func (c *Client) connect(reset bool) error {
	if reset {
		c.attempts = 0
	}
	switch c.state {
	case StateConnected, StateConnecting:
		return nil
	}
	c.stopReconnect()
	return c.dial()
}

func (c *Client) dial() error {
	u, err := chatURL(c.cfg.BaseURL, c.session.id)
	if err != nil {
		return err
	}

	c.dials++
	c.dialGen++
	gen := c.dialGen
	ctx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel
	c.state = StateConnecting

	c.log.Debug("connecting", "url", u, "attempt", c.attempts)
	c.bus.Publish(events.Connecting{Attempt: c.attempts, URL: u})

	header := c.header()
	go func() {
		conn, err := c.dialer.Dial(ctx, u, header)
		if !c.post(func() { c.onDial(gen, u, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
	return nil
}

func (c *Client) cancelDial() {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.dialGen++
}

func (c *Client) onDial(gen uint64, u string, conn transport.Conn, err error) {
	if gen != c.dialGen || c.state != StateConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.dialCancel()
	c.dialCancel = nil

	if err != nil {
		c.state = StateDisconnected
		first := c.dials == 1
		ev := events.Error{Category: events.CategoryTransport, Message: err.Error()}
		var de *transport.DialError
		if errors.As(err, &de) {
			ev.Code = de.Status
		}
		c.log.Warn("connect failed", "attempt", c.attempts, "error", err)
		c.bus.Publish(ev)
		c.maybeProbe(first)
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.connGen++
	c.state = StateConnected
	c.attempts = 0
	go c.readLoop(c.connGen, conn)

	c.log.Info("connected", "url", u, "session_id", string(c.session.id), "pending", c.queue.Len())
	c.bus.Publish(events.Open{URL: u, Pending: c.queue.Len()})
	c.flush()
}

// flush transmits every queued request in order. A write failure puts the
// failed request back at the head and drops the connection.
func (c *Client) flush() {
	for c.conn != nil {
		req, ok := c.queue.Pop()
		if !ok {
			return
		}
		if err := c.transmit(req); err != nil {
			c.queue.PushFront(req)
			c.lost(transport.Classify(err))
			return
		}
	}
}

func (c *Client) send(req *types.OutboundRequest) error {
	if c.state == StateConnected {
		if err := c.transmit(req); err != nil {
			c.queue.PushFront(req)
			c.lost(transport.Classify(err))
		}
		return nil
	}

	c.queue.Enqueue(req)
	c.log.Debug("queued request", "request_id", string(req.ID), "pending", c.queue.Len())
	if c.state == StateDisconnected && c.reconnect == nil {
		return c.connect(false)
	}
	return nil
}

// transmit writes req and opens the response it expects.
func (c *Client) transmit(req *types.OutboundRequest) error {
	data, err := protocol.EncodeQuery(req)
	if err != nil {
		return err
	}
	if err := c.write(data); err != nil {
		return err
	}
	c.log.Debug("sent request", "request_id", string(req.ID))
	c.asm.start(req.ID, false)
	return nil
}

func (c *Client) write(data []byte) error {
	if err := c.conn.WriteMessage(data); err != nil {
		return err
	}
	c.trace(types.DirectionOutbound, data)
	return nil
}

func (c *Client) control(ctx context.Context, ctl protocol.Control) error {
	return c.call(ctx, func() error {
		return c.sendControl(protocol.EncodeControl(ctl))
	})
}

// sendControl writes a control frame. Control frames are never queued.
func (c *Client) sendControl(data []byte, err error) error {
	if err != nil {
		return err
	}
	if c.state != StateConnected || c.conn == nil {
		return ErrNotConnected
	}
	if err := c.write(data); err != nil {
		c.lost(transport.Classify(err))
		return fmt.Errorf("send control frame: %w", err)
	}
	return nil
}

func (c *Client) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.post(func() { c.onReadError(gen, err) })
			return
		}
		if !c.post(func() { c.onFrame(gen, data) }) {
			return
		}
	}
}

func (c *Client) onReadError(gen uint64, err error) {
	if gen != c.connGen || c.conn == nil {
		return
	}
	c.lost(transport.Classify(err))
}

func (c *Client) onFrame(gen uint64, data []byte) {
	if gen != c.connGen {
		return
	}
	c.trace(types.DirectionInbound, data)

	frame, err := protocol.Parse(data)
	if err != nil {
		c.log.Debug("dropping frame", "error", err)
		return
	}
	c.dispatch(frame)
}

// lost handles the end of an open connection and schedules a reconnect.
func (c *Client) lost(info transport.CloseInfo) {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connGen++
	c.state = StateDisconnected

	c.bus.Publish(events.Closed{Code: info.Code, Reason: info.Reason, Clean: info.Clean})
	if info.Clean {
		c.log.Info("connection closed", "code", info.Code)
	} else {
		c.log.Warn("connection lost", "code", info.Code, "reason", info.Reason)
		c.bus.Publish(events.Error{
			Category: events.CategoryTransport,
			Code:     info.Code,
			Message:  info.Reason,
		})
	}
	c.scheduleReconnect()
}

// dropConn closes the open connection on purpose. No reconnect follows.
func (c *Client) dropConn(reason string) {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.connGen++
	c.bus.Publish(events.Closed{Code: transport.CloseNormal, Reason: reason, Clean: true})
}

func (c *Client) scheduleReconnect() {
	if c.closed {
		return
	}
	if c.backoff.Exhausted(c.attempts) {
		c.state = StateFailedTerminal
		c.log.Error("reconnect attempts exhausted", "attempts", c.attempts)
		c.bus.Publish(events.Error{
			Category: events.CategoryExhausted,
			Message:  fmt.Sprintf("gave up after %d reconnect attempts", c.attempts),
			Terminal: true,
		})
		return
	}

	delay := c.backoff.Delay(c.attempts)
	c.attempts++
	c.reconnectGen++
	gen := c.reconnectGen

	c.log.Info("reconnect scheduled", "attempt", c.attempts, "delay", delay)
	c.bus.Publish(events.Reconnecting{Attempt: c.attempts, Delay: delay})
	c.reconnect = c.schedule(delay, func() { c.onReconnectTimer(gen) })
}

func (c *Client) onReconnectTimer(gen uint64) {
	if gen != c.reconnectGen || c.state != StateDisconnected {
		return
	}
	c.reconnect = nil
	if err := c.dial(); err != nil {
		c.state = StateFailedTerminal
		c.log.Error("reconnect failed", "error", err)
		c.bus.Publish(events.Error{Category: events.CategoryTransport, Message: err.Error(), Terminal: true})
	}
}

func (c *Client) stopReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.reconnectGen++
}

// maybeProbe starts the auth probe on the first qualifying connect failure.
func (c *Client) maybeProbe(firstAttempt bool) {
	if c.probe.fired {
		return
	}
	if !firstAttempt && c.session.id.IsSet() {
		return
	}
	c.probe.fired = true

	probe := c.probe
	go func() {
		res := probe.check(c.ctx)
		c.post(func() { c.onProbe(res) })
	}()
}

func (c *Client) onProbe(res probeResult) {
	if res.authRequired() {
		c.log.Warn("server requires authentication", "status", res.status)
		c.bus.Publish(events.Error{
			Category: events.CategoryAuth,
			Code:     res.status,
			Message:  http.StatusText(res.status),
		})
		c.bus.Publish(events.AuthRequired{Source: "probe", Status: res.status})
		return
	}
	if res.err != nil {
		c.log.Debug("auth probe inconclusive", "error", res.err)
		return
	}
	c.log.Debug("auth probe passed", "status", res.status)
}

// resetSession clears everything tied to the current conversation.
func (c *Client) resetSession() {
	c.stopReconnect()
	c.cancelDial()
	c.dropConn("new chat")
	c.state = StateDisconnected
	c.attempts = 0
	if n := c.queue.Clear(); n > 0 {
		c.log.Info("discarded pending requests", "count", n)
	}
	c.asm.end(events.EndReset)
	prev := c.session.clear(c.ctx)
	c.bus.Publish(events.SessionCleared{Previous: prev})
}

func (c *Client) shutdown() {
	c.closed = true
	c.stopReconnect()
	c.cancelDial()
	c.asm.end(events.EndReset)
	c.dropConn("client closed")
	c.state = StateDisconnected
}

func (c *Client) trace(dir types.Direction, data []byte) {
	if c.tap == nil {
		return
	}
	if err := c.tap.Record(c.ctx, c.session.id, dir, json.RawMessage(data)); err != nil {
		c.log.Debug("frame trace failed", "error", err)
	}
}
