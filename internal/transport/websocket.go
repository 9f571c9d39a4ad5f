// Package transport wraps the physical websocket connection used by the chat
// client.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Default connection constants.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024 // 16MB
	DefaultCloseGracePeriod = time.Second
)

// CloseNormal is the websocket close code for a clean shutdown.
const CloseNormal = websocket.CloseNormalClosure

// Conn is one established connection. ReadMessage is called from a single
// goroutine; WriteMessage and Close may be called concurrently with it.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// DialError is returned when the server answered the handshake with a
// non-101 status.
type DialError struct {
	Status int
	Err    error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial failed with status %d: %v", e.Status, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// CloseInfo classifies why a connection ended.
type CloseInfo struct {
	Clean  bool
	Code   int
	Reason string
}

// Classify turns a read error into CloseInfo. Only a close frame with code
// 1000 is clean; everything else, including a dropped TCP connection, is not.
func Classify(err error) CloseInfo {
	if err == nil {
		return CloseInfo{Clean: true, Code: websocket.CloseNormalClosure}
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{
			Clean:  ce.Code == websocket.CloseNormalClosure,
			Code:   ce.Code,
			Reason: ce.Text,
		}
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64
	// PingInterval enables keepalive pings when positive. A missing pong
	// within twice the interval fails the next read.
	PingInterval time.Duration
}

func (d *WebSocketDialer) defaults() WebSocketDialer {
	out := *d
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if out.WriteWait == 0 {
		out.WriteWait = DefaultWriteWait
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = DefaultMaxMessageSize
	}
	return out
}

// Dial opens a websocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	cfg := d.defaults()
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil, &DialError{Status: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	ws.SetReadLimit(cfg.MaxMessageSize)

	c := &wsConn{
		ws:        ws,
		writeWait: cfg.WriteWait,
		done:      make(chan struct{}),
	}
	if cfg.PingInterval > 0 {
		pongWait := 2 * cfg.PingInterval
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.pingLoop(cfg.PingInterval)
	}
	return c, nil
}

type wsConn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	writeMu   sync.Mutex // serializes writes (gorilla/websocket requirement)
	closeOnce sync.Once
	done      chan struct{}
}

// ReadMessage returns the next text or binary message.
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.SetWriteDeadline(time.Now().Add(DefaultCloseGracePeriod))
		_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
