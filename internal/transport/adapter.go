// Package transport owns the persistent websocket to the chat endpoint.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the connectivity state of the adapter.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrNotOpen = errors.New("connection is not open")

// Sink receives everything the adapter observes, one call at a time.
type Sink interface {
	HandleFrame(frame []byte)
	HandleState(state State)
}

// Options configures the dial and reconnect behaviour.
type Options struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration // pause between a closure and the next dial
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// DefaultOptions returns the options used by the chat client.
func DefaultOptions(rawURL string) Options {
	return Options{
		URL:              rawURL,
		HandshakeTimeout: 15 * time.Second,
		ReconnectDelay:   time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      90 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// DialURL appends the id token the chat endpoint authorizes with.
func DialURL(base, idToken string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if idToken != "" {
		q := u.Query()
		q.Set("idToken", idToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Adapter keeps one websocket open, reconnecting after every closure for as
// long as Run's context lives.
type Adapter struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	writeMu sync.Mutex
}

// New creates an adapter in the closed state.
func New(opts Options, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	return &Adapter{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger: logger.Named("transport"),
		state:  StateClosed,
	}
}

// State returns the current connectivity state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Send writes one text frame. Nothing is queued: when the connection is not
// open the frame is dropped and ErrNotOpen returned.
func (a *Adapter) Send(text string) error {
	a.mu.Lock()
	conn, state := a.conn, a.state
	a.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotOpen
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Run dials, pumps inbound frames into sink and redials after each closure
// until ctx is cancelled. It always returns ctx.Err().
func (a *Adapter) Run(ctx context.Context, sink Sink) error {
	for attempt := 1; ; attempt++ {
		a.setState(sink, StateConnecting)

		conn, err := a.dial(ctx)
		if err != nil {
			a.setState(sink, StateClosed)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("dial failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			attempt = 0
			a.serve(ctx, conn, sink)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.opts.ReconnectDelay):
		}
	}
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := a.dialer.DialContext(ctx, a.opts.URL, a.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// serve runs one connection from open to closed.
func (a *Adapter) serve(ctx context.Context, conn *websocket.Conn, sink Sink) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	a.setState(sink, StateOpen)
	a.logger.Info("connection open", zap.String("url", redact(a.opts.URL)))

	a.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		a.extendReadDeadline(conn)
		return nil
	})

	stopPing := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.pingLoop(conn, stopPing)
	}()

	stop := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Warn("read failed", zap.Error(err))
			}
			break
		}
		a.extendReadDeadline(conn)
		if kind != websocket.TextMessage {
			continue
		}
		sink.HandleFrame(data)
	}

	stop()
	a.mu.Lock()
	a.conn = nil
	a.mu.Unlock()
	a.setState(sink, StateClosing)

	close(stopPing)
	wg.Wait()
	_ = conn.Close()
	a.setState(sink, StateClosed)
	a.logger.Info("connection closed")
}

func (a *Adapter) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	if a.opts.PingInterval <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(a.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(a.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				a.logger.Debug("ping failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (a *Adapter) extendReadDeadline(conn *websocket.Conn) {
	if a.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(a.opts.ReadTimeout))
	}
}

func (a *Adapter) setState(sink Sink, state State) {
	a.mu.Lock()
	changed := a.state != state
	a.state = state
	a.mu.Unlock()
	if changed && sink != nil {
		sink.HandleState(state)
	}
}

// redact hides the id token when logging the endpoint.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if q := u.Query(); q.Has("idToken") {
		q.Set("idToken", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
