// Package relay maintains the single persistent streaming connection to the
// external speech-recognition relay.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"callscribe/internal/domain"
)

// ErrReconnectExhausted is the terminal error after the reconnect cap is hit.
var ErrReconnectExhausted = errors.New("relay connection lost after exhausting reconnect attempts")

// Config controls relay connection behavior.
type Config struct {
	URL            string
	Token          string
	FilterBotID    string
	ReconnectDelay time.Duration
	MaxReconnects  int
	ProbePeriod    time.Duration
	FinalizePeriod time.Duration
	BurstMode      bool
}

// Hooks receive connection events. OnClosed fires exactly once, with nil for
// a clean closure and a terminal error otherwise.
type Hooks struct {
	OnFragment     func(domain.TranscriptFragment)
	OnClosed       func(err error)
	OnFinalizeTick func()
}

// Connection is one open relay stream. At most one exists per session; the
// session controller owns it and guards open/close transitions.
type Connection struct {
	cfg   Config
	hooks Hooks
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	conn       *websocket.Conn
	attempts   int
	lastMsgAt  time.Time
	closing    bool
	closedOnce sync.Once

	done chan struct{}
}

// Open dials the relay and starts the read, probe, and finalize loops. The
// initial dial is synchronous so start-session failures surface immediately.
func Open(ctx context.Context, cfg Config, hooks Hooks, log zerolog.Logger) (*Connection, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay URL is not configured")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.ProbePeriod <= 0 {
		cfg.ProbePeriod = 5 * time.Second
	}
	if cfg.FinalizePeriod <= 0 {
		cfg.FinalizePeriod = 5 * time.Second
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		cfg:    cfg,
		hooks:  hooks,
		log:    log.With().Str("component", "relay").Logger(),
		ctx:    connCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ws, err := c.dial()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to speech relay: %w", err)
	}
	c.setConn(ws)

	go c.run(ws)
	go c.probeLoop()
	if cfg.BurstMode && hooks.OnFinalizeTick != nil {
		go c.finalizeLoop()
	}
	return c, nil
}

// Close performs a graceful shutdown with a normal closure code. Idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	c.closing = true
	ws := c.conn
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"), deadline)
	}
	c.cancel()
	if ws != nil {
		_ = ws.Close()
	}
	<-c.done
}

// Active reports whether the connection is still serving fragments.
func (c *Connection) Active() bool {
	select {
	case <-c.done:
		return false
	default:
		return !c.isClosing()
	}
}

func (c *Connection) dial() (*websocket.Conn, error) {
	headers := http.Header{}
	if c.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.cfg.URL, headers)
	return ws, err
}

func (c *Connection) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.conn = ws
	c.lastMsgAt = time.Now()
	c.mu.Unlock()
}

func (c *Connection) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Connection) run(ws *websocket.Conn) {
	defer close(c.done)

	for {
		readErr := c.readLoop(ws)

		if c.isClosing() || isNormalClosure(readErr) {
			c.finish(nil)
			return
		}

		next, err := c.reconnect()
		if err != nil {
			c.finish(err)
			return
		}
		if next == nil {
			// Stop was requested while waiting to reconnect.
			c.finish(nil)
			return
		}
		ws = next
	}
}

// readLoop consumes messages until the connection drops. A delivered message
// proves the link healthy, so the reconnect attempt counter resets.
func (c *Connection) readLoop(ws *websocket.Conn) error {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.lastMsgAt = time.Now()
		c.attempts = 0
		c.mu.Unlock()

		fragment, ok := decodeFragment(payload, c.cfg.FilterBotID, c.cfg.BurstMode)
		if !ok {
			continue
		}
		if c.hooks.OnFragment != nil {
			c.hooks.OnFragment(fragment)
		}
	}
}

// reconnect schedules one delayed redial. Returns (nil, nil) if stop was
// requested, (nil, err) once the attempt cap is exceeded.
func (c *Connection) reconnect() (*websocket.Conn, error) {
	for {
		if c.isClosing() {
			return nil, nil
		}

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()
		if attempt > c.cfg.MaxReconnects {
			return nil, ErrReconnectExhausted
		}

		c.log.Warn().Int("attempt", attempt).Int("max", c.cfg.MaxReconnects).
			Msg("relay connection lost; reconnecting")

		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-c.ctx.Done():
			return nil, nil
		}
		if c.isClosing() {
			return nil, nil
		}

		ws, err := c.dial()
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("relay redial failed")
			continue
		}
		c.setConn(ws)
		return ws, nil
	}
}

func (c *Connection) finish(err error) {
	c.closedOnce.Do(func() {
		if c.hooks.OnClosed != nil {
			c.hooks.OnClosed(err)
		}
	})
}

// probeLoop proactively flags a degraded link. Recovery is driven by the read
// loop's close handling, not by the probe.
func (c *Connection) probeLoop() {
	ticker := time.NewTicker(c.cfg.ProbePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			silent := time.Since(c.lastMsgAt)
			c.mu.Unlock()
			if silent > 2*c.cfg.ProbePeriod {
				c.log.Warn().Dur("silentFor", silent).Msg("relay connection looks degraded")
			}
		case <-c.ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *Connection) finalizeLoop() {
	ticker := time.NewTicker(c.cfg.FinalizePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.isClosing() {
				return
			}
			c.hooks.OnFinalizeTick()
		case <-c.ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func isNormalClosure(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
	)
}
