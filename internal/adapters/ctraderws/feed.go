package ctraderws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"fxscalper/internal/ports"
)

// Feed implements ports.MarketDataFeed over a JSON websocket. It owns the
// whole wire session: dialing, the subscribe request, the read loop and
// reconnection with exponential backoff. The core only sees tick and depth
// callbacks.
type Feed struct {
	url                  string
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectDelay    time.Duration
	maxReconnectAttempts int
}

// Config holds configuration shared by the websocket adapters.
type Config struct {
	URL                  string
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Initial backoff delay (e.g., 500ms)
	MaxReconnectDelay    time.Duration // Backoff ceiling (e.g., 30s)
	MaxReconnectAttempts int           // Consecutive failures before giving up
}

func (cfg *Config) applyDefaults() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.URL == "" {
		return fmt.Errorf("websocket URL is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return nil
}

// NewFeed creates a market data feed adapter.
func NewFeed(cfg Config) (*Feed, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("market data feed: %w", err)
	}
	return &Feed{
		url:                  cfg.URL,
		logger:               cfg.Logger,
		reconnectDelay:       cfg.ReconnectDelay,
		maxReconnectDelay:    cfg.MaxReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, nil
}

// Subscribe starts the feed session for the given symbols. The returned
// doneCh closes when the session goroutine exits for good; closing stopCh
// requests shutdown.
func (f *Feed) Subscribe(ctx context.Context, symbolIDs []int64, onTick ports.TickHandler, onDepth ports.DepthHandler, errHandler func(error)) (chan struct{}, chan struct{}, error) {
	if len(symbolIDs) == 0 {
		return nil, nil, fmt.Errorf("%w: no symbols to subscribe", ports.ErrInvalidRequest)
	}

	wsCtx, cancelWs := context.WithCancel(ctx)
	doneCh := make(chan struct{})
	stopCh := make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			f.logger.Info(ctx, "Feed: external stop requested")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer cancelWs()
		defer close(doneCh)
		f.run(wsCtx, symbolIDs, onTick, onDepth, errHandler)
	}()

	return doneCh, stopCh, nil
}

// run is the reconnection loop. Each iteration dials, subscribes and reads
// until the connection drops; the backoff resets after any successful
// session.
func (f *Feed) run(ctx context.Context, symbolIDs []int64, onTick ports.TickHandler, onDepth ports.DepthHandler, errHandler func(error)) {
	b := &backoff.Backoff{
		Min:    f.reconnectDelay,
		Max:    f.maxReconnectDelay,
		Jitter: true,
	}
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			f.logger.Info(ctx, "Feed: context cancelled, stopping connection attempts")
			return
		default:
		}

		conn, err := f.connect(ctx, symbolIDs)
		if err != nil {
			attempts++
			if attempts >= f.maxReconnectAttempts {
				f.logger.Error(ctx, err, "Feed: max reconnection attempts exceeded, giving up",
					map[string]interface{}{"maxAttempts": f.maxReconnectAttempts})
				errHandler(fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err))
				return
			}
			delay := b.Duration()
			f.logger.Warn(ctx, "Feed: connection failed, retrying",
				map[string]interface{}{"attempt": attempts, "delay": delay.String(), "error": err.Error()})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}

		attempts = 0
		b.Reset()
		f.logger.Info(ctx, "Feed: websocket connection established",
			map[string]interface{}{"url": f.url, "symbols": len(symbolIDs)})

		readErr := f.readLoop(ctx, conn, onTick, onDepth)
		conn.Close()
		if ctx.Err() != nil {
			f.logger.Info(ctx, "Feed: context cancelled, stopping websocket")
			return
		}
		f.logger.Warn(ctx, "Feed: connection closed unexpectedly, reconnecting",
			map[string]interface{}{"error": readErr.Error()})
		errHandler(fmt.Errorf("%w: %v", ports.ErrFeedClosed, readErr))
	}
}

// connect dials the endpoint and sends the subscribe request.
func (f *Feed) connect(ctx context.Context, symbolIDs []int64) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.url, err)
	}

	env, err := newEnvelope(msgTypeSubscribe, subscribeMsg{SymbolIDs: symbolIDs})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode subscribe request: %w", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}
	return conn, nil
}

// readLoop dispatches incoming messages until the connection breaks or the
// context is cancelled. Malformed payloads are logged and skipped, not fatal.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, onTick ports.TickHandler, onDepth ports.DepthHandler) error {
	// Unblock ReadJSON when the context is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}

		switch env.Type {
		case msgTypeTick:
			var msg tickMsg
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				f.logger.Warn(ctx, "Feed: malformed tick payload, skipping", map[string]interface{}{"error": err.Error()})
				continue
			}
			onTick(msg.toDomain())

		case msgTypeDepth:
			var msg depthMsg
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				f.logger.Warn(ctx, "Feed: malformed depth payload, skipping", map[string]interface{}{"error": err.Error()})
				continue
			}
			onDepth(msg.toDomain())

		case msgTypeHeartbeat:
			// Keepalive only.

		default:
			f.logger.Debug(ctx, "Feed: ignoring unexpected message type", map[string]interface{}{"type": env.Type})
		}
	}
}
