package ctraderws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"fxscalper/internal/ports"
)

// Gateway implements ports.OrderGateway over a JSON websocket. The trading
// session follows a logon handshake: orders are accepted only between a
// logon acknowledgement and the next disconnect, tracked by an atomic flag.
type Gateway struct {
	url                  string
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectDelay    time.Duration
	maxReconnectAttempts int

	ready atomic.Bool

	// writeMu serialises writes; gorilla connections allow one writer.
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewGateway creates an order gateway adapter.
func NewGateway(cfg Config) (*Gateway, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("order gateway: %w", err)
	}
	return &Gateway{
		url:                  cfg.URL,
		logger:               cfg.Logger,
		reconnectDelay:       cfg.ReconnectDelay,
		maxReconnectDelay:    cfg.MaxReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, nil
}

// IsReady reports whether the trading session is logged on.
func (g *Gateway) IsReady() bool {
	return g.ready.Load()
}

// SendOpen submits a market order opening a new position.
func (g *Gateway) SendOpen(ctx context.Context, req ports.OrderRequest) error {
	return g.send(ctx, msgTypeNewOrder, req)
}

// SendClose submits a market order closing the position identified by
// req.MaintenanceRef.
func (g *Gateway) SendClose(ctx context.Context, req ports.OrderRequest) error {
	if req.MaintenanceRef == "" {
		return fmt.Errorf("%w: closing order needs a maintenance reference", ports.ErrInvalidRequest)
	}
	return g.send(ctx, msgTypeClose, req)
}

func (g *Gateway) send(ctx context.Context, msgType string, req ports.OrderRequest) error {
	if !g.ready.Load() {
		return ports.ErrSessionNotReady
	}

	env, err := newEnvelope(msgType, orderMsg{
		SymbolID:       req.SymbolID,
		Side:           string(req.Side),
		Volume:         req.Quantity,
		ClOrdID:        req.ClientOrderID,
		MaintenanceRef: req.MaintenanceRef,
	})
	if err != nil {
		return fmt.Errorf("%w: encode order: %v", ports.ErrOrderSendFailed, err)
	}

	g.writeMu.Lock()
	conn := g.conn
	if conn == nil {
		g.writeMu.Unlock()
		return ports.ErrSessionNotReady
	}
	err = conn.WriteJSON(env)
	g.writeMu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrOrderSendFailed, err)
	}
	g.logger.Debug(ctx, "Gateway: order sent",
		map[string]interface{}{"type": msgType, "clOrdID": req.ClientOrderID, "symbolID": req.SymbolID})
	return nil
}

// StreamExecutions starts the trading session and delivers execution events.
// The returned doneCh closes when the session goroutine exits for good;
// closing stopCh requests shutdown.
func (g *Gateway) StreamExecutions(ctx context.Context, handler ports.ExecutionHandler, errHandler func(error)) (chan struct{}, chan struct{}, error) {
	wsCtx, cancelWs := context.WithCancel(ctx)
	doneCh := make(chan struct{})
	stopCh := make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			g.logger.Info(ctx, "Gateway: external stop requested")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer cancelWs()
		defer close(doneCh)
		g.run(wsCtx, handler, errHandler)
	}()

	return doneCh, stopCh, nil
}

func (g *Gateway) run(ctx context.Context, handler ports.ExecutionHandler, errHandler func(error)) {
	b := &backoff.Backoff{
		Min:    g.reconnectDelay,
		Max:    g.maxReconnectDelay,
		Jitter: true,
	}
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			g.logger.Info(ctx, "Gateway: context cancelled, stopping connection attempts")
			return
		default:
		}

		conn, err := g.logon(ctx)
		if err != nil {
			attempts++
			if attempts >= g.maxReconnectAttempts {
				g.logger.Error(ctx, err, "Gateway: max reconnection attempts exceeded, giving up",
					map[string]interface{}{"maxAttempts": g.maxReconnectAttempts})
				errHandler(fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err))
				return
			}
			delay := b.Duration()
			g.logger.Warn(ctx, "Gateway: connection failed, retrying",
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
		g.setConn(conn)
		g.ready.Store(true)
		g.logger.Info(ctx, "Gateway: trading session ready", map[string]interface{}{"url": g.url})

		readErr := g.readLoop(ctx, conn, handler)

		// The session is over the moment the read loop returns; no order may
		// be sent until the next logon acknowledgement.
		g.ready.Store(false)
		g.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			g.logger.Info(ctx, "Gateway: context cancelled, stopping websocket")
			return
		}
		g.logger.Warn(ctx, "Gateway: connection closed unexpectedly, reconnecting",
			map[string]interface{}{"error": readErr.Error()})
		errHandler(fmt.Errorf("%w: %v", ports.ErrConnectionFailed, readErr))
	}
}

// logon dials the endpoint and completes the logon handshake.
func (g *Gateway) logon(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", g.url, err)
	}

	env, err := newEnvelope(msgTypeLogon, struct{}{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode logon: %w", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send logon: %w", err)
	}

	// The first message back must acknowledge the logon.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ack envelope
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read logon response: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if ack.Type != msgTypeLogonAck {
		conn.Close()
		return nil, fmt.Errorf("unexpected logon response type %q", ack.Type)
	}
	return conn, nil
}

func (g *Gateway) setConn(conn *websocket.Conn) {
	g.writeMu.Lock()
	g.conn = conn
	g.writeMu.Unlock()
}

// readLoop dispatches execution events until the connection breaks or the
// context is cancelled.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, handler ports.ExecutionHandler) error {
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
		case msgTypeExecution:
			var msg executionMsg
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				g.logger.Warn(ctx, "Gateway: malformed execution payload, skipping", map[string]interface{}{"error": err.Error()})
				continue
			}
			handler(msg.toDomain())

		case msgTypeHeartbeat:
			// Keepalive only.

		default:
			g.logger.Debug(ctx, "Gateway: ignoring unexpected message type", map[string]interface{}{"type": env.Type})
		}
	}
}
