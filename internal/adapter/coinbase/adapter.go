package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/timeframe"
)

// State is the connection lifecycle state of the adapter. Transitions are
// strictly sequential; only one reconnection sequence is ever active.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	// StateClosing is entered only on intentional shutdown and suppresses
	// the reconnect path.
	StateClosing State = "closing"
)

// Config holds the adapter configuration.
type Config struct {
	WSURL         string `env:"WS_URL" envDefault:"wss://advanced-trade-ws.coinbase.com"`
	RESTURL       string `env:"REST_URL" envDefault:"https://api.coinbase.com"`
	// PushTimeframe is the only timeframe the exchange pushes; higher
	// timeframes are pulled by reconciliation.
	PushTimeframe string `env:"PUSH_TIMEFRAME" envDefault:"5m"`

	HandshakeTimeout     time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"8"`
	StatusInterval       time.Duration `env:"STATUS_INTERVAL" envDefault:"30s"`
}

// Handlers is the adapter event surface. Every field is optional; nil
// handlers are replaced with no-ops. Handlers are registered once at
// construction and invoked from the adapter's own goroutines.
type Handlers struct {
	OnConnected    func()
	OnDisconnected func(reason string)
	OnError        func(err error)
	OnReconnecting func(attempt int, delay time.Duration)
	OnCandleClosed func(c candle.Candle)
}

type subscription struct {
	Symbol    string
	Timeframe string
}

// Adapter owns one persistent streaming connection to the exchange and
// normalizes its push stream into canonical candles.
type Adapter struct {
	config   Config
	handlers Handlers
	logger   logger.Interface
	scope    candle.Scope

	// redisClient carries the best-effort status heartbeat; may be nil.
	redisClient redis.Client

	dialer *websocket.Dialer

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	subs    map[subscription]struct{}
	closing bool
	// pending holds the in-progress candle per symbol; a candle is closed
	// when a push for a later period arrives.
	pending map[string]candle.Candle

	writeMu sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an adapter. redisClient may be nil to disable status writes.
func New(config Config, scope candle.Scope, handlers Handlers, redisClient redis.Client, log logger.Interface) *Adapter {
	if handlers.OnConnected == nil {
		handlers.OnConnected = func() {}
	}
	if handlers.OnDisconnected == nil {
		handlers.OnDisconnected = func(string) {}
	}
	if handlers.OnError == nil {
		handlers.OnError = func(error) {}
	}
	if handlers.OnReconnecting == nil {
		handlers.OnReconnecting = func(int, time.Duration) {}
	}
	if handlers.OnCandleClosed == nil {
		handlers.OnCandleClosed = func(candle.Candle) {}
	}

	return &Adapter{
		config:      config,
		handlers:    handlers,
		logger:      log,
		scope:       scope,
		redisClient: redisClient,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		state:   StateDisconnected,
		subs:    make(map[subscription]struct{}),
		pending: make(map[string]candle.Candle),
	}
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsConnected reports whether the upstream connection is established.
func (a *Adapter) IsConnected() bool {
	return a.State() == StateConnected
}

// Connect establishes the upstream connection, issues the keepalive
// subscription, and replays the full subscription set.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateConnected || a.state == StateConnecting || a.state == StateReconnecting {
		a.mu.Unlock()
		return errors.NewErrorDetails("adapter is already connected or connecting", string(errors.AdapterDialError), "connect")
	}
	a.closing = false
	a.setStateLocked(StateConnecting)
	a.mu.Unlock()

	// goroutines from a prior session must be fully drained before a new
	// session takes over runCtx
	a.wg.Wait()

	conn, err := a.dial(ctx)
	if err != nil {
		a.mu.Lock()
		a.setStateLocked(StateDisconnected)
		a.mu.Unlock()
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.setStateLocked(StateConnected)
	a.runCtx, a.runCancel = context.WithCancel(context.Background())
	cancel := a.runCancel
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(conn, cancel)

	if a.redisClient != nil && a.config.StatusInterval > 0 {
		a.wg.Add(1)
		go a.statusLoop()
	}

	a.handlers.OnConnected()
	return nil
}

// Disconnect closes the connection intentionally, suppressing reconnect.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	if a.state == StateDisconnected {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	a.setStateLocked(StateClosing)
	conn := a.conn
	cancel := a.runCancel
	a.mu.Unlock()

	if conn != nil {
		_ = a.writeControl(conn, websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	a.conn = nil
	a.setStateLocked(StateDisconnected)
	a.mu.Unlock()
	return nil
}

// Subscribe adds (symbol, timeframe) pairs to the subscription set and, when
// connected, sends the subscribe control frame upstream.
func (a *Adapter) Subscribe(symbols []string, tfName string) error {
	if !timeframe.IsValid(tfName) {
		return errors.NewErrorDetails(
			fmt.Sprintf("unsupported timeframe %q", tfName),
			string(errors.AdapterSubscribeError),
			"timeframe",
		)
	}

	a.mu.Lock()
	for _, symbol := range symbols {
		a.subs[subscription{Symbol: symbol, Timeframe: tfName}] = struct{}{}
	}
	conn := a.conn
	connected := a.state == StateConnected
	a.mu.Unlock()

	if !connected {
		return nil
	}
	return a.sendSubscribe(conn, "subscribe", symbols)
}

// Unsubscribe removes (symbol, timeframe) pairs and sends the unsubscribe
// frame for symbols with no remaining subscription.
func (a *Adapter) Unsubscribe(symbols []string, tfName string) error {
	a.mu.Lock()
	var released []string
	for _, symbol := range symbols {
		delete(a.subs, subscription{Symbol: symbol, Timeframe: tfName})
		if !a.symbolSubscribedLocked(symbol) {
			released = append(released, symbol)
		}
	}
	conn := a.conn
	connected := a.state == StateConnected
	a.mu.Unlock()

	if !connected || len(released) == 0 {
		return nil
	}
	return a.sendSubscribe(conn, "unsubscribe", released)
}

// Subscriptions returns the current subscription set's symbols, deduplicated.
func (a *Adapter) Subscriptions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.symbolsLocked()
}

func (a *Adapter) symbolSubscribedLocked(symbol string) bool {
	for sub := range a.subs {
		if sub.Symbol == symbol {
			return true
		}
	}
	return false
}

func (a *Adapter) symbolsLocked() []string {
	seen := make(map[string]struct{}, len(a.subs))
	var symbols []string
	for sub := range a.subs {
		if _, ok := seen[sub.Symbol]; ok {
			continue
		}
		seen[sub.Symbol] = struct{}{}
		symbols = append(symbols, sub.Symbol)
	}
	return symbols
}

func (a *Adapter) setStateLocked(next State) {
	if a.state == next {
		return
	}
	a.logger.Info("adapter state changed",
		logger.Field{Key: "from", Value: string(a.state)},
		logger.Field{Key: "to", Value: string(next)},
	)
	a.state = next
}

// dial opens the socket and primes it: keepalive subscription first, then a
// full replay of the subscription set. Partial replay risks silently losing
// coverage for symbols added mid-outage.
func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := a.dialer.DialContext(ctx, a.config.WSURL, nil)
	if err != nil {
		return nil, errors.NewTracer(string(errors.AdapterDialError)).Wrap(err)
	}

	if err := a.sendSubscribeFrame(conn, subscribeFrame{Type: "subscribe", Channel: channelHeartbeats}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	a.mu.Lock()
	symbols := a.symbolsLocked()
	a.mu.Unlock()

	if len(symbols) > 0 {
		if err := a.sendSubscribe(conn, "subscribe", symbols); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

func (a *Adapter) sendSubscribe(conn *websocket.Conn, action string, symbols []string) error {
	return a.sendSubscribeFrame(conn, subscribeFrame{
		Type:       action,
		Channel:    channelCandles,
		ProductIDs: symbols,
	})
}

func (a *Adapter) sendSubscribeFrame(conn *websocket.Conn, frame subscribeFrame) error {
	buf, err := json.Marshal(frame)
	if err != nil {
		return errors.NewTracer(string(errors.AdapterSubscribeError)).Wrap(err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(a.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return errors.NewTracer(string(errors.AdapterSubscribeError)).Wrap(err)
	}
	return nil
}

func (a *Adapter) writeControl(conn *websocket.Conn, messageType int, data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteControl(messageType, data, time.Now().Add(a.config.WriteTimeout))
}

// run owns the read/reconnect cycle for the lifetime of one Connect call.
// Reconnection is sequential by construction: it only ever happens here.
func (a *Adapter) run(conn *websocket.Conn, cancel context.CancelFunc) {
	defer a.wg.Done()
	// the session context ends with the read loop, so statusLoop can never
	// outlive the session that spawned it
	defer cancel()

	for {
		reason := a.readSession(conn)

		a.mu.Lock()
		closing := a.closing
		a.conn = nil
		// a broken session invalidates per-symbol close tracking
		a.pending = make(map[string]candle.Candle)
		a.mu.Unlock()

		a.handlers.OnDisconnected(reason)
		if closing {
			return
		}

		next := a.reconnect()
		if next == nil {
			return
		}
		conn = next
	}
}

// readSession reads push messages until the connection breaks. Returns the
// disconnect reason.
func (a *Adapter) readSession(conn *websocket.Conn) string {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err.Error()
		}
		a.dispatch(raw)
	}
}

func (a *Adapter) dispatch(raw []byte) {
	msg, err := parseMessage(raw)
	if err != nil {
		// malformed messages are logged and dropped, never propagated
		a.logger.Warn("dropping malformed upstream message",
			logger.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	if msg.Channel != channelCandles {
		return
	}

	for _, event := range msg.Events {
		for _, w := range event.Candles {
			a.handleCandle(w)
		}
	}
}

// handleCandle tracks the in-progress candle per symbol and emits
// candleClosed exactly once per closed period: either when a push for a
// later period displaces it, or immediately for historical candles that
// arrive already final.
func (a *Adapter) handleCandle(w wsCandle) {
	c, err := w.normalize(a.config.PushTimeframe)
	if err != nil {
		a.logger.Warn("dropping malformed candle",
			logger.Field{Key: "error", Value: err.Error()},
			logger.Field{Key: "product_id", Value: w.ProductID},
		)
		return
	}

	var closed *candle.Candle

	a.mu.Lock()
	prev, ok := a.pending[c.Symbol]
	switch {
	case !ok:
		a.pending[c.Symbol] = c
	case c.Timestamp > prev.Timestamp:
		a.pending[c.Symbol] = c
		closed = &prev
	case c.Timestamp == prev.Timestamp:
		// fresher update of the same period
		a.pending[c.Symbol] = c
	default:
		// earlier period than the one in progress: already final
		closed = &c
	}
	a.mu.Unlock()

	if closed != nil {
		a.handlers.OnCandleClosed(*closed)
	}
}

// reconnect runs the exponential backoff sequence. It returns the new
// connection, or nil when the attempt cap is reached (terminal error state,
// manual restart required) or shutdown began.
func (a *Adapter) reconnect() *websocket.Conn {
	for attempt := 1; attempt <= a.config.ReconnectMaxAttempts; attempt++ {
		delay := a.config.ReconnectBaseDelay << (attempt - 1)

		a.mu.Lock()
		if a.closing {
			a.mu.Unlock()
			return nil
		}
		a.setStateLocked(StateReconnecting)
		runCtx := a.runCtx
		a.mu.Unlock()

		a.handlers.OnReconnecting(attempt, delay)
		a.logger.Info("reconnecting to exchange",
			logger.Field{Key: "attempt", Value: attempt},
			logger.Field{Key: "delay", Value: delay.String()},
		)

		select {
		case <-runCtx.Done():
			return nil
		case <-time.After(delay):
		}

		dialCtx, cancel := context.WithTimeout(runCtx, a.config.HandshakeTimeout)
		conn, err := a.dial(dialCtx)
		cancel()
		if err != nil {
			a.logger.Warn("reconnect attempt failed",
				logger.Field{Key: "attempt", Value: attempt},
				logger.Field{Key: "error", Value: err.Error()},
			)
			continue
		}

		a.mu.Lock()
		a.conn = conn
		a.setStateLocked(StateConnected)
		a.mu.Unlock()

		a.handlers.OnConnected()
		return conn
	}

	a.mu.Lock()
	a.setStateLocked(StateError)
	a.mu.Unlock()

	err := errors.NewErrorDetails(
		fmt.Sprintf("gave up after %d reconnect attempts", a.config.ReconnectMaxAttempts),
		string(errors.AdapterExhaustedError),
		"reconnect",
	)
	a.logger.Error(errors.TracerFromError(err))
	a.handlers.OnError(err)
	return nil
}

// adapterStatus is the payload of the best-effort status heartbeat.
type adapterStatus struct {
	State         string `json:"state"`
	Subscriptions int    `json:"subscriptions"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// statusLoop periodically writes the adapter status to Redis. Best-effort:
// failures are logged and never block the pipeline.
func (a *Adapter) statusLoop() {
	defer a.wg.Done()

	key := fmt.Sprintf("status:%s:%s", a.scope.OwnerID, a.scope.ExchangeID)
	ticker := time.NewTicker(a.config.StatusInterval)
	defer ticker.Stop()

	a.mu.Lock()
	runCtx := a.runCtx
	a.mu.Unlock()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			status := adapterStatus{
				State:         string(a.state),
				Subscriptions: len(a.subs),
				UpdatedAt:     time.Now().UnixMilli(),
			}
			a.mu.Unlock()

			buf, err := json.Marshal(status)
			if err != nil {
				continue
			}

			ctx, cancel := context.WithTimeout(runCtx, a.config.WriteTimeout)
			if err := a.redisClient.Set(ctx, key, string(buf), 2*a.config.StatusInterval); err != nil {
				a.logger.Warn("status write failed", logger.Field{Key: "error", Value: err.Error()})
			}
			if _, err := a.redisClient.Publish(ctx, key, string(buf)); err != nil {
				a.logger.Debug("status publish failed", logger.Field{Key: "error", Value: err.Error()})
			}
			cancel()
		}
	}
}
