package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/feed"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/httplib/healthcheck"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis"
)

// Config holds the streaming bridge settings. Thresholds are heuristic and
// tunable, not protocol-mandated.
type Config struct {
	Addr string `env:"ADDR" envDefault:":8081"`
	Path string `env:"PATH" envDefault:"/ws"`

	// APIKeys is the set of accepted keys; empty accepts any non-blank key.
	APIKeys   []string `env:"API_KEYS" envSeparator:","`
	PerKeyCap int      `env:"PER_KEY_CAP" envDefault:"5"`

	// HeartbeatInterval is the ping cadence. A connection is closed once
	// two full intervals pass without a pong: the check runs on the ping
	// tick, so a pong that is merely late by network latency does not get
	// a client terminated.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`

	// LowWaterMark and HighWaterMark bound the outbound buffer: between
	// them messages are skipped, at or above the high mark the connection
	// is terminated.
	LowWaterMark  int `env:"LOW_WATER_MARK" envDefault:"65536"`
	HighWaterMark int `env:"HIGH_WATER_MARK" envDefault:"262144"`
	SendQueueSize int `env:"SEND_QUEUE_SIZE" envDefault:"256"`
}

// Server fans the store's notification stream out to subscribed clients.
// It holds one upstream pattern subscription per channel class regardless
// of client count.
type Server struct {
	config      Config
	scope       candle.Scope
	feed        *feed.Feed
	redisClient redis.Client
	logger      logger.Interface

	registry *registry
	upgrader websocket.Upgrader
	http     *http.Server
}

func NewServer(config Config, scope candle.Scope, f *feed.Feed, redisClient redis.Client, log logger.Interface) *Server {
	s := &Server{
		config:      config,
		scope:       scope,
		feed:        f,
		redisClient: redisClient,
		logger:      log,
		registry:    newRegistry(config.PerKeyCap),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	health := healthcheck.New()
	if redisClient != nil {
		health.Register("redis", redisClient.Ping)
		health.Register("adapter", s.adapterAlive)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, s.handleWS)
	s.http = &http.Server{Addr: config.Addr, Handler: health.Handler(mux)}
	return s
}

// Start runs the upstream fan-out loops and serves until ctx is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	candles, err := s.feed.Candles(ctx, "")
	if err != nil {
		return err
	}
	go s.candleLoop(ctx, candles)
	go s.signalLoop(ctx)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	s.logger.Info("streaming bridge listening",
		logger.Field{Key: "addr", Value: s.config.Addr},
	)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down and closes every live connection.
func (s *Server) Stop(ctx context.Context) {
	_ = s.http.Shutdown(ctx)
	for _, c := range s.registry.snapshot() {
		c.close(websocket.CloseGoingAway, "server shutting down")
		s.registry.remove(c.ID)
	}
}

// ConnectionCount reports the live connections for one API key.
func (s *Server) ConnectionCount(apiKeyID string) int {
	return s.registry.countForKey(apiKeyID)
}

// adapterAlive reads the adapter's status heartbeat. The key expires after
// two missed status intervals, so an empty read means the feed side of the
// pipeline stopped reporting.
func (s *Server) adapterAlive(ctx context.Context) error {
	key := fmt.Sprintf("status:%s:%s", s.scope.OwnerID, s.scope.ExchangeID)
	status, err := s.redisClient.Get(ctx, key)
	if err != nil {
		return err
	}
	if status == "" {
		return errors.NewErrorDetails("adapter status heartbeat is missing", string(errors.AdapterClosedError), "adapter")
	}
	return nil
}

func (s *Server) apiKeyValid(key string) bool {
	if key == "" {
		return false
	}
	if len(s.config.APIKeys) == 0 {
		return true
	}
	for _, allowed := range s.config.APIKeys {
		if key == allowed {
			return true
		}
	}
	return false
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// refusals happen after the upgrade so the close code reaches the client
	if !s.apiKeyValid(apiKey) {
		s.refuse(ws, CloseInvalidAPIKey, "missing or invalid api key")
		return
	}

	conn := newConnection(ws, apiKey, s.config, s.logger)
	if !s.registry.add(conn) {
		s.refuse(ws, CloseConnectionLimit, "connection limit reached")
		return
	}

	s.logger.Info("client connected",
		logger.Field{Key: "connection_id", Value: conn.ID},
		logger.Field{Key: "api_key_id", Value: apiKey},
	)

	go conn.writeLoop()
	go func() {
		conn.readLoop(func(raw []byte) { s.handleFrame(conn, raw) })
		s.registry.remove(conn.ID)
		s.logger.Info("client disconnected",
			logger.Field{Key: "connection_id", Value: conn.ID},
		)
	}()
}

func (s *Server) refuse(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.config.WriteTimeout))
	_ = ws.Close()
}

// handleFrame applies one client frame. Invalid frames produce an error
// frame for this client only.
func (s *Server) handleFrame(conn *Connection, raw []byte) {
	action, channels, err := parseClientFrame(raw)
	if err != nil {
		conn.sendDirect(errorFrame(err.Error()))
		return
	}

	switch action {
	case "subscribe":
		conn.subscribe(channels)
	case "unsubscribe":
		conn.unsubscribe(channels)
	}
}

func (s *Server) candleLoop(ctx context.Context, events <-chan feed.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			channel, payload, err := transformCandle(event.Candle)
			if err != nil {
				s.logger.Warn("dropping untransformable candle",
					logger.Field{Key: "error", Value: err.Error()},
				)
				continue
			}
			s.broadcast(channel, payload)
		}
	}
}

// signalLoop relays alert-engine signal events. Signals are produced
// elsewhere; the bridge only forwards them.
func (s *Server) signalLoop(ctx context.Context) {
	pubsub, err := s.redisClient.PSubscribe(ctx, candle.SignalChannelPattern(s.scope))
	if err != nil {
		s.logger.Error(err)
		return
	}
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			key, err := parseSignalChannel(msg.Channel)
			if err != nil {
				s.logger.Warn("skipping signal on unrecognized channel",
					logger.Field{Key: "channel", Value: msg.Channel},
				)
				continue
			}
			channel, payload, err := transformSignal(key, msg.Payload)
			if err != nil {
				continue
			}
			s.broadcast(channel, payload)
		}
	}
}

// broadcast fans one serialized payload out to every matching connection,
// applying the backpressure policy per connection.
func (s *Server) broadcast(channel string, payload []byte) {
	for _, conn := range s.registry.snapshot() {
		if !conn.subscribed(channel) {
			continue
		}
		switch conn.trySend(payload) {
		case sendOK, sendSkipped:
		case sendOverflow:
			s.logger.Warn("terminating connection over high water mark",
				logger.Field{Key: "connection_id", Value: conn.ID},
			)
			conn.close(websocket.ClosePolicyViolation, "backpressure limit exceeded")
			s.registry.remove(conn.ID)
		}
	}
}
