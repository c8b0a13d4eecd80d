package coinbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	loggerMock "github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger/mock"
	redisMock "github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis/mock"
)

func newTestLogger(t *testing.T) logger.Interface {
	ctrl := gomock.NewController(t)
	log := loggerMock.NewMockInterface(ctrl)
	log.EXPECT().Debug(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Info(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Error(gomock.Any(), gomock.Any()).AnyTimes()
	return log
}

// wsTestServer accepts upgrades and records every control frame it receives.
type wsTestServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	refuse bool

	frames chan subscribeFrame
}

func newWSTestServer(t *testing.T) *wsTestServer {
	s := &wsTestServer{
		t:      t,
		frames: make(chan subscribeFrame, 32),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *wsTestServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame subscribeFrame
		if err := json.Unmarshal(raw, &frame); err == nil {
			s.frames <- frame
		}
	}
}

// refuseUpgrades makes the server reject new websocket handshakes.
func (s *wsTestServer) refuseUpgrades(refuse bool) {
	s.mu.Lock()
	s.refuse = refuse
	s.mu.Unlock()
}

func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// push sends a message on the most recent connection.
func (s *wsTestServer) push(payload string) {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	require.NoError(s.t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

// dropLast closes the most recent connection from the server side.
func (s *wsTestServer) dropLast() {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *wsTestServer) nextFrame(t *testing.T) subscribeFrame {
	select {
	case frame := <-s.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a control frame")
		return subscribeFrame{}
	}
}

func testConfig(wsURL string) Config {
	return Config{
		WSURL:                wsURL,
		PushTimeframe:        "5m",
		HandshakeTimeout:     time.Second,
		WriteTimeout:         time.Second,
		RequestTimeout:       time.Second,
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}
}

var testScope = candle.Scope{OwnerID: "owner-1", ExchangeID: "coinbase"}

func TestAdapter_ConnectReplaysSubscriptions(t *testing.T) {
	server := newWSTestServer(t)

	connected := make(chan struct{}, 1)
	a := New(testConfig(server.url()), testScope, Handlers{
		OnConnected: func() { connected <- struct{}{} },
	}, nil, newTestLogger(t))

	require.NoError(t, a.Subscribe([]string{"BTC-USD", "ETH-USD"}, "5m"))
	require.NoError(t, a.Connect(context.Background()))
	defer func() { _ = a.Disconnect() }()

	heartbeat := server.nextFrame(t)
	assert.Equal(t, "subscribe", heartbeat.Type)
	assert.Equal(t, channelHeartbeats, heartbeat.Channel)

	candles := server.nextFrame(t)
	assert.Equal(t, "subscribe", candles.Type)
	assert.Equal(t, channelCandles, candles.Channel)
	assert.ElementsMatch(t, []string{"BTC-USD", "ETH-USD"}, candles.ProductIDs)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("OnConnected was not invoked")
	}
	assert.Equal(t, StateConnected, a.State())
}

func TestAdapter_SubscribeRejectsUnknownTimeframe(t *testing.T) {
	a := New(testConfig("ws://unused"), testScope, Handlers{}, nil, newTestLogger(t))
	err := a.Subscribe([]string{"BTC-USD"}, "7m")
	require.Error(t, err)
	assert.Empty(t, a.Subscriptions())
}

func TestAdapter_ConnectTwiceFails(t *testing.T) {
	server := newWSTestServer(t)
	a := New(testConfig(server.url()), testScope, Handlers{}, nil, newTestLogger(t))

	require.NoError(t, a.Connect(context.Background()))
	defer func() { _ = a.Disconnect() }()

	assert.Error(t, a.Connect(context.Background()))
}

func TestAdapter_CandleCloseDetection(t *testing.T) {
	var mu sync.Mutex
	var closed []candle.Candle

	a := New(testConfig("ws://unused"), testScope, Handlers{
		OnCandleClosed: func(c candle.Candle) {
			mu.Lock()
			closed = append(closed, c)
			mu.Unlock()
		},
	}, nil, newTestLogger(t))

	push := func(start string, volume string) {
		a.handleCandle(wsCandle{
			Start: start, Open: "100", High: "110", Low: "90", Close: "105",
			Volume: volume, ProductID: "BTC-USD",
		})
	}

	// two updates of the same period close nothing
	push("1700000100", "1.0")
	push("1700000100", "2.0")
	mu.Lock()
	assert.Empty(t, closed)
	mu.Unlock()

	// the next period closes the previous one, with its latest update
	push("1700000400", "0.5")
	mu.Lock()
	require.Len(t, closed, 1)
	assert.Equal(t, int64(1_700_000_100_000), closed[0].Timestamp)
	assert.Equal(t, 2.0, closed[0].Volume)
	mu.Unlock()

	// a period earlier than the pending one is already final
	push("1699999800", "3.0")
	mu.Lock()
	require.Len(t, closed, 2)
	assert.Equal(t, int64(1_699_999_800_000), closed[1].Timestamp)
	mu.Unlock()

	// malformed candles are dropped without closing anything
	a.handleCandle(wsCandle{Start: "not-a-number", ProductID: "BTC-USD"})
	mu.Lock()
	assert.Len(t, closed, 2)
	mu.Unlock()
}

func TestAdapter_PushedCandleFlowsThroughDispatch(t *testing.T) {
	server := newWSTestServer(t)

	closed := make(chan candle.Candle, 4)
	a := New(testConfig(server.url()), testScope, Handlers{
		OnCandleClosed: func(c candle.Candle) { closed <- c },
	}, nil, newTestLogger(t))

	require.NoError(t, a.Subscribe([]string{"BTC-USD"}, "5m"))
	require.NoError(t, a.Connect(context.Background()))
	defer func() { _ = a.Disconnect() }()

	server.nextFrame(t) // heartbeats
	server.nextFrame(t) // candles

	server.push(`{"channel":"candles","events":[{"type":"update","candles":[
		{"start":"1700000100","open":"100","high":"110","low":"90","close":"105","volume":"1.5","product_id":"BTC-USD"}]}]}`)
	server.push(`{"channel":"candles","events":[{"type":"update","candles":[
		{"start":"1700000400","open":"105","high":"106","low":"104","close":"104.5","volume":"0.2","product_id":"BTC-USD"}]}]}`)

	select {
	case c := <-closed:
		assert.Equal(t, "BTC-USD", c.Symbol)
		assert.Equal(t, "5m", c.Timeframe)
		assert.Equal(t, int64(1_700_000_100_000), c.Timestamp)
		assert.Equal(t, 1.5, c.Volume)
	case <-time.After(2 * time.Second):
		t.Fatal("closed candle was not emitted")
	}
}

func TestAdapter_ReconnectReplaysFullSubscriptionSet(t *testing.T) {
	server := newWSTestServer(t)

	reconnecting := make(chan int, 8)
	disconnected := make(chan string, 8)
	a := New(testConfig(server.url()), testScope, Handlers{
		OnReconnecting: func(attempt int, _ time.Duration) { reconnecting <- attempt },
		OnDisconnected: func(reason string) { disconnected <- reason },
	}, nil, newTestLogger(t))

	require.NoError(t, a.Subscribe([]string{"BTC-USD"}, "5m"))
	require.NoError(t, a.Connect(context.Background()))
	defer func() { _ = a.Disconnect() }()

	server.nextFrame(t) // heartbeats
	server.nextFrame(t) // candles

	// symbol added mid-session must be part of the replay
	require.NoError(t, a.Subscribe([]string{"ETH-USD"}, "1h"))
	server.nextFrame(t)

	server.dropLast()

	select {
	case attempt := <-reconnecting:
		assert.Equal(t, 1, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("OnReconnecting was not invoked")
	}
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnected was not invoked")
	}

	heartbeat := server.nextFrame(t)
	assert.Equal(t, channelHeartbeats, heartbeat.Channel)

	replay := server.nextFrame(t)
	assert.Equal(t, channelCandles, replay.Channel)
	assert.ElementsMatch(t, []string{"BTC-USD", "ETH-USD"}, replay.ProductIDs)

	require.Eventually(t, func() bool {
		return a.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdapter_ReconnectExhaustionEntersErrorState(t *testing.T) {
	server := newWSTestServer(t)

	failed := make(chan error, 1)
	a := New(testConfig(server.url()), testScope, Handlers{
		OnError: func(err error) { failed <- err },
	}, nil, newTestLogger(t))

	require.NoError(t, a.Connect(context.Background()))
	server.nextFrame(t) // heartbeats

	// httptest stops tracking hijacked (upgraded) connections, so Close and
	// CloseClientConnections cannot sever the websocket; drop it explicitly.
	server.dropLast()
	server.server.Close()

	select {
	case err := <-failed:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("OnError was not invoked after exhausting reconnect attempts")
	}
	assert.Equal(t, StateError, a.State())
}

func TestAdapter_RestartAfterExhaustedReconnects(t *testing.T) {
	server := newWSTestServer(t)

	ctrl := gomock.NewController(t)
	redisClient := redisMock.NewMockClient(ctrl)
	redisClient.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	redisClient.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()

	failed := make(chan error, 1)
	config := testConfig(server.url())
	config.StatusInterval = 5 * time.Millisecond
	a := New(config, testScope, Handlers{
		OnError: func(err error) { failed <- err },
	}, redisClient, newTestLogger(t))

	require.NoError(t, a.Connect(context.Background()))
	server.nextFrame(t) // heartbeats

	server.refuseUpgrades(true)
	server.dropLast()

	select {
	case err := <-failed:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("OnError was not invoked after exhausting reconnect attempts")
	}
	require.Equal(t, StateError, a.State())

	// manual restart from the terminal state must leave nothing behind from
	// the exhausted session
	server.refuseUpgrades(false)
	require.NoError(t, a.Connect(context.Background()))
	server.nextFrame(t) // heartbeats
	require.Equal(t, StateConnected, a.State())

	done := make(chan struct{})
	go func() {
		_ = a.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Disconnect did not return after a restart from the error state")
	}
	assert.Equal(t, StateDisconnected, a.State())
}

func TestAdapter_DisconnectSuppressesReconnect(t *testing.T) {
	server := newWSTestServer(t)

	reconnecting := make(chan int, 1)
	a := New(testConfig(server.url()), testScope, Handlers{
		OnReconnecting: func(attempt int, _ time.Duration) { reconnecting <- attempt },
	}, nil, newTestLogger(t))

	require.NoError(t, a.Connect(context.Background()))
	server.nextFrame(t) // heartbeats

	require.NoError(t, a.Disconnect())
	assert.Equal(t, StateDisconnected, a.State())

	select {
	case <-reconnecting:
		t.Fatal("intentional disconnect must not trigger reconnection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapter_UnsubscribeReleasesSymbolOnlyWhenUnused(t *testing.T) {
	server := newWSTestServer(t)
	a := New(testConfig(server.url()), testScope, Handlers{}, nil, newTestLogger(t))

	require.NoError(t, a.Subscribe([]string{"BTC-USD"}, "5m"))
	require.NoError(t, a.Subscribe([]string{"BTC-USD"}, "1h"))
	require.NoError(t, a.Connect(context.Background()))
	defer func() { _ = a.Disconnect() }()

	server.nextFrame(t) // heartbeats
	server.nextFrame(t) // candles replay

	// still held by the 1h subscription
	require.NoError(t, a.Unsubscribe([]string{"BTC-USD"}, "5m"))
	select {
	case frame := <-server.frames:
		t.Fatalf("unexpected frame %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, a.Unsubscribe([]string{"BTC-USD"}, "1h"))
	frame := server.nextFrame(t)
	assert.Equal(t, "unsubscribe", frame.Type)
	assert.Equal(t, []string{"BTC-USD"}, frame.ProductIDs)
	assert.Empty(t, a.Subscriptions())
}
