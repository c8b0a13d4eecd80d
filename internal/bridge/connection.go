package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
)

// Close codes surfaced to rejected or misbehaving clients.
const (
	// CloseInvalidAPIKey refuses a connection with a missing or unknown key.
	CloseInvalidAPIKey = 4001
	// CloseConnectionLimit refuses a connection over the per-key cap.
	CloseConnectionLimit = 4029
)

// Connection is one admitted client socket. The bridge's registry is its
// sole owner; nothing else reads or mutates it.
type Connection struct {
	ID       string
	APIKeyID string

	ws     *websocket.Conn
	logger logger.Interface

	heartbeatInterval time.Duration
	writeTimeout      time.Duration
	lowWaterMark      int64
	highWaterMark     int64

	mu   sync.Mutex
	subs map[string]struct{}

	// outboundBytes approximates the bytes accepted for send but not yet
	// flushed; the backpressure thresholds act on it.
	outboundBytes int64
	lastPongAt    int64

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(ws *websocket.Conn, apiKeyID string, config Config, log logger.Interface) *Connection {
	c := &Connection{
		ID:                uuid.NewString(),
		APIKeyID:          apiKeyID,
		ws:                ws,
		logger:            log,
		heartbeatInterval: config.HeartbeatInterval,
		writeTimeout:      config.WriteTimeout,
		lowWaterMark:      int64(config.LowWaterMark),
		highWaterMark:     int64(config.HighWaterMark),
		subs:              make(map[string]struct{}),
		send:              make(chan []byte, config.SendQueueSize),
		done:              make(chan struct{}),
		lastPongAt:        time.Now().UnixMilli(),
	}

	// registered once at creation; re-registering per tick would pile up
	// handlers over a long-lived connection
	ws.SetPongHandler(func(string) error {
		atomic.StoreInt64(&c.lastPongAt, time.Now().UnixMilli())
		return nil
	})

	return c
}

func (c *Connection) subscribe(channels []Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.subs[ch.String()] = struct{}{}
	}
}

func (c *Connection) unsubscribe(channels []Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.subs, ch.String())
	}
}

func (c *Connection) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[channel]
	return ok
}

// sendResult classifies what happened to an outbound payload.
type sendResult int

const (
	sendOK sendResult = iota
	// sendSkipped means the connection is between the water marks; the
	// message is dropped for this connection only.
	sendSkipped
	// sendOverflow means the high water mark was breached; the connection
	// is dead and must be terminated.
	sendOverflow
)

// trySend applies the backpressure policy and enqueues the payload.
func (c *Connection) trySend(payload []byte) sendResult {
	buffered := atomic.LoadInt64(&c.outboundBytes)
	switch {
	case buffered >= c.highWaterMark:
		return sendOverflow
	case buffered >= c.lowWaterMark:
		return sendSkipped
	}

	atomic.AddInt64(&c.outboundBytes, int64(len(payload)))
	select {
	case c.send <- payload:
		return sendOK
	case <-c.done:
		atomic.AddInt64(&c.outboundBytes, -int64(len(payload)))
		return sendOverflow
	default:
		// queue full counts against the same policy as bytes
		atomic.AddInt64(&c.outboundBytes, -int64(len(payload)))
		return sendSkipped
	}
}

// writeLoop owns all writes to the socket: queued payloads and heartbeat
// pings. A missed pong before the next scheduled ping closes the socket.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.ws.WriteMessage(websocket.TextMessage, payload)
			atomic.AddInt64(&c.outboundBytes, -int64(len(payload)))
			if err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			lastPong := atomic.LoadInt64(&c.lastPongAt)
			if time.Since(time.UnixMilli(lastPong)) > 2*c.heartbeatInterval {
				c.logger.Info("closing unresponsive connection",
					logger.Field{Key: "connection_id", Value: c.ID},
				)
				c.close(websocket.CloseGoingAway, "heartbeat timeout")
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// readLoop consumes client frames until the socket closes. onFrame handles
// one raw frame; the returned error frame, if any, goes only to this client.
func (c *Connection) readLoop(onFrame func(raw []byte)) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.close(websocket.CloseNormalClosure, "")
			return
		}
		onFrame(raw)
	}
}

// sendDirect bypasses the queue for small control frames (errors, acks).
func (c *Connection) sendDirect(payload []byte) {
	atomic.AddInt64(&c.outboundBytes, int64(len(payload)))
	select {
	case c.send <- payload:
	default:
		atomic.AddInt64(&c.outboundBytes, -int64(len(payload)))
	}
}

func (c *Connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(c.writeTimeout))
		_ = c.ws.Close()
	})
}
