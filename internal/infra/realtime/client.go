// Package realtime implements the push channel: one long-lived websocket
// per process lifetime with automatic reconnect, heartbeat emission and
// inbound event dispatch.
package realtime

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"signage/config"
	"signage/internal/domain/service"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	readLimit      = 512 * 1024
	readDeadline   = 90 * time.Second
	outboundBuffer = 16
	inboundBuffer  = 64
)

// envelope is the wire frame in both directions.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client implements service.RealtimeService over gorilla/websocket.
type Client struct {
	wsURL            string
	handshakeTimeout time.Duration
	reconnectDelay   time.Duration
	maxReconnect     time.Duration
	logger           *slog.Logger

	events   chan service.Event
	outbound chan envelope

	mu          sync.RWMutex
	connected   bool
	statusFn    func(bool)
	joinedRoom  string
	playerUID   string
	playlistID  string
	startedOnce bool

	stop chan struct{}
	done chan struct{}
}

// NewClient is the constructor for Client.
func NewClient(cfg *config.Config, logger *slog.Logger) service.RealtimeService {
	return &Client{
		wsURL:            websocketURL(cfg.Backend.BaseURL),
		handshakeTimeout: cfg.Realtime.HandshakeTimeout,
		reconnectDelay:   cfg.Realtime.ReconnectDelay,
		maxReconnect:     cfg.Realtime.MaxReconnectDelay,
		logger:           logger,
		events:           make(chan service.Event, inboundBuffer),
		outbound:         make(chan envelope, outboundBuffer),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// websocketURL converts the backend base URL into the device channel URL.
func websocketURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "ws://" + baseURL + "/ws/device"
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}

	wsURL := &url.URL{Scheme: scheme, Host: u.Host, Path: "/ws/device"}

	return wsURL.String()
}

// Start opens the channel and keeps it open, reconnecting with bounded
// backoff, until Close or ctx end.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.startedOnce {
		c.mu.Unlock()

		return
	}
	c.startedOnce = true
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	delay := c.reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("realtime dial failed", slog.Any("error", err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
			if delay *= 2; delay > c.maxReconnect {
				delay = c.maxReconnect
			}

			continue
		}

		delay = c.reconnectDelay
		c.setConnected(true)
		c.replayPresence()
		c.serve(ctx, conn)
		c.setConnected(false)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return conn, err
}

// serve pumps one connection until it breaks or the client stops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	readDone := make(chan struct{})

	go func() {
		defer close(readDone)

		conn.SetReadLimit(readLimit)
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(readDeadline))

			return nil
		})

		for {
			var ev service.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn("realtime read error", slog.Any("error", err))
				}

				return
			}
			conn.SetReadDeadline(time.Now().Add(readDeadline))

			select {
			case c.events <- ev:
			default:
				c.logger.Warn("realtime event buffer full, dropping event",
					slog.String("event", ev.Name))
			}
		}
	}()

	keepalive := time.NewTicker(readDeadline / 3)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeClose(conn)

			return
		case <-c.stop:
			c.writeClose(conn)

			return
		case <-readDone:
			return
		case env := <-c.outbound:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(env); err != nil {
				c.logger.Warn("realtime write failed", slog.Any("error", err))

				return
			}
		case <-keepalive.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeClose(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// replayPresence re-emits room membership and player identity after every
// (re)connect, so a dropped link cannot silently lose the device's
// registration-completion events.
func (c *Client) replayPresence() {
	c.mu.RLock()
	room, uid, playlist := c.joinedRoom, c.playerUID, c.playlistID
	c.mu.RUnlock()

	if room != "" {
		c.send(envelope{Event: service.EmitDeviceJoin, Data: map[string]string{"deviceId": room}})
	}
	if uid != "" && playlist != "" {
		c.send(envelope{Event: service.EmitPlayerConnect, Data: map[string]string{"uid": uid, "playlistId": playlist}})
	}
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	changed := c.connected != connected
	c.connected = connected
	fn := c.statusFn
	c.mu.Unlock()

	if changed && fn != nil {
		fn(connected)
	}
}

// Events delivers inbound push events in arrival order.
func (c *Client) Events() <-chan service.Event {
	return c.events
}

// Connected reports the current link state.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

// OnStatusChange registers a connect/disconnect observer.
func (c *Client) OnStatusChange(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFn = fn
}

// JoinDevice enters the device-scoped room; remembered for reconnects.
func (c *Client) JoinDevice(deviceID string) {
	c.mu.Lock()
	c.joinedRoom = deviceID
	c.mu.Unlock()

	c.send(envelope{Event: service.EmitDeviceJoin, Data: map[string]string{"deviceId": deviceID}})
}

// ConnectPlayer announces the playing device; remembered for reconnects.
func (c *Client) ConnectPlayer(uid, playlistID string) {
	c.mu.Lock()
	c.playerUID = uid
	c.playlistID = playlistID
	c.mu.Unlock()

	c.send(envelope{Event: service.EmitPlayerConnect, Data: map[string]string{"uid": uid, "playlistId": playlistID}})
}

// Ping is the heartbeat emitted while playing.
func (c *Client) Ping(uid string) {
	c.send(envelope{Event: service.EmitPing, Data: map[string]string{"uid": uid}})
}

// send queues an emission without blocking the caller; emissions racing a
// dead link are dropped, matching at-most-once channel semantics.
func (c *Client) send(env envelope) {
	select {
	case c.outbound <- env:
	default:
		c.logger.Warn("realtime outbound buffer full, dropping emission",
			slog.String("event", env.Event))
	}
}

// Close tears the channel down for good.
func (c *Client) Close() error {
	c.mu.Lock()
	started := c.startedOnce
	c.mu.Unlock()

	select {
	case <-c.stop:
		return nil
	default:
		close(c.stop)
	}

	if started {
		<-c.done
	}

	return nil
}
