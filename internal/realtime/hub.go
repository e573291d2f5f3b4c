// Package realtime delivers location-scoped feed events over
// WebSocket. Each connection holds a private channel set computed from
// the client's position and radius; a location update swaps the whole
// set.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/feed"
	"github.com/sneakloop/hyperlocal/internal/geo"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hyperlocal_ws_clients",
		Help: "Currently connected feed stream clients.",
	})
	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hyperlocal_ws_dropped_messages_total",
		Help: "Messages dropped because a client's send buffer was full.",
	})
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64

	defaultRadiusMiles = 1.0
	maxRadiusMiles     = 10.0
)

// ChannelsFor computes a client's channel set: a district-level disk
// sized from the radius plus the client's own neighborhood and block
// cells.
func ChannelsFor(lat, lng, radiusMiles float64) ([]string, error) {
	if radiusMiles <= 0 {
		radiusMiles = defaultRadiusMiles
	}
	if radiusMiles > maxRadiusMiles {
		radiusMiles = maxRadiusMiles
	}

	district, err := geo.Encode(lat, lng, geo.ResDistrict)
	if err != nil {
		return nil, err
	}
	k := int(radiusMiles * 0.8)
	disk, err := geo.Disk(district, k)
	if err != nil {
		return nil, err
	}
	r9, r8, _, err := geo.CellSet(lat, lng)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(disk)+2)
	out := make([]string, 0, len(disk)+2)
	for _, cell := range append(disk, r8, r9) {
		if _, ok := seen[cell]; ok {
			continue
		}
		seen[cell] = struct{}{}
		out = append(out, feed.ChannelForCell(cell))
	}
	return out, nil
}

// Hub upgrades connections and bridges them onto the broker.
type Hub struct {
	broker   Broker
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHub builds a hub over a broker.
func NewHub(broker Broker, logger *zap.Logger) *Hub {
	return &Hub{
		broker: broker,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// clientCommand is an inbound control message.
type clientCommand struct {
	Type        string  `json:"type"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	RadiusMiles float64 `json:"radius_miles"`
}

// serverMessage is an outbound envelope.
type serverMessage struct {
	Type     string          `json:"type"`
	Channels int             `json:"channels,omitempty"`
	Event    json.RawMessage `json:"event,omitempty"`
}

// ServeWS upgrades the request and runs the connection until either
// side drops. Query parameters lat, lng and radius_miles position the
// initial subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, lat, lng, radiusMiles float64) {
	channels, err := ChannelsFor(lat, lng, radiusMiles)
	if err != nil {
		http.Error(w, "invalid location", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.broker.Subscribe(ctx, channels)
	if err != nil {
		h.logger.Warn("broker subscribe failed", zap.Error(err))
		cancel()
		_ = conn.Close()
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		sub:    sub,
		send:   make(chan []byte, sendBuffer),
		cancel: cancel,
	}
	h.logger.Debug("client connected", zap.Int("channels", len(channels)))
	c.queue(serverMessage{Type: "subscribed", Channels: len(channels)})

	// Disconnect on either pump ends the other through cancel.
	go c.writePump(ctx)
	go c.forwardPump(ctx)
	go c.readPump(ctx)
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	sub    Subscription
	send   chan []byte
	cancel context.CancelFunc
}

func (c *client) queue(msg serverMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
		// Slow consumer: drop, delivery is best-effort.
		droppedMessages.Inc()
	}
}

// readPump consumes control messages until the connection drops.
func (c *client) readPump(ctx context.Context) {
	connectedClients.Inc()
	defer func() {
		connectedClients.Dec()
		c.cancel()
		_ = c.sub.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		switch cmd.Type {
		case "ping":
			c.queue(serverMessage{Type: "pong"})
		case "update_location":
			c.relocate(ctx, cmd)
		}
	}
}

// relocate swaps the subscription to the new location's channel set.
func (c *client) relocate(ctx context.Context, cmd clientCommand) {
	channels, err := ChannelsFor(cmd.Lat, cmd.Lng, cmd.RadiusMiles)
	if err != nil {
		c.queue(serverMessage{Type: "error"})
		return
	}
	if err := c.sub.Reset(ctx, channels); err != nil {
		c.hub.logger.Warn("resubscribe failed", zap.Error(err))
		c.queue(serverMessage{Type: "error"})
		return
	}
	c.queue(serverMessage{Type: "subscribed", Channels: len(channels)})
}

// forwardPump relays broker deliveries to the send queue.
func (c *client) forwardPump(ctx context.Context) {
	defer c.cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.sub.Messages():
			if !ok {
				return
			}
			c.queue(serverMessage{Type: "event", Event: json.RawMessage(msg.Payload)})
		}
	}
}

// writePump drains the send queue and keeps the connection alive.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
