// Package wsfeed exposes the fan-out channel to WebSocket clients. The hub
// subscribes to the broadcaster and pushes every published sample to all
// connected clients, best-effort: a client connecting after a publish never
// sees it, and a failed write drops only that client.
package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/fanout"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// Envelope wraps every outbound WebSocket message with type discrimination.
// The only event type today is "sample", carrying one persisted sample.
type Envelope struct {
	Type      string           `json:"type"`
	Timestamp int64            `json:"timestamp"` // Unix milliseconds
	Sample    telemetry.Sample `json:"sample"`
}

// Hub bridges the broadcaster to WebSocket clients.
type Hub struct {
	broadcaster *fanout.Broadcaster
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*clientInfo

	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	wg          *sync.WaitGroup
	sub         *fanout.Subscription

	sent    atomic.Int64
	metrics *hubMetrics
}

type clientInfo struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla/websocket panics on concurrent writes
	closed  atomic.Bool
	once    sync.Once
}

type hubMetrics struct {
	clients     prometheus.Gauge
	connections prometheus.Counter
	sent        prometheus.Counter
	errorsTotal *prometheus.CounterVec
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithMetrics registers hub metrics with the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(h *Hub) {
		if registry == nil {
			return
		}
		m := &hubMetrics{
			clients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: metric.Namespace, Subsystem: "wsfeed",
				Name: "clients_connected", Help: "Currently connected WebSocket clients",
			}),
			connections: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "wsfeed",
				Name: "connections_total", Help: "Total client connections",
			}),
			sent: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "wsfeed",
				Name: "messages_sent_total", Help: "Messages sent to clients",
			}),
			errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "wsfeed",
				Name: "errors_total", Help: "WebSocket feed errors",
			}, []string{"error_type"}),
		}
		registry.MustRegister(m.clients, m.connections, m.sent, m.errorsTotal)
		h.metrics = m
	}
}

// NewHub creates a hub over the given broadcaster.
func NewHub(broadcaster *fanout.Broadcaster, opts ...Option) *Hub {
	h := &Hub{
		broadcaster: broadcaster,
		logger:      slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is an open dashboard surface; auth is deferred.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*clientInfo),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start subscribes to the broadcaster and launches the pump and ping loops.
func (h *Hub) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.running {
		return errors.ErrAlreadyStarted
	}

	h.shutdown = make(chan struct{})
	h.wg = &sync.WaitGroup{}
	h.sub = h.broadcaster.Subscribe("wsfeed")
	h.running = true

	h.wg.Add(2)
	go h.pump(ctx)
	go h.maintainClients(ctx)
	return nil
}

// Stop detaches from the broadcaster and closes all client connections.
func (h *Hub) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if !h.running {
		return nil
	}
	h.running = false

	close(h.shutdown)
	h.broadcaster.Unsubscribe(h.sub)

	// Closing connections first unblocks the per-client read loops.
	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*clientInfo)
	h.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		h.logger.Warn("wsfeed goroutines did not exit within timeout")
	}
	return nil
}

// ServeHTTP upgrades the request and tracks the client until it disconnects.
// Mounted by the gateway at /ws.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.lifecycleMu.Lock()
	running := h.running
	h.lifecycleMu.Unlock()
	if !running {
		http.Error(w, "feed not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.metrics != nil {
			h.metrics.errorsTotal.WithLabelValues("upgrade").Inc()
		}
		return
	}

	info := &clientInfo{conn: conn}

	h.clientsMu.Lock()
	h.clients[conn] = info
	count := len(h.clients)
	h.clientsMu.Unlock()

	if h.metrics != nil {
		h.metrics.connections.Inc()
		h.metrics.clients.Set(float64(count))
	}
	h.logger.Info("wsfeed client connected", "remote", r.RemoteAddr, "clients", count)

	h.wg.Add(1)
	go h.readLoop(conn, info, r.RemoteAddr)
}

// readLoop drains client frames (pong handling only) until disconnect.
func (h *Hub) readLoop(conn *websocket.Conn, info *clientInfo, remote string) {
	defer h.wg.Done()
	defer h.removeClient(conn, info, remote)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		select {
		case <-h.shutdown:
			return
		default:
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn, info *clientInfo, remote string) {
	info.once.Do(func() {
		info.closed.Store(true)

		h.clientsMu.Lock()
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		if h.metrics != nil {
			h.metrics.clients.Set(float64(count))
		}
		h.logger.Info("wsfeed client disconnected", "remote", remote, "clients", count)
		_ = conn.Close()
	})
}

// pump forwards samples from the broadcaster subscription to all clients.
func (h *Hub) pump(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case sample, ok := <-h.sub.Samples():
			if !ok {
				return
			}
			h.broadcast(sample)
		}
	}
}

func (h *Hub) broadcast(sample telemetry.Sample) {
	payload, err := json.Marshal(Envelope{
		Type:      "sample",
		Timestamp: time.Now().UnixMilli(),
		Sample:    sample,
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.errorsTotal.WithLabelValues("marshal").Inc()
		}
		return
	}

	h.clientsMu.RLock()
	targets := make([]*clientInfo, 0, len(h.clients))
	for _, info := range h.clients {
		if !info.closed.Load() {
			targets = append(targets, info)
		}
	}
	h.clientsMu.RUnlock()

	for _, info := range targets {
		if err := h.send(info, payload); err != nil {
			if h.metrics != nil {
				h.metrics.errorsTotal.WithLabelValues("send").Inc()
			}
			h.removeClient(info.conn, info, info.conn.RemoteAddr().String())
			continue
		}
		h.sent.Add(1)
		if h.metrics != nil {
			h.metrics.sent.Inc()
		}
	}
}

func (h *Hub) send(info *clientInfo, payload []byte) error {
	info.writeMu.Lock()
	defer info.writeMu.Unlock()
	_ = info.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return info.conn.WriteMessage(websocket.TextMessage, payload)
}

// maintainClients pings connected clients and drops the unresponsive.
func (h *Hub) maintainClients(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case <-ticker.C:
			h.clientsMu.RLock()
			targets := make([]*clientInfo, 0, len(h.clients))
			for _, info := range h.clients {
				if !info.closed.Load() {
					targets = append(targets, info)
				}
			}
			h.clientsMu.RUnlock()

			for _, info := range targets {
				info.writeMu.Lock()
				err := info.conn.WriteMessage(websocket.PingMessage, nil)
				info.writeMu.Unlock()
				if err != nil {
					h.removeClient(info.conn, info, info.conn.RemoteAddr().String())
				}
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
