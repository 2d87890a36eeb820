package notify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/sensor"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendQueue  = 256
)

// EventMessage is the JSON-RPC notification sent for each event.
type EventMessage struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []EventParams `json:"params"`
}

// EventParams is the payload of an EventMessage.
type EventParams struct {
	Stream string  `json:"stream"`
	Values []int32 `json:"values"`
	Sec    int32   `json:"sec"`
	Nsec   int32   `json:"nsec"`
}

// NewEventMessage converts e to its wire form.
func NewEventMessage(e sensor.Event) EventMessage {
	sec, nsec := e.Split()
	return EventMessage{
		JSONRPC: "2.0",
		Method:  "notify_sensor_event",
		Params: []EventParams{{
			Stream: e.Stream.String(),
			Values: e.Values,
			Sec:    sec,
			Nsec:   nsec,
		}},
	}
}

// Broadcaster streams events to websocket clients. A client may pass
// "?streams=accelerometer,gyroscope" to receive a subset.
type Broadcaster struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*wsClient
	nextID  int64

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	dropped    atomic.Uint64

	log *log.Logger
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	filter sensor.Mask
	sendCh chan EventMessage
	done   chan struct{}
	once   sync.Once
}

// NewBroadcaster creates a broadcaster with no clients.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]*wsClient),
		log:     log.GetLogger("notify"),
	}
}

// Start listens on addr and serves the websocket endpoint at /events.
func (b *Broadcaster) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/events", b)

	b.mu.Lock()
	b.listener = ln
	b.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := b.httpServer
	b.mu.Unlock()

	b.running.Store(true)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.WithError(err).Error("event server stopped")
		}
		b.running.Store(false)
	}()
	b.log.WithField("address", ln.Addr().String()).Info("event stream listening")
	return nil
}

// Addr returns the listen address once started.
func (b *Broadcaster) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Shutdown stops the server and disconnects every client.
func (b *Broadcaster) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	srv := b.httpServer
	clients := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[int64]*wsClient)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP upgrades the request and registers the client.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query().Get("streams"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{
		id:     atomic.AddInt64(&b.nextID, 1),
		conn:   conn,
		filter: filter,
		sendCh: make(chan EventMessage, wsSendQueue),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()
	b.log.WithFields(log.Fields{"client": c.id, "remote": r.RemoteAddr, "streams": filter}).Debug("client connected")

	go b.writePump(c)
	go b.readPump(c)
}

func parseFilter(q string) (sensor.Mask, error) {
	if q == "" {
		return sensor.AllStreams, nil
	}
	var m sensor.Mask
	for _, name := range strings.Split(q, ",") {
		s, err := sensor.ParseStream(strings.TrimSpace(name))
		if err != nil {
			return 0, err
		}
		m = m.With(s)
	}
	return m, nil
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many messages were dropped on full client queues.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Notify implements sensor.Notifier. It never blocks; a client whose
// queue is full misses the event.
func (b *Broadcaster) Notify(e sensor.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.clients) == 0 {
		return
	}
	msg := NewEventMessage(e)
	for _, c := range b.clients {
		if !c.filter.Has(e.Stream) {
			continue
		}
		select {
		case c.sendCh <- msg:
		case <-c.done:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) remove(c *wsClient) {
	b.mu.Lock()
	delete(b.clients, c.id)
	b.mu.Unlock()
	c.close()
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump consumes control frames until the client goes away.
func (b *Broadcaster) readPump(c *wsClient) {
	defer b.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.WithError(err).WithField("client", c.id).Debug("websocket read error")
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		b.remove(c)
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				b.log.WithError(err).WithField("client", c.id).Debug("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
