// Package feed broadcasts keystrokes to GUI clients connected over
// websocket. Every message is a JSON text frame {type, ts, data}.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/mux"
	"github.com/ydb-platform/rc-manager/internal/rc"
)

const (
	KeystrokeType = "keystroke"

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

var ErrStopped = errors.New("keystroke feed is stopped")

type Envelope struct {
	Type string                `json:"type"`
	Ts   time.Time             `json:"ts"`
	Data rc.TargettedKeystroke `json:"data"`
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int
	// BroadcastBuf is the hub inbound queue size.
	BroadcastBuf int
}

// Hub tracks connected clients and fans every submitted keystroke out to
// them. A client whose queue is full is disconnected.
type Hub struct {
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	stopped    chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	clients map[*client]struct{}

	sendBuf  int
	upgrader websocket.Upgrader
}

var _ mux.Sink[rc.TargettedKeystroke] = (*Hub)(nil)

func NewHub(cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	broadcastBuf := cfg.BroadcastBuf
	if broadcastBuf <= 0 {
		broadcastBuf = 128
	}
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuf),
		register:   make(chan *client),
		unregister: make(chan *client, 64),
		stopped:    make(chan struct{}),
		clients:    make(map[*client]struct{}),
		sendBuf:    sendBuf,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves the hub until ctx is cancelled and disconnects every client
// on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()
	klog.Info("Starting keystroke feed")

	for {
		select {
		case <-ctx.Done():
			klog.Info("Stopping keystroke feed")
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			klog.V(2).Infof("feed client %s connected, %d client(s)", c.remoteAddr, n)
		case c := <-h.unregister:
			h.remove(c, "disconnected")
		case msg := <-h.broadcast:
			var slow []*client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.remove(c, "too slow")
			}
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.stopped) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		klog.V(2).Infof("feed client %s dropped (%s), %d client(s)", c.remoteAddr, reason, n)
	}
}

// Submit queues ks for every client without blocking.
func (h *Hub) Submit(ks rc.TargettedKeystroke) error {
	msg, err := json.Marshal(Envelope{Type: KeystrokeType, Ts: time.Now().UTC(), Data: ks})
	if err != nil {
		return err
	}
	select {
	case <-h.stopped:
		return ErrStopped
	default:
	}
	select {
	case h.broadcast <- msg:
		return nil
	default:
		return mux.ErrFull
	}
}

// Close is a no-op, the hub stops with the context given to Run.
func (h *Hub) Close() {}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Warningf("feed upgrade for %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		remoteAddr: r.RemoteAddr,
	}
	select {
	case h.register <- c:
	case <-h.stopped:
		conn.Close()
		return
	}
	// pumps outlive the request, the hub owns the connection now
	go c.writePump()
	go c.readPump()
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	closeOnce  sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logPumpExit(c.remoteAddr, "write", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logPumpExit(c.remoteAddr, "ping", err)
				return
			}
		}
	}
}

// readPump discards client frames; it exists to notice disconnects and
// to answer control frames.
func (c *client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			logPumpExit(c.remoteAddr, "read", err)
			select {
			case c.hub.unregister <- c:
			case <-c.hub.stopped:
			}
			return
		}
	}
}

func logPumpExit(remoteAddr, op string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		klog.V(2).Infof("feed client %s closed during %s: %d %s", remoteAddr, op, ce.Code, ce.Text)
		return
	}
	klog.V(2).Infof("feed client %s %s failed: %v", remoteAddr, op, err)
}
