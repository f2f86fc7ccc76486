package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// StatusUpdate is one message on the /ws status stream.
type StatusUpdate struct {
	Event string       `json:"event"`
	State SessionState `json:"state,omitempty"`
	Code  string       `json:"code,omitempty"`
}

const (
	statusBacklog      = 16
	statusWriteTimeout = 5 * time.Second
)

// statusClient is one websocket subscriber. Its writer goroutine drains out,
// so publishing never waits on the network.
type statusClient struct {
	conn *websocket.Conn
	out  chan StatusUpdate
}

// StatusHub fans status updates out to every connected websocket and keeps
// the latest ones for newcomers.
type StatusHub struct {
	mu      sync.Mutex
	clients map[*statusClient]struct{}
	state   SessionState
	code    string
	log     waLog.Logger
}

func NewStatusHub(log waLog.Logger) *StatusHub {
	if log == nil {
		log = waLog.Noop
	}
	return &StatusHub{
		clients: make(map[*statusClient]struct{}),
		state:   StateDisconnected,
		log:     log,
	}
}

// Publish records update and queues it for every client. A client whose
// backlog is full is dropped.
func (h *StatusHub) Publish(update StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch update.Event {
	case "state":
		h.state = update.State
		if update.State == StateOpen {
			h.code = ""
		}
	case "pairing_code":
		h.code = update.Code
	}
	for c := range h.clients {
		select {
		case c.out <- update:
		default:
			h.log.Debugf("ws client too slow, dropping")
			h.drop(c)
		}
	}
}

// drop must be called with h.mu held.
func (h *StatusHub) drop(c *statusClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.out)
	c.conn.Close()
}

func (h *StatusHub) snapshot() (SessionState, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.code
}

func (h *StatusHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// add registers conn with the current state and pairing code already queued,
// then starts its writer.
func (h *StatusHub) add(conn *websocket.Conn) *statusClient {
	c := &statusClient{conn: conn, out: make(chan StatusUpdate, statusBacklog)}
	h.mu.Lock()
	c.out <- StatusUpdate{Event: "state", State: h.state}
	if h.code != "" {
		c.out <- StatusUpdate{Event: "pairing_code", Code: h.code}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.write(c)
	return c
}

func (h *StatusHub) write(c *statusClient) {
	for update := range c.out {
		c.conn.SetWriteDeadline(time.Now().Add(statusWriteTimeout))
		if err := c.conn.WriteJSON(update); err != nil {
			h.log.Debugf("ws write: %v", err)
			c.conn.Close()
			return
		}
	}
}

func (h *StatusHub) remove(c *statusClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type statsSource interface {
	Stats() DispatchStats
}

// newRouter builds the liveness surface.
func newRouter(cfg *BotConfig, hub *StatusHub, stats statsSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "✅ "+cfg.BotName+" is running")
	})
	r.GET("/healthz", func(c *gin.Context) {
		state, _ := hub.snapshot()
		body := gin.H{
			"status": "ok",
			"state":  state,
			"uptime": formatUptime(time.Since(startTime)),
		}
		if stats != nil {
			s := stats.Stats()
			body["commands_served"] = s.Served
			body["commands_failed"] = s.Failed
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warnf("WebSocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		client := hub.add(conn)
		defer hub.remove(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	})
	return r
}

// runServer serves until ctx is cancelled.
func runServer(ctx context.Context, addr string, handler http.Handler, log waLog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Infof("🌐 Web Server running on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
