// Package server exposes a cluster to an external renderer and input layer
// over WebSocket. Clients send key events and pull snapshots; the server
// pushes discrete trigger events. Every cluster access is executed on the
// scheduler loop, so the cluster keeps its single thread of control.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/notnil/dashsim/cluster"
	"github.com/notnil/dashsim/controls"
)

// Runner executes a function on the goroutine that owns the cluster.
// scheduler.Loop satisfies it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

type clientMessage struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	Down bool   `json:"down,omitempty"`
}

type serverMessage struct {
	Type     string            `json:"type"`
	Event    string            `json:"event,omitempty"`
	Snapshot *cluster.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

const (
	sendBuffer   = 16
	writeTimeout = time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	held map[string]struct{}
}

// Server is the WebSocket surface.
type Server struct {
	loop     Runner
	cluster  *cluster.Cluster
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func New(loop Runner, c *cluster.Cluster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		loop:    loop,
		cluster: c,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler routes /ws and a plain GET /snapshot.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	return mux
}

// Sink returns a cluster.Sink that pushes events to every connected client.
// Clients that fall behind miss events rather than stall the loop.
func (s *Server) Sink() cluster.Sink {
	return cluster.SinkFunc(func(ev controls.Event, _ cluster.Snapshot) {
		data, err := json.Marshal(serverMessage{Type: "event", Event: ev.String()})
		if err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for c := range s.clients {
			select {
			case c.send <- data:
			default:
			}
		}
	})
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Serve listens on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	s.logger.Info("server listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) snapshot(ctx context.Context) (cluster.Snapshot, error) {
	var snap cluster.Snapshot
	err := s.loop.Do(ctx, func() { snap = s.cluster.Snapshot() })
	return snap, err
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, err := s.snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), held: make(map[string]struct{})}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx, c)
	}()

	s.readLoop(ctx, c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	cancel()
	<-done
	_ = conn.Close()
	s.releaseHeld(c)
	s.logger.Info("client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (s *Server) reply(c *client, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal reply failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		s.logger.Debug("client send buffer full, reply dropped")
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.reply(c, serverMessage{Type: "error", Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "key":
			if _, ok := controls.ParseKey(msg.Key); !ok {
				s.reply(c, serverMessage{Type: "error", Error: "unknown key " + msg.Key})
				continue
			}
			key, down := msg.Key, msg.Down
			if down {
				c.held[key] = struct{}{}
			} else {
				delete(c.held, key)
			}
			err = s.loop.Do(ctx, func() {
				if down {
					s.cluster.KeyDown(ctx, key)
				} else {
					s.cluster.KeyUp(key)
				}
			})
		case "snapshot":
			var snap cluster.Snapshot
			snap, err = s.snapshot(ctx)
			if err == nil {
				s.reply(c, serverMessage{Type: "snapshot", Snapshot: &snap})
			}
		default:
			s.reply(c, serverMessage{Type: "error", Error: "unknown message type " + msg.Type})
			continue
		}
		if err != nil {
			s.reply(c, serverMessage{Type: "error", Error: err.Error()})
		}
	}
}

// releaseHeld lifts every key a departing client left pressed.
func (s *Server) releaseHeld(c *client) {
	if len(c.held) == 0 {
		return
	}
	keys := make([]string, 0, len(c.held))
	for k := range c.held {
		keys = append(keys, k)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.loop.Do(ctx, func() {
		for _, k := range keys {
			s.cluster.KeyUp(k)
		}
	})
}
