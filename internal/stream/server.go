package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"abmarket/internal/domain"
	"abmarket/internal/infra"
	"abmarket/internal/market"
)

// subscriberBuffer is how many ticks a connection may fall behind
// before it starts missing them.
const subscriberBuffer = 32

// Server pushes per-step market ticks to websocket observers. The
// simulation publishes into the hub; each connection drains its own
// subscription, so a stuck client never slows the run.
type Server struct {
	addr     string
	hub      *Hub[market.Tick]
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates a stream server bound to addr. Nothing listens
// until Start runs.
func NewServer(addr string) *Server {
	s := &Server{
		addr:     addr,
		hub:      NewHub[market.Tick](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleTicks)
	mux.HandleFunc("/healthz", s.handleHealth)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Publish hands one tick to every connected observer. Safe to call with
// no observers and from the step loop's goroutine.
func (s *Server) Publish(tk market.Tick) {
	s.hub.Broadcast(tk)
}

// Observers returns the number of connected clients.
func (s *Server) Observers() int {
	return s.hub.Count()
}

// Start serves until the listener fails or Shutdown runs. A clean
// shutdown returns nil.
func (s *Server) Start() error {
	slog.Info("stream server listening", slog.String("addr", s.addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed",
			slog.Any("error", domain.NewNetworkError("upgrade", err)))
		return
	}
	defer conn.Close()

	infra.GlobalMetrics.IncrementObservers()
	defer infra.GlobalMetrics.DecrementObservers()

	sub := s.hub.Subscribe(subscriberBuffer)
	defer s.hub.Unsubscribe(sub)

	slog.Info("observer connected", slog.String("remote", conn.RemoteAddr().String()))

	// The read loop only exists to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			slog.Info("observer disconnected", slog.String("remote", conn.RemoteAddr().String()))
			return
		case tk, ok := <-sub.C():
			if !ok {
				return
			}
			if err := conn.WriteJSON(tk); err != nil {
				slog.Debug("observer write failed",
					slog.Any("error", domain.NewNetworkError("write", err)))
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
