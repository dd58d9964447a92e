package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluidrower/rowmon/internal/session"
	"github.com/fluidrower/rowmon/internal/storage"
)

const writeTimeout = 5 * time.Second

// StatsFunc returns the current live-stats snapshot.
type StatsFunc func() session.Stats

// SessionLister reads the stored session listing.
type SessionLister interface {
	Sessions(ctx context.Context) ([]storage.SessionData, error)
}

// Server serves the live recorder output and the stored session listing.
// Stop requests are forwarded to the stop callback, which routes through the
// monitor's graceful shutdown.
type Server struct {
	httpServer  *http.Server
	stats       StatsFunc
	sessions    SessionLister
	broadcaster *Broadcaster
	stop        func()
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// New creates a Server. stop is invoked on POST /api/session/stop and must
// be safe to call more than once.
func New(addr string, stats StatsFunc, sessions SessionLister, broadcaster *Broadcaster, stop func(), logger *slog.Logger) *Server {
	s := &Server{
		stats:       stats,
		sessions:    sessions,
		broadcaster: broadcaster,
		stop:        stop,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live/stats", s.handleLiveStats)
	mux.HandleFunc("GET /api/live/ws", s.handleLiveWS)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

// handleLiveWS streams samples to a WebSocket client until the client goes
// away or the subscriber is dropped for falling behind.
func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	samples, cancel := s.broadcaster.Subscribe()
	defer cancel()

	// Drain client frames so close handshakes and pings are processed.
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
			return

		case sample, ok := <-samples:
			if !ok {
				// Dropped as a slow subscriber.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
					time.Now().Add(writeTimeout))
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(sample); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.Sessions(r.Context())
	if err != nil {
		s.logger.Error("listing sessions", slog.Any("error", err))
		http.Error(w, "listing sessions failed", http.StatusInternalServerError)
		return
	}

	type sessionJSON struct {
		ID             int64      `json:"id"`
		StartTime      time.Time  `json:"startTime"`
		DeviceType     string     `json:"deviceType"`
		TotalPauseSecs float64    `json:"totalPauseSecs"`
		EndedAt        *time.Time `json:"endedAt,omitempty"`
	}

	out := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		sj := sessionJSON{
			ID:             sess.ID,
			StartTime:      sess.StartTime,
			DeviceType:     sess.DeviceType,
			TotalPauseSecs: sess.TotalPauseSecs,
		}
		if sess.EndedAt.Valid {
			t := sess.EndedAt.Time
			sj.EndedAt = &t
		}
		out = append(out, sj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
