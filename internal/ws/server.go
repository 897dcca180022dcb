// Package ws carries the service's HTTP surface: the client WebSocket
// endpoint, the REST broadcast endpoint, and the status endpoint.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/pgalves/BarCodeApp/internal/config"
	"github.com/pgalves/BarCodeApp/internal/session"
	"github.com/pgalves/BarCodeApp/internal/signaling"
)

type Server struct {
	cfg         config.ServerConfig
	registry    *session.Registry
	controller  *signaling.Controller
	broadcaster *Broadcaster

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	started        time.Time
}

func NewServer(cfg config.ServerConfig, registry *session.Registry, controller *signaling.Controller, broadcaster *Broadcaster) *Server {
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		controller:     controller,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		started:        time.Now(),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/signaling", s.handleSignaling)
	r.Post("/message", s.handleBroadcast)
	r.Get("/api/status", s.handleStatus)

	return r
}

func (s *Server) handleSignaling(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade", "remote", r.RemoteAddr, "error", err)
		return
	}

	sid := uuid.NewString()
	c := newClient(conn, s.cfg.SendBuffer)
	s.controller.HandleConnect(sid, c)

	defer func() {
		s.controller.HandleDisconnect(sid)
		c.close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.controller.HandleMessage(context.Background(), sid, data)
	}
}

type broadcastRequest struct {
	Source      json.RawMessage `json:"source"`
	Description json.RawMessage `json:"description"`
	Value       json.RawMessage `json:"value"`
}

type broadcastResponse struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	msg := signaling.NewRestMessage(req.Source, req.Description, req.Value)
	delivered, failed := s.broadcaster.Broadcast(msg)
	slog.Info("rest broadcast", "delivered", delivered, "failed", failed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(broadcastResponse{Delivered: delivered, Failed: failed})
}

type processStatus struct {
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

type statusResponse struct {
	Sessions      int            `json:"sessions"`
	Pipelines     int            `json:"pipelines"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Process       *processStatus `json:"process,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Sessions:      s.registry.Len(),
		Pipelines:     s.registry.ActivePipelines(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		var ps processStatus
		if cpu, err := proc.CPUPercent(); err == nil {
			ps.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			ps.RSSBytes = mem.RSS
		}
		resp.Process = &ps
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if host == "localhost" || strings.HasPrefix(host, "localhost:") {
		return true
	}
	if host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:") {
		return true
	}
	if host == "::1" || strings.HasPrefix(host, "[::1]:") {
		return true
	}

	return false
}

// NewHTTPServer builds the service's http.Server so main can drive a
// graceful Shutdown on termination signals.
func NewHTTPServer(host string, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: handler,
	}
}
