// Package api exposes the HTTP control surface the control panel, tray icon
// and hotkey glue drive the engine through.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"popupstorm/internal/config"
	"popupstorm/internal/engine"
	"popupstorm/internal/logger"
)

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	engine   *engine.Engine
	cfg      *config.Manager
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, cfg *config.Manager) *Server {
	s := &Server{
		router: mux.NewRouter(),
		engine: eng,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local control panel only
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Engine lifecycle
	api.HandleFunc("/start", s.handleStart).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/panic", s.handlePanic).Methods("POST")
	api.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Media sources
	api.HandleFunc("/monitors", s.handleMonitors).Methods("GET")
	api.HandleFunc("/archives", s.handleArchives).Methods("GET")
	api.HandleFunc("/archives/selected", s.handleSelectArchives).Methods("PUT")

	// Log streaming for the UI log viewer
	api.HandleFunc("/logs", s.handleLogStream)

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting control server")
	return http.ListenAndServe(addr, s.enableCORS(s.router))
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	s.engine.Panic()
	writeJSON(w, map[string]string{"status": "cleared"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.engine.Refresh()
	writeJSON(w, map[string]interface{}{
		"status": "refreshed",
		"counts": s.engine.CatalogCounts(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"running":   s.engine.Running(),
		"windows":   s.engine.WindowCount(),
		"displayed": s.engine.Displayed(),
		"catalog":   s.engine.CatalogCounts(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var settings config.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.cfg.Update(settings); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.MonitorInfo())
}

func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := s.engine.ListArchives()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if archives == nil {
		archives = []engine.ArchiveInfo{}
	}
	writeJSON(w, archives)
}

func (s *Server) handleSelectArchives(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Archives []string `json:"archives"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.cfg.SetSelectedArchives(req.Archives); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// A new selection changes what the scheduler may draw from.
	s.engine.Refresh()
	writeJSON(w, map[string]string{"status": "success"})
}

// handleLogStream upgrades to a websocket and streams log lines: the recent
// ring buffer first, then live lines as they are emitted.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	for _, line := range logger.Recent() {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	lines := logger.Subscribe()
	defer logger.Unsubscribe(lines)

	for line := range lines {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		if !strings.HasPrefix(r.URL.Path, "/api") {
			http.NotFound(w, r)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>popupstorm</title></head>
<body>
  <h1>popupstorm</h1>
  <p>Control server is running.</p>
  <ul>
    <li><a href="/api/status">/api/status</a></li>
    <li><a href="/api/config">/api/config</a></li>
    <li><a href="/api/monitors">/api/monitors</a></li>
    <li><a href="/api/archives">/api/archives</a></li>
    <li><a href="/api/health">/api/health</a></li>
  </ul>
</body>
</html>`)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
