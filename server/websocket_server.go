// Package server is the HTTP and websocket front door of the voice relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/messages"
	"github.com/room4-2/billvoice/relay"
)

const maxConfigBody = 64 * 1024

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *relay.Manager
	config         *config.Config
	log            *zap.Logger
}

func NewServerWebsocket(cfg *config.Config, sessionManager *relay.Manager, log *zap.Logger) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		log:            logger.OrGet(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(cfg.AllowedOrigins, origin)
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the relay's routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/voice", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/config/default", s.handleDefaultConfig)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /api/config/session/{id}", s.handleSessionConfig)
	mux.HandleFunc("POST /api/config/preset/{name}", s.handlePreset)
	return cors(s.config.AllowedOrigins, mux)
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.Info("🚀 Relay server starting", zap.Int("port", s.config.Port), zap.String("upstream", s.config.Upstream))
	s.log.Info("📡 WebSocket endpoint", zap.String("url", fmt.Sprintf("ws://localhost:%d/ws/voice", s.config.Port)))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("🛑 Shutting down server...")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		s.log.Error("❌ Failed to create session", zap.Error(err))
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, relay.ErrSessionLimit) {
			code = messages.ErrCodeSessionLimit
		}
		if data, encErr := messages.Encode(messages.NewRelayError(code, err.Error())); encErr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.Close()
		return
	}

	id := clientSession.ID
	s.log.Info("🔌 WebSocket client connected", zap.String("session", logger.ShortID(id)))

	settings := s.sessionManager.SettingsFor(r.Context(), r.URL.Query().Get("session_id"))
	if err := clientSession.Start(r.Context(), settings); err == nil {
		<-clientSession.CloseChan
	}

	_ = s.sessionManager.RemoveSession(context.Background(), id)
	s.log.Info("✅ Session closed", zap.String("session", logger.ShortID(id)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": s.sessionManager.GetActiveSessionCount(),
		"upstream":        s.config.Upstream,
		"services": map[string]bool{
			"openai": s.config.OpenAIAPIKey != "",
			"gemini": s.config.GeminiAPIKey != "",
			"redis":  s.sessionManager.RedisAvailable(),
		},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Bill payment voice relay",
		"pipeline": fmt.Sprintf("%s realtime (proxied with dynamic config)", s.config.Upstream),
		"endpoints": map[string]any{
			"websocket": "/ws/voice",
			"health":    "/health",
			"config": map[string]string{
				"get_default": "/api/config/default",
				"update":      "/api/config",
				"get_current": "/api/config",
				"session":     "/api/config/session/{id}",
				"preset":      "/api/config/preset/{name}",
			},
		},
	})
}

func (s *Server) handleDefaultConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"config":      s.config.RelayVoice,
		"description": "Default configuration for voice sessions",
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"config":          s.sessionManager.DefaultSettings(ctx),
		"active_sessions": s.sessionManager.GetActiveSessionCount(),
		"session_configs": s.sessionManager.SessionConfigCount(ctx),
	})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.decodeSettings(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sessionManager.SetDefaultSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.log.Info("📝 Updated default config", zap.Float64("temperature", settings.Temperature), zap.String("voice", settings.Voice))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Configuration updated successfully",
		"config":  settings,
	})
}

func (s *Server) handleSessionConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	settings, err := s.decodeSettings(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sessionManager.SetSessionSettings(r.Context(), id, settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.log.Info("📝 Pre-configured session", zap.String("session", id), zap.Float64("temperature", settings.Temperature))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"session_id": id,
		"message":    "Session configuration set. Connect to WebSocket to use this config.",
		"config":     settings,
	})
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	settings, preset, err := s.sessionManager.ApplyPreset(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	s.log.Info("📝 Applied preset", zap.String("preset", name))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"preset":      name,
		"description": preset.Description,
		"config":      settings,
	})
}

// decodeSettings reads a settings body. Omitted fields keep the relay's
// configured defaults.
func (s *Server) decodeSettings(w http.ResponseWriter, r *http.Request) (config.VoiceSettings, error) {
	settings := s.config.RelayVoice
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBody))
	if err != nil {
		return settings, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return settings, nil
	}
	if err := sonic.Unmarshal(body, &settings); err != nil {
		return settings, fmt.Errorf("invalid config: %w", err)
	}
	return settings, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}
