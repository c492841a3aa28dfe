package services

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/repository"
	ws "github.com/Harols34/reclutamientoconvertia-sub000/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Server holds all server dependencies
type Server struct {
	config            *Config
	repo              *repository.GORMRepository
	pool              *pgxpool.Pool
	geminiService     *GeminiService
	authService       *AuthService
	trainingEndpoints *TrainingEndpoints
	adminEndpoints    *AdminEndpoints
	watchdog          *SessionWatchdog
	wsHub             *ws.Hub
	upgrader          websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(repo *repository.GORMRepository, pool *pgxpool.Pool) {
	s.repo = repo
	s.pool = pool
}

// InitializeServices initializes all server services
func (s *Server) InitializeServices() error {
	if s.config.AI.GeminiAPIKey != "" {
		s.geminiService = NewGeminiService(s.config.AI.GeminiAPIKey)
		slog.Info("Gemini service initialized")
	} else {
		slog.Warn("Gemini API key not configured, AI replies unavailable")
		s.geminiService = &GeminiService{}
	}

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()

	s.trainingEndpoints = NewTrainingEndpoints(s.repo, s.geminiService, s.wsHub, s.config.Training.SessionDuration)

	s.watchdog = NewSessionWatchdog(s.trainingEndpoints, s.config.Training.SessionDuration)
	s.trainingEndpoints.SetWatchdog(s.watchdog)

	// Sessions that were live before a restart keep their original deadline
	if sessions, err := s.repo.ListActiveTrainingSessions(context.Background()); err != nil {
		slog.Error("Failed to reload active sessions into watchdog", "error", err)
	} else {
		for _, session := range sessions {
			s.watchdog.Register(session.ID, session.StartedAt)
		}
		if len(sessions) > 0 {
			slog.Info("Active sessions reloaded into watchdog", "count", len(sessions))
		}
	}

	s.watchdog.Start()
	slog.Info("Session watchdog started", "duration", s.config.Training.SessionDuration)

	if s.config.JWT.Secret != "" {
		s.authService = NewAuthService(s.repo, s.config.JWT.Secret)
		s.adminEndpoints = NewAdminEndpoints(s.repo, s.authService)
		slog.Info("Admin authentication initialized")
	} else {
		slog.Warn("JWT secret not configured, admin endpoints disabled")
	}

	return nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health endpoint
	r.Get("/health", s.healthHandler)

	// API v1 route group
	r.Route("/api/v1", func(r chi.Router) {
		s.trainingEndpoints.RegisterRoutes(r)
		r.Get("/training/ws", s.websocketHandlerFunc)

		if s.adminEndpoints != nil {
			r.Route("/admin", func(r chi.Router) {
				s.adminEndpoints.RegisterRoutes(r)
			})
		}
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	s.watchdog.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// CheckOrigin reports whether the websocket Origin header matches the
// comma-separated allow list exactly. An empty list denies every connection.
func CheckOrigin(r *http.Request, allowedOrigins string) bool {
	origin := r.Header.Get("Origin")

	for _, allowed := range strings.Split(allowedOrigins, ",") {
		if allowed = strings.TrimSpace(allowed); allowed != "" && allowed == origin {
			return true
		}
	}

	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed_origins", allowedOrigins)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.pool != nil {
		if err := s.pool.Ping(r.Context()); err != nil {
			dbStatus = "down"
			status = "degraded"
		} else {
			dbStatus = "up"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"` + status + `","database":"` + dbStatus + `"}`))

	slog.Info("Health check", "status", status, "database", dbStatus)
}

// websocketHandlerFunc upgrades the connection and subscribes it to one
// session's realtime event stream.
func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "session_id is required")
		return
	}

	session, err := s.repo.GetTrainingSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to load session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("WebSocket connection established", "session_id", sessionID)

	client := s.wsHub.RegisterClient(conn, sessionID)
	go client.WritePump()
	client.ReadPump()
}
