package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "carefeed/internal/errors"
	"carefeed/internal/middleware"
	"carefeed/internal/models"
	"carefeed/internal/service"
	"carefeed/internal/ws"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router      *mux.Router
	logger      *logrus.Logger
	cfg         *models.Config
	feedback    service.FeedbackService
	hub         *ws.Hub
	drainWorker *service.DrainWorker
	server      *http.Server
}

func NewServer(cfg *models.Config, feedback service.FeedbackService, hub *ws.Hub, drainWorker *service.DrainWorker, logger *logrus.Logger) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		logger:      logger,
		cfg:         cfg,
		feedback:    feedback,
		hub:         hub,
		drainWorker: drainWorker,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// The WebSocket attach bypasses the observability middleware: the
	// response wrapper does not support hijacking the connection.
	s.router.HandleFunc("/ws", s.handleAttach()).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.ObservabilityMiddleware(s.logger))
	api.HandleFunc("/feedback", s.handleSendFeedback()).Methods(http.MethodPost)
	api.HandleFunc("/feedback/{id}/read", s.handleMarkRead()).Methods(http.MethodPost)
	api.HandleFunc("/threads/{threadId}/read", s.handleMarkAllRead()).Methods(http.MethodPost)
	api.HandleFunc("/threads/{threadId}/messages", s.handleGetThread()).Methods(http.MethodGet)
	api.HandleFunc("/unread/{recipientId}", s.handleUnreadCount()).Methods(http.MethodGet)
	api.HandleFunc("/reconnect", s.handleReconnect()).Methods(http.MethodPost)

	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.WithError(err).Debug("Failed to write health response")
		}
	}
}

func (s *Server) handleSendFeedback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		msg, outcome, err := s.feedback.SendFeedback(r.Context(), &req)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, map[string]interface{}{
			"message": msg,
			"outcome": outcome,
		})
	}
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["id"]
		recipientID := r.URL.Query().Get("recipientId")

		if err := s.feedback.MarkRead(r.Context(), messageID, recipientID); err != nil {
			s.writeServiceError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func (s *Server) handleMarkAllRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := mux.Vars(r)["threadId"]
		recipientID := r.URL.Query().Get("recipientId")

		if err := s.feedback.MarkAllRead(r.Context(), threadID, recipientID); err != nil {
			s.writeServiceError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func (s *Server) handleGetThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := mux.Vars(r)["threadId"]

		messages, err := s.feedback.GetThread(r.Context(), threadID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
	}
}

func (s *Server) handleUnreadCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipientID := mux.Vars(r)["recipientId"]

		count, err := s.feedback.UnreadCount(r.Context(), recipientID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]int64{"unread": count})
	}
}

// handleReconnect is the inbound trigger from the session collaborator: a
// session-established event schedules a backlog drain for the recipient. The
// response never waits for the drain.
func (s *Server) handleReconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RecipientID string `json:"recipientId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RecipientID == "" {
			s.writeError(w, http.StatusBadRequest, "recipientId is required")
			return
		}

		s.drainWorker.OnReconnect(req.RecipientID)
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	}
}

func (s *Server) handleAttach() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipientID := r.URL.Query().Get("recipientId")
		if recipientID == "" {
			recipientID = r.Header.Get("X-Recipient-ID")
		}
		if recipientID == "" {
			s.writeError(w, http.StatusBadRequest, "recipientId is required")
			return
		}

		if err := s.hub.Attach(w, r, recipientID); err != nil {
			s.logger.WithError(err).WithField(service.LogFieldRecipient,
				service.SanitizeRecipientID(recipientID)).Warn("WebSocket attach failed")
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeValidationFailed:
		s.writeError(w, http.StatusBadRequest, err.Error())
	case apperrors.ErrCodeNotFound:
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.WithError(err).Error("Request failed")
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
