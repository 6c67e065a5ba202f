// Package api exposes the HTTP surface: session pre-minting for shareable
// join links, the station script registry, and component health. No
// simulation logic lives here; handlers translate between JSON and the
// mediator, loader and store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"oscehub/internal/mediator"
	"oscehub/internal/station"
	"oscehub/pkg/interfaces"
	"oscehub/pkg/types"
)

// Server routes HTTP requests. The WebSocket endpoint is mounted alongside
// the REST routes so the whole surface lives behind one listener.
type Server struct {
	mediator  *mediator.Mediator
	loader    *station.Loader
	store     interfaces.Store
	wsHandler http.Handler
	router    *mux.Router
}

// NewServer wires the HTTP routes.
func NewServer(med *mediator.Mediator, loader *station.Loader, store interfaces.Store, wsHandler http.Handler) *Server {
	s := &Server{
		mediator:  med,
		loader:    loader,
		store:     store,
		wsHandler: wsHandler,
		router:    mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.jsonMiddleware)
	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/stations/{id}", s.putStation).Methods(http.MethodPut)
	api.HandleFunc("/stations/{id}", s.getStation).Methods(http.MethodGet)

	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)
	if s.wsHandler != nil {
		s.router.Handle("/ws", s.wsHandler)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateSessionRequest struct {
	StationID        string `json:"station_id"`
	DurationMinutes  int    `json:"duration_minutes"`
	RequireEvaluator bool   `json:"require_evaluator"`
}

type CreateSessionResponse struct {
	SessionID string         `json:"session_id"`
	Session   *types.Session `json:"session"`
}

type SessionResponse struct {
	Session         *types.Session      `json:"session"`
	Participants    []types.Participant `json:"participants"`
	ConnectionCount int                 `json:"connection_count"`
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Sessions  map[string]int `json:"sessions"`
	Stations  int            `json:"stations_cached"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// createSession pre-mints a session so its ID can be shared as a join link
// before any participant connects.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.StationID == "" {
		s.sendError(w, "Station ID is required", http.StatusBadRequest)
		return
	}

	session, err := s.mediator.CreateSession(r.Context(), req.StationID, req.DurationMinutes*60, req.RequireEvaluator)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidDuration):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, interfaces.ErrStationNotFound):
			s.sendError(w, "Station not found", http.StatusNotFound)
		default:
			s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateSessionResponse{SessionID: session.ID, Session: session})
}

// getSession returns the live session snapshot with its connection count.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	session, participants, err := s.mediator.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, mediator.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Session:         session,
		Participants:    participants,
		ConnectionCount: s.mediator.ConnectionCount(sessionID),
	})
}

// putStation registers or replaces a station script. The path ID wins over
// any ID in the body so a script cannot be registered under a foreign key.
func (s *Server) putStation(w http.ResponseWriter, r *http.Request) {
	stationID := mux.Vars(r)["id"]
	if !types.IsValidStationID(stationID) {
		s.sendError(w, "Invalid station ID", http.StatusBadRequest)
		return
	}

	var script types.StationScript
	if err := json.NewDecoder(r.Body).Decode(&script); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	script.ID = stationID

	if err := s.loader.Register(r.Context(), &script); err != nil {
		if errors.Is(err, types.ErrEmptyChecklist) || errors.Is(err, types.ErrInvalidStationID) || errors.Is(err, types.ErrInvalidScore) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
		} else {
			log.Printf("Failed to register station: %v station_id=%s", err, stationID)
			s.sendError(w, "Failed to register station", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"station_id": stationID})
}

func (s *Server) getStation(w http.ResponseWriter, r *http.Request) {
	stationID := mux.Vars(r)["id"]

	script, err := s.loader.Load(r.Context(), stationID)
	if err != nil {
		if errors.Is(err, interfaces.ErrStationNotFound) {
			s.sendError(w, "Station not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to load station", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(script)
}

// healthCheck validates the store and reports mediator counters. Returns
// 503 when the store is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Sessions:  s.mediator.Stats(),
		Stations:  s.loader.CacheSize(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
