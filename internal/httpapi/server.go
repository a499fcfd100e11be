// Package httpapi is the external facade: table creation and lookup over
// REST, plus the websocket entry point for the realtime session protocol.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/holdfast-game/holdfast/internal/config"
	"github.com/holdfast-game/holdfast/internal/game"
	"github.com/holdfast-game/holdfast/internal/token"
	"github.com/holdfast-game/holdfast/internal/ws"
)

// Server bundles the REST handlers and the websocket upgrader.
type Server struct {
	manager  *game.Manager
	upgrader *ws.Upgrader
	limits   config.Limits
	baseURL  string
}

// NewServer builds the facade.
func NewServer(manager *game.Manager, upgrader *ws.Upgrader, limits config.Limits, baseURL string) *Server {
	return &Server{
		manager:  manager,
		upgrader: upgrader,
		limits:   limits,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Handler returns the CORS-wrapped route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tables", s.handleCreateTable)
	mux.HandleFunc("GET /api/tables/{id}", s.handleTableInfo)
	mux.HandleFunc("GET /ws/tables/{id}", s.handleWebsocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

type createTableRequest struct {
	Name           string `json:"name"`
	Password       string `json:"password,omitempty"`
	StartingTimeMs int64  `json:"startingTimeMs"`
	Rounds         int    `json:"rounds"`
	MaxPlayers     int    `json:"maxPlayers"`
	GracePeriodMs  int64  `json:"gracePeriodMs"`
}

type createTableResponse struct {
	TableID    string `json:"tableId"`
	HostSecret string `json:"hostSecret"`
	JoinURL    string `json:"joinUrl"`
}

type tableInfoResponse struct {
	Name             string `json:"name"`
	PlayerCount      int    `json:"playerCount"`
	MaxPlayers       int    `json:"maxPlayers"`
	Status           string `json:"status"`
	PasswordRequired bool   `json:"passwordRequired"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleCreateTable validates each setting independently and spawns a
// table actor. The response carries the host secret; the table info
// endpoint never does.
func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidSettings", "malformed request body")
		return
	}
	if msg := s.validate(req); msg != "" {
		writeError(w, http.StatusBadRequest, "InvalidSettings", msg)
		return
	}

	settings := game.Settings{
		Name:         strings.TrimSpace(req.Name),
		StartingBank: time.Duration(req.StartingTimeMs) * time.Millisecond,
		TotalRounds:  req.Rounds,
		MaxPlayers:   req.MaxPlayers,
		GracePeriod:  time.Duration(req.GracePeriodMs) * time.Millisecond,
	}
	if req.Password != "" {
		hash, err := token.HashPassword(req.Password)
		if err != nil {
			log.Error().Err(err).Msg("hash table password")
			writeError(w, http.StatusInternalServerError, "InternalError", "could not create table")
			return
		}
		settings.PasswordHash = hash
	}

	t, hostSecret := s.manager.CreateTable(settings)
	info := t.Info()
	writeJSON(w, http.StatusCreated, createTableResponse{
		TableID:    info.ID,
		HostSecret: hostSecret,
		JoinURL:    fmt.Sprintf("%s/ws/tables/%s", s.baseURL, info.ID),
	})
}

func (s *Server) validate(req createTableRequest) string {
	name := strings.TrimSpace(req.Name)
	l := s.limits
	switch {
	case name == "" || len(name) > l.MaxNameLength:
		return fmt.Sprintf("name must be 1-%d characters", l.MaxNameLength)
	case req.StartingTimeMs < l.MinStartingTimeMs || req.StartingTimeMs > l.MaxStartingTimeMs:
		return fmt.Sprintf("startingTimeMs must be between %d and %d", l.MinStartingTimeMs, l.MaxStartingTimeMs)
	case req.Rounds < l.MinRounds || req.Rounds > l.MaxRounds:
		return fmt.Sprintf("rounds must be between %d and %d", l.MinRounds, l.MaxRounds)
	case req.MaxPlayers < l.MinPlayers || req.MaxPlayers > l.MaxPlayers:
		return fmt.Sprintf("maxPlayers must be between %d and %d", l.MinPlayers, l.MaxPlayers)
	case req.GracePeriodMs < l.MinGracePeriodMs || req.GracePeriodMs > l.MaxGracePeriodMs:
		return fmt.Sprintf("gracePeriodMs must be between %d and %d", l.MinGracePeriodMs, l.MaxGracePeriodMs)
	}
	return ""
}

func (s *Server) handleTableInfo(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeGameError(w, err)
		return
	}
	info := t.Info()
	writeJSON(w, http.StatusOK, tableInfoResponse{
		Name:             info.Name,
		PlayerCount:      info.PlayerCount,
		MaxPlayers:       info.MaxPlayers,
		Status:           string(info.Status),
		PasswordRequired: info.PasswordRequired,
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeGameError(w, err)
		return
	}
	if err := s.upgrader.Serve(w, r, t); err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
	}
}

func writeGameError(w http.ResponseWriter, err error) {
	var gerr *game.Error
	if errors.As(err, &gerr) {
		status := http.StatusBadRequest
		if gerr == game.ErrTableNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, gerr.Code, gerr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "InternalError", "unexpected error")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}
