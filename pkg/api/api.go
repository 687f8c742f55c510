// Package api serves the daemon's local read-only status API, used by the
// kiosk UI next to the reader: current readers, recent taps, and a websocket
// stream of tap events.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"

	"github.com/checkinhq/checkind/pkg/config"
	"github.com/checkinhq/checkind/pkg/database"
	"github.com/checkinhq/checkind/pkg/service"
)

type Server struct {
	cfg *config.UserConfig
	st  *service.State
	db  *database.Database
	m   *melody.Melody
}

func NewServer(cfg *config.UserConfig, st *service.State, db *database.Database) *Server {
	return &Server{
		cfg: cfg,
		st:  st,
		db:  db,
		m:   melody.New(),
	}
}

// Broadcast pushes one tap outcome to every connected websocket client.
func (s *Server) Broadcast(entry database.HistoryEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode tap event")
		return
	}
	if err := s.m.Broadcast(data); err != nil {
		log.Debug().Err(err).Msg("failed to broadcast tap event")
	}
}

// Start blocks serving the API until the listener fails.
func (s *Server) Start() error {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/history", s.handleHistory)
	r.Get("/api/events", func(w http.ResponseWriter, req *http.Request) {
		if err := s.m.HandleRequest(w, req); err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
		}
	})

	addr := fmt.Sprintf(":%d", s.cfg.GetServerPort())
	log.Info().Msgf("serving status api on %s", addr)
	return http.ListenAndServe(addr, r)
}

type statusResponse struct {
	Version  string            `json:"version"`
	Readers  []string          `json:"readers"`
	LastScan *service.LastScan `json:"lastScan"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, statusResponse{
		Version:  config.Version,
		Readers:  s.st.Readers(),
		LastScan: s.st.LastScan(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.GetHistory()
	if err != nil {
		log.Error().Err(err).Msg("failed to read history")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "failed to read history"})
		return
	}

	render.JSON(w, r, entries)
}
