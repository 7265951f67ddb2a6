// Package api implements the Status API (component C7): a single resource,
// GET /v1/status, plus a liveness probe at GET /. Grounded on
// internal/rpc/core/env.go's net/http.ServeMux + rs/cors wiring, with the
// teacher's full JSON-RPC method dispatch (rpc/jsonrpc/server) dropped in
// favor of these two plain REST routes, which is all spec.md §6 calls for.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/lightanchor/anchord/coordinator"
	"github.com/lightanchor/anchord/internal/config"
	"github.com/lightanchor/anchord/internal/logging"
	"github.com/lightanchor/anchord/trust"
)

// Server serves the HTTP status surface over a net/http.ServeMux wrapped in
// a permissive, deployment-gated CORS handler.
type Server struct {
	store       *trust.Store
	coordinator *coordinator.Coordinator
	params      config.Parameters
	logger      logging.Logger
	handler     http.Handler
}

// New constructs a Server. If corsEnabled is false the handler skips the
// CORS middleware entirely.
func New(
	store *trust.Store,
	coord *coordinator.Coordinator,
	params config.Parameters,
	logger logging.Logger,
	corsEnabled bool,
) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{store: store, coordinator: coord, params: params, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)

	var root http.Handler = mux
	if corsEnabled {
		root = cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet},
		}).Handler(mux)
	}
	s.handler = root
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

type statusResponse struct {
	BlockHeight    string `json:"block_height"`
	BlockHash      string `json:"block_hash"`
	BlockTimestamp string `json:"block_timestamp"`
}

// handleStatus implements spec §4.6: read C5, optionally nudge C6 if the
// state looks stale, then respond with whatever C5 holds regardless of
// whether the nudged sync completed in time.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.store.Read()

	if state.Block != nil && s.coordinator.Phase() != coordinator.Halted {
		if time.Since(state.LastSyncAt) > s.params.FreshnessThreshold {
			ctx, cancel := r.Context(), func() {}
			if s.params.APITimeout > 0 {
				var c func()
				ctx, c = context.WithTimeout(r.Context(), s.params.APITimeout)
				cancel = c
			}
			s.coordinator.RequestSync(ctx)
			cancel()
			state = s.store.Read()
		}
	}

	if state.Block == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	resp := statusResponse{
		BlockHeight:    strconv.FormatInt(state.Block.Height, 10),
		BlockHash:      fmt.Sprintf("%X", state.Block.Hash()),
		BlockTimestamp: state.Block.Time.UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode status response", "err", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "anchord is running")
}
