// Package api serves the smokers table over HTTP: display queries, the
// supplier endpoint, the live event stream and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/AaronLay10/SmokersTable/internal/events"
	"github.com/AaronLay10/SmokersTable/internal/log"
	"github.com/AaronLay10/SmokersTable/internal/simulation"
	"github.com/AaronLay10/SmokersTable/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server. Zero values are usable.
type Options struct {
	Port    int
	Auth    *Auth
	TLS     *TLSConfig
	Metrics *Metrics
	// SupplyLimit caps POST /table/ingredients per client IP per SupplyWindow.
	SupplyLimit  int
	SupplyWindow time.Duration
	// MQTTConnected reports broker connectivity for /health; nil means MQTT
	// is not in use.
	MQTTConnected func() bool
}

// Server is the HTTP front of one simulation.
type Server struct {
	sim    *simulation.Simulation
	opts   Options
	router chi.Router
	logger zerolog.Logger
}

// NewServer builds the router for sim.
func NewServer(sim *simulation.Simulation, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.SupplyLimit == 0 {
		opts.SupplyLimit = 20
	}
	if opts.SupplyWindow == 0 {
		opts.SupplyWindow = time.Second
	}

	s := &Server{
		sim:    sim,
		opts:   opts,
		logger: log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", s.handleHealth)
	r.Get("/smokers", s.handleSmokers)
	r.Get("/smokers/{id}", s.handleSmoker)
	r.Get("/table", s.handleTable)
	r.With(httprate.LimitByIP(s.opts.SupplyLimit, s.opts.SupplyWindow)).
		Post("/table/ingredients", s.opts.Auth.RequireSupplier(s.handleSupply))
	r.Get("/events", s.handleEvents)
	r.Get("/events/history", s.opts.Auth.RequireAdmin(s.handleEventHistory))
	r.Get("/ws/events", s.handleWSEvents)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsCfg, err := s.opts.TLS.Load()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Bool("tls", tlsCfg != nil).Msg("API listening")
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// The websocket handlers only return once their subscriptions close.
	events.CloseAllSubscribers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("API stopped")
	return nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

type HealthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Hostname      string `json:"hostname"`
	SimulationID  string `json:"simulation_id"`
	EventLog      bool   `json:"event_log"`
	MQTTConnected *bool  `json:"mqtt_connected,omitempty"`
	Timestamp     string `json:"ts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:       "ok",
		Service:      "smokers",
		Hostname:     host,
		SimulationID: s.sim.ID(),
		EventLog:     events.GetStore() != nil,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if s.opts.MQTTConnected != nil {
		connected := s.opts.MQTTConnected()
		resp.MQTTConnected = &connected
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSmokers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Statuses())
}

func (s *Server) handleSmoker(w http.ResponseWriter, r *http.Request) {
	sm, ok := s.sim.Smoker(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "smoker not found")
		return
	}
	writeJSON(w, http.StatusOK, sm.Status())
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Table().Snapshot())
}

// SupplyRequest adds one ingredient, or places a full pair atomically.
type SupplyRequest struct {
	Ingredients []string `json:"ingredients"`
}

type SupplyResponse struct {
	OK    bool                   `json:"ok"`
	Error string                 `json:"error,omitempty"`
	Table *simulation.TableState `json:"table,omitempty"`
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	var req SupplyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.supplyRejected(w, http.StatusBadRequest, "invalid JSON", nil)
		return
	}

	ings, err := s.sim.Catalog().Resolve(req.Ingredients...)
	if err != nil {
		s.supplyRejected(w, http.StatusBadRequest, err.Error(), req.Ingredients)
		return
	}

	table := s.sim.Table()
	switch len(ings) {
	case 1:
		err = table.AddIngredient(ings[0])
	case simulation.Capacity:
		err = table.Place(ings[0], ings[1])
	default:
		s.supplyRejected(w, http.StatusBadRequest, "ingredients must hold one or two entries", req.Ingredients)
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, simulation.ErrCapacityExceeded) ||
			errors.Is(err, simulation.ErrTableBusy) ||
			errors.Is(err, simulation.ErrTableOccupied) {
			status = http.StatusConflict
		}
		writeJSON(w, status, SupplyResponse{OK: false, Error: err.Error()})
		return
	}

	st := table.Snapshot()
	writeJSON(w, http.StatusOK, SupplyResponse{OK: true, Table: &st})
}

func (s *Server) supplyRejected(w http.ResponseWriter, status int, reason string, ingredients []string) {
	events.Emit("warning", "supplier.rejected", reason, map[string]interface{}{
		"source":      "http",
		"ingredients": ingredients,
	})
	writeJSON(w, status, SupplyResponse{OK: false, Error: reason})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot())
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	store := events.GetStore()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "event log disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	rows, err := store.Query(storage.ClampLimit(limit))
	if err != nil {
		s.logger.Error().Err(err).Msg("event history query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if rows == nil {
		rows = []storage.EventRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
