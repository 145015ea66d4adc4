package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/healthapp/healthapp/internal/alerter"
	"github.com/healthapp/healthapp/internal/logbuffer"
	"github.com/healthapp/healthapp/internal/store"
	"github.com/healthapp/healthapp/internal/types"
	"github.com/healthapp/healthapp/internal/version"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
	defaultLogLimit   = 100
	requestTimeout    = 10 * time.Second
)

// StatusSource reports the most recent reconciliation cycle.
type StatusSource interface {
	Last() (alerter.LastRun, bool)
}

// ReloadFunc re-reads configuration and applies it.
type ReloadFunc func() error

// Server provides the read-only HTTP API
type Server struct {
	heartbeats store.HeartbeatStore
	alerts     store.AlertRepository
	logger     zerolog.Logger
	startTime  time.Time
	now        func() time.Time

	mu             sync.RWMutex
	staleness      time.Duration
	status         StatusSource
	logBuffer      *logbuffer.Buffer
	metricsHandler http.Handler
	reloadFunc     ReloadFunc

	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(heartbeats store.HeartbeatStore, alerts store.AlertRepository, staleness time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		heartbeats: heartbeats,
		alerts:     alerts,
		staleness:  staleness,
		logger:     logger.With().Str("component", "api").Logger(),
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// SetStaleness changes the threshold used to mark servers good.
func (s *Server) SetStaleness(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleness = d
}

// SetStatusSource attaches the scheduler for /status.
func (s *Server) SetStatusSource(src StatusSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = src
}

// SetLogBuffer sets the buffer served by /api/logs.
func (s *Server) SetLogBuffer(lb *logbuffer.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logBuffer = lb
}

// SetMetricsHandler mounts h at /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsHandler = h
}

// SetReloadFunc sets the function to call when config reload is requested
func (s *Server) SetReloadFunc(fn ReloadFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadFunc = fn
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/logs", s.handleLogs)
		r.Post("/reload", s.handleReload)

		r.Route("/v0", func(r chi.Router) {
			r.Get("/servers", s.handleServers)
			r.Get("/alerts", s.handleAlerts)
			r.Get("/alert/{alertID}", s.handleAlert)
		})
	})
	return r
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("address", addr).Msg("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
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
			Msg("HTTP request")
	})
}

// handleHealth returns service health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

type cycleStatus struct {
	At       time.Time `json:"at"`
	New      int       `json:"new"`
	Ongoing  int       `json:"ongoing"`
	Closed   int       `json:"closed"`
	Firing   int       `json:"firing"`
	Duration string    `json:"duration"`
	Error    string    `json:"error,omitempty"`
}

// handleStatus returns version, uptime and the last cycle summary
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	src := s.status
	s.mu.RUnlock()

	status := map[string]interface{}{
		"time":    s.now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"version": version.Get(),
	}

	if src != nil {
		if last, ok := src.Last(); ok {
			cs := cycleStatus{
				At:       last.At.UTC(),
				New:      last.Result.New,
				Ongoing:  last.Result.Ongoing,
				Closed:   last.Result.Closed,
				Firing:   last.Result.Firing(),
				Duration: last.Result.Duration.String(),
			}
			if last.Err != nil {
				cs.Error = last.Err.Error()
			}
			status["last_cycle"] = cs
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.metricsHandler
	s.mu.RUnlock()
	if h == nil {
		writeError(w, http.StatusNotFound, "metrics not enabled")
		return
	}
	h.ServeHTTP(w, r)
}

// handleLogs returns recent log entries, optionally filtered by minimum level
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	lb := s.logBuffer
	s.mu.RUnlock()

	if lb == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"logs": []logbuffer.Entry{}})
		return
	}

	limit, err := parseLimit(r, defaultLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries := lb.Filter(r.URL.Query().Get("level"), limit)
	if entries == nil {
		entries = []logbuffer.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

// handleReload re-reads the configuration
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	fn := s.reloadFunc
	s.mu.RUnlock()

	if fn == nil {
		writeError(w, http.StatusNotImplemented, "reload not configured")
		return
	}

	if err := fn(); err != nil {
		s.logger.Error().Err(err).Msg("Config reload failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info().Msg("Config reloaded via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

type serverInfo struct {
	Name     string `json:"name"`
	Time     string `json:"time"`
	LastSeen int64  `json:"last_seen"`
	Good     bool   `json:"good"`
}

// handleServers lists every reporting server and whether it is fresh
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	records, err := s.heartbeats.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list servers")
		writeError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}

	s.mu.RLock()
	goodAfter := s.now().Add(-s.staleness).Unix()
	s.mu.RUnlock()

	servers := make([]serverInfo, 0, len(records))
	for _, rec := range records {
		servers = append(servers, serverInfo{
			Name:     rec.EntityID,
			Time:     formatTime(rec.LastSeen),
			LastSeen: rec.LastSeen,
			Good:     rec.LastSeen >= goodAfter,
		})
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })

	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": servers})
}

// handleAlerts returns all active alerts and the most recent historical ones
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := parseLimit(r, defaultAlertLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	firing, err := s.alerts.GetFiring(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read firing alerts")
		writeError(w, http.StatusInternalServerError, "failed to read alerts")
		return
	}

	stateNames := make([]string, 0, len(firing))
	for name := range firing {
		stateNames = append(stateNames, name)
	}
	sort.Strings(stateNames)

	active := make([]map[string]interface{}, 0, len(firing))
	activeIDs := make(map[string]bool, len(firing))
	for _, name := range stateNames {
		id := firing[name]
		activeIDs[id] = true
		info, err := s.alertInfo(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("alert_id", id).Msg("Failed to read alert")
			writeError(w, http.StatusInternalServerError, "failed to read alerts")
			return
		}
		active = append(active, info)
	}

	// active alerts also sit in the history index; over-fetch to fill the page
	var ids []string
	if limit > 0 {
		ids, err = s.alerts.ListHistory(ctx, limit+len(activeIDs))
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read alert history")
			writeError(w, http.StatusInternalServerError, "failed to read alerts")
			return
		}
	}

	historical := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		if len(historical) >= limit {
			break
		}
		if activeIDs[id] {
			continue
		}
		info, err := s.alertInfo(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("alert_id", id).Msg("Failed to read alert")
			writeError(w, http.StatusInternalServerError, "failed to read alerts")
			return
		}
		historical = append(historical, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":     active,
		"historical": historical,
	})
}

// handleAlert returns one alert
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	info, err := s.alertInfo(r.Context(), alertID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("alert_id", alertID).Msg("Failed to read alert")
		writeError(w, http.StatusInternalServerError, "failed to read alert")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// alertInfo renders a stored alert for display. Records without a state
// name are treated as missing.
func (s *Server) alertInfo(ctx context.Context, alertID string) (map[string]interface{}, error) {
	fields, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if fields[types.FieldStateName] == "" {
		return nil, store.ErrNotFound
	}

	alert := types.AlertFromFields(alertID, fields)

	info := make(map[string]interface{}, len(alert.Description)+10)
	for k, v := range alert.Description {
		info[k] = v
	}

	end := alert.EndTime
	info["ongoing"] = alert.Ongoing()
	if alert.Ongoing() {
		end = s.now().Unix()
		info["end_time"] = "Ongoing"
	} else {
		info["end_time"] = formatTime(alert.EndTime)
	}

	elapsed := end - alert.StartTime
	info["alert_id"] = alertID
	info["state_name"] = alert.StateName
	info["start_time"] = formatTime(alert.StartTime)
	info["duration"] = (time.Duration(elapsed) * time.Second).String()
	info["duration_seconds"] = elapsed

	kind, entity := types.SplitStateKey(alert.StateName)
	if kind == types.StateKindStale {
		info["human_bad"] = "Offline"
	}

	server := map[string]interface{}{"name": entity}
	if entity != "" {
		lastSeen, ok, err := s.heartbeats.LastSeen(ctx, entity)
		if err != nil {
			return nil, err
		}
		if ok {
			server["last_seen"] = lastSeen
			server["time"] = formatTime(lastSeen)
		}
	}
	info["server"] = server

	return info, nil
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	if n > maxAlertLimit {
		n = maxAlertLimit
	}
	return n, nil
}

func formatTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
