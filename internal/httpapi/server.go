package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/indicators/internal/analytics"
	"github.com/agentworkforce/indicators/internal/resultsync"
)

type ServerConfig struct {
	// JWTSecret enables bearer auth. Reads need results:read and writes need
	// results:write. Empty disables auth.
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	WorstLimit     int
	StreamOrigins  []string
	RequestTimeout time.Duration
}

type Server struct {
	coord       *resultsync.Coordinator
	cfg         ServerConfig
	rateLimiter *rateLimiter
	stream      *streamHub
}

func NewServer(coord *resultsync.Coordinator) *Server {
	return NewServerWithConfig(coord, ServerConfig{})
}

func NewServerWithConfig(coord *resultsync.Coordinator, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.WorstLimit <= 0 {
		cfg.WorstLimit = analytics.DefaultWorstLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		coord:       coord,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		stream:      newStreamHub(),
	}
	coord.Subscribe(s.stream.publish)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	w.Header().Set("X-Correlation-Id", correlationID)

	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	var route, requiredScope string
	switch {
	case len(parts) == 2 && parts[1] == "state" && r.Method == http.MethodGet:
		route, requiredScope = "state", scopeResultsRead
	case len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodGet:
		route, requiredScope = "results", scopeResultsRead
	case len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodPost:
		route, requiredScope = "create", scopeResultsWrite
	case len(parts) == 3 && parts[1] == "results" && r.Method == http.MethodPut:
		route, requiredScope = "update", scopeResultsWrite
	case len(parts) == 3 && parts[1] == "results" && r.Method == http.MethodDelete:
		route, requiredScope = "delete", scopeResultsWrite
	case len(parts) == 2 && parts[1] == "refresh" && r.Method == http.MethodPost:
		route, requiredScope = "refresh", scopeResultsWrite
	case len(parts) == 3 && parts[1] == "views" && r.Method == http.MethodGet:
		route, requiredScope = "view", scopeResultsRead
	case len(parts) == 2 && parts[1] == "stream" && r.Method == http.MethodGet:
		route, requiredScope = "stream", scopeResultsRead
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	if s.cfg.JWTSecret != "" {
		if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC()); authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
			return
		}
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), time.Now()) {
		w.Header().Set("Retry-After", strconv.Itoa(s.rateLimiter.retryAfterSeconds()))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	switch route {
	case "state":
		writeJSON(w, http.StatusOK, s.coord.Status())
	case "results":
		s.handleResults(w, r, correlationID)
	case "create":
		s.handleCreate(w, r, correlationID)
	case "update":
		s.handleUpdate(w, r, parts[2], correlationID)
	case "delete":
		s.handleDelete(w, r, parts[2], correlationID)
	case "refresh":
		s.handleRefresh(w, r, correlationID)
	case "view":
		s.handleView(w, r, parts[2], correlationID)
	case "stream":
		s.handleStream(w, r)
	}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, correlationID string) {
	criteria, err := parseCriteria(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	set := s.coord.Current()
	results := analytics.Filter(currentResults(set), criteria)
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   nonNil(results),
		"count":     len(results),
		"fetchedAt": fetchedAt(set),
		"state":     s.coord.Status().State,
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, view, correlationID string) {
	query := r.URL.Query()
	criteria, err := parseCriteria(query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	set := s.coord.Current()
	all := currentResults(set)
	filtered := analytics.Filter(all, criteria)

	switch view {
	case "summary":
		writeJSON(w, http.StatusOK, analytics.Summarize(filtered))
	case "by-site":
		writeJSON(w, http.StatusOK, analytics.BreakdownBySite(filtered))
	case "by-indicator":
		writeJSON(w, http.StatusOK, analytics.BreakdownByIndicator(filtered))
	case "worst":
		n, err := parseOptionalBoundedInt(query.Get("n"), s.cfg.WorstLimit, 1, 1000)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid n query", correlationID)
			return
		}
		writeJSON(w, http.StatusOK, analytics.WorstPerformers(filtered, n))
	case "timeseries":
		writeJSON(w, http.StatusOK, analytics.BuildTimeSeries(filtered))
	case "charts":
		writeJSON(w, http.StatusOK, analytics.Charts(filtered))
	case "options":
		// Pickers list everything available, not just what the current
		// criteria leave.
		writeJSON(w, http.StatusOK, analytics.Options(all))
	case "dashboard":
		n, err := parseOptionalBoundedInt(query.Get("n"), s.cfg.WorstLimit, 1, 1000)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid n query", correlationID)
			return
		}
		writeJSON(w, http.StatusOK, analytics.BuildDashboard(set, criteria, n))
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown view: "+view, correlationID)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var payload map[string]any
	if !s.decodeJSONBody(w, r, correlationID, &payload) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	set, err := s.coord.Create(ctx, payload)
	if err != nil {
		writeCoordinatorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse(s.coord.Status(), set))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, rawID, correlationID string) {
	id, ok := parseResultID(w, rawID, correlationID)
	if !ok {
		return
	}
	var payload map[string]any
	if !s.decodeJSONBody(w, r, correlationID, &payload) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	set, err := s.coord.Update(ctx, id, payload)
	if err != nil {
		writeCoordinatorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse(s.coord.Status(), set))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, rawID, correlationID string) {
	id, ok := parseResultID(w, rawID, correlationID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	set, err := s.coord.Delete(ctx, id)
	if err != nil {
		writeCoordinatorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse(s.coord.Status(), set))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, correlationID string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	set, err := s.coord.Refresh(ctx)
	if err != nil {
		writeCoordinatorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse(s.coord.Status(), set))
}

func mutationResponse(status resultsync.Status, set *analytics.ResultSet) map[string]any {
	return map[string]any{
		"status": status,
		"count":  set.Len(),
	}
}

func writeCoordinatorError(w http.ResponseWriter, err error, correlationID string) {
	var verr *resultsync.ValidationError
	var httpErr *resultsync.HTTPError
	switch {
	case errors.Is(err, resultsync.ErrBusy):
		writeError(w, http.StatusConflict, "busy", err.Error(), correlationID)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":          "validation_failed",
			"message":       verr.Error(),
			"fields":        verr.Fields,
			"correlationId": correlationID,
		})
	case errors.Is(err, resultsync.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", err.Error(), correlationID)
	case errors.As(err, &httpErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"code":           "upstream_error",
			"message":        err.Error(),
			"upstreamStatus": httpErr.StatusCode,
			"correlationId":  correlationID,
		})
	default:
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), correlationID)
	}
}

// parseCriteria reads site, indicator, unit, frequency and year. Empty values
// leave the criterion unset.
func parseCriteria(query url.Values) (analytics.Criteria, error) {
	var c analytics.Criteria
	var err error
	if c.SiteID, err = parseOptionalID(query.Get("site")); err != nil {
		return c, fmt.Errorf("invalid site query")
	}
	if c.IndicatorID, err = parseOptionalID(query.Get("indicator")); err != nil {
		return c, fmt.Errorf("invalid indicator query")
	}
	if c.Year, err = parseOptionalBoundedInt(query.Get("year"), 0, 1900, 2100); err != nil {
		return c, fmt.Errorf("invalid year query")
	}
	c.MeasurementUnit = strings.TrimSpace(query.Get("unit"))
	if raw := strings.TrimSpace(query.Get("frequency")); raw != "" {
		freq, ok := analytics.LookupFrequency(raw)
		if !ok {
			return c, fmt.Errorf("invalid frequency query")
		}
		c.Frequency = freq
	}
	return c, nil
}

func parseOptionalID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func parseResultID(w http.ResponseWriter, raw, correlationID string) (int64, bool) {
	id, err := parseOptionalID(raw)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid result id", correlationID)
		return 0, false
	}
	return id, true
}

func currentResults(set *analytics.ResultSet) []analytics.NormalizedResult {
	if set == nil {
		return nil
	}
	return set.Results
}

func fetchedAt(set *analytics.ResultSet) any {
	if set == nil || set.FetchedAt.IsZero() {
		return nil
	}
	return set.FetchedAt
}

func nonNil(results []analytics.NormalizedResult) []analytics.NormalizedResult {
	if results == nil {
		return []analytics.NormalizedResult{}
	}
	return results
}

func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return "corr_" + uuid.NewString()
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func parseOptionalBoundedInt(raw string, fallback, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if parsed < min || parsed > max {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", parsed, min, max)
	}
	return parsed, nil
}
