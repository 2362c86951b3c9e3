package resultsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/indicators/internal/analytics"
)

var (
	ErrBusy         = errors.New("a results mutation is already in flight")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidInput = errors.New("invalid input")
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ValidationError carries field-level messages, either from the
// collaborator or from local payload checks.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		msgs := strings.Join(e.Fields[key], ", ")
		if key == "non_field_errors" || key == "detail" {
			parts = append(parts, msgs)
			continue
		}
		parts = append(parts, key+": "+msgs)
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	for _, existing := range e.Fields[field] {
		if existing == msg {
			return
		}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

type ResultsClient interface {
	ListResults(ctx context.Context) ([]analytics.RawRecord, error)
	ListDetailedResults(ctx context.Context) ([]analytics.RawRecord, error)
	ListIndicators(ctx context.Context) ([]analytics.Indicator, error)
	ListHeadquarters(ctx context.Context) ([]analytics.Site, error)
	CreateResult(ctx context.Context, payload map[string]any) (analytics.RawRecord, error)
	UpdateResult(ctx context.Context, id int64, payload map[string]any) (analytics.RawRecord, error)
	DeleteResult(ctx context.Context, id int64) error
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000/api"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) SetMaxRetries(n int) {
	if n < 0 {
		n = 0
	}
	c.maxRetries = n
}

func (c *HTTPClient) ListResults(ctx context.Context) ([]analytics.RawRecord, error) {
	return c.list(ctx, "/results")
}

func (c *HTTPClient) ListDetailedResults(ctx context.Context) ([]analytics.RawRecord, error) {
	return c.list(ctx, "/results/detailed")
}

func (c *HTTPClient) ListIndicators(ctx context.Context) ([]analytics.Indicator, error) {
	raws, err := c.list(ctx, "/indicators")
	if err != nil {
		return nil, err
	}
	out := make([]analytics.Indicator, 0, len(raws))
	for _, raw := range raws {
		out = append(out, analytics.ParseIndicator(raw))
	}
	return out, nil
}

func (c *HTTPClient) ListHeadquarters(ctx context.Context) ([]analytics.Site, error) {
	raws, err := c.list(ctx, "/headquarters")
	if err != nil {
		return nil, err
	}
	out := make([]analytics.Site, 0, len(raws))
	for _, raw := range raws {
		out = append(out, analytics.ParseSite(raw))
	}
	return out, nil
}

func (c *HTTPClient) CreateResult(ctx context.Context, payload map[string]any) (analytics.RawRecord, error) {
	var out analytics.RawRecord
	err := c.doJSON(ctx, http.MethodPost, "/results", payload, &out)
	return out, err
}

func (c *HTTPClient) UpdateResult(ctx context.Context, id int64, payload map[string]any) (analytics.RawRecord, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	var out analytics.RawRecord
	err := c.doJSON(ctx, http.MethodPut, "/results/"+strconv.FormatInt(id, 10), payload, &out)
	return out, err
}

func (c *HTTPClient) DeleteResult(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	return c.doJSON(ctx, http.MethodDelete, "/results/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *HTTPClient) list(ctx context.Context, path string) ([]analytics.RawRecord, error) {
	var payload json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	records, err := decodeList(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// decodeList accepts either a bare array or an envelope with a results array.
func decodeList(payload []byte) ([]analytics.RawRecord, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []analytics.RawRecord{}, nil
	}
	switch trimmed[0] {
	case '[':
		return decodeRecords(trimmed)
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, err
		}
		inner, ok := envelope["results"]
		if !ok {
			return nil, fmt.Errorf("object payload has no results array")
		}
		return decodeList(inner)
	default:
		return nil, fmt.Errorf("unexpected list payload")
	}
}

func decodeRecords(data []byte) ([]analytics.RawRecord, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]analytics.RawRecord, 0, len(items))
	for _, item := range items {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var record analytics.RawRecord
		if err := dec.Decode(&record); err != nil {
			// Non-object entries are skipped rather than failing the whole list.
			continue
		}
		if record == nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	retries := c.maxRetries
	if !idempotent(method) {
		retries = 0
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < retries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(payloadBytes)) == 0 {
				return nil
			}
			dec := json.NewDecoder(bytes.NewReader(payloadBytes))
			dec.UseNumber()
			return dec.Decode(out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < retries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return errorFromResponse(resp.StatusCode, payloadBytes)
	}
}

// idempotent reports whether a request may be replayed. A POST that reached
// the collaborator may already have created the row.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func errorFromResponse(status int, payload []byte) error {
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	_ = dec.Decode(&body)

	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		if verr := validationFromBody(body); verr != nil {
			return verr
		}
	}
	httpErr := &HTTPError{StatusCode: status}
	if code, ok := body["code"].(string); ok {
		httpErr.Code = code
	}
	switch {
	case stringField(body, "message") != "":
		httpErr.Message = stringField(body, "message")
	case stringField(body, "detail") != "":
		httpErr.Message = stringField(body, "detail")
	default:
		httpErr.Message = strings.TrimSpace(string(payload))
		if len(httpErr.Message) > 200 {
			httpErr.Message = httpErr.Message[:200]
		}
	}
	return httpErr
}

// validationFromBody reads a field -> message(s) map. A body that only
// carries the generic code/message pair is not a field map.
func validationFromBody(body map[string]any) *ValidationError {
	if len(body) == 0 {
		return nil
	}
	verr := &ValidationError{}
	for field, value := range body {
		if field == "code" || field == "message" || field == "correlationId" {
			continue
		}
		collectMessages(verr, field, value)
	}
	if len(verr.Fields) == 0 {
		if msg := stringField(body, "message"); msg != "" {
			verr.add("non_field_errors", msg)
		} else {
			return nil
		}
	}
	return verr
}

func collectMessages(verr *ValidationError, field string, value any) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			verr.add(field, strings.TrimSpace(v))
		}
	case []any:
		for _, item := range v {
			collectMessages(verr, field, item)
		}
	case map[string]any:
		for sub, item := range v {
			collectMessages(verr, field+"."+sub, item)
		}
	case nil:
	default:
		verr.add(field, fmt.Sprint(v))
	}
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return strings.TrimSpace(s)
}

func correlationID() string {
	return "results_" + uuid.NewString()
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
