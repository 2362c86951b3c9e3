package resultsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agentworkforce/indicators/internal/analytics"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

const (
	SourceDetailed = "detailed"
	SourceFlat     = "flat"
	SourceSnapshot = "snapshot"
)

const (
	EventLoading   = "results.loading"
	EventRefreshed = "results.refreshed"
	EventError     = "results.error"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Status struct {
	State     State     `json:"state"`
	LastError string    `json:"lastError,omitempty"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	Source    string    `json:"source,omitempty"`
	Count     int       `json:"count"`
	// Seq increases with every transition; the newest event always carries
	// the highest value.
	Seq uint64 `json:"seq"`
}

type Event struct {
	Type      string    `json:"type"`
	Operation string    `json:"operation,omitempty"`
	Status    Status    `json:"status"`
	At        time.Time `json:"at"`
}

type CoordinatorOptions struct {
	Logger Logger
	// FlatOnly skips the detailed endpoint and always resolves names through
	// the reference lists.
	FlatOnly  bool
	Validator *PayloadValidator
	Now       func() time.Time
}

// Coordinator owns the current result set. Every successful write is
// followed by a full refetch; the set is replaced wholesale and never
// patched. Only one fetch or mutation may be in flight at a time; a second
// request while loading fails with ErrBusy instead of queueing.
type Coordinator struct {
	client    ResultsClient
	logger    Logger
	flatOnly  bool
	validator *PayloadValidator
	now       func() time.Time

	mu          sync.Mutex
	state       State
	lastErr     error
	current     *analytics.ResultSet
	subscribers []func(Event)
	seq         uint64
	pending     []Event
	delivering  bool
}

func NewCoordinator(client ResultsClient, opts CoordinatorOptions) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	validator := opts.Validator
	if validator == nil {
		var err error
		validator, err = NewPayloadValidator()
		if err != nil {
			return nil, fmt.Errorf("compile payload schema: %w", err)
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		client:    client,
		logger:    opts.Logger,
		flatOnly:  opts.FlatOnly,
		validator: validator,
		now:       now,
		state:     StateIdle,
	}, nil
}

// Subscribe registers fn for state transitions. Events are delivered one at a
// time in transition order; a callback may observe a newer Status than the
// event it is handling but never an older event after a newer one.
func (c *Coordinator) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Current returns the last good result set, or nil before the first fetch.
// Callers must treat it as read-only.
func (c *Coordinator) Current() *analytics.ResultSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Seed installs a previously saved set while nothing has been fetched yet.
func (c *Coordinator) Seed(set *analytics.ResultSet) bool {
	if set == nil {
		return false
	}
	c.mu.Lock()
	if c.current != nil || c.state != StateIdle {
		c.mu.Unlock()
		return false
	}
	c.current = set
	c.state = StateReady
	c.enqueueLocked(EventRefreshed, "seed")
	c.mu.Unlock()
	c.deliver()
	return true
}

func (c *Coordinator) Refresh(ctx context.Context) (*analytics.ResultSet, error) {
	if err := c.begin("refresh"); err != nil {
		return nil, err
	}
	set, err := c.fetch(ctx)
	if err != nil {
		c.fail("refresh", err)
		return nil, err
	}
	c.ready("refresh", set)
	return set, nil
}

func (c *Coordinator) Create(ctx context.Context, payload map[string]any) (*analytics.ResultSet, error) {
	if err := c.validator.Validate(payload); err != nil {
		return nil, err
	}
	return c.mutate(ctx, "create", func(ctx context.Context) error {
		_, err := c.client.CreateResult(ctx, payload)
		return err
	})
}

func (c *Coordinator) Update(ctx context.Context, id int64, payload map[string]any) (*analytics.ResultSet, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	if err := c.validator.Validate(payload); err != nil {
		return nil, err
	}
	return c.mutate(ctx, "update", func(ctx context.Context) error {
		_, err := c.client.UpdateResult(ctx, id, payload)
		return err
	})
}

func (c *Coordinator) Delete(ctx context.Context, id int64) (*analytics.ResultSet, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return c.mutate(ctx, "delete", func(ctx context.Context) error {
		return c.client.DeleteResult(ctx, id)
	})
}

func (c *Coordinator) mutate(ctx context.Context, op string, write func(context.Context) error) (*analytics.ResultSet, error) {
	if err := c.begin(op); err != nil {
		return nil, err
	}
	if err := write(ctx); err != nil {
		c.fail(op, err)
		return nil, err
	}
	set, err := c.fetch(ctx)
	if err != nil {
		err = fmt.Errorf("refetch after %s: %w", op, err)
		c.fail(op, err)
		return nil, err
	}
	c.ready(op, set)
	return set, nil
}

func (c *Coordinator) fetch(ctx context.Context) (*analytics.ResultSet, error) {
	if !c.flatOnly {
		raws, err := c.client.ListDetailedResults(ctx)
		if err == nil {
			var rc analytics.Reconciler
			return c.newSet(rc.ReconcileAll(raws), SourceDetailed), nil
		}
		if !isEndpointUnavailable(err) {
			return nil, fmt.Errorf("fetch detailed results: %w", err)
		}
		c.logf("detailed results endpoint unavailable (%v); falling back to flat results", err)
	}
	raws, err := c.client.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch results: %w", err)
	}
	indicators, err := c.client.ListIndicators(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch indicators: %w", err)
	}
	sites, err := c.client.ListHeadquarters(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch headquarters: %w", err)
	}
	rc := analytics.NewReconciler(sites, indicators)
	return c.newSet(rc.ReconcileAll(raws), SourceFlat), nil
}

func (c *Coordinator) newSet(results []analytics.NormalizedResult, source string) *analytics.ResultSet {
	return &analytics.ResultSet{
		Results:   results,
		FetchedAt: c.now().UTC(),
		Source:    source,
	}
}

func (c *Coordinator) begin(op string) error {
	c.mu.Lock()
	if c.state == StateLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateLoading
	c.enqueueLocked(EventLoading, op)
	c.mu.Unlock()
	c.deliver()
	return nil
}

func (c *Coordinator) ready(op string, set *analytics.ResultSet) {
	c.mu.Lock()
	c.current = set
	c.lastErr = nil
	c.state = StateReady
	c.enqueueLocked(EventRefreshed, op)
	c.mu.Unlock()
	c.deliver()
}

// fail keeps the last good set untouched.
func (c *Coordinator) fail(op string, err error) {
	c.logf("results %s failed: %v", op, err)
	c.mu.Lock()
	c.lastErr = err
	c.state = StateError
	c.enqueueLocked(EventError, op)
	c.mu.Unlock()
	c.deliver()
}

func (c *Coordinator) statusLocked() Status {
	status := Status{State: c.state, Seq: c.seq}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	if c.current != nil {
		status.FetchedAt = c.current.FetchedAt
		status.Source = c.current.Source
		status.Count = len(c.current.Results)
	}
	return status
}

// enqueueLocked records a transition while c.mu is held, so queue order is
// transition order.
func (c *Coordinator) enqueueLocked(eventType, op string) {
	c.seq++
	c.pending = append(c.pending, Event{
		Type:      eventType,
		Operation: op,
		Status:    c.statusLocked(),
		At:        c.now().UTC(),
	})
}

// deliver drains the queue outside the lock. Only one goroutine delivers at
// a time; others leave their events for it.
func (c *Coordinator) deliver() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		subscribers := append([]func(Event){}, c.subscribers...)
		c.mu.Unlock()
		for _, event := range batch {
			for _, fn := range subscribers {
				fn(event)
			}
		}
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

func isEndpointUnavailable(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	switch httpErr.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}
