// Package webhook implements the Webhook Dispatcher (C10): matches events
// to tenant endpoints, signs and delivers payloads with retries, and
// tracks per-endpoint health through a circuit breaker.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker"

	"github.com/jmylchreest/wayfarer/internal/drain"
)

// Severity ranks an event's importance against an endpoint's min_severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

func (s Severity) atLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Event is one notification the dispatcher may deliver to subscribed
// endpoints.
type Event struct {
	ID        string
	Type      string
	Category  string
	TenantID  string
	Timestamp time.Time
	Data      any
	Domain    string
	Severity  Severity
}

// Header is a custom header attached to every delivery for an endpoint.
type Header struct {
	Name  string
	Value string
}

// HealthStatus is an endpoint's current delivery health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health tracks an endpoint's delivery success/failure history.
type Health struct {
	Status              HealthStatus
	ConsecutiveFailures int
	TotalSuccess        int64
	TotalFailure         int64
	LastDelivery        time.Time
	AvgResponseTimeMs    float64
}

// Endpoint is a tenant-owned webhook destination.
type Endpoint struct {
	ID                  string
	TenantID            string
	URL                 string
	Secret              string
	EnabledEvents       map[string]struct{}
	EnabledCategories   map[string]struct{}
	DomainFilter        string
	MinSeverity         Severity
	Enabled             bool
	MaxRetries          int
	InitialRetryDelayMs int64
	MaxRetryDelayMs     int64
	Headers             []Header
	Health              Health
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DeliveryStatus is the lifecycle state of one delivery attempt sequence.
// pending -> success | retrying | failed; retrying -> success | retrying | failed.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Delivery is one attempted (and possibly retried) event delivery to one
// endpoint.
type Delivery struct {
	ID             string
	EndpointID     string
	EventID        string
	EventType      string
	Status         DeliveryStatus
	Attempts       int
	MaxAttempts    int
	IdempotencyKey string
	ResponseStatus int
	ResponseTimeMs int64
	ErrorMessage   string
	NextRetryAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (d DeliveryStatus) terminal() bool {
	return d == DeliverySuccess || d == DeliveryFailed
}

const (
	defaultMaxRetries          = 3
	defaultInitialRetryDelayMs = 1000
	defaultMaxRetryDelayMs     = 60_000
	defaultHistoryLimit        = 100
	defaultDegradeThreshold    = 2
	defaultUnhealthyThreshold  = 5
	defaultCircuitResetMs      = 5 * 60 * 1000
	defaultDeliveryTimeout     = 30 * time.Second
)

// Doer is the narrow HTTP client surface the dispatcher needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config wires the dispatcher's collaborators and tunables.
type Config struct {
	Client              Doer
	HistoryLimit        int
	DegradeThreshold    int
	UnhealthyThreshold  int
	CircuitResetMs      int64
	Logger              *slog.Logger
	Drain               *drain.Coordinator
	// now is overridable for deterministic tests only.
	now func() time.Time
}

func (c *Config) withDefaults() {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: defaultDeliveryTimeout}
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.DegradeThreshold == 0 {
		c.DegradeThreshold = defaultDegradeThreshold
	}
	if c.UnhealthyThreshold == 0 {
		c.UnhealthyThreshold = defaultUnhealthyThreshold
	}
	if c.CircuitResetMs == 0 {
		c.CircuitResetMs = defaultCircuitResetMs
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Dispatcher matches events to endpoints, signs and delivers payloads,
// and tracks per-endpoint health through a circuit breaker.
type Dispatcher struct {
	cfg Config

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	byTenant  map[string]map[string]struct{}
	history   map[string][]*Delivery
	breakers  map[string]*gobreaker.CircuitBreaker

	pendingMu sync.Mutex
	pending   map[string]context.CancelFunc
}

// New builds an empty Dispatcher.
func New(cfg Config) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		cfg:       cfg,
		endpoints: make(map[string]*Endpoint),
		byTenant:  make(map[string]map[string]struct{}),
		history:   make(map[string][]*Delivery),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		pending:   make(map[string]context.CancelFunc),
	}
}

// CreateEndpoint registers a new endpoint after validating its secret
// length (>= 32 chars per spec) and filling defaults.
func (d *Dispatcher) CreateEndpoint(ep Endpoint) (*Endpoint, error) {
	if len(ep.Secret) < 32 {
		return nil, fmt.Errorf("webhook secret must be at least 32 characters")
	}
	if ep.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	now := d.cfg.now()
	ep.ID = ulid.Make().String()
	ep.CreatedAt = now
	ep.UpdatedAt = now
	ep.Health.Status = HealthHealthy
	if ep.MaxRetries == 0 {
		ep.MaxRetries = defaultMaxRetries
	}
	if ep.InitialRetryDelayMs == 0 {
		ep.InitialRetryDelayMs = defaultInitialRetryDelayMs
	}
	if ep.MaxRetryDelayMs == 0 {
		ep.MaxRetryDelayMs = defaultMaxRetryDelayMs
	}
	if ep.MinSeverity == "" {
		ep.MinSeverity = SeverityLow
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	stored := ep
	d.endpoints[stored.ID] = &stored
	if d.byTenant[stored.TenantID] == nil {
		d.byTenant[stored.TenantID] = make(map[string]struct{})
	}
	d.byTenant[stored.TenantID][stored.ID] = struct{}{}
	d.breakers[stored.ID] = newBreaker(stored.ID, d.cfg)
	return &stored, nil
}

func newBreaker(id string, cfg Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.CircuitResetMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.UnhealthyThreshold
		},
	})
}

// GetEndpoint returns the endpoint by id.
func (d *Dispatcher) GetEndpoint(id string) (*Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, ok := d.endpoints[id]
	if !ok {
		return nil, false
	}
	cp := *ep
	return &cp, true
}

// ListEndpoints returns every endpoint owned by tenantID.
func (d *Dispatcher) ListEndpoints(tenantID string) []*Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Endpoint
	for id := range d.byTenant[tenantID] {
		cp := *d.endpoints[id]
		out = append(out, &cp)
	}
	return out
}

// UpdateEndpoint applies mutate to the stored endpoint under the registry
// lock and returns the updated copy.
func (d *Dispatcher) UpdateEndpoint(id string, mutate func(*Endpoint)) (*Endpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("webhook endpoint %s not found", id)
	}
	mutate(ep)
	ep.UpdatedAt = d.cfg.now()
	cp := *ep
	return &cp, nil
}

// DeleteEndpoint removes the endpoint and cancels every pending retry for
// its in-flight deliveries.
func (d *Dispatcher) DeleteEndpoint(id string) error {
	d.mu.Lock()
	ep, ok := d.endpoints[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("webhook endpoint %s not found", id)
	}
	delete(d.endpoints, id)
	delete(d.breakers, id)
	delete(d.history, id)
	if tenantSet := d.byTenant[ep.TenantID]; tenantSet != nil {
		delete(tenantSet, id)
	}
	d.mu.Unlock()

	d.pendingMu.Lock()
	for key, cancel := range d.pending {
		if hasEndpointPrefix(key, id) {
			cancel()
			delete(d.pending, key)
		}
	}
	d.pendingMu.Unlock()
	return nil
}

func hasEndpointPrefix(deliveryKey, endpointID string) bool {
	return len(deliveryKey) > len(endpointID) && deliveryKey[:len(endpointID)] == endpointID && deliveryKey[len(endpointID)] == '/'
}

// History returns the bounded delivery history for one endpoint, most
// recent last.
func (d *Dispatcher) History(endpointID string) []*Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	src := d.history[endpointID]
	out := make([]*Delivery, len(src))
	copy(out, src)
	return out
}

// Test delivers a synthetic system.health event directly to endpointID,
// bypassing the event-matching filters Dispatch applies, so a caller can
// verify an endpoint's connectivity and signature handling on demand.
func (d *Dispatcher) Test(ctx context.Context, endpointID string) (*Delivery, error) {
	d.mu.RLock()
	ep, ok := d.endpoints[endpointID]
	var cp Endpoint
	if ok {
		cp = *ep
	}
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("webhook endpoint %s not found", endpointID)
	}

	ev := Event{
		ID:        ulid.Make().String(),
		Type:      "system.health",
		Category:  "system",
		TenantID:  cp.TenantID,
		Timestamp: d.cfg.now(),
		Domain:    cp.DomainFilter,
		Severity:  SeverityLow,
		Data:      map[string]any{"test": true},
	}
	return d.deliverToEndpoint(ctx, &cp, ev), nil
}

// Dispatch matches ev against every enabled endpoint of ev.TenantID and
// schedules a delivery for each match. Deliveries across endpoints run
// concurrently; retries run inline, so the call returns only once every
// delivery has reached a terminal state (success or failed).
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) []*Delivery {
	candidates := d.matchEndpoints(ev)
	if len(candidates) == 0 {
		return nil
	}

	results := make([]*Delivery, len(candidates))
	var wg sync.WaitGroup
	for i, ep := range candidates {
		wg.Add(1)
		go func(i int, ep *Endpoint) {
			defer wg.Done()
			results[i] = d.deliverToEndpoint(ctx, ep, ev)
		}(i, ep)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) matchEndpoints(ev Event) []*Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Endpoint
	for id := range d.byTenant[ev.TenantID] {
		ep := d.endpoints[id]
		if !ep.Enabled {
			continue
		}
		if !eventSubscribed(ep.EnabledEvents, ev.Type) {
			continue
		}
		if len(ep.EnabledCategories) > 0 {
			if _, ok := ep.EnabledCategories[ev.Category]; !ok {
				continue
			}
		}
		if ep.DomainFilter != "" && ep.DomainFilter != ev.Domain {
			continue
		}
		if !ev.Severity.atLeast(ep.MinSeverity) {
			continue
		}
		if ep.Health.Status == HealthUnhealthy {
			continue
		}
		cp := *ep
		out = append(out, &cp)
	}
	return out
}

func eventSubscribed(enabled map[string]struct{}, eventType string) bool {
	if len(enabled) == 0 {
		return true
	}
	if _, ok := enabled["*"]; ok {
		return true
	}
	_, ok := enabled[eventType]
	return ok
}

func idempotencyKey(eventID, endpointID string) string {
	h := sha256.Sum256([]byte(eventID + ":" + endpointID))
	return hex.EncodeToString(h[:])
}

func (d *Dispatcher) deliverToEndpoint(ctx context.Context, ep *Endpoint, ev Event) *Delivery {
	payload := struct {
		Event     string    `json:"event"`
		Timestamp time.Time `json:"timestamp"`
		EventID   string    `json:"event_id"`
		Data      any       `json:"data"`
	}{Event: ev.Type, Timestamp: ev.Timestamp, EventID: ev.ID, Data: ev.Data}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		d.cfg.Logger.Error("webhook: failed to marshal payload", "error", err)
		return nil
	}

	delivery := &Delivery{
		ID:             ulid.Make().String(),
		EndpointID:     ep.ID,
		EventID:        ev.ID,
		EventType:      ev.Type,
		Status:         DeliveryPending,
		MaxAttempts:    ep.MaxRetries + 1,
		IdempotencyKey: idempotencyKey(ev.ID, ep.ID),
		CreatedAt:      d.cfg.now(),
	}

	deliveryCtx, cancel := context.WithCancel(ctx)
	key := ep.ID + "/" + delivery.ID
	d.pendingMu.Lock()
	d.pending[key] = cancel
	d.pendingMu.Unlock()
	defer func() {
		d.pendingMu.Lock()
		delete(d.pending, key)
		d.pendingMu.Unlock()
		cancel()
	}()

	if d.cfg.Drain != nil {
		release := d.cfg.Drain.Track()
		defer release()
	}

	d.runDeliveryLoop(deliveryCtx, ep, delivery, payloadBytes)
	d.appendHistory(ep.ID, delivery)
	return delivery
}

func (d *Dispatcher) runDeliveryLoop(ctx context.Context, ep *Endpoint, delivery *Delivery, payload []byte) {
	for attempt := 1; attempt <= delivery.MaxAttempts; attempt++ {
		delivery.Attempts = attempt
		delivery.Status = DeliveryPending
		if attempt > 1 {
			delivery.Status = DeliveryRetrying
		}

		status, respTimeMs, err := d.attempt(ctx, ep, delivery, payload)
		delivery.ResponseStatus = status
		delivery.ResponseTimeMs = respTimeMs
		delivery.UpdatedAt = d.cfg.now()

		if err == nil && status >= 200 && status < 300 {
			delivery.Status = DeliverySuccess
			d.recordSuccess(ep.ID, respTimeMs)
			return
		}

		if err != nil {
			delivery.ErrorMessage = err.Error()
		} else {
			delivery.ErrorMessage = fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
		}
		d.recordFailure(ep.ID)

		if attempt >= delivery.MaxAttempts {
			delivery.Status = DeliveryFailed
			return
		}

		delay := backoffDelay(ep.InitialRetryDelayMs, ep.MaxRetryDelayMs, attempt)
		next := d.cfg.now().Add(delay)
		delivery.NextRetryAt = next
		delivery.Status = DeliveryRetrying

		select {
		case <-ctx.Done():
			delivery.Status = DeliveryFailed
			delivery.ErrorMessage = "delivery cancelled"
			return
		case <-time.After(delay):
		}
	}
}

// backoffDelay computes initial * 2^(attempt-1) * (1 + jitter), clamped
// to max, with up to 30% positive jitter.
func backoffDelay(initialMs, maxMs int64, attempt int) time.Duration {
	base := float64(initialMs)
	for i := 1; i < attempt; i++ {
		base *= 2
	}
	jitter := 1 + rand.Float64()*0.3
	delayMs := base * jitter
	if maxMs > 0 && delayMs > float64(maxMs) {
		delayMs = float64(maxMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

func (d *Dispatcher) attempt(ctx context.Context, ep *Endpoint, delivery *Delivery, payload []byte) (int, int64, error) {
	start := d.cfg.now()

	d.mu.RLock()
	breaker := d.breakers[ep.ID]
	d.mu.RUnlock()

	type attemptResult struct {
		status int
		body   string
	}

	run := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Id", ep.ID)
		req.Header.Set("X-Webhook-Event", delivery.EventType)
		req.Header.Set("X-Webhook-Signature", "sha256="+signPayload(payload, ep.Secret))
		req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", start.UnixMilli()))
		req.Header.Set("X-Idempotency-Key", delivery.IdempotencyKey)
		for _, h := range ep.Headers {
			req.Header.Set(h.Name, h.Value)
		}

		resp, err := d.cfg.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return attemptResult{status: resp.StatusCode}, nil
	}

	var result interface{}
	var err error
	if breaker != nil {
		result, err = breaker.Execute(run)
	} else {
		result, err = run()
	}
	respTimeMs := time.Since(start).Milliseconds()
	if err != nil {
		return 0, respTimeMs, err
	}
	return result.(attemptResult).status, respTimeMs, nil
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) appendHistory(endpointID string, delivery *Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hist := append(d.history[endpointID], delivery)
	if len(hist) > d.cfg.HistoryLimit {
		hist = hist[len(hist)-d.cfg.HistoryLimit:]
	}
	d.history[endpointID] = hist
}

func (d *Dispatcher) recordSuccess(endpointID string, respTimeMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.endpoints[endpointID]
	if !ok {
		return
	}
	ep.Health.ConsecutiveFailures = 0
	ep.Health.TotalSuccess++
	ep.Health.LastDelivery = d.cfg.now()
	if ep.Health.AvgResponseTimeMs == 0 {
		ep.Health.AvgResponseTimeMs = float64(respTimeMs)
	} else {
		ep.Health.AvgResponseTimeMs = 0.8*ep.Health.AvgResponseTimeMs + 0.2*float64(respTimeMs)
	}
	ep.Health.Status = HealthHealthy
}

func (d *Dispatcher) recordFailure(endpointID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.endpoints[endpointID]
	if !ok {
		return
	}
	ep.Health.ConsecutiveFailures++
	ep.Health.TotalFailure++
	ep.Health.LastDelivery = d.cfg.now()
	switch {
	case ep.Health.ConsecutiveFailures >= d.cfg.UnhealthyThreshold:
		ep.Health.Status = HealthUnhealthy
	case ep.Health.ConsecutiveFailures >= d.cfg.DegradeThreshold:
		ep.Health.Status = HealthDegraded
	}
}
