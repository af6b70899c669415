package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"FreightLane/internal/conf"
	"FreightLane/internal/metrics"
	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultFailureThreshold = 5
	defaultBreakDuration    = 30 * time.Second
)

// BreakerPolicy is the trip configuration of one breaker.
type BreakerPolicy struct {
	FailureThreshold int
	BreakDuration    time.Duration
}

// CircuitBreaker guards one downstream service.
//
//	Closed   --N consecutive failures-->  Open
//	Open     --break duration elapsed-->  HalfOpen (one trial call)
//	HalfOpen --trial succeeded-->         Closed
//	HalfOpen --trial failed-->            Open (timer restarts)
//
// Every transition starts a new generation. Outcomes are reported with the
// Ticket returned by Allow and are dropped when the breaker has moved on
// since that admission.
type CircuitBreaker struct {
	service string
	policy  BreakerPolicy

	mu            sync.Mutex
	state         model.BreakerState
	generation    uint64
	failures      int
	openedAt      time.Time
	trialInFlight bool
	lastErr       error

	now     func() time.Time
	onOpen  func(model.CircuitOpenedEvent)
	onClose func(model.CircuitClosedEvent)
	onState func(model.BreakerState)
}

// Ticket identifies one admitted call.
type Ticket struct {
	generation uint64
	trial      bool
}

// Trial reports whether the call was admitted as the half-open trial.
func (t Ticket) Trial() bool { return t.trial }

// NewCircuitBreaker creates a closed breaker. Non-positive policy values fall
// back to 5 failures and 30 seconds.
func NewCircuitBreaker(service string, policy BreakerPolicy) *CircuitBreaker {
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = defaultFailureThreshold
	}
	if policy.BreakDuration <= 0 {
		policy.BreakDuration = defaultBreakDuration
	}
	return &CircuitBreaker{
		service: service,
		policy:  policy,
		state:   model.BreakerClosed,
		now:     time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns a
// CircuitOpenError. Once the break duration has elapsed exactly one caller is
// let through as the half-open trial; everyone else keeps failing fast until
// the trial reports back.
func (b *CircuitBreaker) Allow() (Ticket, error) {
	b.mu.Lock()

	switch b.state {
	case model.BreakerOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.policy.BreakDuration {
			b.mu.Unlock()
			return Ticket{}, &CircuitOpenError{Service: b.service, RetryAfter: b.policy.BreakDuration - elapsed}
		}
		b.state = model.BreakerHalfOpen
		b.generation++
		b.trialInFlight = true
		t := Ticket{generation: b.generation, trial: true}
		b.mu.Unlock()
		b.notifyState(model.BreakerHalfOpen)
		return t, nil

	case model.BreakerHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return Ticket{}, &CircuitOpenError{Service: b.service}
		}
		b.trialInFlight = true
		t := Ticket{generation: b.generation, trial: true}
		b.mu.Unlock()
		return t, nil
	}

	t := Ticket{generation: b.generation}
	b.mu.Unlock()
	return t, nil
}

// OnSuccess records a successful call.
func (b *CircuitBreaker) OnSuccess(t Ticket) {
	b.mu.Lock()

	if t.generation != b.generation {
		b.mu.Unlock()
		return
	}
	if b.state != model.BreakerHalfOpen {
		b.failures = 0
		b.mu.Unlock()
		return
	}

	now := b.now()
	event := model.CircuitClosedEvent{
		Service:     b.service,
		OpenedFor:   now.Sub(b.openedAt),
		RecoveredAt: now,
	}
	b.state = model.BreakerClosed
	b.generation++
	b.failures = 0
	b.trialInFlight = false
	b.openedAt = time.Time{}
	b.lastErr = nil
	b.mu.Unlock()

	b.notifyState(model.BreakerClosed)
	if b.onClose != nil {
		b.onClose(event)
	}
}

// OnFailure records a failure that counts against the service.
func (b *CircuitBreaker) OnFailure(t Ticket, err error) {
	b.mu.Lock()

	if t.generation != b.generation {
		// admitted before the last transition
		b.mu.Unlock()
		return
	}

	b.lastErr = err
	switch b.state {
	case model.BreakerClosed:
		b.failures++
		if b.failures < b.policy.FailureThreshold {
			b.mu.Unlock()
			return
		}
	case model.BreakerHalfOpen:
		b.failures++
	default:
		b.mu.Unlock()
		return
	}

	now := b.now()
	b.state = model.BreakerOpen
	b.generation++
	b.openedAt = now
	b.trialInFlight = false
	event := model.CircuitOpenedEvent{
		Service:             b.service,
		ConsecutiveFailures: b.failures,
		OpenedAt:            now,
		RetryAt:             now.Add(b.policy.BreakDuration),
	}
	if err != nil {
		event.LastError = err.Error()
	}
	b.mu.Unlock()

	b.notifyState(model.BreakerOpen)
	if b.onOpen != nil {
		b.onOpen(event)
	}
}

// OnNeutral records a call whose outcome says nothing about the service
// health (business rejections, caller cancellation). Only the half-open
// trial slot is released.
func (b *CircuitBreaker) OnNeutral(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.generation == b.generation && t.trial && b.state == model.BreakerHalfOpen {
		b.trialInFlight = false
	}
}

// State returns the current state without moving the breaker.
func (b *CircuitBreaker) State() model.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker counters.
func (b *CircuitBreaker) Snapshot() model.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := model.BreakerSnapshot{
		Service:             b.service,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		FailureThreshold:    b.policy.FailureThreshold,
		BreakDuration:       b.policy.BreakDuration,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}

func (b *CircuitBreaker) notifyState(s model.BreakerState) {
	if b.onState != nil {
		b.onState(s)
	}
}

// BreakerSet owns one breaker per service, created lazily on first use.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	defaults  BreakerPolicy
	overrides map[string]BreakerPolicy

	registry *ServiceRegistry
	audit    AuditLogger
	webhook  WebhookService
	metrics  *metrics.Metrics
	now      func() time.Time
	log      *log.Helper
}

// NewBreakerSet creates the breaker set. Breaker transitions are pushed to the
// registry health, the audit log, the webhook and the metrics.
func NewBreakerSet(c *conf.Resilience, rc *conf.Registry, registry *ServiceRegistry, audit AuditLogger, webhook WebhookService, m *metrics.Metrics, logger log.Logger) *BreakerSet {
	defaults := BreakerPolicy{}
	if c != nil {
		defaults.FailureThreshold = c.FailureThreshold
		defaults.BreakDuration = c.BreakDuration
	}

	overrides := make(map[string]BreakerPolicy)
	if rc != nil {
		for name, svc := range rc.Services {
			if svc == nil || (svc.FailureThreshold <= 0 && svc.BreakDuration <= 0) {
				continue
			}
			p := defaults
			if svc.FailureThreshold > 0 {
				p.FailureThreshold = svc.FailureThreshold
			}
			if svc.BreakDuration > 0 {
				p.BreakDuration = svc.BreakDuration
			}
			overrides[name] = p
		}
	}

	return &BreakerSet{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults,
		overrides: overrides,
		registry:  registry,
		audit:     audit,
		webhook:   webhook,
		metrics:   m,
		now:       time.Now,
		log:       log.NewHelper(log.With(logger, "module", "biz/breaker")),
	}
}

// Get returns the breaker of service, creating it on first use.
func (s *BreakerSet) Get(service string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[service]; ok {
		return b
	}

	policy, ok := s.overrides[service]
	if !ok {
		policy = s.defaults
	}
	b := NewCircuitBreaker(service, policy)
	b.now = func() time.Time { return s.now() }
	b.onOpen = s.circuitOpened
	b.onClose = s.circuitClosed
	b.onState = func(state model.BreakerState) {
		s.metrics.SetBreakerState(service, string(state))
	}
	s.breakers[service] = b
	return b
}

// Snapshots returns every breaker ordered by service name.
func (s *BreakerSet) Snapshots() []model.BreakerSnapshot {
	s.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	out := make([]model.BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

func (s *BreakerSet) circuitOpened(event model.CircuitOpenedEvent) {
	s.log.Warnw("msg", "circuit opened",
		"service", event.Service,
		"consecutive_failures", event.ConsecutiveFailures,
		"retry_at", event.RetryAt,
		"last_error", event.LastError)

	s.markHealth(event.Service, model.HealthUnhealthy)

	ctx := context.Background()
	if s.audit != nil {
		s.audit.LogCircuitOpened(ctx, &event)
	}
	if s.webhook != nil {
		if err := s.webhook.NotifyCircuitOpened(ctx, &event); err != nil {
			s.log.Warnw("msg", "circuit opened notification failed", "service", event.Service, "error", err)
		}
	}
}

func (s *BreakerSet) circuitClosed(event model.CircuitClosedEvent) {
	s.log.Infow("msg", "circuit closed",
		"service", event.Service,
		"opened_for", event.OpenedFor.String())

	s.markHealth(event.Service, model.HealthHealthy)

	ctx := context.Background()
	if s.audit != nil {
		s.audit.LogCircuitClosed(ctx, &event)
	}
	if s.webhook != nil {
		if err := s.webhook.NotifyCircuitClosed(ctx, &event); err != nil {
			s.log.Warnw("msg", "circuit closed notification failed", "service", event.Service, "error", err)
		}
	}
}

func (s *BreakerSet) markHealth(service string, status model.HealthStatus) {
	if s.registry == nil {
		return
	}
	if err := s.registry.UpdateHealth(service, status); err != nil {
		s.log.Debugw("msg", "breaker could not update registry health", "service", service, "error", err)
	}
}
