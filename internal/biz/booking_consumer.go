package biz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"FreightLane/internal/metrics"
	"FreightLane/internal/model"
	pkgerrors "FreightLane/pkg/errors"
	pkglog "FreightLane/pkg/log"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	publishAttempts    = 3
	publishBackoffBase = 50 * time.Millisecond
)

// Consumer outcomes, used for metrics and logs.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
	OutcomeRetry     = "retry"
)

// BookingConsumer applies booking events to route capacity exactly once.
//
// A nil return means the message may be acknowledged: the event was applied,
// was a duplicate, or can never be applied. A non-nil return means a
// transient failure and the message must be redelivered.
type BookingConsumer struct {
	routes    RouteRepo
	ledger    LedgerRepo
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       *pkglog.LogHelper

	now   func() time.Time
	newID func() string
}

// NewBookingConsumer creates a booking consumer.
func NewBookingConsumer(routes RouteRepo, ledger LedgerRepo, publisher EventPublisher, m *metrics.Metrics, logger log.Logger) *BookingConsumer {
	return &BookingConsumer{
		routes:    routes,
		ledger:    ledger,
		publisher: publisher,
		metrics:   m,
		log:       pkglog.NewLogHelper(log.With(logger, "module", "biz/booking_consumer")),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// HandleConfirmed consumes the booked capacity.
func (c *BookingConsumer) HandleConfirmed(ctx context.Context, evt *model.BookingConfirmed) error {
	if evt == nil {
		return c.malformed(ctx, model.SubjectBookingConfirmed, "", &MalformedEventError{Subject: model.SubjectBookingConfirmed, Reason: "empty payload"})
	}
	return c.handle(ctx, model.SubjectBookingConfirmed, model.EventTypeBookingConfirmed, evt.BookingEvent, -1)
}

// HandleCancelled restores the booked capacity. It is keyed by its own
// booking id and event type, so it is never mistaken for a redelivery of the
// confirmation.
func (c *BookingConsumer) HandleCancelled(ctx context.Context, evt *model.BookingCancelled) error {
	if evt == nil {
		return c.malformed(ctx, model.SubjectBookingCancelled, "", &MalformedEventError{Subject: model.SubjectBookingCancelled, Reason: "empty payload"})
	}
	return c.handle(ctx, model.SubjectBookingCancelled, model.EventTypeBookingCancelled, evt.BookingEvent, 1)
}

func (c *BookingConsumer) handle(ctx context.Context, subject, eventType string, evt model.BookingEvent, sign float64) error {
	ctx = pkglog.WithRequestContext(ctx, evt.BookingID, subject, evt.RouteID)

	if err := validateBookingEvent(subject, evt); err != nil {
		return c.malformed(ctx, subject, evt.BookingID, err)
	}

	seen, err := c.ledger.HasProcessed(ctx, eventType, evt.BookingID)
	if err != nil {
		// the ledger insert inside the transaction still guards against double application
		c.log.Warnw("msg", "ledger lookup failed, continuing", "booking_id", evt.BookingID, "error", err)
	}
	if seen {
		c.metrics.ObserveEvent(subject, OutcomeDuplicate)
		c.log.EventWithContext(ctx, OutcomeDuplicate)
		return nil
	}

	deltaKg := sign * evt.BookedWeightKg
	var deltaM3 *float64
	if evt.BookedVolumeM3 != nil {
		deltaM3 = model.Float64(sign * *evt.BookedVolumeM3)
	}

	prev, next, err := c.routes.ApplyCapacityChange(ctx, evt.RouteID, evt.BookingID, eventType,
		func(cur model.CapacityState) (model.CapacityState, error) {
			return Reconcile(cur, deltaKg, deltaM3), nil
		})
	switch {
	case err == nil:
	case errors.Is(err, model.ErrDuplicateEvent):
		c.metrics.ObserveEvent(subject, OutcomeDuplicate)
		c.log.EventWithContext(ctx, OutcomeDuplicate, "detected_by", "ledger_constraint")
		return nil
	case errors.Is(err, model.ErrRouteNotFound):
		c.metrics.ObserveEvent(subject, OutcomeRejected)
		c.log.Errorw("msg", "booking event references unknown route, dropping",
			"booking_id", evt.BookingID,
			"route_id", evt.RouteID,
			"subject", subject)
		return nil
	case pkgerrors.IsPermanentDataError(err):
		c.metrics.ObserveEvent(subject, OutcomeRejected)
		c.log.Errorw("msg", "booking event cannot be stored, dropping",
			"booking_id", evt.BookingID,
			"route_id", evt.RouteID,
			"subject", subject,
			"error", err)
		return nil
	default:
		c.metrics.ObserveEvent(subject, OutcomeRetry)
		c.log.Warnw("msg", "capacity change failed, message will be redelivered",
			"booking_id", evt.BookingID,
			"route_id", evt.RouteID,
			"subject", subject,
			"error", err)
		return fmt.Errorf("apply %s %s: %w", eventType, evt.BookingID, err)
	}

	c.metrics.ObserveEvent(subject, OutcomeApplied)
	c.log.EventWithContext(ctx, OutcomeApplied,
		"prev_kg", prev.AvailableKg,
		"new_kg", next.AvailableKg,
		"prev_status", prev.Status,
		"new_status", next.Status)

	c.publishChanges(ctx, evt, prev, next)
	return nil
}

// publishChanges runs after commit; failures are logged and counted only.
func (c *BookingConsumer) publishChanges(ctx context.Context, evt model.BookingEvent, prev, next model.CapacityState) {
	at := c.now().UTC()

	c.publish(ctx, model.SubjectRouteCapacityChanged, &model.RouteCapacityChanged{
		EventID:    c.newID(),
		RouteID:    evt.RouteID,
		PrevKg:     prev.AvailableKg,
		NewKg:      next.AvailableKg,
		PrevM3:     prev.AvailableM3,
		NewM3:      next.AvailableM3,
		BookingID:  evt.BookingID,
		OccurredAt: at,
	})

	if prev.Status != next.Status {
		c.publish(ctx, model.SubjectRouteStatusUpdated, &model.RouteStatusUpdated{
			EventID:        c.newID(),
			RouteID:        evt.RouteID,
			PreviousStatus: prev.Status,
			NewStatus:      next.Status,
			OccurredAt:     at,
		})
	}
}

func (c *BookingConsumer) publish(ctx context.Context, subject string, payload any) {
	if err := publishWithRetry(ctx, c.publisher, subject, payload); err != nil {
		c.metrics.ObservePublishFailure(subject)
		c.log.Errorw("msg", "failed to publish route event", "subject", subject, "error", err)
	}
}

// publishWithRetry encodes payload and publishes it with a short exponential retry.
func publishWithRetry(ctx context.Context, publisher EventPublisher, subject string, payload any) error {
	if publisher == nil {
		return errors.New("no event publisher configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = publishBackoffBase
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, publishAttempts-1), ctx)

	return backoff.Retry(func() error {
		return publisher.Publish(ctx, subject, data)
	}, policy)
}

func (c *BookingConsumer) malformed(ctx context.Context, subject, bookingID string, err error) error {
	c.metrics.ObserveEvent(subject, OutcomeMalformed)
	c.log.Errorw("msg", "malformed booking event acknowledged without processing",
		"subject", subject,
		"booking_id", bookingID,
		"error", err)
	return nil
}

func validateBookingEvent(subject string, evt model.BookingEvent) error {
	var problems []string
	switch {
	case strings.TrimSpace(evt.BookingID) == "":
		problems = append(problems, "bookingId is required")
	case utf8.RuneCountInString(evt.BookingID) > model.MaxBookingIDLength:
		problems = append(problems, fmt.Sprintf("bookingId exceeds %d characters", model.MaxBookingIDLength))
	}
	switch {
	case strings.TrimSpace(evt.RouteID) == "":
		problems = append(problems, "routeId is required")
	case utf8.RuneCountInString(evt.RouteID) > model.MaxRouteIDLength:
		problems = append(problems, fmt.Sprintf("routeId exceeds %d characters", model.MaxRouteIDLength))
	}
	if !validQuantity(evt.BookedWeightKg) {
		problems = append(problems, "bookedWeightKg must be a non-negative number")
	}
	if evt.BookedVolumeM3 != nil && !validQuantity(*evt.BookedVolumeM3) {
		problems = append(problems, "bookedVolumeM3 must be a non-negative number")
	}
	if len(problems) > 0 {
		return &MalformedEventError{Subject: subject, Reason: strings.Join(problems, "; ")}
	}
	return nil
}

func validQuantity(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
