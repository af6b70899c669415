package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// CreateRouteRequest describes a new route offered by a carrier.
type CreateRouteRequest struct {
	TruckID     string
	CarrierID   string
	Origin      string
	Destination string
	DepartureAt time.Time
	TotalKg     float64
	TotalM3     *float64
}

// lifecycle transitions set by explicit actions, never by capacity changes
var allowedTransitions = map[model.RouteStatus][]model.RouteStatus{
	model.RouteStatusPlanned:       {model.RouteStatusInProgress, model.RouteStatusCancelled},
	model.RouteStatusBookedPartial: {model.RouteStatusInProgress, model.RouteStatusCancelled},
	model.RouteStatusBookedFull:    {model.RouteStatusInProgress, model.RouteStatusCancelled},
	model.RouteStatusInProgress:    {model.RouteStatusCompleted, model.RouteStatusCancelled},
}

// RouteUsecase handles the route lifecycle.
type RouteUsecase struct {
	repo      RouteRepo
	verifier  *TruckVerifier
	publisher EventPublisher
	log       *log.Helper

	now   func() time.Time
	newID func() string
}

// NewRouteUsecase creates a route usecase.
func NewRouteUsecase(repo RouteRepo, verifier *TruckVerifier, publisher EventPublisher, logger log.Logger) *RouteUsecase {
	return &RouteUsecase{
		repo:      repo,
		verifier:  verifier,
		publisher: publisher,
		log:       log.NewHelper(log.With(logger, "module", "biz/route")),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateRoute validates the request, checks truck ownership and stores a
// Planned route with its full capacity available.
func (uc *RouteUsecase) CreateRoute(ctx context.Context, req *CreateRouteRequest) (*model.Route, error) {
	if err := validateCreateRoute(req); err != nil {
		return nil, err
	}

	owned, err := uc.verifier.VerifyOwnership(ctx, req.TruckID, req.CarrierID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, fmt.Errorf("%w: truck %s, carrier %s", model.ErrTruckNotOwned, req.TruckID, req.CarrierID)
	}

	now := uc.now().UTC()
	route := &model.Route{
		ID:          uc.newID(),
		TruckID:     req.TruckID,
		CarrierID:   req.CarrierID,
		Origin:      req.Origin,
		Destination: req.Destination,
		DepartureAt: req.DepartureAt.UTC(),
		Capacity: model.CapacityState{
			TotalKg:     req.TotalKg,
			AvailableKg: req.TotalKg,
			Status:      model.RouteStatusPlanned,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.TotalM3 != nil {
		route.Capacity.TotalM3 = model.Float64(*req.TotalM3)
		route.Capacity.AvailableM3 = model.Float64(*req.TotalM3)
	}

	if err := uc.repo.CreateRoute(ctx, route); err != nil {
		return nil, fmt.Errorf("failed to create route: %w", err)
	}

	uc.log.Infow("msg", "route created",
		"route_id", route.ID,
		"truck_id", route.TruckID,
		"carrier_id", route.CarrierID,
		"total_kg", route.Capacity.TotalKg)
	return route, nil
}

// GetRoute returns a route by id.
func (uc *RouteUsecase) GetRoute(ctx context.Context, id string) (*model.Route, error) {
	return uc.repo.GetRoute(ctx, id)
}

// ChangeStatus applies an explicit lifecycle transition and publishes
// RouteStatusUpdated.
func (uc *RouteUsecase) ChangeStatus(ctx context.Context, id string, to model.RouteStatus) (*model.Route, error) {
	route, err := uc.repo.GetRoute(ctx, id)
	if err != nil {
		return nil, err
	}

	from := route.Capacity.Status
	if !transitionAllowed(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
	}

	if err := uc.repo.UpdateStatus(ctx, id, from, to); err != nil {
		return nil, err
	}
	route.Capacity.Status = to
	route.UpdatedAt = uc.now().UTC()

	event := &model.RouteStatusUpdated{
		EventID:        uc.newID(),
		RouteID:        id,
		PreviousStatus: from,
		NewStatus:      to,
		OccurredAt:     route.UpdatedAt,
	}
	if err := publishWithRetry(ctx, uc.publisher, model.SubjectRouteStatusUpdated, event); err != nil {
		uc.log.Errorw("msg", "failed to publish status change", "route_id", id, "error", err)
	}

	uc.log.Infow("msg", "route status changed", "route_id", id, "from", from, "to", to)
	return route, nil
}

func transitionAllowed(from, to model.RouteStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validateCreateRoute(req *CreateRouteRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", model.ErrInvalidRoute)
	}
	var problems []string
	if strings.TrimSpace(req.TruckID) == "" {
		problems = append(problems, "truckId is required")
	}
	if strings.TrimSpace(req.CarrierID) == "" {
		problems = append(problems, "carrierId is required")
	}
	if !validQuantity(req.TotalKg) || req.TotalKg == 0 {
		problems = append(problems, "totalKg must be positive")
	}
	if req.TotalM3 != nil && (!validQuantity(*req.TotalM3) || *req.TotalM3 == 0) {
		problems = append(problems, "totalM3 must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrInvalidRoute, strings.Join(problems, "; "))
	}
	return nil
}
