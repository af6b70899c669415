package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"FreightLane/internal/biz"
	"FreightLane/internal/model"

	"github.com/go-chi/chi/v5"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

const maxBodyBytes = 1 << 20

// AdminService exposes the registry, breakers and route lifecycle over HTTP.
type AdminService struct {
	registry *biz.ServiceRegistry
	breakers *biz.BreakerSet
	routes   *biz.RouteUsecase
	verifier *biz.TruckVerifier
	started  time.Time
	logger   *log.Helper
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(registry *biz.ServiceRegistry, breakers *biz.BreakerSet, routes *biz.RouteUsecase, verifier *biz.TruckVerifier, logger log.Logger) *AdminService {
	return &AdminService{
		registry: registry,
		breakers: breakers,
		routes:   routes,
		verifier: verifier,
		started:  time.Now(),
		logger:   log.NewHelper(log.With(logger, "module", "service/admin")),
	}
}

// Register mounts the admin endpoints on r.
func (s *AdminService) Register(r chi.Router) {
	r.Get("/health", s.Health)

	r.Route("/v1/services", func(r chi.Router) {
		r.Get("/", s.ListServices)
		r.Post("/", s.RegisterService)
		r.Post("/{name}/probe", s.ProbeService)
		r.Put("/{name}/health", s.UpdateServiceHealth)
	})

	r.Route("/v1/routes", func(r chi.Router) {
		r.Post("/", s.CreateRoute)
		r.Get("/{routeID}", s.GetRoute)
		r.Put("/{routeID}/status", s.ChangeRouteStatus)
	})

	r.Get("/v1/trucks/{truckID}/ownership", s.VerifyOwnership)
}

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Health reports liveness of this process only.
func (s *AdminService) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", UptimeSeconds: time.Since(s.started).Seconds()})
}

type serviceView struct {
	model.ServiceDescriptor
	Breaker *model.BreakerSnapshot `json:"breaker,omitempty"`
}

type listServicesResponse struct {
	Services []serviceView `json:"services"`
}

// ListServices returns every known service with its breaker state.
func (s *AdminService) ListServices(w http.ResponseWriter, _ *http.Request) {
	breakers := make(map[string]model.BreakerSnapshot)
	for _, snap := range s.breakers.Snapshots() {
		breakers[snap.Service] = snap
	}

	resp := listServicesResponse{Services: make([]serviceView, 0)}
	for _, desc := range s.registry.ListAll() {
		view := serviceView{ServiceDescriptor: desc}
		if snap, ok := breakers[desc.Name]; ok {
			view.Breaker = &snap
		}
		resp.Services = append(resp.Services, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerServiceRequest struct {
	Name        string             `json:"name"`
	BaseAddress string             `json:"baseAddress"`
	Health      model.HealthStatus `json:"health,omitempty"`
}

// RegisterService upserts a service at runtime.
func (s *AdminService) RegisterService(w http.ResponseWriter, r *http.Request) {
	var req registerServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.registry.Register(req.Name, req.BaseAddress, req.Health); err != nil {
		writeError(w, r, kerrors.BadRequest("INVALID_SERVICE", err.Error()))
		return
	}

	s.logger.Infow("msg", "service registered through admin API", "service", req.Name)
	desc, _ := s.registry.Get(strings.TrimSpace(req.Name))
	writeJSON(w, http.StatusCreated, desc)
}

// ProbeService runs a health probe now and returns the refreshed entry.
func (s *AdminService) ProbeService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.registry.Get(name); !ok {
		writeError(w, r, fmt.Errorf("%w: %s", model.ErrServiceNotFound, name))
		return
	}

	s.registry.IsAvailable(r.Context(), name)
	desc, _ := s.registry.Get(name)
	writeJSON(w, http.StatusOK, desc)
}

type updateHealthRequest struct {
	Status model.HealthStatus `json:"status"`
}

// UpdateServiceHealth overrides the recorded health of a service.
func (s *AdminService) UpdateServiceHealth(w http.ResponseWriter, r *http.Request) {
	var req updateHealthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, r, kerrors.BadRequest("INVALID_HEALTH", fmt.Sprintf("unknown health status %q", req.Status)))
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.registry.UpdateHealth(name, req.Status); err != nil {
		writeError(w, r, err)
		return
	}
	desc, _ := s.registry.Get(name)
	writeJSON(w, http.StatusOK, desc)
}

type createRouteRequest struct {
	TruckID     string    `json:"truckId"`
	CarrierID   string    `json:"carrierId"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartureAt time.Time `json:"departureAt"`
	TotalKg     float64   `json:"totalKg"`
	TotalM3     *float64  `json:"totalM3,omitempty"`
}

// CreateRoute creates a Planned route after checking truck ownership.
func (s *AdminService) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var req createRouteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	route, err := s.routes.CreateRoute(r.Context(), &biz.CreateRouteRequest{
		TruckID:     req.TruckID,
		CarrierID:   req.CarrierID,
		Origin:      req.Origin,
		Destination: req.Destination,
		DepartureAt: req.DepartureAt,
		TotalKg:     req.TotalKg,
		TotalM3:     req.TotalM3,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

// GetRoute returns one route.
func (s *AdminService) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.routes.GetRoute(r.Context(), chi.URLParam(r, "routeID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

type changeStatusRequest struct {
	Status model.RouteStatus `json:"status"`
}

// ChangeRouteStatus applies an explicit lifecycle transition.
func (s *AdminService) ChangeRouteStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, r, kerrors.BadRequest("INVALID_STATUS", fmt.Sprintf("unknown route status %q", req.Status)))
		return
	}

	route, err := s.routes.ChangeStatus(r.Context(), chi.URLParam(r, "routeID"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

type ownershipResponse struct {
	TruckID   string `json:"truckId"`
	CarrierID string `json:"carrierId"`
	Owned     bool   `json:"owned"`
}

// VerifyOwnership answers whether the carrier in ?carrierId owns the truck.
func (s *AdminService) VerifyOwnership(w http.ResponseWriter, r *http.Request) {
	truckID := chi.URLParam(r, "truckID")
	carrierID := strings.TrimSpace(r.URL.Query().Get("carrierId"))
	if carrierID == "" {
		writeError(w, r, kerrors.BadRequest("MISSING_CARRIER", "carrierId query parameter is required"))
		return
	}

	owned, err := s.verifier.VerifyOwnership(r.Context(), truckID, carrierID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ownershipResponse{TruckID: truckID, CarrierID: carrierID, Owned: owned})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return kerrors.BadRequest("INVALID_BODY", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	khttp.DefaultErrorEncoder(w, r, toKratosError(err))
}

// toKratosError maps domain errors to kratos errors carrying an HTTP code.
func toKratosError(err error) *kerrors.Error {
	var ke *kerrors.Error
	if errors.As(err, &ke) {
		return ke
	}

	var be *biz.BusinessError
	switch {
	case errors.Is(err, model.ErrServiceNotFound):
		return kerrors.NotFound("SERVICE_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrRouteNotFound):
		return kerrors.NotFound("ROUTE_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrInvalidRoute):
		return kerrors.BadRequest("INVALID_ROUTE", err.Error())
	case errors.Is(err, model.ErrTruckNotOwned):
		return kerrors.Forbidden("TRUCK_NOT_OWNED", err.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		return kerrors.Conflict("INVALID_TRANSITION", err.Error())
	case errors.Is(err, model.ErrPersistenceConflict):
		return kerrors.Conflict("CONCURRENT_UPDATE", err.Error())
	case biz.IsCircuitOpen(err):
		return kerrors.ServiceUnavailable("CIRCUIT_OPEN", err.Error())
	case biz.IsTransient(err):
		return kerrors.ServiceUnavailable("DOWNSTREAM_UNAVAILABLE", err.Error())
	case errors.As(err, &be):
		return kerrors.New(http.StatusBadGateway, "DOWNSTREAM_REJECTED", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return kerrors.GatewayTimeout("TIMEOUT", err.Error())
	default:
		return kerrors.InternalServer("INTERNAL", err.Error())
	}
}
