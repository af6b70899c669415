package biz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"FreightLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// TruckServiceName is the registry name of the fleet service.
const TruckServiceName = "truck-service"

type truckResponse struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
}

// TruckVerifier checks that a truck belongs to a carrier through the fleet service.
type TruckVerifier struct {
	client   *ResilientClient
	failOpen bool
	log      *log.Helper
}

// NewTruckVerifier creates a verifier. With failOpen set, an unreachable fleet
// service is treated as a positive answer.
func NewTruckVerifier(c *conf.Resilience, client *ResilientClient, logger log.Logger) *TruckVerifier {
	failOpen := true
	if c != nil {
		failOpen = c.FailOpen
	}
	return &TruckVerifier{
		client:   client,
		failOpen: failOpen,
		log:      log.NewHelper(log.With(logger, "module", "biz/truck_verifier")),
	}
}

// VerifyOwnership reports whether truckID is owned by carrierID.
// An unknown truck is not owned by anyone.
func (v *TruckVerifier) VerifyOwnership(ctx context.Context, truckID, carrierID string) (bool, error) {
	var truck truckResponse
	err := v.client.GetJSON(ctx, TruckServiceName, "/trucks/"+url.PathEscape(truckID), &truck)
	if err == nil {
		return truck.OwnerID == carrierID, nil
	}

	var be *BusinessError
	if errors.As(err, &be) {
		if be.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("verify truck %s: %w", truckID, err)
	}

	if (IsUnreachable(err) || IsServiceNotFound(err)) && v.failOpen {
		v.log.Warnw("msg", "truck service unavailable, accepting ownership",
			"truck_id", truckID,
			"carrier_id", carrierID,
			"error", err)
		return true, nil
	}

	return false, fmt.Errorf("verify truck %s: %w", truckID, err)
}
