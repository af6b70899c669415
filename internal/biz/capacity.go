package biz

import (
	"math"

	"FreightLane/internal/model"
)

// CapacityEpsilon is the tolerance used when comparing capacities.
const CapacityEpsilon = 0.01

// Reconcile applies a signed capacity delta to cur and derives the new status.
// A confirmation passes a negative delta, a cancellation the positive one.
// deltaM3 is ignored when the route does not track volume.
//
// Status rules:
//   - Cancelled and Completed never change.
//   - Every tracked dimension exhausted: BookedFull (InProgress stays InProgress).
//   - Any tracked dimension below its total: BookedPartial (InProgress stays InProgress).
//   - Everything free again: Planned, but only when coming from BookedFull or BookedPartial.
func Reconcile(cur model.CapacityState, deltaKg float64, deltaM3 *float64) model.CapacityState {
	next := cur
	next.AvailableKg = clamp(cur.AvailableKg+deltaKg, 0, cur.TotalKg)

	if cur.TotalM3 != nil {
		total := *cur.TotalM3
		available := total
		if cur.AvailableM3 != nil {
			available = *cur.AvailableM3
		}
		if deltaM3 != nil {
			available += *deltaM3
		}
		next.TotalM3 = model.Float64(total)
		next.AvailableM3 = model.Float64(clamp(available, 0, total))
	} else {
		next.AvailableM3 = nil
	}

	next.Status = deriveStatus(cur.Status, next)
	return next
}

func deriveStatus(prev model.RouteStatus, s model.CapacityState) model.RouteStatus {
	if prev.Terminal() {
		return prev
	}

	exhausted := nearZero(s.AvailableKg)
	partial := s.AvailableKg < s.TotalKg-CapacityEpsilon
	if s.TotalM3 != nil && s.AvailableM3 != nil {
		exhausted = exhausted && nearZero(*s.AvailableM3)
		partial = partial || *s.AvailableM3 < *s.TotalM3-CapacityEpsilon
	}

	switch {
	case exhausted:
		if prev == model.RouteStatusInProgress {
			return prev
		}
		return model.RouteStatusBookedFull
	case partial:
		if prev == model.RouteStatusInProgress {
			return prev
		}
		return model.RouteStatusBookedPartial
	case prev == model.RouteStatusBookedFull || prev == model.RouteStatusBookedPartial:
		return model.RouteStatusPlanned
	default:
		return prev
	}
}

func nearZero(v float64) bool {
	return math.Abs(v) < CapacityEpsilon
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Max(lo, math.Min(v, hi))
}
