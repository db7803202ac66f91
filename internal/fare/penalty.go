package fare

import (
	"fmt"
	"math"
	"time"

	"ridesync/internal/domain"
)

// RefundOutcome classifies what happens to a prepaid amount on cancellation.
type RefundOutcome string

const (
	RefundFull       RefundOutcome = "full_refund"
	RefundPartial    RefundOutcome = "partial_refund"
	RefundNone       RefundOutcome = "no_refund"
	RefundNotPrepaid RefundOutcome = "not_prepaid"
)

// PenaltyInput describes a cancellation at a given instant.
type PenaltyInput struct {
	Actor         domain.Role
	Status        domain.RideStatus
	ArrivedAt     *time.Time
	Now           time.Time
	PrepaidAmount float64
	Policy        Policy
}

// Penalty is the computed charge for a cancellation.
type Penalty struct {
	Amount            float64       `json:"amount"`
	WaitFee           float64       `json:"wait_fee"`
	RefundAmount      float64       `json:"refund_amount"`
	Refund            RefundOutcome `json:"refund"`
	RateImpactWarning bool          `json:"rate_impact_warning"`
	Explanation       string        `json:"explanation"`
}

// ComputeCancellationPenalty applies the cancellation policy for the actor
// and the ride status at the moment of cancellation.
func ComputeCancellationPenalty(in PenaltyInput) Penalty {
	var res Penalty

	switch in.Actor {
	case domain.RoleDriver:
		if in.Status.IsAssigned() || in.Status == domain.RideStatusInProgress {
			res.Amount = in.Policy.DriverCancellationFee
			res.RateImpactWarning = true
		}
	default:
		switch {
		case in.Status == domain.RideStatusDriverArrived && in.ArrivedAt != nil:
			wait := ComputeWaitFee(*in.ArrivedAt, in.Now, in.Policy)
			res.Amount = in.Policy.PassengerCancellationFee
			if !wait.IsGracePeriod {
				res.WaitFee = wait.ChargedAmount
				res.Amount = math.Max(in.Policy.PassengerCancellationFee, wait.ChargedAmount)
			}
		case in.Status.IsAssigned(), in.Status == domain.RideStatusInProgress:
			res.Amount = in.Policy.PassengerCancellationFee
		}
	}

	res.Refund, res.RefundAmount = refundFor(in.PrepaidAmount, res.Amount)
	res.Explanation = explain(res, in.PrepaidAmount)
	return res
}

func refundFor(prepaid, penalty float64) (RefundOutcome, float64) {
	if prepaid <= 0 {
		return RefundNotPrepaid, 0
	}
	remainder := prepaid - penalty
	switch {
	case penalty <= 0:
		return RefundFull, prepaid
	case remainder > 0:
		return RefundPartial, remainder
	default:
		return RefundNone, 0
	}
}

func explain(p Penalty, prepaid float64) string {
	var msg string
	switch p.Refund {
	case RefundFull:
		msg = fmt.Sprintf("Full refund: %.2f will be returned.", prepaid)
	case RefundPartial:
		msg = fmt.Sprintf("Partial refund with penalty: %.2f cancellation fee deducted, %.2f will be returned.", p.Amount, p.RefundAmount)
	case RefundNone:
		msg = fmt.Sprintf("No refund due: the %.2f cancellation fee covers the prepaid amount.", p.Amount)
	default:
		if p.Amount > 0 {
			msg = fmt.Sprintf("A cancellation fee of %.2f applies.", p.Amount)
		} else {
			msg = "Free cancellation."
		}
	}
	if p.RateImpactWarning {
		msg += " Cancelling affects your cancellation rate."
	}
	return msg
}
