package fare

import (
	"math"
	"time"
)

// WaitFee is the result of billing the time a driver waited at pickup.
type WaitFee struct {
	ElapsedSeconds      int64   `json:"elapsed_seconds"`
	IsGracePeriod       bool    `json:"is_grace_period"`
	ChargedSeconds      int64   `json:"charged_seconds"`
	ChargedWholeMinutes int64   `json:"charged_whole_minutes"`
	ChargedAmount       float64 `json:"charged_amount"`
	ProgressPct         float64 `json:"progress_pct"`
	GraceRemaining      int64   `json:"grace_remaining_seconds"`
}

// ComputeWaitFee bills the wait between arrivedAt and now.
// Overage is always rounded up to whole minutes. A now before arrivedAt is
// treated as zero elapsed time.
func ComputeWaitFee(arrivedAt, now time.Time, p Policy) WaitFee {
	elapsed := int64(now.Sub(arrivedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	grace := p.GracePeriodSeconds()

	res := WaitFee{
		ElapsedSeconds: elapsed,
		IsGracePeriod:  elapsed <= grace,
	}

	if !res.IsGracePeriod {
		res.ChargedSeconds = elapsed - grace
		res.ChargedWholeMinutes = (res.ChargedSeconds + 59) / 60
		res.ChargedAmount = float64(res.ChargedWholeMinutes) * p.WaitFeePerMinute
	} else {
		res.GraceRemaining = grace - elapsed
	}

	if grace <= 0 {
		res.ProgressPct = 100
	} else {
		res.ProgressPct = math.Min(float64(elapsed)/float64(grace)*100, 100)
	}

	return res
}
