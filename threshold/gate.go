// Package threshold blocks unexpectedly large membership changes from being
// applied automatically.
package threshold

import (
	"errors"
	"fmt"

	"f0oster/groupsync/diff"
)

var ErrInvalidInput = errors.New("invalid threshold input")

// Decision is the gate's verdict for one delta.
type Decision struct {
	AddPct         float64 `json:"add_pct"`
	RemovePct      float64 `json:"remove_pct"`
	AddExceeded    bool    `json:"add_exceeded"`
	RemoveExceeded bool    `json:"remove_exceeded"`
}

// Exceeded reports whether the caller must withhold the change and notify
// instead of applying it.
func (d Decision) Exceeded() bool {
	return d.AddExceeded || d.RemoveExceeded
}

func (d Decision) String() string {
	return fmt.Sprintf("add %.2f%% (exceeded=%t), remove %.2f%% (exceeded=%t)",
		d.AddPct, d.AddExceeded, d.RemovePct, d.RemoveExceeded)
}

// Evaluate computes change percentages relative to the current destination
// size (floored at 1) and compares each strictly against its threshold.
func Evaluate(currentDestinationSize int, delta diff.Delta, pctThresholdAdd, pctThresholdRemove float64) (Decision, error) {
	if currentDestinationSize < 0 {
		return Decision{}, fmt.Errorf("%w: destination size %d", ErrInvalidInput, currentDestinationSize)
	}
	if pctThresholdAdd < 0 || pctThresholdRemove < 0 {
		return Decision{}, fmt.Errorf("%w: thresholds must not be negative (add %.2f, remove %.2f)", ErrInvalidInput, pctThresholdAdd, pctThresholdRemove)
	}

	base := float64(max(currentDestinationSize, 1))
	d := Decision{
		AddPct:    100 * float64(len(delta.ToAdd)) / base,
		RemovePct: 100 * float64(len(delta.ToRemove)) / base,
	}
	d.AddExceeded = d.AddPct > pctThresholdAdd
	d.RemoveExceeded = d.RemovePct > pctThresholdRemove
	return d, nil
}
