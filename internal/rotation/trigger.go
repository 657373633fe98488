// Package rotation decides when the VPN server should be switched and runs
// the switch off the download path.
package rotation

import "sync"

// Reason explains why a rotation was requested.
type Reason string

const (
	ReasonCadence   Reason = "cadence"
	ReasonThreshold Reason = "threshold"
	ReasonBoth      Reason = "cadence+threshold"
)

// Decision is the outcome of one Trigger evaluation.
type Decision struct {
	Rotate bool
	Reason Reason
	// Count is the counter value after the evaluation (0 after a cadence reset).
	Count int
}

// Trigger counts finished tasks and signals rotation every switchAfter tasks or
// whenever a task was slower than the threshold.
type Trigger struct {
	mu          sync.Mutex
	switchAfter int
	threshold   float64
	count       int
}

// NewTrigger returns a trigger. switchAfter <= 0 disables cadence rotation and
// threshold <= 0 disables threshold rotation. threshold is in KiB/s.
func NewTrigger(switchAfter int, threshold float64) *Trigger {
	return &Trigger{switchAfter: switchAfter, threshold: threshold}
}

// Evaluate is called once per Completed or Error task with that task's speed
// in KiB/s. measured is false when no speed was observed, which skips the
// threshold rule.
func (t *Trigger) Evaluate(speed float64, measured bool) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++

	slow := measured && t.threshold > 0 && speed < t.threshold

	if t.switchAfter > 0 && t.count%t.switchAfter == 0 {
		t.count = 0

		reason := ReasonCadence
		if slow {
			reason = ReasonBoth
		}

		return Decision{Rotate: true, Reason: reason, Count: t.count}
	}

	if slow {
		return Decision{Rotate: true, Reason: ReasonThreshold, Count: t.count}
	}

	return Decision{Count: t.count}
}

// Count returns the number of tasks evaluated since the last cadence rotation.
func (t *Trigger) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.count
}
