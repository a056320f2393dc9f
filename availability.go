package authgate

import "sync"

// State is the remote backend's availability as last observed.
type State uint8

const (
	// StateUnknown means no probe result has been recorded yet.
	StateUnknown State = iota
	// StateAvailable means a probe succeeded.
	StateAvailable
	// StateUnavailable means probes so far have failed.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// AvailabilitySnapshot is a consistent copy of Availability.
type AvailabilitySnapshot struct {
	State      State  `json:"-"`
	StateName  string `json:"state"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	Checked    bool   `json:"checked"`
}

// Availability is the shared record of whether the remote backend can be
// used. It is safe for concurrent use; concurrent writers are last-writer-wins
// within the transition rules:
//
//   - unknown -> available | unavailable
//   - unavailable -> available on a successful probe
//   - available is never downgraded by a failed probe
//
// RetryCount stays within [0, MaxRetries] and resets to 0 on available.
type Availability struct {
	mu         sync.Mutex
	state      State
	retryCount int
	maxRetries int
	checked    bool
}

// NewAvailability returns an unknown state with the given retry budget.
func NewAvailability(maxRetries int) *Availability {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Availability{maxRetries: maxRetries}
}

// State returns the current state.
func (a *Availability) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Snapshot returns all fields under one lock.
func (a *Availability) Snapshot() AvailabilitySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AvailabilitySnapshot{
		State:      a.state,
		StateName:  a.state.String(),
		RetryCount: a.retryCount,
		MaxRetries: a.maxRetries,
		Checked:    a.checked,
	}
}

// Record applies a probe result and returns the state before and after.
func (a *Availability) Record(reachable bool) (before, after State) {
	a.mu.Lock()
	defer a.mu.Unlock()

	before = a.state
	a.checked = true
	switch {
	case reachable:
		a.state = StateAvailable
		a.retryCount = 0
	case a.state == StateUnknown:
		a.state = StateUnavailable
	}
	return before, a.state
}

// ConsumeRetry spends one unit of the retry budget. It returns false, and
// changes nothing, once the budget is exhausted or the backend is available.
func (a *Availability) ConsumeRetry() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateAvailable || a.retryCount >= a.maxRetries {
		return false
	}
	a.retryCount++
	return true
}

// RetryCount returns the spent retry budget.
func (a *Availability) RetryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retryCount
}

// Checked reports whether any probe result has been recorded.
func (a *Availability) Checked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checked
}

// markPermanentlyUnavailable is used when no backend is configured.
func (a *Availability) markPermanentlyUnavailable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateUnavailable
	a.checked = true
	a.retryCount = a.maxRetries
}
