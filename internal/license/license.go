package license

import (
	"fmt"
	"time"
)

// adminTransitions lists the status edges an administrator may take.
// The validation path only ever takes active -> expired through Expire.
var adminTransitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusSuspended},
	StatusActive:    {StatusSuspended, StatusExpired},
	StatusSuspended: {StatusActive},
	StatusExpired:   {StatusActive},
}

// CanTransition reports whether an administrator may move a license from one status to another
func CanTransition(from, to Status) bool {
	for _, s := range adminTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsExpired reports whether the license has an expiry in the past
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// HasSeat reports whether one more activation fits under the ceiling
func (l *License) HasSeat() bool {
	return l.CurrentActivations < l.MaxActivations
}

// AttachActivation admits a new activation for hwid: it enforces the ceiling,
// consumes a seat and binds the hardware id on first use.
func (l *License) AttachActivation(hwid string) error {
	if !l.HasSeat() {
		return ErrLimitReached
	}
	l.CurrentActivations++
	if l.BoundHWID == "" {
		l.BoundHWID = hwid
	}
	return nil
}

// DetachActivation releases one seat, never going below zero
func (l *License) DetachActivation() {
	if l.CurrentActivations > 0 {
		l.CurrentActivations--
	}
}

// Expire moves an active license past its expiry to expired.
// It returns false when nothing changed.
func (l *License) Expire(now time.Time) bool {
	if l.Status != StatusActive || !l.IsExpired(now) {
		return false
	}
	l.Status = StatusExpired
	return true
}

// TransitionTo applies an administrative status change
func (l *License) TransitionTo(to Status) error {
	if !CanTransition(l.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, to)
	}
	l.Status = to
	return nil
}

// ResetBinding clears the hardware binding. Administrative only.
func (l *License) ResetBinding() {
	l.BoundHWID = ""
}

// Evaluate is the pure validation decision for a license and a hardware id.
// ReasonNone means the license may be used. ReasonExpired tells the caller to
// persist the expired status.
func Evaluate(l *License, hwid string, now time.Time) Reason {
	if l.Status != StatusActive {
		return StatusReason(l.Status)
	}
	if l.IsExpired(now) {
		return ReasonExpired
	}
	if l.BoundHWID != "" && l.BoundHWID != hwid {
		return ReasonHardwareMismatch
	}
	return ReasonNone
}
