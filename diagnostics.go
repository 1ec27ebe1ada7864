package assetdb

import (
	"sync"
	"time"
)

// DiagnosticsSnapshot is a point-in-time copy of the health record
type DiagnosticsSnapshot struct {
	LockedRecently    bool      `json:"lockedRecently"`
	LastLockedAt      time.Time `json:"lastLockedAt,omitempty"`
	LastLockedMessage string    `json:"lastLockedMessage,omitempty"`

	MalformedRecently    bool      `json:"malformedRecently"`
	LastMalformedAt      time.Time `json:"lastMalformedAt,omitempty"`
	LastMalformedMessage string    `json:"lastMalformedMessage,omitempty"`

	RecoveryAttempts  int `json:"recoveryAttempts"`
	RecoverySuccesses int `json:"recoverySuccesses"`
	RecoveryFailures  int `json:"recoveryFailures"`

	ResetAttempts  int `json:"resetAttempts"`
	ResetSuccesses int `json:"resetSuccesses"`
	ResetFailures  int `json:"resetFailures"`
}

// Diagnostics records lock, corruption, recovery, and reset events so
// callers can inspect store health without scraping logs.
type Diagnostics struct {
	mu          sync.Mutex
	staleWindow time.Duration
	now         func() time.Time

	lastLockedAt      time.Time
	lastLockedMessage string

	lastMalformedAt      time.Time
	lastMalformedMessage string

	recoveryAttempts  int
	recoverySuccesses int
	recoveryFailures  int

	resetAttempts  int
	resetSuccesses int
	resetFailures  int
}

// NewDiagnostics creates a health record whose "recently" flags expire
// after staleWindow. A non-positive window uses the default.
func NewDiagnostics(staleWindow time.Duration) *Diagnostics {
	if staleWindow <= 0 {
		staleWindow = DefaultStaleWindow
	}
	return &Diagnostics{
		staleWindow: staleWindow,
		now:         time.Now,
	}
}

// RecordLocked notes a locked-database event
func (d *Diagnostics) RecordLocked(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLockedAt = d.now()
	d.lastLockedMessage = msg
}

// RecordMalformed notes a corruption event
func (d *Diagnostics) RecordMalformed(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastMalformedAt = d.now()
	d.lastMalformedMessage = msg
}

// RecordRecovery counts an online recovery attempt and its outcome
func (d *Diagnostics) RecordRecovery(ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recoveryAttempts++
	if ok {
		d.recoverySuccesses++
	} else {
		d.recoveryFailures++
	}
}

// RecordReset counts a hard reset attempt and its outcome
func (d *Diagnostics) RecordReset(ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetAttempts++
	if ok {
		d.resetSuccesses++
	} else {
		d.resetFailures++
	}
}

// Snapshot returns a point-in-time copy. The recent flags read false
// once the corresponding event is older than the stale window.
func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	return DiagnosticsSnapshot{
		LockedRecently:    !d.lastLockedAt.IsZero() && now.Sub(d.lastLockedAt) <= d.staleWindow,
		LastLockedAt:      d.lastLockedAt,
		LastLockedMessage: d.lastLockedMessage,

		MalformedRecently:    !d.lastMalformedAt.IsZero() && now.Sub(d.lastMalformedAt) <= d.staleWindow,
		LastMalformedAt:      d.lastMalformedAt,
		LastMalformedMessage: d.lastMalformedMessage,

		RecoveryAttempts:  d.recoveryAttempts,
		RecoverySuccesses: d.recoverySuccesses,
		RecoveryFailures:  d.recoveryFailures,

		ResetAttempts:  d.resetAttempts,
		ResetSuccesses: d.resetSuccesses,
		ResetFailures:  d.resetFailures,
	}
}
