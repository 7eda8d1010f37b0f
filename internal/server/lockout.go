// lockout.go - Account lockout mechanism to prevent brute-force attacks
package server

import (
	"context"
	"sync"
	"time"
)

// LoginAttempt tracks failed sign-in attempts for an account
type LoginAttempt struct {
	Count       int
	LastAttempt time.Time
	LockedUntil time.Time
}

// AccountLockout locks a username after too many failed sign-ins.
type AccountLockout struct {
	mu              sync.Mutex
	attempts        map[string]*LoginAttempt // username -> attempts
	maxAttempts     int
	lockoutDuration time.Duration
	windowDuration  time.Duration
	now             func() time.Time
}

// NewAccountLockout creates a new account lockout manager
// maxAttempts: number of failed attempts before lockout (e.g., 5)
// lockoutDuration: how long to lock the account (e.g., 15 minutes)
// windowDuration: time window to count attempts (e.g., 10 minutes)
// Stale entries are swept hourly until ctx is done.
func NewAccountLockout(ctx context.Context, maxAttempts int, lockoutDuration, windowDuration time.Duration) *AccountLockout {
	al := &AccountLockout{
		attempts:        make(map[string]*LoginAttempt),
		maxAttempts:     maxAttempts,
		lockoutDuration: lockoutDuration,
		windowDuration:  windowDuration,
		now:             time.Now,
	}
	go al.janitor(ctx, time.Hour)
	return al
}

// RecordFailedAttempt records a failed sign-in and reports whether the
// account is now locked.
func (al *AccountLockout) RecordFailedAttempt(username string) (locked bool, lockedUntil time.Time) {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()

	attempt, exists := al.attempts[username]
	if !exists {
		attempt = &LoginAttempt{}
		al.attempts[username] = attempt
	}

	// Reset count if outside window
	if now.Sub(attempt.LastAttempt) > al.windowDuration {
		attempt.Count = 0
	}

	attempt.Count++
	attempt.LastAttempt = now

	if attempt.Count >= al.maxAttempts {
		attempt.LockedUntil = now.Add(al.lockoutDuration)
		return true, attempt.LockedUntil
	}
	return false, time.Time{}
}

// RecordSuccessfulLogin resets failed attempts for a username
func (al *AccountLockout) RecordSuccessfulLogin(username string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.attempts, username)
}

// IsLocked reports whether the account is locked and until when.
func (al *AccountLockout) IsLocked(username string) (bool, time.Time) {
	al.mu.Lock()
	defer al.mu.Unlock()

	attempt, exists := al.attempts[username]
	if !exists {
		return false, time.Time{}
	}
	if !attempt.LockedUntil.IsZero() && al.now().Before(attempt.LockedUntil) {
		return true, attempt.LockedUntil
	}
	return false, time.Time{}
}

func (al *AccountLockout) janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			al.sweep()
		}
	}
}

// sweep removes entries whose lock expired and whose last attempt is older
// than twice the counting window.
func (al *AccountLockout) sweep() {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	for username, attempt := range al.attempts {
		if (attempt.LockedUntil.IsZero() || now.After(attempt.LockedUntil)) &&
			now.Sub(attempt.LastAttempt) > 2*al.windowDuration {
			delete(al.attempts, username)
		}
	}
}
