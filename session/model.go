package session

import (
	"errors"
	"fmt"
	"time"
)

// Status is the tag of a session [State].
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Termination reasons recorded on terminated sessions.
const (
	ReasonLogout            = "logout"
	ReasonExpired           = "expired"
	ReasonInactivityTimeout = "inactivity-timeout"
	ReasonIPRestricted      = "ip-restricted"
	ReasonSingleSession     = "single-session"
	ReasonForcedLogout      = "forced-logout"
	ReasonAccountLocked     = "account-locked"
	ReasonPasswordChanged   = "password-changed"
	ReasonRemoteRevocation  = "remote-revocation"
	ReasonSessionLimit      = "session-limit"
	ReasonMFAChanged        = "mfa-changed"
)

// State is Active or Terminated(Reason, At). Reason and At are only set when
// Status is StatusTerminated.
type State struct {
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

// Active returns the active state.
func Active() State { return State{Status: StatusActive} }

// Terminated returns a terminal state.
func Terminated(reason string, at time.Time) State {
	return State{Status: StatusTerminated, Reason: reason, At: at}
}

// Context is the source context a session was created from.
type Context struct {
	IP          string  `json:"ip"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	UserAgent   string  `json:"user_agent,omitempty"`
	Country     string  `json:"country,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"lat,omitempty"`
	Longitude   float64 `json:"lon,omitempty"`
}

// Session is a server-side authorization record for one identity.
type Session struct {
	ID                string    `json:"id"`
	Identity          string    `json:"identity"`
	Region            string    `json:"region,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	AbsoluteExpiresAt time.Time `json:"absolute_expires_at"`
	Context           Context   `json:"context"`
	MFACompleted      bool      `json:"mfa_completed"`
	MFAPending        bool      `json:"mfa_pending,omitempty"`
	State             State     `json:"state"`
}

// IsActive reports whether s has not been terminated.
func (s *Session) IsActive() bool {
	return s != nil && s.State.Status == StatusActive
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// CheckInvariant verifies LastActivityAt <= ExpiresAt <= AbsoluteExpiresAt
// and CreatedAt <= LastActivityAt.
func (s *Session) CheckInvariant() error {
	if s.LastActivityAt.Before(s.CreatedAt) {
		return fmt.Errorf("session %s: last activity before creation", s.ID)
	}
	if s.LastActivityAt.After(s.ExpiresAt) {
		return fmt.Errorf("session %s: last activity after expiry", s.ID)
	}
	if s.ExpiresAt.After(s.AbsoluteExpiresAt) {
		return fmt.Errorf("session %s: expiry after absolute boundary", s.ID)
	}
	return nil
}

// ErrTransition is returned by Apply* when the session is not active.
var ErrTransition = errors.New("session not active")

// ApplyTouch records activity at `at`. The timestamp never moves backwards
// and never passes ExpiresAt.
func (s *Session) ApplyTouch(at time.Time) error {
	if !s.IsActive() {
		return ErrTransition
	}
	if at.After(s.ExpiresAt) {
		at = s.ExpiresAt
	}
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return nil
}

// ApplyExtend moves the expiry to expiresAt, capped at AbsoluteExpiresAt and
// never below LastActivityAt.
func (s *Session) ApplyExtend(expiresAt time.Time) error {
	if !s.IsActive() {
		return ErrTransition
	}
	if expiresAt.After(s.AbsoluteExpiresAt) {
		expiresAt = s.AbsoluteExpiresAt
	}
	if expiresAt.Before(s.LastActivityAt) {
		expiresAt = s.LastActivityAt
	}
	s.ExpiresAt = expiresAt
	return nil
}

// ApplyMFACompleted sets the one-way MFA flag and clears any pending marker.
func (s *Session) ApplyMFACompleted() error {
	if !s.IsActive() {
		return ErrTransition
	}
	s.MFACompleted = true
	s.MFAPending = false
	return nil
}

// ApplyTerminate moves s to Terminated. It reports false when s was already
// terminated, leaving the original reason in place.
func (s *Session) ApplyTerminate(reason string, at time.Time) bool {
	if !s.IsActive() {
		return false
	}
	s.State = Terminated(reason, at)
	return true
}
