package regionsync

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of replicated event types.
type Kind string

const (
	KindLogin           Kind = "login"
	KindLogout          Kind = "logout"
	KindRefresh         Kind = "refresh"
	KindPasswordChange  Kind = "password_change"
	KindAccountLocked   Kind = "account_locked"
	KindAccountUnlocked Kind = "account_unlocked"
	KindUserCreated     Kind = "user_created"
	KindUserUpdated     Kind = "user_updated"
	KindUserDeleted     Kind = "user_deleted"
)

var kinds = []Kind{
	KindLogin,
	KindLogout,
	KindRefresh,
	KindPasswordChange,
	KindAccountLocked,
	KindAccountUnlocked,
	KindUserCreated,
	KindUserUpdated,
	KindUserDeleted,
}

// Kinds returns every known kind in dispatch order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Replication reports whether k carries a user directory record.
func (k Kind) Replication() bool {
	return k == KindUserCreated || k == KindUserUpdated || k == KindUserDeleted
}

// UserRecord is the replicated view of a directory user.
type UserRecord struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Deleted    bool              `json:"deleted,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Region     string            `json:"region,omitempty"`
}

// Newer reports whether r supersedes other under last-writer-wins. Equal
// timestamps are broken by region name so every region converges.
func (r UserRecord) Newer(other UserRecord) bool {
	if r.UpdatedAt.Equal(other.UpdatedAt) {
		return r.Region > other.Region
	}
	return r.UpdatedAt.After(other.UpdatedAt)
}

// Event is one lifecycle fact published to peer regions.
type Event struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Region string    `json:"region"`
	At     time.Time `json:"at"`

	Identity string `json:"identity,omitempty"`
	// SessionID scopes logout and refresh to one session. Empty on logout
	// means every session of Identity.
	SessionID string `json:"session_id,omitempty"`
	// ExceptSessionID survives a logout-all.
	ExceptSessionID string    `json:"except_session_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	LockedUntil     time.Time `json:"locked_until,omitempty"`

	User *UserRecord `json:"user,omitempty"`
}

var (
	// ErrInvalidEvent is returned for events that fail structural checks.
	ErrInvalidEvent = errors.New("regionsync: invalid event")
)

// NewEvent stamps a fresh id, origin region and timestamp.
func NewEvent(kind Kind, region string, at time.Time) Event {
	return Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Region: region,
		At:     at.UTC(),
	}
}

// Validate checks the fields each kind requires.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.ID == "" || e.Region == "" || e.At.IsZero() {
		return fmt.Errorf("%w: missing id, region or timestamp", ErrInvalidEvent)
	}
	if e.Kind.Replication() {
		if e.User == nil || e.User.ID == "" {
			return fmt.Errorf("%w: %s without user record", ErrInvalidEvent, e.Kind)
		}
		return nil
	}
	if e.Identity == "" {
		return fmt.Errorf("%w: %s without identity", ErrInvalidEvent, e.Kind)
	}
	if e.Kind == KindRefresh && (e.SessionID == "" || e.ExpiresAt.IsZero()) {
		return fmt.Errorf("%w: refresh without session or expiry", ErrInvalidEvent)
	}
	return nil
}
