package access

import (
	"errors"
	"time"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusBlocked   AccountStatus = "blocked"
	StatusSuspended AccountStatus = "suspended"
)

// Decision is the closed set of access resolution outcomes. Exactly one is
// produced per Resolve call; callers branch on it rather than on errors.
type Decision string

const (
	DecisionAuthorized  Decision = "authorized"
	DecisionUnknownUser Decision = "unknown_user"
	DecisionBlocked     Decision = "blocked"
	DecisionSuspended   Decision = "suspended"
	DecisionAppInactive Decision = "app_inactive"
	DecisionNoAppAccess Decision = "no_app_access"
)

// Account represents a human identity addressable by a stable platform id
// and/or a mutable @handle. At least one of the two must be present.
type Account struct {
	ID           string        `json:"id"`
	Handle       string        `json:"handle,omitempty"`
	StableID     *int64        `json:"stable_id,omitempty"`
	DisplayName  string        `json:"display_name"`
	IsAdmin      bool          `json:"is_admin"`
	Status       AccountStatus `json:"status"`
	ReactivateAt *time.Time    `json:"reactivate_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Application is a named destination service accounts can be granted access to.
type Application struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Grant is the authorization edge between an account and an application.
// Its presence is the sole authorization predicate; messages belong to it.
type Grant struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	ApplicationID string    `json:"application_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Resolution is the outcome of a single access resolution pass.
type Resolution struct {
	Decision      Decision      `json:"decision"`
	AccountID     string        `json:"account_id,omitempty"`
	GrantID       string        `json:"grant_id,omitempty"`
	ApplicationID string        `json:"application_id,omitempty"`
	AccountStatus AccountStatus `json:"account_status,omitempty"`
	ReactivateAt  *time.Time    `json:"reactivate_at,omitempty"`
}

var (
	ErrNotFound      = errors.New("access: not found")
	ErrAlreadyExists = errors.New("access: already exists")
	ErrInvalidInput  = errors.New("access: invalid input")
)

// suspensionExpired reports whether a suspended account should be treated as
// active again. Read-only view; the stored status is flipped by the sweeper.
func (a *Account) suspensionExpired(now time.Time) bool {
	return a.Status == StatusSuspended && a.ReactivateAt != nil && !a.ReactivateAt.After(now)
}
