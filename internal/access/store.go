package access

import (
	"context"
	"time"
)

// Store describes persistence operations required by the access subsystem.
// The underlying store is the sole arbiter of the uniqueness invariants:
// case-insensitive handles, stable ids, and (account, application) grants.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Applications(ctx context.Context) ApplicationStore
	Grants(ctx context.Context) GrantStore
}

// AccountStore manages account records.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	// FindByIdentity resolves a platform identity assertion to one account.
	// The stable numeric id is authoritative over the mutable handle; the
	// handle comparison is case-insensitive; ties break on earliest created_at.
	FindByIdentity(ctx context.Context, stableID *int64, handle string) (*Account, error)
	SetStatus(ctx context.Context, id string, status AccountStatus, reactivateAt *time.Time) error
	// ReactivateExpired flips suspended accounts whose reactivate_at has
	// passed back to active. Returns the number of accounts updated.
	ReactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// ApplicationStore manages the static application catalog.
type ApplicationStore interface {
	Create(ctx context.Context, app *Application) error
	FindActiveByName(ctx context.Context, name string) (*Application, error)
}

// GrantStore manages account-application grants.
type GrantStore interface {
	Create(ctx context.Context, g *Grant) error
	Find(ctx context.Context, id string) (*Grant, error)
	FindByAccountAndApp(ctx context.Context, accountID, applicationID string) (*Grant, error)
	// Delete removes the grant; the store cascades deletion to its messages.
	Delete(ctx context.Context, id string) error
}
