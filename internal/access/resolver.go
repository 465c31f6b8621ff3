package access

import (
	"context"
	"errors"
	"strings"
	"time"
)

// handlePrefix is the canonical marker of a platform handle.
const handlePrefix = "@"

// NormalizeHandle trims the raw handle and ensures the canonical prefix.
// An empty input stays empty. Case is preserved; comparisons against stored
// handles are case-insensitive at the store level.
func NormalizeHandle(raw string) string {
	h := strings.TrimSpace(raw)
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, handlePrefix) {
		h = handlePrefix + h
	}
	return h
}

// Resolver maps a platform identity assertion plus a target application name
// to a single authorization decision. It performs no writes and never
// defaults to authorized: any missing or ambiguous state resolves to a
// non-authorized decision.
type Resolver struct {
	store Store
	now   func() time.Time
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Resolve runs the deterministic single-pass resolution:
// application first, then identity, then account status, then grant.
// Infrastructure failures propagate as errors; business outcomes do not.
func (r *Resolver) Resolve(ctx context.Context, appName string, stableID *int64, handle string) (Resolution, error) {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Resolution{}, ErrInvalidInput
	}

	// The application check precedes identity resolution so a disabled
	// application is reported consistently regardless of identity validity.
	app, err := r.store.Applications(ctx).FindActiveByName(ctx, appName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resolution{Decision: DecisionAppInactive}, nil
		}
		return Resolution{}, err
	}

	handle = NormalizeHandle(handle)
	if stableID == nil && handle == "" {
		return Resolution{Decision: DecisionUnknownUser}, nil
	}

	acct, err := r.store.Accounts(ctx).FindByIdentity(ctx, stableID, handle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resolution{Decision: DecisionUnknownUser}, nil
		}
		return Resolution{}, err
	}

	res := Resolution{
		AccountID:     acct.ID,
		ApplicationID: app.ID,
		AccountStatus: acct.Status,
		ReactivateAt:  acct.ReactivateAt,
	}

	switch {
	case acct.Status == StatusBlocked:
		res.Decision = DecisionBlocked
		return res, nil
	case acct.Status == StatusSuspended && !acct.suspensionExpired(r.now()):
		res.Decision = DecisionSuspended
		return res, nil
	case acct.suspensionExpired(r.now()):
		// Expired suspension: treated as active for the remaining checks.
		// The stored status is not touched here; the sweeper persists it.
		res.AccountStatus = StatusActive
		res.ReactivateAt = nil
	}

	grant, err := r.store.Grants(ctx).FindByAccountAndApp(ctx, acct.ID, app.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			res.Decision = DecisionNoAppAccess
			return res, nil
		}
		return Resolution{}, err
	}

	res.Decision = DecisionAuthorized
	res.GrantID = grant.ID
	return res, nil
}
