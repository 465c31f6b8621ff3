package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service provides the administrative mutations of the access model:
// account registration, status changes, and grant management.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterAccountInput carries the fields of the registration action.
type RegisterAccountInput struct {
	Handle      string `json:"handle"`
	StableID    *int64 `json:"stable_id"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// RegisterAccount creates a new active account. At least one external
// identifier must be provided and the display label is required.
func (s *Service) RegisterAccount(ctx context.Context, in RegisterAccountInput) (*Account, error) {
	handle := NormalizeHandle(in.Handle)
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if handle == "" && in.StableID == nil {
		return nil, fmt.Errorf("%w: handle or stable id is required", ErrInvalidInput)
	}

	now := s.now()
	acct := &Account{
		ID:          uuid.NewString(),
		Handle:      handle,
		StableID:    in.StableID,
		DisplayName: display,
		IsAdmin:     in.IsAdmin,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Accounts(ctx).Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// SetAccountStatus changes the lifecycle status of an account. The pairing
// invariant is validated before the write: suspended requires reactivate_at,
// every other status forbids it.
func (s *Service) SetAccountStatus(ctx context.Context, id string, status AccountStatus, reactivateAt *time.Time) error {
	switch status {
	case StatusActive, StatusBlocked:
		if reactivateAt != nil {
			return fmt.Errorf("%w: reactivate_at is only valid for suspended", ErrInvalidInput)
		}
	case StatusSuspended:
		if reactivateAt == nil {
			return fmt.Errorf("%w: suspended requires reactivate_at", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.store.Accounts(ctx).SetStatus(ctx, id, status, reactivateAt)
}

// GrantAccess links an account to an application. The (account, application)
// pair is unique; a repeated grant surfaces ErrAlreadyExists.
func (s *Service) GrantAccess(ctx context.Context, accountID, applicationID string) (*Grant, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(applicationID) == "" {
		return nil, fmt.Errorf("%w: account id and application id are required", ErrInvalidInput)
	}
	g := &Grant{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		ApplicationID: applicationID,
		CreatedAt:     s.now(),
	}
	if err := s.store.Grants(ctx).Create(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// RevokeGrant removes the grant; all messages owned by it are deleted with it.
func (s *Service) RevokeGrant(ctx context.Context, grantID string) error {
	if strings.TrimSpace(grantID) == "" {
		return fmt.Errorf("%w: grant id is required", ErrInvalidInput)
	}
	return s.store.Grants(ctx).Delete(ctx, grantID)
}

// EnsureApplication registers an application if it does not exist yet.
// The application catalog is otherwise managed externally.
func (s *Service) EnsureApplication(ctx context.Context, name string, active bool) (*Application, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: application name is required", ErrInvalidInput)
	}
	app := &Application{
		ID:        uuid.NewString(),
		Name:      name,
		Active:    active,
		CreatedAt: s.now(),
	}
	if err := s.store.Applications(ctx).Create(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// ReactivateExpired persists active status for suspensions that have lapsed.
// Called by the sweeper, never from the resolver path.
func (s *Service) ReactivateExpired(ctx context.Context) (int64, error) {
	return s.store.Accounts(ctx).ReactivateExpired(ctx, s.now())
}
