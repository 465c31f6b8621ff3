package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It mirrors
// the relational constraints (case-insensitive handle uniqueness, stable id
// uniqueness, the suspended/reactivate_at pairing) so tests exercise the
// same failure modes as PostgreSQL.
type InMemory struct {
	mu     sync.RWMutex
	accts  map[string]*Account
	apps   map[string]*Application
	grants map[string]*Grant
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accts:  make(map[string]*Account),
		apps:   make(map[string]*Application),
		grants: make(map[string]*Grant),
	}
}

func (s *InMemory) Accounts(context.Context) AccountStore     { return (*memAccounts)(s) }
func (s *InMemory) Applications(context.Context) ApplicationStore { return (*memApps)(s) }
func (s *InMemory) Grants(context.Context) GrantStore         { return (*memGrants)(s) }

// Account store -------------------------------------------------------------

type memAccounts InMemory

func (s *memAccounts) Create(_ context.Context, a *Account) error {
	if err := checkAccountInvariants(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accts {
		if a.Handle != "" && strings.EqualFold(existing.Handle, a.Handle) {
			return fmt.Errorf("%w: handle %s", ErrAlreadyExists, a.Handle)
		}
		if a.StableID != nil && existing.StableID != nil && *existing.StableID == *a.StableID {
			return fmt.Errorf("%w: stable id %d", ErrAlreadyExists, *a.StableID)
		}
	}
	cp := *a
	s.accts[a.ID] = &cp
	return nil
}

func (s *memAccounts) Find(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAccounts) FindByIdentity(_ context.Context, stableID *int64, handle string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*Account
	if stableID != nil {
		for _, a := range s.accts {
			if a.StableID != nil && *a.StableID == *stableID {
				candidates = append(candidates, a)
			}
		}
	}
	// The stable numeric id is authoritative; the handle only matters when
	// nothing matched by id.
	if len(candidates) == 0 && handle != "" {
		for _, a := range s.accts {
			if a.Handle != "" && strings.EqualFold(a.Handle, handle) {
				candidates = append(candidates, a)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

func (s *memAccounts) SetStatus(_ context.Context, id string, status AccountStatus, reactivateAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accts[id]
	if !ok {
		return ErrNotFound
	}
	updated := *a
	updated.Status = status
	updated.ReactivateAt = reactivateAt
	updated.UpdatedAt = time.Now().UTC()
	if err := checkAccountInvariants(&updated); err != nil {
		return err
	}
	s.accts[id] = &updated
	return nil
}

func (s *memAccounts) ReactivateExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.accts {
		if a.Status == StatusSuspended && a.ReactivateAt != nil && !a.ReactivateAt.After(now) {
			a.Status = StatusActive
			a.ReactivateAt = nil
			a.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func checkAccountInvariants(a *Account) error {
	if a.Handle == "" && a.StableID == nil {
		return fmt.Errorf("%w: account needs handle or stable id", ErrInvalidInput)
	}
	if a.DisplayName == "" {
		return fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if (a.Status == StatusSuspended) != (a.ReactivateAt != nil) {
		return fmt.Errorf("%w: reactivate_at must be set iff suspended", ErrInvalidInput)
	}
	return nil
}

// Application store ---------------------------------------------------------

type memApps InMemory

func (s *memApps) Create(_ context.Context, app *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.apps {
		if existing.Name == app.Name {
			return fmt.Errorf("%w: application %s", ErrAlreadyExists, app.Name)
		}
	}
	cp := *app
	s.apps[app.ID] = &cp
	return nil
}

func (s *memApps) FindActiveByName(_ context.Context, name string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, app := range s.apps {
		if app.Name == name && app.Active {
			cp := *app
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Grant store ---------------------------------------------------------------

type memGrants InMemory

func (s *memGrants) Create(_ context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accts[g.AccountID]; !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, g.AccountID)
	}
	if _, ok := s.apps[g.ApplicationID]; !ok {
		return fmt.Errorf("%w: application %s", ErrNotFound, g.ApplicationID)
	}
	for _, existing := range s.grants {
		if existing.AccountID == g.AccountID && existing.ApplicationID == g.ApplicationID {
			return fmt.Errorf("%w: grant for (%s, %s)", ErrAlreadyExists, g.AccountID, g.ApplicationID)
		}
	}
	cp := *g
	s.grants[g.ID] = &cp
	return nil
}

func (s *memGrants) Find(_ context.Context, id string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *memGrants) FindByAccountAndApp(_ context.Context, accountID, applicationID string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants {
		if g.AccountID == accountID && g.ApplicationID == applicationID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memGrants) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[id]; !ok {
		return ErrNotFound
	}
	delete(s.grants, id)
	return nil
}
