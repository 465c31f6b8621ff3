package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Uniqueness and the
// status/reactivate_at pairing are enforced by the schema; this layer only
// translates driver errors into the package taxonomy.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore         { return &pgAccounts{db: s.db} }
func (s *PGStore) Applications(context.Context) ApplicationStore { return &pgApps{db: s.db} }
func (s *PGStore) Grants(context.Context) GrantStore             { return &pgGrants{db: s.db} }

// uniqueViolation reports whether err is the unique-constraint error class.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Account store -------------------------------------------------------------

type pgAccounts struct{ db *sql.DB }

const accountColumns = `id, handle, stable_id, display_name, is_admin, status, reactivate_at, created_at, updated_at`

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a        Account
		handle   sql.NullString
		stableID sql.NullInt64
		reactAt  sql.NullTime
	)
	err := row.Scan(&a.ID, &handle, &stableID, &a.DisplayName, &a.IsAdmin, &a.Status, &reactAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if handle.Valid {
		a.Handle = handle.String
	}
	if stableID.Valid {
		v := stableID.Int64
		a.StableID = &v
	}
	if reactAt.Valid {
		t := reactAt.Time
		a.ReactivateAt = &t
	}
	return &a, nil
}

func (s *pgAccounts) Create(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accounts(id, handle, stable_id, display_name, is_admin, status, reactivate_at)
		values ($1, nullif($2,''), $3, $4, $5, $6, $7)
	`, a.ID, a.Handle, a.StableID, a.DisplayName, a.IsAdmin, a.Status, a.ReactivateAt)
	if uniqueViolation(err) {
		return fmt.Errorf("%w: account identity taken", ErrAlreadyExists)
	}
	return err
}

func (s *pgAccounts) Find(ctx context.Context, id string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *pgAccounts) FindByIdentity(ctx context.Context, stableID *int64, handle string) (*Account, error) {
	// Single query keeps the preference rule in one place: stable id wins
	// over handle, then earliest creation.
	var id sql.NullInt64
	if stableID != nil {
		id = sql.NullInt64{Int64: *stableID, Valid: true}
	}
	return scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+` from accounts
		where ($1::bigint is not null and stable_id = $1)
		   or ($2::text <> '' and lower(handle) = lower($2))
		order by (stable_id = $1) desc nulls last, created_at asc
		limit 1
	`, id, handle))
}

func (s *pgAccounts) SetStatus(ctx context.Context, id string, status AccountStatus, reactivateAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts set status=$2, reactivate_at=$3, updated_at=now() where id=$1
	`, id, status, reactivateAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgAccounts) ReactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update accounts set status='active', reactivate_at=null, updated_at=now()
		where status='suspended' and reactivate_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Application store ---------------------------------------------------------

type pgApps struct{ db *sql.DB }

func (s *pgApps) Create(ctx context.Context, app *Application) error {
	_, err := s.db.ExecContext(ctx, `
		insert into applications(id, name, active) values ($1, $2, $3)
	`, app.ID, app.Name, app.Active)
	if uniqueViolation(err) {
		return fmt.Errorf("%w: application %s", ErrAlreadyExists, app.Name)
	}
	return err
}

func (s *pgApps) FindActiveByName(ctx context.Context, name string) (*Application, error) {
	var app Application
	err := s.db.QueryRowContext(ctx, `
		select id, name, active, created_at from applications where name=$1 and active=true
	`, name).Scan(&app.ID, &app.Name, &app.Active, &app.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// Grant store ---------------------------------------------------------------

type pgGrants struct{ db *sql.DB }

func (s *pgGrants) Create(ctx context.Context, g *Grant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into grants(id, account_id, application_id) values ($1, $2, $3)
	`, g.ID, g.AccountID, g.ApplicationID)
	if uniqueViolation(err) {
		return fmt.Errorf("%w: grant for (%s, %s)", ErrAlreadyExists, g.AccountID, g.ApplicationID)
	}
	return err
}

func (s *pgGrants) Find(ctx context.Context, id string) (*Grant, error) {
	var g Grant
	err := s.db.QueryRowContext(ctx, `
		select id, account_id, application_id, created_at from grants where id=$1
	`, id).Scan(&g.ID, &g.AccountID, &g.ApplicationID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *pgGrants) FindByAccountAndApp(ctx context.Context, accountID, applicationID string) (*Grant, error) {
	var g Grant
	err := s.db.QueryRowContext(ctx, `
		select id, account_id, application_id, created_at from grants
		where account_id=$1 and application_id=$2
	`, accountID, applicationID).Scan(&g.ID, &g.AccountID, &g.ApplicationID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *pgGrants) Delete(ctx context.Context, id string) error {
	// Messages owned by the grant go with it (FK on delete cascade).
	res, err := s.db.ExecContext(ctx, `delete from grants where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
