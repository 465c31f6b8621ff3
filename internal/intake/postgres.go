package intake

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The dedup insert rides on the
// unique (lower(platform), platform_message_id) index via insert-or-ignore, and the
// terminal transitions are conditional updates guarded by status='pending',
// so concurrent deliveries need no application-level locking.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, m *Message) (bool, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		insert into messages(id, grant_id, request_text, platform, platform_message_id, payload, status, requested_at)
		values ($1, $2, $3, $4, $5, $6, 'pending', $7)
		on conflict (lower(platform), platform_message_id) do nothing
	`, m.ID, m.GrantID, m.RequestText, m.Payload.Platform, m.Payload.MessageID, payload, m.RequestedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PGStore) Find(ctx context.Context, id string) (*Message, error) {
	var (
		m           Message
		respText    sql.NullString
		altText     sql.NullString
		errText     sql.NullString
		respondedAt sql.NullTime
		payload     []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, grant_id, request_text, response_text, alt_response_text, payload, status, error_text, requested_at, responded_at
		from messages where id=$1
	`, id).Scan(&m.ID, &m.GrantID, &m.RequestText, &respText, &altText, &payload, &m.Status, &errText, &m.RequestedAt, &respondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if respText.Valid {
		m.ResponseText = respText.String
	}
	if altText.Valid {
		m.AltResponseText = altText.String
	}
	if errText.Valid {
		m.ErrorText = errText.String
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		m.RespondedAt = &t
	}
	if err := json.Unmarshal(payload, &m.Payload); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PGStore) Complete(ctx context.Context, id, responseText string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update messages set status='completed', response_text=$2, responded_at=$3
		where id=$1 and status='pending'
	`, id, responseText, at)
	if err != nil {
		return err
	}
	return s.transitionOutcome(ctx, res, id)
}

func (s *PGStore) Fail(ctx context.Context, id, errorText string) error {
	res, err := s.db.ExecContext(ctx, `
		update messages set status='failed', error_text=$2
		where id=$1 and status='pending'
	`, id, errorText)
	if err != nil {
		return err
	}
	return s.transitionOutcome(ctx, res, id)
}

// transitionOutcome distinguishes a lost guard (terminal row untouched) from
// a missing row when the conditional update affected nothing.
func (s *PGStore) transitionOutcome(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var status Status
	err = s.db.QueryRowContext(ctx, `select status from messages where id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func (s *PGStore) SweepTimeouts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update messages set status='timeout' where status='pending' and requested_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) DeleteByGrant(ctx context.Context, grantID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from messages where grant_id=$1`, grantID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
