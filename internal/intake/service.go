package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service validates intake operations and delegates the atomic parts to the
// store. Fresh/duplicate and ok/conflict are return values, never faults;
// only infrastructure failures surface as errors.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// RecordIfNew accepts an inbound message exactly once per deduplication key.
// Malformed payloads are rejected before any store interaction.
func (s *Service) RecordIfNew(ctx context.Context, grantID, requestText string, payload Payload) (RecordResult, error) {
	if strings.TrimSpace(grantID) == "" {
		return RecordResult{}, fmt.Errorf("%w: grant id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(requestText) == "" {
		return RecordResult{}, fmt.Errorf("%w: request text is required", ErrInvalidInput)
	}
	if err := payload.Validate(); err != nil {
		return RecordResult{}, err
	}

	m := &Message{
		ID:          uuid.NewString(),
		GrantID:     grantID,
		RequestText: requestText,
		Payload:     payload,
		Status:      StatusPending,
		RequestedAt: s.now(),
	}
	fresh, err := s.store.Insert(ctx, m)
	if err != nil {
		return RecordResult{}, err
	}
	if !fresh {
		// Repeat webhook delivery: signal the caller to skip downstream work.
		return RecordResult{Duplicate: true}, nil
	}
	return RecordResult{MessageID: m.ID}, nil
}

// Complete finishes a pending message with its response text.
func (s *Service) Complete(ctx context.Context, messageID, responseText string) error {
	if strings.TrimSpace(responseText) == "" {
		return fmt.Errorf("%w: response text is required", ErrInvalidInput)
	}
	return s.store.Complete(ctx, messageID, responseText, s.now())
}

// Fail finishes a pending message with an error description.
func (s *Service) Fail(ctx context.Context, messageID, errorText string) error {
	if strings.TrimSpace(errorText) == "" {
		return fmt.Errorf("%w: error text is required", ErrInvalidInput)
	}
	return s.store.Fail(ctx, messageID, errorText)
}

// Get returns a stored message.
func (s *Service) Get(ctx context.Context, messageID string) (*Message, error) {
	return s.store.Find(ctx, messageID)
}

// SweepTimeouts expires pending messages older than ttl.
func (s *Service) SweepTimeouts(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	return s.store.SweepTimeouts(ctx, s.now().Add(-ttl))
}

// DropGrantMessages removes messages owned by a revoked grant.
func (s *Service) DropGrantMessages(ctx context.Context, grantID string) (int64, error) {
	if strings.TrimSpace(grantID) == "" {
		return 0, fmt.Errorf("%w: grant id is required", ErrInvalidInput)
	}
	return s.store.DeleteByGrant(ctx, grantID)
}
