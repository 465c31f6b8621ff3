package intake

import (
	"context"
	"time"
)

// Store persists messages. The store, not this package, is the arbiter of
// the deduplication and status invariants: Insert must be a single atomic
// insert-or-ignore and the transition methods atomic conditional updates.
type Store interface {
	// Insert records the message unless its (platform, message_id) pair is
	// already present. Returns false when the row was a repeat delivery.
	Insert(ctx context.Context, m *Message) (fresh bool, err error)
	Find(ctx context.Context, id string) (*Message, error)
	// Complete transitions pending -> completed, recording the response text
	// and timestamp. ErrConflict when the message is already terminal.
	Complete(ctx context.Context, id, responseText string, at time.Time) error
	// Fail transitions pending -> failed, recording the error text.
	Fail(ctx context.Context, id, errorText string) error
	// SweepTimeouts transitions pending messages requested before the cutoff
	// to timeout. The only time-driven transition.
	SweepTimeouts(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteByGrant removes all messages owned by the grant.
	DeleteByGrant(ctx context.Context, grantID string) (int64, error)
}
