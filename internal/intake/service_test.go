package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func payload(platform, messageID string) Payload {
	return Payload{Platform: platform, MessageID: messageID}
}

func TestRecordIfNewValidatesBeforeWrite(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)

	cases := []struct {
		name    string
		grantID string
		text    string
		payload Payload
		wantErr error
	}{
		{"missing grant", "", "hi", payload("telegram", "m-1"), ErrInvalidInput},
		{"missing text", "g-1", " ", payload("telegram", "m-1"), ErrInvalidInput},
		{"missing platform", "g-1", "hi", payload("", "m-1"), ErrInvalidPayload},
		{"missing message id", "g-1", "hi", payload("telegram", "  "), ErrInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordIfNew(context.Background(), tc.grantID, tc.text, tc.payload)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	// Nothing reached the store.
	if len(store.msgs) != 0 {
		t.Fatalf("rejected payloads must not be stored, found %d", len(store.msgs))
	}
}

func TestRecordIfNewDeduplicates(t *testing.T) {
	svc := NewService(NewInMemory())

	first, err := svc.RecordIfNew(context.Background(), "g-1", "hello", payload("telegram", "m-1"))
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if first.Duplicate || first.MessageID == "" {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := svc.RecordIfNew(context.Background(), "g-1", "hello again", payload("telegram", "m-1"))
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate, got %+v", second)
	}

	// The original message is untouched by the repeat delivery.
	msg, err := svc.Get(context.Background(), first.MessageID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msg.RequestText != "hello" {
		t.Fatalf("duplicate overwrote the original: %q", msg.RequestText)
	}
	if msg.Status != StatusPending {
		t.Fatalf("unexpected status: %s", msg.Status)
	}
}

func TestRecordIfNewPlatformCaseInsensitive(t *testing.T) {
	svc := NewService(NewInMemory())

	if _, err := svc.RecordIfNew(context.Background(), "g-1", "hi", payload("Telegram", "m-1")); err != nil {
		t.Fatalf("record: %v", err)
	}
	res, err := svc.RecordIfNew(context.Background(), "g-1", "hi", payload("telegram", "m-1"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !res.Duplicate {
		t.Fatalf("platform comparison must ignore case")
	}

	// Same id on a different platform is a distinct message.
	res, err = svc.RecordIfNew(context.Background(), "g-1", "hi", payload("discord", "m-1"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("different platform must not deduplicate")
	}
}

func TestRecordIfNewConcurrentSingleWinner(t *testing.T) {
	svc := NewService(NewInMemory())

	const n = 32
	var wg sync.WaitGroup
	results := make([]RecordResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.RecordIfNew(context.Background(), "g-1", "hello", payload("telegram", "m-1"))
			if err != nil {
				t.Errorf("record %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	var fresh int
	for _, res := range results {
		if !res.Duplicate {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("expected exactly one fresh insert, got %d", fresh)
	}
}

func TestCompleteThenFailConflicts(t *testing.T) {
	svc := NewService(NewInMemory())

	res, err := svc.RecordIfNew(context.Background(), "g-1", "hello", payload("telegram", "m-1"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := svc.Complete(context.Background(), res.MessageID, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := svc.Fail(context.Background(), res.MessageID, "boom"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := svc.Complete(context.Background(), res.MessageID, "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on repeat complete, got %v", err)
	}

	msg, err := svc.Get(context.Background(), res.MessageID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msg.Status != StatusCompleted || msg.ResponseText != "done" || msg.ErrorText != "" {
		t.Fatalf("losing transition mutated the message: %+v", msg)
	}
	if msg.RespondedAt == nil {
		t.Fatalf("completed message must carry responded_at")
	}
}

func TestConcurrentTerminalTransitionSingleWinner(t *testing.T) {
	svc := NewService(NewInMemory())

	res, err := svc.RecordIfNew(context.Background(), "g-1", "hello", payload("telegram", "m-1"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs[i] = svc.Complete(context.Background(), res.MessageID, "done")
			} else {
				errs[i] = svc.Fail(context.Background(), res.MessageID, "boom")
			}
		}(i)
	}
	wg.Wait()

	var winners int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", winners)
	}
}

func TestTransitionValidation(t *testing.T) {
	svc := NewService(NewInMemory())

	if err := svc.Complete(context.Background(), "m-1", " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank response, got %v", err)
	}
	if err := svc.Fail(context.Background(), "m-1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank error text, got %v", err)
	}
	if err := svc.Complete(context.Background(), "missing", "done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSweepTimeouts(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)

	old := time.Now().UTC().Add(-time.Hour)
	svc.now = func() time.Time { return old }
	stale, err := svc.RecordIfNew(context.Background(), "g-1", "stale", payload("telegram", "m-old"))
	if err != nil {
		t.Fatalf("record stale: %v", err)
	}

	svc.now = func() time.Time { return time.Now().UTC() }
	fresh, err := svc.RecordIfNew(context.Background(), "g-1", "fresh", payload("telegram", "m-new"))
	if err != nil {
		t.Fatalf("record fresh: %v", err)
	}
	done, err := svc.RecordIfNew(context.Background(), "g-1", "done", payload("telegram", "m-done"))
	if err != nil {
		t.Fatalf("record done: %v", err)
	}
	if err := svc.Complete(context.Background(), done.MessageID, "answer"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	n, err := svc.SweepTimeouts(context.Background(), 15*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 timed out message, got %d", n)
	}

	msg, _ := svc.Get(context.Background(), stale.MessageID)
	if msg.Status != StatusTimeout {
		t.Fatalf("stale message not timed out: %s", msg.Status)
	}
	msg, _ = svc.Get(context.Background(), fresh.MessageID)
	if msg.Status != StatusPending {
		t.Fatalf("fresh message must stay pending: %s", msg.Status)
	}
	msg, _ = svc.Get(context.Background(), done.MessageID)
	if msg.Status != StatusCompleted {
		t.Fatalf("terminal message must be untouched by the sweep: %s", msg.Status)
	}

	if _, err := svc.SweepTimeouts(context.Background(), 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero ttl, got %v", err)
	}
}

func TestDropGrantMessages(t *testing.T) {
	svc := NewService(NewInMemory())

	kept, err := svc.RecordIfNew(context.Background(), "g-keep", "hi", payload("telegram", "m-1"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	gone, err := svc.RecordIfNew(context.Background(), "g-gone", "hi", payload("telegram", "m-2"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := svc.DropGrantMessages(context.Background(), "g-gone")
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dropped message, got %d", n)
	}
	if _, err := svc.Get(context.Background(), gone.MessageID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("dropped message still readable: %v", err)
	}
	if _, err := svc.Get(context.Background(), kept.MessageID); err != nil {
		t.Fatalf("unrelated message lost: %v", err)
	}

	// The dedup slot frees up with the message.
	res, err := svc.RecordIfNew(context.Background(), "g-new", "hi", payload("telegram", "m-2"))
	if err != nil {
		t.Fatalf("record after drop: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("dedup key must be released with the deleted message")
	}
}

func TestPayloadJSONRoundTrip(t *testing.T) {
	raw := []byte(`{"platform":"telegram","message_id":"m-1","chat_id":"c-9","thread":7}`)

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Platform != "telegram" || p.MessageID != "m-1" {
		t.Fatalf("tagged fields not extracted: %+v", p)
	}
	if p.Extra["chat_id"] != "c-9" {
		t.Fatalf("extra keys not preserved: %+v", p.Extra)
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("unmarshal round: %v", err)
	}
	if round["platform"] != "telegram" || round["chat_id"] != "c-9" {
		t.Fatalf("flat encoding lost keys: %v", round)
	}
}
