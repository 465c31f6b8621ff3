package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a message. pending is the only initial
// state; completed, failed and timeout are terminal and frozen.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// Payload is the platform-tagged blob delivered with every inbound message.
// Platform plus MessageID form the global deduplication key; everything else
// rides along untyped in Extra.
type Payload struct {
	Platform  string
	MessageID string
	Extra     map[string]any
}

// Validate rejects payloads missing the deduplication key before any write.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Platform) == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalidPayload)
	}
	return nil
}

// MarshalJSON folds the tagged fields and the extras into one flat object.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["platform"] = p.Platform
	out["message_id"] = p.MessageID
	return json.Marshal(out)
}

// UnmarshalJSON extracts the tagged fields and keeps the remaining keys.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["platform"].(string); ok {
		p.Platform = v
	}
	if v, ok := raw["message_id"].(string); ok {
		p.MessageID = v
	}
	delete(raw, "platform")
	delete(raw, "message_id")
	if len(raw) > 0 {
		p.Extra = raw
	} else {
		p.Extra = nil
	}
	return nil
}

// Message is one request/response exchange owned by exactly one grant.
type Message struct {
	ID              string     `json:"id"`
	GrantID         string     `json:"grant_id"`
	RequestText     string     `json:"request_text"`
	ResponseText    string     `json:"response_text,omitempty"`
	AltResponseText string     `json:"alt_response_text,omitempty"`
	Payload         Payload    `json:"payload"`
	Status          Status     `json:"status"`
	ErrorText       string     `json:"error_text,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
}

// RecordResult is the outcome of RecordIfNew: either a fresh message id or
// an explicit duplicate signal. Duplicate means stop, not retry.
type RecordResult struct {
	MessageID string `json:"message_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

var (
	ErrNotFound       = errors.New("intake: message not found")
	ErrConflict       = errors.New("intake: message already in a terminal state")
	ErrInvalidPayload = errors.New("intake: invalid payload")
	ErrInvalidInput   = errors.New("intake: invalid input")
)
