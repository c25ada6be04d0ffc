package model

import "time"

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSending OutboxStatus = "SENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

// OutboxRow is one event waiting for (or done with) broker delivery.
// NextAttemptAt doubles as the claim lease while the row is SENDING and is
// NULL for FAILED rows that exhausted their attempts.
type OutboxRow struct {
	EventID       string       `db:"event_id"        json:"eventId"`
	EventType     EventType    `db:"event_type"      json:"type"`
	RoutingKey    string       `db:"routing_key"     json:"routingKey"`
	Payload       []byte       `db:"payload"         json:"-"`
	Status        OutboxStatus `db:"status"          json:"status"`
	AttemptCount  int          `db:"attempt_count"   json:"attemptCount"`
	NextAttemptAt *time.Time   `db:"next_attempt_at" json:"nextAttemptAt,omitempty"`
	LastError     *string      `db:"last_error"      json:"lastError,omitempty"`
	CreatedAt     time.Time    `db:"created_at"      json:"createdAt"`
	UpdatedAt     time.Time    `db:"updated_at"      json:"updatedAt"`
	SentAt        *time.Time   `db:"sent_at"         json:"sentAt,omitempty"`
}
