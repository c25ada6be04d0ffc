package model

import "time"

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMalformed Outcome = "malformed"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) Valid() bool {
	return o == OutcomeApplied || o == OutcomeDuplicate || o == OutcomeRejected || o == OutcomeMalformed
}

// ApplyResult is what the asset store reports for one consumed envelope.
type ApplyResult struct {
	Outcome Outcome
	Reason  string // set when Outcome is rejected
	Asset   Asset  // state after the transaction; zero for duplicates
}

// RejectedEvent is kept for manual reconciliation.
type RejectedEvent struct {
	EventID    string    `db:"event_id"    json:"eventId"`
	AssetID    int64     `db:"asset_id"    json:"assetId"`
	EmployeeID int64     `db:"employee_id" json:"employeeId"`
	Reason     string    `db:"reason"      json:"reason"`
	Payload    []byte    `db:"payload"     json:"-"`
	RejectedAt time.Time `db:"rejected_at" json:"rejectedAt"`
}

// AuditRecord is one consumer outcome in the event log (ClickHouse).
type AuditRecord struct {
	EventID     string    `db:"event_id"     json:"eventId"`
	EventType   string    `db:"event_type"   json:"type"`
	AssetID     int64     `db:"asset_id"     json:"assetId"`
	EmployeeID  int64     `db:"employee_id"  json:"employeeId"`
	Outcome     Outcome   `db:"outcome"      json:"outcome"`
	Reason      string    `db:"reason"       json:"reason"`
	OccurredAt  time.Time `db:"occurred_at"  json:"occurredAt"`
	ProcessedAt time.Time `db:"processed_at" json:"processedAt"`
}
