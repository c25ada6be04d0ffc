package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/asset-lifecycle/internal/util"
)

type EventType string

const (
	EventTypeAssetCheckedOut EventType = "AssetCheckedOut"
)

func (t EventType) String() string { return string(t) }

// RoutingKey is the broker subject for the event type.
func (t EventType) RoutingKey() string {
	switch t {
	case EventTypeAssetCheckedOut:
		return "asset.checked.out"
	default:
		return ""
	}
}

func (t EventType) Valid() bool { return t.RoutingKey() != "" }

// SchemaVersion is the only envelope major this build produces and accepts.
const SchemaVersion = 1

// MaxEventIDLen is the widest eventId the dedup ledger stores (ULIDs and UUIDs both fit).
const MaxEventIDLen = 64

// Envelope is the canonical lifecycle fact written to the outbox and published to the broker.
type Envelope struct {
	EventID       string    `json:"eventId"`
	Type          EventType `json:"type"`
	AssetID       int64     `json:"subjectAssetId"`
	EmployeeID    int64     `json:"subjectEmployeeId"`
	OccurredAt    time.Time `json:"occurredAt"`
	SchemaVersion int       `json:"schemaVersion"`
}

// NewCheckoutEvent builds an AssetCheckedOut envelope with a fresh event id.
func NewCheckoutEvent(assetID, employeeID int64) (Envelope, error) {
	return newCheckoutEvent(assetID, employeeID, time.Now())
}

func newCheckoutEvent(assetID, employeeID int64, now time.Time) (Envelope, error) {
	if assetID <= 0 {
		return Envelope{}, fmt.Errorf("%w: assetId must be a positive integer", ErrInvalidEventData)
	}
	if employeeID <= 0 {
		return Envelope{}, fmt.Errorf("%w: employeeId must be a positive integer", ErrInvalidEventData)
	}

	now = now.UTC()
	return Envelope{
		EventID:       util.NewULID(now),
		Type:          EventTypeAssetCheckedOut,
		AssetID:       assetID,
		EmployeeID:    employeeID,
		OccurredAt:    now,
		SchemaVersion: SchemaVersion,
	}, nil
}

func (e Envelope) RoutingKey() string { return e.Type.RoutingKey() }

func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

// DecodeEnvelope parses a broker payload. Unknown fields are ignored; unknown
// schema majors, unknown types, missing required fields and over-long ids are ErrMalformedEvent.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch {
	case env.SchemaVersion != SchemaVersion:
		return Envelope{}, fmt.Errorf("%w: unsupported schemaVersion %d", ErrMalformedEvent, env.SchemaVersion)
	case env.EventID == "":
		return Envelope{}, fmt.Errorf("%w: missing eventId", ErrMalformedEvent)
	case len(env.EventID) > MaxEventIDLen:
		return Envelope{}, fmt.Errorf("%w: eventId longer than %d bytes", ErrMalformedEvent, MaxEventIDLen)
	case !env.Type.Valid():
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, env.Type)
	case env.AssetID <= 0 || env.EmployeeID <= 0:
		return Envelope{}, fmt.Errorf("%w: missing subject ids", ErrMalformedEvent)
	case env.OccurredAt.IsZero():
		return Envelope{}, fmt.Errorf("%w: missing occurredAt", ErrMalformedEvent)
	}
	return env, nil
}
