package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEventData is a caller error at intake; never retried.
	ErrInvalidEventData = errors.New("invalid event data")

	// ErrMalformedEvent marks a payload the consumer cannot decode; the message is dropped.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrTransitionRejected is a business-rule violation at consumption time.
	ErrTransitionRejected = errors.New("transition rejected")
)

// Rejection reasons recorded with rejected events.
const (
	ReasonAlreadyAssigned = "already-assigned"
	ReasonInMaintenance   = "in-maintenance"
	ReasonRetired         = "retired"
	ReasonInvalidStatus   = "invalid-status"
	ReasonAssetNotFound   = "asset-not-found"
)

type TransitionError struct {
	AssetID int64
	From    AssetStatus
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("asset %d: checkout from %s rejected: %s", e.AssetID, e.From, e.Reason)
}

func (e *TransitionError) Is(target error) bool { return target == ErrTransitionRejected }
