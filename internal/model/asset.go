package model

import "time"

type AssetStatus string

const (
	AssetAvailable   AssetStatus = "AVAILABLE"
	AssetAssigned    AssetStatus = "ASSIGNED"
	AssetMaintenance AssetStatus = "MAINTENANCE"
	AssetRetired     AssetStatus = "RETIRED"
)

func (s AssetStatus) String() string { return string(s) }

func (s AssetStatus) Valid() bool {
	switch s {
	case AssetAvailable, AssetAssigned, AssetMaintenance, AssetRetired:
		return true
	default:
		return false
	}
}

// Asset is the authoritative per-asset state row.
type Asset struct {
	ID                 int64       `db:"id"                   json:"id"`
	Status             AssetStatus `db:"status"               json:"status"`
	AssignedEmployeeID *int64      `db:"assigned_employee_id" json:"assignedEmployeeId"`
	UpdatedAt          time.Time   `db:"updated_at"           json:"updatedAt"`
}

// Checkout returns the asset after assigning it to employeeID.
// Only AVAILABLE assets accept a checkout; every other status is a *TransitionError.
func (a Asset) Checkout(employeeID int64, at time.Time) (Asset, error) {
	switch a.Status {
	case AssetAvailable:
		next := a
		emp := employeeID
		next.Status = AssetAssigned
		next.AssignedEmployeeID = &emp
		next.UpdatedAt = at
		return next, nil
	case AssetAssigned:
		return a, &TransitionError{AssetID: a.ID, From: a.Status, Reason: ReasonAlreadyAssigned}
	case AssetMaintenance:
		return a, &TransitionError{AssetID: a.ID, From: a.Status, Reason: ReasonInMaintenance}
	case AssetRetired:
		return a, &TransitionError{AssetID: a.ID, From: a.Status, Reason: ReasonRetired}
	default:
		return a, &TransitionError{AssetID: a.ID, From: a.Status, Reason: ReasonInvalidStatus}
	}
}
