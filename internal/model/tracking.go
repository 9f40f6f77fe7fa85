// internal/model/tracking.go
package model

import "time"

// TrackingToken maps an unguessable URL token to the (enrollment, step) pair
// an action link was minted for.
type TrackingToken struct {
	Token        string    `db:"token" json:"token"`
	EnrollmentID int       `db:"enrollment_id" json:"enrollment_id"`
	StepID       int       `db:"step_id" json:"step_id"`
	Destination  string    `db:"destination" json:"destination"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ActionEvent logs one click on a tracked action link. Append-only; branch
// routing only ever consults the first event inside the decision window.
type ActionEvent struct {
	ID           int       `db:"id" json:"id"`
	EnrollmentID int       `db:"enrollment_id" json:"enrollment_id"`
	StepID       int       `db:"step_id" json:"step_id"`
	ClickedAt    time.Time `db:"clicked_at" json:"clicked_at"`
	Destination  string    `db:"destination" json:"destination"`
	UserAgent    string    `db:"user_agent" json:"user_agent,omitempty"`
}
