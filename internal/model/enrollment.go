// internal/model/enrollment.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Enrollment statuses.
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentStopped   = "stopped"
)

// Enrollment is the durable progress record of one recipient through one
// sequence. NextSendAt is nil whenever status is not active.
type Enrollment struct {
	ID               int        `db:"id" json:"id"`
	SequenceID       int        `db:"sequence_id" json:"sequence_id"`
	Recipient        string     `db:"recipient" json:"recipient"`
	MergeData        MergeData  `db:"merge_data" json:"merge_data,omitempty"`
	CurrentStepOrder int        `db:"current_step_order" json:"current_step_order"`
	CurrentBranchID  *string    `db:"current_branch_id" json:"current_branch_id,omitempty"`
	Status           string     `db:"status" json:"status"`
	EnrolledAt       time.Time  `db:"enrolled_at" json:"enrolled_at"`
	LastSentAt       *time.Time `db:"last_sent_at" json:"last_sent_at,omitempty"`
	NextSendAt       *time.Time `db:"next_send_at" json:"next_send_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ClaimedAt        *time.Time `db:"claimed_at" json:"-"`
}

// MergeData holds per-recipient merge fields for template rendering.
type MergeData map[string]string

func (m MergeData) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *MergeData) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = nil
		return nil
	}
	return fmt.Errorf("merge data: cannot scan %T", src)
}
