// internal/model/send_record.go
package model

import "time"

// Send outcomes.
const (
	SendSuccess = "success"
	SendFailed  = "failed"
	SendQueued  = "queued"
)

// SendRecord is the append-only per-attempt outcome log. The unique index on
// (campaign_id, recipient, attempt_ordinal) doubles as the idempotency guard
// for campaign dispatch.
type SendRecord struct {
	ID             int       `db:"id" json:"id"`
	CampaignID     *int      `db:"campaign_id" json:"campaign_id,omitempty"`
	EnrollmentID   *int      `db:"enrollment_id" json:"enrollment_id,omitempty"`
	Recipient      string    `db:"recipient" json:"recipient"`
	AttemptOrdinal int       `db:"attempt_ordinal" json:"attempt_ordinal"`
	Status         string    `db:"status" json:"status"`
	IdentityID     *int      `db:"identity_id" json:"identity_id,omitempty"`
	LastError      string    `db:"last_error" json:"last_error,omitempty"`
	RetryCount     int       `db:"retry_count" json:"retry_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
