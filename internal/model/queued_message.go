// internal/model/queued_message.go
package model

import "time"

// Queued message statuses. "processing" is the claim marker set by a tick; a
// row never moves from processing back to pending except when capacity is
// still exhausted and the message is rescheduled.
const (
	QueuedPending    = "pending"
	QueuedProcessing = "processing"
	QueuedSent       = "sent"
	QueuedFailed     = "failed"
)

// QueuedMessage parks a rendered message until an identity has capacity.
// ScheduledFor is nil when the campaign cap (not the daily cap) was the
// limiter; such rows stay parked until rescheduled by an operator.
type QueuedMessage struct {
	ID           int        `db:"id" json:"id"`
	CampaignID   *int       `db:"campaign_id" json:"campaign_id,omitempty"`
	Recipient    string     `db:"recipient" json:"recipient"`
	Subject      string     `db:"subject" json:"subject"`
	Body         string     `db:"body" json:"body"`
	ScheduledFor *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	Status       string     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
