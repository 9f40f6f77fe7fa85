// internal/model/campaign.go
package model

import "time"

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignSending   = "sending"
	CampaignStopped   = "stopped"
	CampaignCompleted = "completed"
)

type Campaign struct {
	ID             int        `db:"id" json:"id"`
	Subject        string     `db:"subject" json:"subject"`
	BaseTemplate   string     `db:"base_template" json:"base_template"`
	Status         string     `db:"status" json:"status"`
	RecipientCount int        `db:"recipient_count" json:"recipient_count"`
	SuccessCount   int        `db:"success_count" json:"success_count"`
	FailedCount    int        `db:"failed_count" json:"failed_count"`
	QueuedCount    int        `db:"queued_count" json:"queued_count"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
