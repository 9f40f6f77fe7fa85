package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	GetStatus(id int) (string, error)
	ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateStatus(campaignID int, status string) error
	SetRecipientCount(campaignID, count int) error
	AddCounts(campaignID, success, failed, queued int) error
	MarkCompletedIfDrained(campaignID int) error

	// Send records
	InsertSendRecord(rec *model.SendRecord) error
	HasSuccess(campaignID int, recipient string) (bool, error)
	GetCampaignStats(campaignID int) (map[string]int, error)
	ListSendRecords(campaignID int) ([]model.SendRecord, error)

	// Queued messages
	InsertQueuedMessage(qm *model.QueuedMessage) error
	DueQueuedMessages(now time.Time, limit int) ([]model.QueuedMessage, error)
	ClaimQueuedMessage(id int) error
	FinishQueuedMessage(id int, status string) error
	RescheduleQueuedMessage(id int, scheduledFor *time.Time) error
}

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (subject, base_template, status, recipient_count, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRow(query, c.Subject, c.BaseTemplate, c.Status, c.RecipientCount, c.CreatedAt).Scan(&c.ID)
}

const campaignColumns = `id, subject, base_template, status, recipient_count, success_count, failed_count, queued_count, created_at, updated_at, completed_at`

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	var c model.Campaign
	err := r.DB.QueryRow(query, id).Scan(&c.ID, &c.Subject, &c.BaseTemplate, &c.Status,
		&c.RecipientCount, &c.SuccessCount, &c.FailedCount, &c.QueuedCount,
		&c.CreatedAt, &c.UpdatedAt, &c.CompletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewNotFound("campaign", id)
		}
		return nil, err
	}
	return &c, nil
}

// GetStatus is the cheap read dispatch uses between recipients to honor the
// operator stop flag.
func (r *CampaignRepository) GetStatus(id int) (string, error) {
	var status string
	err := r.DB.QueryRow(`SELECT status FROM campaigns WHERE id=$1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", appErrors.NewNotFound("campaign", id)
	}
	return status, err
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []interface{}{}
	argPos := 1
	if status != "" {
		query += fmt.Sprintf(" WHERE status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(&c.ID, &c.Subject, &c.BaseTemplate, &c.Status,
			&c.RecipientCount, &c.SuccessCount, &c.FailedCount, &c.QueuedCount,
			&c.CreatedAt, &c.UpdatedAt, &c.CompletedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += ` WHERE status=$1`
		argsCount = append(argsCount, status)
	}
	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status string) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`, status, campaignID)
	return err
}

func (r *CampaignRepository) SetRecipientCount(campaignID, count int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET recipient_count=$1, updated_at=NOW() WHERE id=$2`, count, campaignID)
	return err
}

// AddCounts bumps the aggregate counters atomically in the store.
func (r *CampaignRepository) AddCounts(campaignID, success, failed, queued int) error {
	_, err := r.DB.Exec(`
        UPDATE campaigns
        SET success_count = success_count + $1,
            failed_count  = failed_count  + $2,
            queued_count  = queued_count  + $3,
            updated_at    = NOW()
        WHERE id=$4`, success, failed, queued, campaignID)
	return err
}

// MarkCompletedIfDrained stamps completed_at once, and only when no queued
// messages remain outstanding for the campaign.
func (r *CampaignRepository) MarkCompletedIfDrained(campaignID int) error {
	_, err := r.DB.Exec(`
        UPDATE campaigns
        SET status=$1, completed_at=NOW(), updated_at=NOW()
        WHERE id=$2 AND completed_at IS NULL
          AND NOT EXISTS (
              SELECT 1 FROM queued_messages
              WHERE campaign_id=$2 AND status IN ('pending','processing')
          )`, model.CampaignCompleted, campaignID)
	return err
}

// ====================== Send Records ======================

// InsertSendRecord appends an attempt outcome. The attempt ordinal is
// computed in the insert itself; if a concurrent dispatcher grabs the same
// ordinal the unique index rejects the row and the caller gets a state
// conflict instead of a duplicate accounting entry.
func (r *CampaignRepository) InsertSendRecord(rec *model.SendRecord) error {
	query := `
        INSERT INTO send_records (campaign_id, enrollment_id, recipient, attempt_ordinal, status, identity_id, last_error, retry_count, created_at)
        VALUES ($1, $2, $3,
                (SELECT COALESCE(MAX(attempt_ordinal), 0) + 1 FROM send_records
                 WHERE campaign_id IS NOT DISTINCT FROM $1 AND recipient = $3),
                $4, $5, $6, $7, NOW())
        RETURNING id, attempt_ordinal, created_at
    `
	err := r.DB.QueryRow(query, rec.CampaignID, rec.EnrollmentID, rec.Recipient,
		rec.Status, rec.IdentityID, rec.LastError, rec.RetryCount).
		Scan(&rec.ID, &rec.AttemptOrdinal, &rec.CreatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return appErrors.ErrStateConflict
	}
	return err
}

func (r *CampaignRepository) HasSuccess(campaignID int, recipient string) (bool, error) {
	var tmp int
	err := r.DB.QueryRow(`
        SELECT 1 FROM send_records
        WHERE campaign_id=$1 AND recipient=$2 AND status='success'
        LIMIT 1`, campaignID, recipient).Scan(&tmp)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r *CampaignRepository) GetCampaignStats(campaignID int) (map[string]int, error) {
	rows, err := r.DB.Query(`
        SELECT status, COUNT(*) FROM send_records
        WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"success": 0, "failed": 0, "queued": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *CampaignRepository) ListSendRecords(campaignID int) ([]model.SendRecord, error) {
	rows, err := r.DB.Query(`
        SELECT id, campaign_id, enrollment_id, recipient, attempt_ordinal, status, identity_id, last_error, retry_count, created_at
        FROM send_records WHERE campaign_id=$1 ORDER BY id ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.SendRecord{}
	for rows.Next() {
		var rec model.SendRecord
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.EnrollmentID, &rec.Recipient,
			&rec.AttemptOrdinal, &rec.Status, &rec.IdentityID, &rec.LastError,
			&rec.RetryCount, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ====================== Queued Messages ======================

func (r *CampaignRepository) InsertQueuedMessage(qm *model.QueuedMessage) error {
	qm.Status = model.QueuedPending
	query := `
        INSERT INTO queued_messages (campaign_id, recipient, subject, body, scheduled_for, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        RETURNING id, created_at
    `
	return r.DB.QueryRow(query, qm.CampaignID, qm.Recipient, qm.Subject, qm.Body, qm.ScheduledFor, qm.Status).
		Scan(&qm.ID, &qm.CreatedAt)
}

func (r *CampaignRepository) DueQueuedMessages(now time.Time, limit int) ([]model.QueuedMessage, error) {
	rows, err := r.DB.Query(`
        SELECT id, campaign_id, recipient, subject, body, scheduled_for, status, created_at, updated_at
        FROM queued_messages
        WHERE status='pending' AND scheduled_for IS NOT NULL AND scheduled_for <= $1
        ORDER BY scheduled_for ASC
        LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []model.QueuedMessage{}
	for rows.Next() {
		var qm model.QueuedMessage
		if err := rows.Scan(&qm.ID, &qm.CampaignID, &qm.Recipient, &qm.Subject, &qm.Body,
			&qm.ScheduledFor, &qm.Status, &qm.CreatedAt, &qm.UpdatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, qm)
	}
	return msgs, rows.Err()
}

// ClaimQueuedMessage flips pending to processing for exactly one tick. A
// zero row count means another tick won the race.
func (r *CampaignRepository) ClaimQueuedMessage(id int) error {
	res, err := r.DB.Exec(`
        UPDATE queued_messages SET status='processing', updated_at=NOW()
        WHERE id=$1 AND status='pending'`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.ErrStateConflict
	}
	return nil
}

func (r *CampaignRepository) FinishQueuedMessage(id int, status string) error {
	_, err := r.DB.Exec(`
        UPDATE queued_messages SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status='processing'`, status, id)
	return err
}

// RescheduleQueuedMessage puts a claimed message back to pending, either at a
// later time or parked with a nil schedule.
func (r *CampaignRepository) RescheduleQueuedMessage(id int, scheduledFor *time.Time) error {
	_, err := r.DB.Exec(`
        UPDATE queued_messages SET status='pending', scheduled_for=$1, updated_at=NOW()
        WHERE id=$2 AND status='processing'`, scheduledFor, id)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
