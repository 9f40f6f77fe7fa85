package repository

import (
	"database/sql"
	"time"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
)

type IdentityRepositoryInterface interface {
	Create(i *model.SenderIdentity) error
	Update(i *model.SenderIdentity) error
	GetByID(id int) (*model.SenderIdentity, error)
	ListAll() ([]model.SenderIdentity, error)
	ListEnabledByPriority() ([]model.SenderIdentity, error)
	Reorder(ids []int) error

	TodayCount(identityID int, dateKey string) (int, error)
	CampaignSuccessCount(campaignID, identityID int) (int, error)
	IncrementUsage(identityID int, dateKey string) error
}

type IdentityRepository struct {
	DB *sql.DB
}

const identityColumns = `id, name, kind, credentials, daily_cap, campaign_cap, priority, enabled, created_at, updated_at`

func (r *IdentityRepository) Create(i *model.SenderIdentity) error {
	i.CreatedAt = time.Now()
	query := `
        INSERT INTO sender_identities (name, kind, credentials, daily_cap, campaign_cap, priority, enabled, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRow(query, i.Name, i.Kind, i.Credentials, i.DailyCap, i.CampaignCap, i.Priority, i.Enabled, i.CreatedAt).Scan(&i.ID)
}

func (r *IdentityRepository) Update(i *model.SenderIdentity) error {
	query := `
        UPDATE sender_identities
        SET name=$1, credentials=$2, daily_cap=$3, campaign_cap=$4, enabled=$5, updated_at=NOW()
        WHERE id=$6
    `
	_, err := r.DB.Exec(query, i.Name, i.Credentials, i.DailyCap, i.CampaignCap, i.Enabled, i.ID)
	return err
}

func scanIdentity(row interface{ Scan(...any) error }) (*model.SenderIdentity, error) {
	var i model.SenderIdentity
	err := row.Scan(&i.ID, &i.Name, &i.Kind, &i.Credentials, &i.DailyCap, &i.CampaignCap, &i.Priority, &i.Enabled, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *IdentityRepository) GetByID(id int) (*model.SenderIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM sender_identities WHERE id=$1`
	i, err := scanIdentity(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound("identity", id)
	}
	return i, err
}

func (r *IdentityRepository) list(query string, args ...any) ([]model.SenderIdentity, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	identities := []model.SenderIdentity{}
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, *i)
	}
	return identities, rows.Err()
}

func (r *IdentityRepository) ListAll() ([]model.SenderIdentity, error) {
	return r.list(`SELECT ` + identityColumns + ` FROM sender_identities ORDER BY priority ASC, id ASC`)
}

func (r *IdentityRepository) ListEnabledByPriority() ([]model.SenderIdentity, error) {
	return r.list(`SELECT ` + identityColumns + ` FROM sender_identities WHERE enabled=TRUE ORDER BY priority ASC, id ASC`)
}

// Reorder rewrites priorities to match the given id order. In-flight
// selections keep whatever ordering they already read.
func (r *IdentityRepository) Reorder(ids []int) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for pos, id := range ids {
		if _, err := tx.Exec(`UPDATE sender_identities SET priority=$1, updated_at=NOW() WHERE id=$2`, pos, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *IdentityRepository) TodayCount(identityID int, dateKey string) (int, error) {
	var count int
	err := r.DB.QueryRow(`
        SELECT COALESCE(SUM(count), 0) FROM usage_counters
        WHERE identity_id=$1 AND date_key=$2`, identityID, dateKey).Scan(&count)
	return count, err
}

func (r *IdentityRepository) CampaignSuccessCount(campaignID, identityID int) (int, error) {
	var count int
	err := r.DB.QueryRow(`
        SELECT COUNT(*) FROM send_records
        WHERE campaign_id=$1 AND identity_id=$2 AND status='success'`, campaignID, identityID).Scan(&count)
	return count, err
}

// IncrementUsage bumps the per-day counter through an upsert so two
// concurrent dispatchers never lose an increment.
func (r *IdentityRepository) IncrementUsage(identityID int, dateKey string) error {
	_, err := r.DB.Exec(`
        INSERT INTO usage_counters (identity_id, date_key, count)
        VALUES ($1, $2, 1)
        ON CONFLICT (identity_id, date_key)
        DO UPDATE SET count = usage_counters.count + 1`, identityID, dateKey)
	return err
}

var _ IdentityRepositoryInterface = (*IdentityRepository)(nil)
