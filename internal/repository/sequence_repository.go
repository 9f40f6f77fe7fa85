package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
)

// Claims older than this are treated as abandoned by a crashed tick and
// become claimable again.
const staleClaimAge = 10 * time.Minute

type SequenceRepositoryInterface interface {
	CreateSequence(s *model.Sequence) error
	GetSequence(id int) (*model.Sequence, error)
	ListSequences() ([]model.Sequence, error)

	CreateEnrollment(e *model.Enrollment) error
	GetEnrollment(id int) (*model.Enrollment, error)
	FindEnrollment(sequenceID int, recipient string) (*model.Enrollment, error)
	DueEnrollments(now time.Time, limit int) ([]int, error)
	ClaimEnrollment(id int, now time.Time) error
	ReleaseEnrollment(e *model.Enrollment) error
	StopEnrollment(id int) error
	EnrollmentStats(sequenceID int) (map[string]int, error)
}

type SequenceRepository struct {
	DB *sql.DB
}

// ====================== Sequences ======================

func (r *SequenceRepository) CreateSequence(s *model.Sequence) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s.CreatedAt = time.Now()
	err = tx.QueryRow(`
        INSERT INTO sequences (name, enabled, branch_delay_hours, created_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id`, s.Name, s.Enabled, s.BranchDelayHours, s.CreatedAt).Scan(&s.ID)
	if err != nil {
		return err
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		step.SequenceID = s.ID
		err = tx.QueryRow(`
            INSERT INTO sequence_steps (sequence_id, branch_id, step_order, subject, base_template, action_url, delay_days, delay_hours, is_branch_point)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
            RETURNING id`,
			step.SequenceID, step.BranchID, step.StepOrder, step.Subject,
			step.BaseTemplate, step.ActionURL, step.DelayDays, step.DelayHours, step.IsBranchPoint).Scan(&step.ID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SequenceRepository) GetSequence(id int) (*model.Sequence, error) {
	var s model.Sequence
	err := r.DB.QueryRow(`
        SELECT id, name, enabled, branch_delay_hours, created_at, updated_at
        FROM sequences WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Enabled, &s.BranchDelayHours, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewNotFound("sequence", id)
		}
		return nil, err
	}

	rows, err := r.DB.Query(`
        SELECT id, sequence_id, branch_id, step_order, subject, base_template, action_url, delay_days, delay_hours, is_branch_point
        FROM sequence_steps WHERE sequence_id=$1 ORDER BY step_order ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var step model.SequenceStep
		if err := rows.Scan(&step.ID, &step.SequenceID, &step.BranchID, &step.StepOrder,
			&step.Subject, &step.BaseTemplate, &step.ActionURL, &step.DelayDays, &step.DelayHours, &step.IsBranchPoint); err != nil {
			return nil, err
		}
		s.Steps = append(s.Steps, step)
	}
	return &s, rows.Err()
}

func (r *SequenceRepository) ListSequences() ([]model.Sequence, error) {
	rows, err := r.DB.Query(`
        SELECT id, name, enabled, branch_delay_hours, created_at, updated_at
        FROM sequences ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sequences := []model.Sequence{}
	for rows.Next() {
		var s model.Sequence
		if err := rows.Scan(&s.ID, &s.Name, &s.Enabled, &s.BranchDelayHours, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sequences = append(sequences, s)
	}
	return sequences, rows.Err()
}

// ====================== Enrollments ======================

const enrollmentColumns = `id, sequence_id, recipient, merge_data, current_step_order, current_branch_id, status, enrolled_at, last_sent_at, next_send_at, completed_at, claimed_at`

// CreateEnrollment inserts a new enrollment. The unique index on
// (sequence_id, recipient) is the backstop against two concurrent enrolls;
// on conflict the caller gets a state conflict and should re-read.
func (r *SequenceRepository) CreateEnrollment(e *model.Enrollment) error {
	query := `
        INSERT INTO enrollments (sequence_id, recipient, merge_data, current_step_order, current_branch_id, status, enrolled_at, next_send_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	err := r.DB.QueryRow(query, e.SequenceID, e.Recipient, e.MergeData,
		e.CurrentStepOrder, e.CurrentBranchID, e.Status, e.EnrolledAt, e.NextSendAt, e.CompletedAt).Scan(&e.ID)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return appErrors.ErrStateConflict
	}
	return err
}

func scanEnrollment(row interface{ Scan(...any) error }) (*model.Enrollment, error) {
	var e model.Enrollment
	err := row.Scan(&e.ID, &e.SequenceID, &e.Recipient, &e.MergeData,
		&e.CurrentStepOrder, &e.CurrentBranchID, &e.Status, &e.EnrolledAt,
		&e.LastSentAt, &e.NextSendAt, &e.CompletedAt, &e.ClaimedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *SequenceRepository) GetEnrollment(id int) (*model.Enrollment, error) {
	e, err := scanEnrollment(r.DB.QueryRow(`SELECT `+enrollmentColumns+` FROM enrollments WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound("enrollment", id)
	}
	return e, err
}

func (r *SequenceRepository) FindEnrollment(sequenceID int, recipient string) (*model.Enrollment, error) {
	e, err := scanEnrollment(r.DB.QueryRow(
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE sequence_id=$1 AND recipient=$2`,
		sequenceID, recipient))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *SequenceRepository) DueEnrollments(now time.Time, limit int) ([]int, error) {
	rows, err := r.DB.Query(`
        SELECT id FROM enrollments
        WHERE status='active' AND next_send_at IS NOT NULL AND next_send_at <= $1
        ORDER BY next_send_at ASC
        LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimEnrollment marks the row as being advanced by this tick. The
// conditional update guarantees two overlapping ticks never both advance the
// same enrollment; the losing tick sees zero rows and skips.
func (r *SequenceRepository) ClaimEnrollment(id int, now time.Time) error {
	res, err := r.DB.Exec(`
        UPDATE enrollments SET claimed_at=$1
        WHERE id=$2 AND status='active' AND next_send_at IS NOT NULL AND next_send_at <= $1
          AND (claimed_at IS NULL OR claimed_at < $3)`,
		now, id, now.Add(-staleClaimAge))
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

// ReleaseEnrollment writes back the advanced state and clears the claim.
func (r *SequenceRepository) ReleaseEnrollment(e *model.Enrollment) error {
	_, err := r.DB.Exec(`
        UPDATE enrollments
        SET current_step_order=$1, current_branch_id=$2, status=$3,
            last_sent_at=$4, next_send_at=$5, completed_at=$6, claimed_at=NULL
        WHERE id=$7`,
		e.CurrentStepOrder, e.CurrentBranchID, e.Status,
		e.LastSentAt, e.NextSendAt, e.CompletedAt, e.ID)
	return err
}

func (r *SequenceRepository) StopEnrollment(id int) error {
	res, err := r.DB.Exec(`
        UPDATE enrollments SET status='stopped', next_send_at=NULL, claimed_at=NULL
        WHERE id=$1 AND status='active'`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewNotFound("active enrollment", id)
	}
	return nil
}

// EnrollmentStats returns counts keyed per status and per branch for the
// sequence view.
func (r *SequenceRepository) EnrollmentStats(sequenceID int) (map[string]int, error) {
	rows, err := r.DB.Query(`
        SELECT status, COALESCE(current_branch_id, 'default'), COUNT(*)
        FROM enrollments WHERE sequence_id=$1
        GROUP BY status, current_branch_id`, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"active": 0, "completed": 0, "stopped": 0}
	for rows.Next() {
		var status, branch string
		var count int
		if err := rows.Scan(&status, &branch, &count); err != nil {
			return nil, err
		}
		stats[status] += count
		stats["branch:"+branch] += count
	}
	return stats, rows.Err()
}

var _ SequenceRepositoryInterface = (*SequenceRepository)(nil)
