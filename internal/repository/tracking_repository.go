package repository

import (
	"database/sql"
	"time"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
)

type TrackingRepositoryInterface interface {
	InsertToken(t *model.TrackingToken) error
	GetToken(token string) (*model.TrackingToken, error)
	InsertActionEvent(ev *model.ActionEvent) error
	FirstActionEvent(enrollmentID, stepID int) (*model.ActionEvent, error)
}

type TrackingRepository struct {
	DB *sql.DB
}

func (r *TrackingRepository) InsertToken(t *model.TrackingToken) error {
	t.CreatedAt = time.Now()
	_, err := r.DB.Exec(`
        INSERT INTO tracking_tokens (token, enrollment_id, step_id, destination, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		t.Token, t.EnrollmentID, t.StepID, t.Destination, t.CreatedAt)
	return err
}

func (r *TrackingRepository) GetToken(token string) (*model.TrackingToken, error) {
	var t model.TrackingToken
	err := r.DB.QueryRow(`
        SELECT token, enrollment_id, step_id, destination, created_at
        FROM tracking_tokens WHERE token=$1`, token).
		Scan(&t.Token, &t.EnrollmentID, &t.StepID, &t.Destination, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewNotFound("tracking token", token)
		}
		return nil, err
	}
	return &t, nil
}

func (r *TrackingRepository) InsertActionEvent(ev *model.ActionEvent) error {
	if ev.ClickedAt.IsZero() {
		ev.ClickedAt = time.Now()
	}
	return r.DB.QueryRow(`
        INSERT INTO action_events (enrollment_id, step_id, clicked_at, destination, user_agent)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`,
		ev.EnrollmentID, ev.StepID, ev.ClickedAt, ev.Destination, ev.UserAgent).Scan(&ev.ID)
}

// FirstActionEvent returns the earliest click for the pair, or nil. Branch
// resolution only ever looks at the first one.
func (r *TrackingRepository) FirstActionEvent(enrollmentID, stepID int) (*model.ActionEvent, error) {
	var ev model.ActionEvent
	err := r.DB.QueryRow(`
        SELECT id, enrollment_id, step_id, clicked_at, destination, user_agent
        FROM action_events
        WHERE enrollment_id=$1 AND step_id=$2
        ORDER BY clicked_at ASC
        LIMIT 1`, enrollmentID, stepID).
		Scan(&ev.ID, &ev.EnrollmentID, &ev.StepID, &ev.ClickedAt, &ev.Destination, &ev.UserAgent)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

var _ TrackingRepositoryInterface = (*TrackingRepository)(nil)
