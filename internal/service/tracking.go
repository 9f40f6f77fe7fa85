// internal/service/tracking.go
package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sendfox/sendfox-backend/internal/model"
	"github.com/sendfox/sendfox-backend/internal/repository"
)

// TrackingService mints unguessable action links and ingests the clicks on
// them. Every click is logged; only the first one inside a branch point's
// decision window ever affects routing, and that filtering happens at
// branch-resolution time, not here.
type TrackingService struct {
	TrackingRepo repository.TrackingRepositoryInterface
	BaseURL      string

	Now func() time.Time
}

func (s *TrackingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// MintLink creates a tracking token for the (enrollment, step) pair and
// returns the URL to embed in the rendered email.
func (s *TrackingService) MintLink(enrollmentID, stepID int, destination string) (string, error) {
	t := &model.TrackingToken{
		Token:        uuid.NewString(),
		EnrollmentID: enrollmentID,
		StepID:       stepID,
		Destination:  destination,
	}
	if err := s.TrackingRepo.InsertToken(t); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/t/%s", s.BaseURL, t.Token), nil
}

// RecordAction resolves a token, appends the click and returns the redirect
// target.
func (s *TrackingService) RecordAction(token, userAgent string) (string, error) {
	t, err := s.TrackingRepo.GetToken(token)
	if err != nil {
		return "", err
	}

	ev := &model.ActionEvent{
		EnrollmentID: t.EnrollmentID,
		StepID:       t.StepID,
		ClickedAt:    s.now(),
		Destination:  t.Destination,
		UserAgent:    userAgent,
	}
	if err := s.TrackingRepo.InsertActionEvent(ev); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"enrollment_id": t.EnrollmentID,
		"step_id":       t.StepID,
	}).Debug("action click recorded")
	return t.Destination, nil
}
