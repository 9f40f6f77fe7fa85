// internal/service/enrollment.go
package service

import (
	"context"
	"net/mail"
	"time"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
	"github.com/sendfox/sendfox-backend/internal/repository"
	"github.com/sendfox/sendfox-backend/internal/transport"
)

// EnrollmentService is the per-recipient sequence state machine. All
// mutations of an enrollment row go through here, under the claim taken by
// the scheduler tick.
type EnrollmentService struct {
	SequenceRepo repository.SequenceRepositoryInterface
	TrackingRepo repository.TrackingRepositoryInterface
	Tracking     *TrackingService
	Dispatch     *DispatchService

	Now func() time.Time
}

func (s *EnrollmentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Enroll creates an enrollment positioned at the sequence's first default
// step. It is an idempotent no-op when an enrollment for the pair already
// exists, whatever its status: the unique constraint on
// (sequence, recipient) allows at most one row.
func (s *EnrollmentService) Enroll(sequenceID int, recipient string, data map[string]string) (*model.Enrollment, error) {
	if _, err := mail.ParseAddress(recipient); err != nil {
		return nil, appErrors.NewValidation("recipient", recipient)
	}

	seq, err := s.SequenceRepo.GetSequence(sequenceID)
	if err != nil {
		return nil, err
	}
	if !seq.Enabled {
		return nil, appErrors.NewValidation("sequence", "sequence is disabled")
	}

	if existing, err := s.SequenceRepo.FindEnrollment(sequenceID, recipient); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	now := s.now()
	e := &model.Enrollment{
		SequenceID: sequenceID,
		Recipient:  recipient,
		MergeData:  data,
		Status:     model.EnrollmentActive,
		EnrolledAt: now,
	}

	first := model.NextStep(seq.Steps, nil, -1)
	if first == nil {
		// Zero-step sequence: nothing to do, born completed.
		e.Status = model.EnrollmentCompleted
		e.CompletedAt = &now
	} else {
		e.CurrentStepOrder = first.StepOrder
		next := now.Add(first.Delay())
		e.NextSendAt = &next
	}

	if err := s.SequenceRepo.CreateEnrollment(e); err != nil {
		if err == appErrors.ErrStateConflict {
			// Concurrent enroll won; return theirs.
			return s.SequenceRepo.FindEnrollment(sequenceID, recipient)
		}
		return nil, err
	}
	return e, nil
}

// Advance processes the step the enrollment currently sits on. The caller
// must hold the tick's claim on the row; Advance writes the new state back
// and releases the claim.
//
// Branch points send nothing: the decision and the scheduling of the next
// step both happen inside this one call, so a branch point never costs an
// extra tick cycle.
func (s *EnrollmentService) Advance(ctx context.Context, e *model.Enrollment) error {
	seq, err := s.SequenceRepo.GetSequence(e.SequenceID)
	if err != nil {
		return err
	}

	step := model.StepAt(seq.Steps, e.CurrentStepOrder)
	if step == nil {
		// Steps were edited out from under the enrollment; close it out.
		s.complete(e)
		return s.SequenceRepo.ReleaseEnrollment(e)
	}

	branch := e.CurrentBranchID
	sentAt := s.now()

	if step.IsBranchPoint {
		branch = s.resolveBranch(seq, e, step)
	} else {
		outcome := s.sendStep(ctx, seq, e, step)
		switch outcome {
		case model.SendQueued:
			// No identity capacity. Hold position and come back next window.
			retry := nextUTCMidnight(s.now())
			e.NextSendAt = &retry
			return s.SequenceRepo.ReleaseEnrollment(e)
		case model.SendSuccess:
			e.LastSentAt = &sentAt
		default:
			// Failure is recorded on the send log; the sequence moves on.
		}
	}

	next := model.NextStep(seq.Steps, branch, step.StepOrder)
	if next == nil {
		e.CurrentBranchID = branch
		s.complete(e)
		return s.SequenceRepo.ReleaseEnrollment(e)
	}

	e.CurrentBranchID = branch
	e.CurrentStepOrder = next.StepOrder
	nextAt := sentAt.Add(next.Delay())
	e.NextSendAt = &nextAt
	return s.SequenceRepo.ReleaseEnrollment(e)
}

// resolveBranch makes the one-shot branch decision: was the first click on
// this branch point recorded within the decision window that opened when the
// preceding step was sent? The decision is never re-evaluated because the
// enrollment immediately moves past the branch point.
func (s *EnrollmentService) resolveBranch(seq *model.Sequence, e *model.Enrollment, step *model.SequenceStep) *string {
	ev, err := s.TrackingRepo.FirstActionEvent(e.ID, step.ID)
	if err != nil {
		log.WithError(err).WithField("enrollment_id", e.ID).Warn("branch lookup failed, taking default path")
		return e.CurrentBranchID
	}
	if ev == nil || e.LastSentAt == nil {
		return e.CurrentBranchID
	}

	windowEnd := e.LastSentAt.Add(time.Duration(seq.BranchDelayHours) * time.Hour)
	if ev.ClickedAt.Before(*e.LastSentAt) || ev.ClickedAt.After(windowEnd) {
		return e.CurrentBranchID
	}

	action := model.BranchAction
	log.WithFields(log.Fields{
		"enrollment_id": e.ID,
		"step_id":       step.ID,
	}).Info("branch point resolved to action path")
	return &action
}

// sendStep renders and dispatches one ordinary step. When the step right
// after this one is a branch point, the action link minted into the body is
// bound to that branch point so clicks on it resolve the branch.
func (s *EnrollmentService) sendStep(ctx context.Context, seq *model.Sequence, e *model.Enrollment, step *model.SequenceStep) string {
	data := map[string]string{}
	for k, v := range e.MergeData {
		data[k] = v
	}

	tokenStep := step
	if next := model.NextStep(seq.Steps, e.CurrentBranchID, step.StepOrder); next != nil && next.IsBranchPoint {
		tokenStep = next
	}
	if s.Tracking != nil {
		link, err := s.Tracking.MintLink(e.ID, tokenStep.ID, step.ActionURL)
		if err != nil {
			log.WithError(err).Warn("failed to mint action link")
		} else {
			data["action_link"] = link
		}
	}

	outcome, _ := s.Dispatch.DispatchStep(ctx, e.ID, transport.Message{
		To:      e.Recipient,
		Subject: RenderTemplate(step.Subject, data),
		Body:    RenderTemplate(step.BaseTemplate, data),
	})
	return outcome
}

func (s *EnrollmentService) complete(e *model.Enrollment) {
	now := s.now()
	e.Status = model.EnrollmentCompleted
	e.NextSendAt = nil
	e.CompletedAt = &now
}

// Stop halts an active enrollment. Already-sent steps are not rolled back.
func (s *EnrollmentService) Stop(enrollmentID int) error {
	return s.SequenceRepo.StopEnrollment(enrollmentID)
}

func nextUTCMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
