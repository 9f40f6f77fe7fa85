// internal/service/tick.go
package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/repository"
)

// TickResult reports what one tick invocation processed.
type TickResult struct {
	QueuedProcessed     int `json:"queued_processed"`
	EnrollmentsAdvanced int `json:"enrollments_advanced"`
}

// TickService is the periodic driver. It holds no state of its own: every
// invocation claims due rows through conditional updates, so redundant
// schedulers can call RunTick concurrently without double-processing.
type TickService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	SequenceRepo repository.SequenceRepositoryInterface
	Dispatch     *DispatchService
	Enrollment   *EnrollmentService
	BatchSize    int

	Now func() time.Time
}

func (s *TickService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RunTick claims and dispatches due queued messages, then claims and
// advances due enrollments. A lost claim race is skipped silently.
func (s *TickService) RunTick(ctx context.Context) (TickResult, error) {
	var res TickResult
	now := s.now()

	due, err := s.CampaignRepo.DueQueuedMessages(now, s.BatchSize)
	if err != nil {
		return res, err
	}
	for i := range due {
		qm := &due[i]
		if err := s.CampaignRepo.ClaimQueuedMessage(qm.ID); err != nil {
			if err == appErrors.ErrStateConflict {
				continue
			}
			return res, err
		}
		outcome, err := s.Dispatch.DispatchQueued(ctx, qm)
		if err != nil {
			log.WithError(err).WithField("queued_id", qm.ID).Error("queued dispatch bookkeeping failed")
			continue
		}
		log.WithFields(log.Fields{
			"queued_id": qm.ID,
			"recipient": qm.Recipient,
			"outcome":   outcome,
		}).Info("queued message processed")
		res.QueuedProcessed++
	}

	dueEnrollments, err := s.SequenceRepo.DueEnrollments(now, s.BatchSize)
	if err != nil {
		return res, err
	}
	for _, id := range dueEnrollments {
		if err := s.SequenceRepo.ClaimEnrollment(id, now); err != nil {
			if err == appErrors.ErrStateConflict {
				continue
			}
			return res, err
		}
		e, err := s.SequenceRepo.GetEnrollment(id)
		if err != nil {
			log.WithError(err).WithField("enrollment_id", id).Error("claimed enrollment vanished")
			continue
		}
		if err := s.Enrollment.Advance(ctx, e); err != nil {
			log.WithError(err).WithField("enrollment_id", id).Error("enrollment advance failed")
			continue
		}
		res.EnrollmentsAdvanced++
	}

	return res, nil
}
