// internal/service/dispatch.go
package service

import (
	"context"
	"net/mail"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
	"github.com/sendfox/sendfox-backend/internal/repository"
	"github.com/sendfox/sendfox-backend/internal/transport"
)

// SenderFactory builds the transport for a selected identity.
type SenderFactory func(*model.SenderIdentity) (transport.Sender, error)

// Recipient is one addressee of a campaign send, with its merge data.
type Recipient struct {
	Email     string            `json:"email"`
	MergeData map[string]string `json:"merge_data,omitempty"`
}

// Progress is one emission of the dispatch stream, in recipient order.
type Progress struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Recipient string `json:"recipient"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

// DispatchService selects an identity per recipient, drives the transport,
// classifies outcomes and keeps counters and logs consistent.
type DispatchService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Pool         *IdentityPoolService
	NewSender    SenderFactory
	Limiter      *rate.Limiter
	MaxAttempts  int
	SendTimeout  time.Duration

	Now func() time.Time
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Dispatch processes the batch sequentially and emits one Progress per
// recipient on the returned channel. The stream is finite and not
// restartable. Cancellation is cooperative: the context and the campaign's
// stop flag are checked between recipients, never mid-send.
func (s *DispatchService) Dispatch(ctx context.Context, campaign *model.Campaign, recipients []Recipient) <-chan Progress {
	out := make(chan Progress)

	go func() {
		defer close(out)
		total := len(recipients)

		for i, rcpt := range recipients {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if status, err := s.CampaignRepo.GetStatus(campaign.ID); err == nil && status == model.CampaignStopped {
				log.WithField("campaign_id", campaign.ID).Info("campaign stopped by operator, aborting batch")
				return
			}

			outcome, detail := s.dispatchCampaignRecipient(ctx, campaign, rcpt)
			out <- Progress{
				Processed: i + 1,
				Total:     total,
				Recipient: rcpt.Email,
				Outcome:   outcome,
				Detail:    detail,
			}
		}

		if err := s.CampaignRepo.MarkCompletedIfDrained(campaign.ID); err != nil {
			log.WithError(err).WithField("campaign_id", campaign.ID).Warn("failed to mark campaign completed")
		}
	}()

	return out
}

func (s *DispatchService) dispatchCampaignRecipient(ctx context.Context, campaign *model.Campaign, rcpt Recipient) (string, string) {
	campaignID := campaign.ID

	if _, err := mail.ParseAddress(rcpt.Email); err != nil {
		// Rejected before any identity is consulted; no quota is touched.
		detail := appErrors.NewValidation("recipient", rcpt.Email).Error()
		s.recordOutcome(&model.SendRecord{
			CampaignID: &campaignID,
			Recipient:  rcpt.Email,
			Status:     model.SendFailed,
			LastError:  detail,
		}, 0, 1, 0)
		return model.SendFailed, detail
	}

	// Idempotency guard: a recipient with a successful record never gets a
	// second send for the same campaign.
	if done, err := s.CampaignRepo.HasSuccess(campaignID, rcpt.Email); err != nil {
		return model.SendFailed, err.Error()
	} else if done {
		return model.SendSuccess, "already sent"
	}

	body := RenderTemplate(campaign.BaseTemplate, rcpt.MergeData)
	res := s.attemptSend(ctx, campaignID, transport.Message{
		To:      rcpt.Email,
		Subject: campaign.Subject,
		Body:    body,
	})

	switch res.status {
	case model.SendSuccess:
		s.recordOutcome(&model.SendRecord{
			CampaignID: &campaignID,
			Recipient:  rcpt.Email,
			Status:     model.SendSuccess,
			IdentityID: res.identityID,
			RetryCount: res.retries,
		}, 1, 0, 0)
	case model.SendQueued:
		qm := &model.QueuedMessage{
			CampaignID:   &campaignID,
			Recipient:    rcpt.Email,
			Subject:      campaign.Subject,
			Body:         body,
			ScheduledFor: res.scheduledFor,
		}
		if err := s.CampaignRepo.InsertQueuedMessage(qm); err != nil {
			log.WithError(err).Error("failed to queue message")
			return model.SendFailed, err.Error()
		}
		s.recordOutcome(&model.SendRecord{
			CampaignID: &campaignID,
			Recipient:  rcpt.Email,
			Status:     model.SendQueued,
			LastError:  res.detail,
		}, 0, 0, 1)
	default:
		s.recordOutcome(&model.SendRecord{
			CampaignID: &campaignID,
			Recipient:  rcpt.Email,
			Status:     model.SendFailed,
			IdentityID: res.identityID,
			LastError:  res.detail,
			RetryCount: res.retries,
		}, 0, 1, 0)
	}
	return res.status, res.detail
}

// recordOutcome appends the attempt log and bumps campaign counters. A state
// conflict means a concurrent dispatcher already accounted this attempt, so
// the counters are left alone.
func (s *DispatchService) recordOutcome(rec *model.SendRecord, success, failed, queued int) {
	if err := s.CampaignRepo.InsertSendRecord(rec); err != nil {
		if err == appErrors.ErrStateConflict {
			return
		}
		log.WithError(err).Error("failed to insert send record")
		return
	}
	if rec.Status == model.SendSuccess && rec.IdentityID != nil {
		if err := s.Pool.RecordSuccess(*rec.IdentityID); err != nil {
			log.WithError(err).Error("failed to increment usage counter")
		}
	}
	if rec.CampaignID != nil {
		if err := s.CampaignRepo.AddCounts(*rec.CampaignID, success, failed, queued); err != nil {
			log.WithError(err).Error("failed to update campaign counters")
		}
	}
}

// sendResult is what one recipient's attempt loop resolved to.
type sendResult struct {
	status       string
	identityID   *int
	detail       string
	retries      int
	scheduledFor *time.Time
}

// attemptSend runs the selection/send/classify loop for one message. On a
// transient failure the next eligible identity is tried, excluding the ones
// already burned, up to MaxAttempts.
func (s *DispatchService) attemptSend(ctx context.Context, campaignID int, msg transport.Message) sendResult {
	tried := map[int]bool{}
	var lastErr error

	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		identity, err := s.Pool.SelectIdentity(campaignID, tried)
		if err != nil {
			if ce, ok := appErrors.IsCapacityExhausted(err); ok {
				if len(tried) == 0 {
					return sendResult{
						status:       model.SendQueued,
						detail:       ce.Error(),
						scheduledFor: s.nextWindow(ce),
					}
				}
				// Retry budget remains but no alternate identity does.
				return sendResult{status: model.SendFailed, detail: lastErr.Error(), retries: attempt - 1}
			}
			return sendResult{status: model.SendFailed, detail: err.Error(), retries: attempt - 1}
		}

		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return sendResult{status: model.SendFailed, detail: err.Error(), retries: attempt - 1}
			}
		}

		sender, err := s.NewSender(identity)
		if err != nil {
			return sendResult{status: model.SendFailed, identityID: &identity.ID, detail: err.Error(), retries: attempt - 1}
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.SendTimeout)
		err = sender.Send(sendCtx, msg)
		cancel()

		if err == nil {
			return sendResult{status: model.SendSuccess, identityID: &identity.ID, retries: attempt - 1}
		}

		lastErr = err
		log.WithFields(log.Fields{
			"identity_id": identity.ID,
			"recipient":   msg.To,
			"attempt":     attempt,
		}).WithError(err).Warn("send attempt failed")

		if !appErrors.IsTransientTransport(err) {
			return sendResult{status: model.SendFailed, identityID: &identity.ID, detail: err.Error(), retries: attempt - 1}
		}
		tried[identity.ID] = true
	}

	return sendResult{status: model.SendFailed, detail: lastErr.Error(), retries: s.MaxAttempts - 1}
}

// nextWindow computes when a capacity-queued message becomes sendable: start
// of the next UTC day when a daily cap was the limiter, or nil (parked) when
// every identity hit its campaign cap.
func (s *DispatchService) nextWindow(ce *appErrors.ErrCapacityExhausted) *time.Time {
	if !ce.DailyLimited {
		return nil
	}
	now := s.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return &next
}

// DispatchQueued retries a previously parked message that the tick claimed.
// The caller owns the claim; this finishes or reschedules the row.
func (s *DispatchService) DispatchQueued(ctx context.Context, qm *model.QueuedMessage) (string, error) {
	campaignID := 0
	if qm.CampaignID != nil {
		campaignID = *qm.CampaignID
	}

	res := s.attemptSend(ctx, campaignID, transport.Message{
		To:      qm.Recipient,
		Subject: qm.Subject,
		Body:    qm.Body,
	})

	switch res.status {
	case model.SendSuccess:
		s.recordOutcome(&model.SendRecord{
			CampaignID: qm.CampaignID,
			Recipient:  qm.Recipient,
			Status:     model.SendSuccess,
			IdentityID: res.identityID,
			RetryCount: res.retries,
		}, 1, 0, -1)
		if err := s.CampaignRepo.FinishQueuedMessage(qm.ID, model.QueuedSent); err != nil {
			return res.status, err
		}
	case model.SendQueued:
		// Still no capacity; push the window out and leave it pending.
		return res.status, s.CampaignRepo.RescheduleQueuedMessage(qm.ID, res.scheduledFor)
	default:
		s.recordOutcome(&model.SendRecord{
			CampaignID: qm.CampaignID,
			Recipient:  qm.Recipient,
			Status:     model.SendFailed,
			IdentityID: res.identityID,
			LastError:  res.detail,
			RetryCount: res.retries,
		}, 0, 1, -1)
		if err := s.CampaignRepo.FinishQueuedMessage(qm.ID, model.QueuedFailed); err != nil {
			return res.status, err
		}
	}

	if qm.CampaignID != nil {
		if err := s.CampaignRepo.MarkCompletedIfDrained(*qm.CampaignID); err != nil {
			log.WithError(err).Warn("failed to mark campaign completed")
		}
	}
	return res.status, nil
}

// DispatchStep sends one sequence step email for an enrollment. Sequence
// sends are not campaign-scoped, so only daily caps constrain identity
// selection. Returns the outcome and the send time on success.
func (s *DispatchService) DispatchStep(ctx context.Context, enrollmentID int, msg transport.Message) (string, time.Time) {
	res := s.attemptSend(ctx, 0, msg)
	sentAt := s.now()

	rec := &model.SendRecord{
		EnrollmentID: &enrollmentID,
		Recipient:    msg.To,
		Status:       res.status,
		IdentityID:   res.identityID,
		LastError:    res.detail,
		RetryCount:   res.retries,
	}
	if res.status != model.SendQueued {
		s.recordOutcome(rec, 0, 0, 0)
	}
	return res.status, sentAt
}
