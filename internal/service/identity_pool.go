// internal/service/identity_pool.go
package service

import (
	"time"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
	"github.com/sendfox/sendfox-backend/internal/repository"
)

// IdentityPoolService owns the sending identities and their quota
// bookkeeping. Counts are always derived from the store at selection time so
// correctness holds across restarts and concurrent processes.
type IdentityPoolService struct {
	IdentityRepo repository.IdentityRepositoryInterface

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *IdentityPoolService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SelectIdentity walks enabled identities in priority order and returns the
// first with headroom under both its daily and campaign caps. Selection is
// advisory: nothing is incremented until RecordSuccess after a send commits.
// A campaignID of zero means the send is not campaign-scoped (sequence
// steps), so only the daily cap applies.
//
// Identities listed in exclude were already tried for this recipient and are
// skipped.
func (s *IdentityPoolService) SelectIdentity(campaignID int, exclude map[int]bool) (*model.SenderIdentity, error) {
	identities, err := s.IdentityRepo.ListEnabledByPriority()
	if err != nil {
		return nil, err
	}

	dateKey := model.DateKey(s.now())
	dailyLimited := false

	for i := range identities {
		identity := &identities[i]
		if exclude[identity.ID] {
			continue
		}

		todayCount, err := s.IdentityRepo.TodayCount(identity.ID, dateKey)
		if err != nil {
			return nil, err
		}

		campaignCount := 0
		if campaignID != 0 {
			campaignCount, err = s.IdentityRepo.CampaignSuccessCount(campaignID, identity.ID)
			if err != nil {
				return nil, err
			}
		}

		if todayCount < identity.DailyCap && campaignCount < identity.CampaignCap {
			return identity, nil
		}
		if campaignCount < identity.CampaignCap {
			// Only the daily cap is in the way; tomorrow this identity frees up.
			dailyLimited = true
		}
	}

	return nil, &appErrors.ErrCapacityExhausted{DailyLimited: dailyLimited}
}

// RecordSuccess atomically bumps today's usage counter. The campaign-scoped
// count rises implicitly through the success SendRecord row.
func (s *IdentityPoolService) RecordSuccess(identityID int) error {
	return s.IdentityRepo.IncrementUsage(identityID, model.DateKey(s.now()))
}

// Reorder rewrites the priority order to match ids.
func (s *IdentityPoolService) Reorder(ids []int) error {
	return s.IdentityRepo.Reorder(ids)
}
