package service_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/service"
)

func newTracking(st *memStore) *service.TrackingService {
	return &service.TrackingService{
		TrackingRepo: &mockTrackingRepo{st: st},
		BaseURL:      "http://track.local",
		Now:          fixedNow,
	}
}

func TestMintLinkStoresToken(t *testing.T) {
	st := newMemStore()
	svc := newTracking(st)

	link, err := svc.MintLink(7, 3, "https://example.com/offer")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "http://track.local/t/"))

	token := strings.TrimPrefix(link, "http://track.local/t/")
	stored, err := (&mockTrackingRepo{st: st}).GetToken(token)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.EnrollmentID)
	assert.Equal(t, 3, stored.StepID)
	assert.Equal(t, "https://example.com/offer", stored.Destination)
}

func TestMintLinkTokensAreUnique(t *testing.T) {
	st := newMemStore()
	svc := newTracking(st)

	a, err := svc.MintLink(1, 1, "https://example.com")
	require.NoError(t, err)
	b, err := svc.MintLink(1, 1, "https://example.com")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRecordActionLogsEveryClick(t *testing.T) {
	st := newMemStore()
	svc := newTracking(st)

	link, err := svc.MintLink(7, 3, "https://example.com/offer")
	require.NoError(t, err)
	token := strings.TrimPrefix(link, "http://track.local/t/")

	dest, err := svc.RecordAction(token, "curl/8.0")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/offer", dest)

	_, err = svc.RecordAction(token, "curl/8.0")
	require.NoError(t, err)

	// Both clicks are on the log; only the first matters to routing.
	assert.Len(t, st.events, 2)
	first, err := (&mockTrackingRepo{st: st}).FirstActionEvent(7, 3)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, fixedNow(), first.ClickedAt)
}

func TestRecordActionUnknownToken(t *testing.T) {
	st := newMemStore()
	svc := newTracking(st)

	_, err := svc.RecordAction("no-such-token", "")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestFirstActionEventPicksEarliest(t *testing.T) {
	st := newMemStore()
	repo := &mockTrackingRepo{st: st}

	later := fixedNow().Add(time.Hour)
	earlier := fixedNow()
	require.NoError(t, repo.InsertActionEvent(eventAt(7, 3, later)))
	require.NoError(t, repo.InsertActionEvent(eventAt(7, 3, earlier)))
	require.NoError(t, repo.InsertActionEvent(eventAt(7, 9, fixedNow().Add(-time.Hour))))

	first, err := repo.FirstActionEvent(7, 3)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, earlier, first.ClickedAt)

	none, err := repo.FirstActionEvent(8, 3)
	require.NoError(t, err)
	assert.Nil(t, none)
}
