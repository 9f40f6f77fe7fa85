package service_test

import (
	"context"
	"strconv"
	"sync"
	"time"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
	"github.com/sendfox/sendfox-backend/internal/transport"
)

// memStore is the shared in-memory backing both mock repositories read and
// write, so cap accounting behaves like the real store.
type memStore struct {
	mu sync.Mutex

	identities  []model.SenderIdentity
	usage       map[string]int // identityID|dateKey
	campaigns   map[int]*model.Campaign
	records     []model.SendRecord
	queued      map[int]*model.QueuedMessage
	sequences   map[int]*model.Sequence
	enrollments map[int]*model.Enrollment
	tokens      map[string]*model.TrackingToken
	events      []model.ActionEvent

	nextID int
}

func newMemStore() *memStore {
	return &memStore{
		usage:       map[string]int{},
		campaigns:   map[int]*model.Campaign{},
		queued:      map[int]*model.QueuedMessage{},
		sequences:   map[int]*model.Sequence{},
		enrollments: map[int]*model.Enrollment{},
		tokens:      map[string]*model.TrackingToken{},
		nextID:      1,
	}
}

func (st *memStore) id() int {
	id := st.nextID
	st.nextID++
	return id
}

func usageKey(identityID int, dateKey string) string {
	return dateKey + "|" + strconv.Itoa(identityID)
}

// ---------------- identity repo ----------------

type mockIdentityRepo struct{ st *memStore }

func (m *mockIdentityRepo) Create(i *model.SenderIdentity) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	i.ID = m.st.id()
	m.st.identities = append(m.st.identities, *i)
	return nil
}

func (m *mockIdentityRepo) Update(i *model.SenderIdentity) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for idx := range m.st.identities {
		if m.st.identities[idx].ID == i.ID {
			m.st.identities[idx] = *i
		}
	}
	return nil
}

func (m *mockIdentityRepo) GetByID(id int) (*model.SenderIdentity, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for idx := range m.st.identities {
		if m.st.identities[idx].ID == id {
			i := m.st.identities[idx]
			return &i, nil
		}
	}
	return nil, appErrors.NewNotFound("identity", id)
}

func (m *mockIdentityRepo) ListAll() ([]model.SenderIdentity, error) {
	return m.ListEnabledByPriority()
}

func (m *mockIdentityRepo) ListEnabledByPriority() ([]model.SenderIdentity, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := []model.SenderIdentity{}
	for _, i := range m.st.identities {
		if i.Enabled {
			out = append(out, i)
		}
	}
	for a := 0; a < len(out); a++ {
		for b := a + 1; b < len(out); b++ {
			if out[b].Priority < out[a].Priority {
				out[a], out[b] = out[b], out[a]
			}
		}
	}
	return out, nil
}

func (m *mockIdentityRepo) Reorder(ids []int) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for pos, id := range ids {
		for idx := range m.st.identities {
			if m.st.identities[idx].ID == id {
				m.st.identities[idx].Priority = pos
			}
		}
	}
	return nil
}

func (m *mockIdentityRepo) TodayCount(identityID int, dateKey string) (int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return m.st.usage[usageKey(identityID, dateKey)], nil
}

func (m *mockIdentityRepo) CampaignSuccessCount(campaignID, identityID int) (int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	count := 0
	for _, rec := range m.st.records {
		if rec.Status == model.SendSuccess &&
			rec.CampaignID != nil && *rec.CampaignID == campaignID &&
			rec.IdentityID != nil && *rec.IdentityID == identityID {
			count++
		}
	}
	return count, nil
}

func (m *mockIdentityRepo) IncrementUsage(identityID int, dateKey string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.usage[usageKey(identityID, dateKey)]++
	return nil
}

// ---------------- campaign repo ----------------

type mockCampaignRepo struct{ st *memStore }

func (m *mockCampaignRepo) Create(c *model.Campaign) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	c.ID = m.st.id()
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	m.st.campaigns[c.ID] = c
	return nil
}

func (m *mockCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	c, ok := m.st.campaigns[id]
	if !ok {
		return nil, appErrors.NewNotFound("campaign", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockCampaignRepo) GetStatus(id int) (string, error) {
	c, err := m.GetByID(id)
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

func (m *mockCampaignRepo) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.st.campaigns {
		if status == "" || c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockCampaignRepo) UpdateStatus(campaignID int, status string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if c, ok := m.st.campaigns[campaignID]; ok {
		c.Status = status
	}
	return nil
}

func (m *mockCampaignRepo) SetRecipientCount(campaignID, count int) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if c, ok := m.st.campaigns[campaignID]; ok {
		c.RecipientCount = count
	}
	return nil
}

func (m *mockCampaignRepo) AddCounts(campaignID, success, failed, queued int) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if c, ok := m.st.campaigns[campaignID]; ok {
		c.SuccessCount += success
		c.FailedCount += failed
		c.QueuedCount += queued
	}
	return nil
}

func (m *mockCampaignRepo) MarkCompletedIfDrained(campaignID int) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, qm := range m.st.queued {
		if qm.CampaignID != nil && *qm.CampaignID == campaignID &&
			(qm.Status == model.QueuedPending || qm.Status == model.QueuedProcessing) {
			return nil
		}
	}
	if c, ok := m.st.campaigns[campaignID]; ok && c.CompletedAt == nil {
		now := time.Now()
		c.CompletedAt = &now
		c.Status = model.CampaignCompleted
	}
	return nil
}

func (m *mockCampaignRepo) InsertSendRecord(rec *model.SendRecord) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	ordinal := 0
	for _, existing := range m.st.records {
		sameCampaign := (existing.CampaignID == nil && rec.CampaignID == nil) ||
			(existing.CampaignID != nil && rec.CampaignID != nil && *existing.CampaignID == *rec.CampaignID)
		if sameCampaign && existing.Recipient == rec.Recipient && existing.AttemptOrdinal > ordinal {
			ordinal = existing.AttemptOrdinal
		}
	}
	rec.ID = m.st.id()
	rec.AttemptOrdinal = ordinal + 1
	rec.CreatedAt = time.Now()
	m.st.records = append(m.st.records, *rec)
	return nil
}

func (m *mockCampaignRepo) HasSuccess(campaignID int, recipient string) (bool, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, rec := range m.st.records {
		if rec.CampaignID != nil && *rec.CampaignID == campaignID &&
			rec.Recipient == recipient && rec.Status == model.SendSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCampaignRepo) GetCampaignStats(campaignID int) (map[string]int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	stats := map[string]int{"success": 0, "failed": 0, "queued": 0}
	for _, rec := range m.st.records {
		if rec.CampaignID != nil && *rec.CampaignID == campaignID {
			stats[rec.Status]++
		}
	}
	return stats, nil
}

func (m *mockCampaignRepo) ListSendRecords(campaignID int) ([]model.SendRecord, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := []model.SendRecord{}
	for _, rec := range m.st.records {
		if rec.CampaignID != nil && *rec.CampaignID == campaignID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockCampaignRepo) InsertQueuedMessage(qm *model.QueuedMessage) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	qm.ID = m.st.id()
	qm.Status = model.QueuedPending
	qm.CreatedAt = time.Now()
	cp := *qm
	m.st.queued[qm.ID] = &cp
	return nil
}

func (m *mockCampaignRepo) DueQueuedMessages(now time.Time, limit int) ([]model.QueuedMessage, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := []model.QueuedMessage{}
	for _, qm := range m.st.queued {
		if qm.Status == model.QueuedPending && qm.ScheduledFor != nil && !qm.ScheduledFor.After(now) {
			out = append(out, *qm)
		}
	}
	return out, nil
}

func (m *mockCampaignRepo) ClaimQueuedMessage(id int) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	qm, ok := m.st.queued[id]
	if !ok || qm.Status != model.QueuedPending {
		return appErrors.ErrStateConflict
	}
	qm.Status = model.QueuedProcessing
	return nil
}

func (m *mockCampaignRepo) FinishQueuedMessage(id int, status string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if qm, ok := m.st.queued[id]; ok && qm.Status == model.QueuedProcessing {
		qm.Status = status
	}
	return nil
}

func (m *mockCampaignRepo) RescheduleQueuedMessage(id int, scheduledFor *time.Time) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if qm, ok := m.st.queued[id]; ok && qm.Status == model.QueuedProcessing {
		qm.Status = model.QueuedPending
		qm.ScheduledFor = scheduledFor
	}
	return nil
}

// ---------------- sequence repo ----------------

type mockSequenceRepo struct{ st *memStore }

func (m *mockSequenceRepo) CreateSequence(s *model.Sequence) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s.ID = m.st.id()
	for i := range s.Steps {
		s.Steps[i].ID = m.st.id()
		s.Steps[i].SequenceID = s.ID
	}
	m.st.sequences[s.ID] = s
	return nil
}

func (m *mockSequenceRepo) GetSequence(id int) (*model.Sequence, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.sequences[id]
	if !ok {
		return nil, appErrors.NewNotFound("sequence", id)
	}
	cp := *s
	return &cp, nil
}

func (m *mockSequenceRepo) ListSequences() ([]model.Sequence, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := []model.Sequence{}
	for _, s := range m.st.sequences {
		out = append(out, *s)
	}
	return out, nil
}

func (m *mockSequenceRepo) CreateEnrollment(e *model.Enrollment) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, existing := range m.st.enrollments {
		if existing.SequenceID == e.SequenceID && existing.Recipient == e.Recipient {
			return appErrors.ErrStateConflict
		}
	}
	e.ID = m.st.id()
	cp := *e
	m.st.enrollments[e.ID] = &cp
	return nil
}

func (m *mockSequenceRepo) GetEnrollment(id int) (*model.Enrollment, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	e, ok := m.st.enrollments[id]
	if !ok {
		return nil, appErrors.NewNotFound("enrollment", id)
	}
	cp := *e
	return &cp, nil
}

func (m *mockSequenceRepo) FindEnrollment(sequenceID int, recipient string) (*model.Enrollment, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, e := range m.st.enrollments {
		if e.SequenceID == sequenceID && e.Recipient == recipient {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockSequenceRepo) DueEnrollments(now time.Time, limit int) ([]int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	ids := []int{}
	for _, e := range m.st.enrollments {
		if e.Status == model.EnrollmentActive && e.NextSendAt != nil && !e.NextSendAt.After(now) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

func (m *mockSequenceRepo) ClaimEnrollment(id int, now time.Time) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	e, ok := m.st.enrollments[id]
	if !ok || e.Status != model.EnrollmentActive || e.NextSendAt == nil || e.NextSendAt.After(now) || e.ClaimedAt != nil {
		return appErrors.ErrStateConflict
	}
	e.ClaimedAt = &now
	return nil
}

func (m *mockSequenceRepo) ReleaseEnrollment(e *model.Enrollment) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	e.ClaimedAt = nil
	cp := *e
	m.st.enrollments[e.ID] = &cp
	return nil
}

func (m *mockSequenceRepo) StopEnrollment(id int) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	e, ok := m.st.enrollments[id]
	if !ok || e.Status != model.EnrollmentActive {
		return appErrors.NewNotFound("active enrollment", id)
	}
	e.Status = model.EnrollmentStopped
	e.NextSendAt = nil
	return nil
}

func (m *mockSequenceRepo) EnrollmentStats(sequenceID int) (map[string]int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	stats := map[string]int{"active": 0, "completed": 0, "stopped": 0}
	for _, e := range m.st.enrollments {
		if e.SequenceID == sequenceID {
			stats[e.Status]++
		}
	}
	return stats, nil
}

// ---------------- tracking repo ----------------

type mockTrackingRepo struct{ st *memStore }

func (m *mockTrackingRepo) InsertToken(t *model.TrackingToken) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	cp := *t
	m.st.tokens[t.Token] = &cp
	return nil
}

func (m *mockTrackingRepo) GetToken(token string) (*model.TrackingToken, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	t, ok := m.st.tokens[token]
	if !ok {
		return nil, appErrors.NewNotFound("tracking token", token)
	}
	cp := *t
	return &cp, nil
}

func (m *mockTrackingRepo) InsertActionEvent(ev *model.ActionEvent) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	ev.ID = m.st.id()
	m.st.events = append(m.st.events, *ev)
	return nil
}

func (m *mockTrackingRepo) FirstActionEvent(enrollmentID, stepID int) (*model.ActionEvent, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var first *model.ActionEvent
	for i := range m.st.events {
		ev := &m.st.events[i]
		if ev.EnrollmentID == enrollmentID && ev.StepID == stepID {
			if first == nil || ev.ClickedAt.Before(first.ClickedAt) {
				first = ev
			}
		}
	}
	if first == nil {
		return nil, nil
	}
	cp := *first
	return &cp, nil
}

// ---------------- fake transport ----------------

type sentMail struct {
	IdentityID int
	To         string
	Subject    string
	Body       string
}

// fakeTransport scripts per-identity send results and records what went out.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMail
	errs map[int][]error // per identity, consumed in order; nil entry = success
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{errs: map[int][]error{}}
}

func (f *fakeTransport) failWith(identityID int, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[identityID] = append(f.errs[identityID], errs...)
}

func (f *fakeTransport) factory(identity *model.SenderIdentity) (transport.Sender, error) {
	return &fakeSender{ft: f, identityID: identity.ID}, nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func eventAt(enrollmentID, stepID int, at time.Time) *model.ActionEvent {
	return &model.ActionEvent{EnrollmentID: enrollmentID, StepID: stepID, ClickedAt: at}
}

func transportMessage(to, subject, body string) transport.Message {
	return transport.Message{To: to, Subject: subject, Body: body}
}

type fakeSender struct {
	ft         *fakeTransport
	identityID int
}

func (s *fakeSender) Send(ctx context.Context, msg transport.Message) error {
	s.ft.mu.Lock()
	defer s.ft.mu.Unlock()
	if queue := s.ft.errs[s.identityID]; len(queue) > 0 {
		err := queue[0]
		s.ft.errs[s.identityID] = queue[1:]
		if err != nil {
			return err
		}
	}
	s.ft.sent = append(s.ft.sent, sentMail{
		IdentityID: s.identityID,
		To:         msg.To,
		Subject:    msg.Subject,
		Body:       msg.Body,
	})
	return nil
}

func (s *fakeSender) Verify(ctx context.Context) error { return nil }
