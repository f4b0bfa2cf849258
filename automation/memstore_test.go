package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"dripline/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store with the same guarded-update and
// one-active-pair semantics as the database implementation.
type memStore struct {
	mu          sync.Mutex
	nextID      uint
	sequences   map[uint]models.Sequence
	leads       map[uint]models.Lead
	enrollments map[uint]models.SequenceEnrollment

	dueErr error
	// Returned once by the next GetSequence / GetLead call.
	sequenceErr error
	leadErr     error
}

func newMemStore() *memStore {
	return &memStore{
		sequences:   map[uint]models.Sequence{},
		leads:       map[uint]models.Lead{},
		enrollments: map[uint]models.SequenceEnrollment{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) ListDueEnrollments(_ context.Context, now time.Time, limit int) ([]models.SequenceEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dueErr != nil {
		return nil, m.dueErr
	}

	var out []models.SequenceEnrollment
	for _, e := range m.enrollments {
		if e.Status == models.EnrollmentActive && e.NextRunAt != nil && !e.NextRunAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(*out[j].NextRunAt) {
			return out[i].NextRunAt.Before(*out[j].NextRunAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetEnrollment(_ context.Context, id uint) (*models.SequenceEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	return &e, nil
}

func (m *memStore) FindActiveEnrollment(_ context.Context, sequenceID, leadID uint) (*models.SequenceEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.SequenceID == sequenceID && e.LeadID == leadID && e.Status == models.EnrollmentActive {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListEnrollments(_ context.Context, sequenceID uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SequenceEnrollment
	for _, e := range m.enrollments {
		if e.SequenceID == sequenceID && (status == "" || e.Status == status) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListActiveEnrollmentsForLead(_ context.Context, leadID uint) ([]models.SequenceEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SequenceEnrollment
	for _, e := range m.enrollments {
		if e.LeadID == leadID && e.Status == models.EnrollmentActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) CreateEnrollment(_ context.Context, e *models.SequenceEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.enrollments {
		if other.SequenceID == e.SequenceID && other.LeadID == e.LeadID && other.Status == models.EnrollmentActive {
			return ErrAlreadyEnrolled
		}
	}
	e.ID = m.id()
	m.enrollments[e.ID] = *e
	return nil
}

func (m *memStore) SaveTransition(_ context.Context, e *models.SequenceEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.enrollments[e.ID]
	if !ok || stored.Status != models.EnrollmentActive {
		return ErrEnrollmentNotActive
	}
	m.enrollments[e.ID] = *e
	return nil
}

func (m *memStore) CountEnrollments(_ context.Context, sequenceID uint) (models.SequenceStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats models.SequenceStats
	for _, e := range m.enrollments {
		if e.SequenceID != sequenceID {
			continue
		}
		stats.Enrolled++
		stats.EmailsSent += e.EmailsSent
		switch e.Status {
		case models.EnrollmentActive:
			stats.Active++
		case models.EnrollmentCompleted:
			stats.Completed++
		case models.EnrollmentExited:
			stats.Exited++
		case models.EnrollmentFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *memStore) GetSequence(_ context.Context, id uint) (*models.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sequenceErr; err != nil {
		m.sequenceErr = nil
		return nil, err
	}
	seq, ok := m.sequences[id]
	if !ok {
		return nil, ErrSequenceNotFound
	}
	return &seq, nil
}

func (m *memStore) ListSequences(_ context.Context, companyID uint) ([]models.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Sequence
	for _, seq := range m.sequences {
		if seq.CompanyID == companyID {
			out = append(out, seq)
		}
	}
	return out, nil
}

func (m *memStore) CreateSequence(_ context.Context, seq *models.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq.ID = m.id()
	m.sequences[seq.ID] = *seq
	return nil
}

func (m *memStore) SaveSequence(_ context.Context, seq *models.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sequences[seq.ID]; !ok {
		return ErrSequenceNotFound
	}
	m.sequences[seq.ID] = *seq
	return nil
}

func (m *memStore) DeleteSequence(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sequences, id)
	return nil
}

func (m *memStore) UpdateSequenceStats(_ context.Context, id uint, stats models.SequenceStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[id]
	if !ok {
		return ErrSequenceNotFound
	}
	seq.Stats = stats
	m.sequences[id] = seq
	return nil
}

func (m *memStore) GetLead(_ context.Context, id uint) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.leadErr; err != nil {
		m.leadErr = nil
		return nil, err
	}
	lead, ok := m.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return &lead, nil
}

func (m *memStore) FindLeadsByEmail(_ context.Context, companyID uint, email string) ([]models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Lead
	for _, lead := range m.leads {
		if lead.CompanyID == companyID && lead.Email == email {
			out = append(out, lead)
		}
	}
	return out, nil
}

func (m *memStore) MarkLeadReplied(_ context.Context, id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return ErrLeadNotFound
	}
	lead.LastRepliedAt = &at
	m.leads[id] = lead
	return nil
}

// putSequence stores seq as-is, bypassing validation and the inactive default.
func (m *memStore) putSequence(seq models.Sequence) models.Sequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq.ID = m.id()
	m.sequences[seq.ID] = seq
	return seq
}

func (m *memStore) putLead(lead models.Lead) models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead.ID = m.id()
	m.leads[lead.ID] = lead
	return lead
}

func (m *memStore) enrollment(t *testing.T, id uint) models.SequenceEnrollment {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	require.True(t, ok, "enrollment %d not stored", id)
	return e
}

func (m *memStore) sequence(t *testing.T, id uint) models.Sequence {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[id]
	require.True(t, ok, "sequence %d not stored", id)
	return seq
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []SendRequest
	failOn map[uint]error // keyed by lead ID
	panics bool
}

func (f *fakeMailer) SendToLead(_ context.Context, req SendRequest) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("transport exploded")
	}
	if err := f.failOn[req.Lead.ID]; err != nil {
		return SendResult{}, err
	}
	f.sent = append(f.sent, req)
	return SendResult{MessageID: fmt.Sprintf("<msg-%d@test>", len(f.sent))}, nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type harness struct {
	store     *memStore
	mailer    *fakeMailer
	clock     *testClock
	scheduler *Scheduler
	service   *Service
	actor     Actor
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	h := &harness{
		store:  newMemStore(),
		mailer: &fakeMailer{failOn: map[uint]error{}},
		clock:  &testClock{t: start},
		actor:  Actor{UserID: 7, CompanyID: 1},
	}

	var err error
	h.scheduler, err = NewScheduler(SchedulerConfig{
		Store:    h.store,
		Executor: NewExecutor(h.mailer, time.UTC),
		Logger:   logger,
		Now:      h.clock.Now,
	})
	require.NoError(t, err)

	h.service, err = NewService(ServiceConfig{
		Store:  h.store,
		Logger: logger,
		Now:    h.clock.Now,
	})
	require.NoError(t, err)

	return h
}

func (h *harness) lead(email string) models.Lead {
	return h.store.putLead(models.Lead{CompanyID: h.actor.CompanyID, Email: email, Status: "new"})
}

func (h *harness) activeSequence(maxPerDay int, window *models.SendWindow, steps ...models.SequenceStep) models.Sequence {
	return h.store.putSequence(models.Sequence{
		CompanyID:       h.actor.CompanyID,
		Name:            "Onboarding",
		Steps:           steps,
		IsActive:        true,
		ExitOnReply:     true,
		SendWindow:      window,
		MaxEmailsPerDay: maxPerDay,
	})
}

func sendStep(value float64, unit models.DelayUnit) models.SequenceStep {
	return models.SequenceStep{
		Type:       models.StepSendEmail,
		Delay:      models.Delay{Unit: unit, Value: value},
		TemplateID: 11,
	}
}

func waitStep(value float64, unit models.DelayUnit) models.SequenceStep {
	return models.SequenceStep{Type: models.StepWait, Delay: models.Delay{Unit: unit, Value: value}}
}

var errSMTPDown = errors.New("smtp: 421 service not available")
