package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dripline/models"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"
)

type ServiceConfig struct {
	Store Store
	// Location is used for sequences whose send window has no timezone.
	Location *time.Location
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Service owns the enrollment and sequence lifecycle outside of scheduled passes.
type Service struct {
	store    Store
	location *time.Location
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}
	return &Service{
		store:    cfg.Store,
		location: cfg.Location,
		log:      cfg.Logger.WithField("component", "sequence_service"),
		now:      cfg.Now,
	}, nil
}

// Enroll starts lead on sequence. The sequence must be active and belong to
// the actor's company, and the lead must be reachable by email.
func (s *Service) Enroll(ctx context.Context, actor Actor, sequenceID, leadID uint) (*models.SequenceEnrollment, error) {
	seq, err := s.GetSequence(ctx, actor, sequenceID)
	if err != nil {
		return nil, err
	}
	if !seq.IsActive {
		return nil, ErrSequenceInactive
	}

	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.CompanyID != actor.CompanyID {
		return nil, ErrLeadNotFound
	}
	if err := contactable(*lead); err != nil {
		return nil, err
	}

	existing, err := s.store.FindActiveEnrollment(ctx, sequenceID, leadID)
	if err != nil {
		return nil, fmt.Errorf("check existing enrollment: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyEnrolled
	}

	now := s.now()
	nextRun := now
	if len(seq.Steps) > 0 {
		local := now.In(sequenceLocation(*seq, s.location))
		nextRun = ComputeNextRun(seq.Steps[0].Delay, seq.SendWindow, local)
	}

	enrollment := &models.SequenceEnrollment{
		SequenceID:  seq.ID,
		LeadID:      lead.ID,
		CompanyID:   actor.CompanyID,
		Status:      models.EnrollmentActive,
		CurrentStep: 0,
		NextRunAt:   &nextRun,
		EnrolledBy:  actor.UserID,
		EnrolledAt:  now,
	}
	// A concurrent enroll of the same pair surfaces as ErrAlreadyEnrolled from the unique index.
	if err := s.store.CreateEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"sequence_id":   seq.ID,
		"lead_id":       lead.ID,
		"next_run_at":   nextRun,
	}).Info("Lead enrolled in sequence")

	s.refreshStatsQuietly(ctx, seq.ID)
	return enrollment, nil
}

// Unenroll exits an active enrollment. reason defaults to "manual".
func (s *Service) Unenroll(ctx context.Context, actor Actor, enrollmentID uint, reason string) (*models.SequenceEnrollment, error) {
	enrollment, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.CompanyID != actor.CompanyID {
		return nil, ErrEnrollmentNotFound
	}
	if enrollment.Status != models.EnrollmentActive {
		return nil, ErrEnrollmentNotActive
	}

	if strings.TrimSpace(reason) == "" {
		reason = ExitReasonManual
	}
	exit(enrollment, reason, s.now())

	if err := s.store.SaveTransition(ctx, enrollment); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"sequence_id":   enrollment.SequenceID,
		"reason":        reason,
	}).Info("Lead unenrolled from sequence")

	s.refreshStatsQuietly(ctx, enrollment.SequenceID)
	return enrollment, nil
}

// RecordReply stamps the reply on every lead of the company with that address
// and exits their active enrollments in sequences that exit on reply. It
// returns the number of enrollments exited.
func (s *Service) RecordReply(ctx context.Context, companyID uint, email string, at time.Time) (int, error) {
	leads, err := s.store.FindLeadsByEmail(ctx, companyID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return 0, fmt.Errorf("find leads by email: %w", err)
	}

	exited := 0
	for _, lead := range leads {
		if err := s.store.MarkLeadReplied(ctx, lead.ID, at); err != nil {
			return exited, fmt.Errorf("mark lead %d replied: %w", lead.ID, err)
		}

		active, err := s.store.ListActiveEnrollmentsForLead(ctx, lead.ID)
		if err != nil {
			return exited, fmt.Errorf("list enrollments for lead %d: %w", lead.ID, err)
		}

		for i := range active {
			e := &active[i]
			seq, err := s.store.GetSequence(ctx, e.SequenceID)
			if err != nil {
				s.log.WithError(err).WithField("sequence_id", e.SequenceID).Warn("Skipping enrollment with unreadable sequence")
				continue
			}
			if !seq.ExitOnReply || at.Before(e.EnrolledAt) {
				continue
			}

			exit(e, ExitReasonReplied, s.now())
			if err := s.store.SaveTransition(ctx, e); err != nil {
				if errors.Is(err, ErrEnrollmentNotActive) {
					continue
				}
				return exited, fmt.Errorf("exit enrollment %d: %w", e.ID, err)
			}
			exited++
			s.refreshStatsQuietly(ctx, e.SequenceID)
		}
	}

	return exited, nil
}

// ListEnrollments returns the sequence's enrollments, optionally filtered by status.
func (s *Service) ListEnrollments(ctx context.Context, actor Actor, sequenceID uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error) {
	if _, err := s.GetSequence(ctx, actor, sequenceID); err != nil {
		return nil, err
	}
	return s.store.ListEnrollments(ctx, sequenceID, status)
}

// RefreshStats recounts the sequence's denormalized statistics from its enrollments.
func (s *Service) RefreshStats(ctx context.Context, sequenceID uint) error {
	return refreshStats(ctx, s.store, sequenceID)
}

func (s *Service) refreshStatsQuietly(ctx context.Context, sequenceID uint) {
	if err := refreshStats(ctx, s.store, sequenceID); err != nil {
		s.log.WithError(err).WithField("sequence_id", sequenceID).Warn("Failed to refresh sequence stats")
	}
}

func refreshStats(ctx context.Context, store Store, sequenceID uint) error {
	stats, err := store.CountEnrollments(ctx, sequenceID)
	if err != nil {
		return fmt.Errorf("count enrollments: %w", err)
	}
	return store.UpdateSequenceStats(ctx, sequenceID, stats)
}

func contactable(lead models.Lead) error {
	if lead.Email == "" || lead.IsSuppressed() {
		return ErrLeadNotContactable
	}
	if err := checkmail.ValidateFormat(lead.Email); err != nil {
		return fmt.Errorf("%w: %v", ErrLeadNotContactable, err)
	}
	return nil
}
