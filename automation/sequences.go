package automation

import (
	"context"
	"fmt"

	"dripline/models"

	"github.com/sirupsen/logrus"
)

// SequenceUpdate carries the fields of a partial sequence update. Nil fields
// are left unchanged.
type SequenceUpdate struct {
	Name            *string                `json:"name"`
	Description     *string                `json:"description"`
	Steps           *[]models.SequenceStep `json:"steps"`
	ExitOnReply     *bool                  `json:"exit_on_reply"`
	ExitOnGoal      *string                `json:"exit_on_goal"` // "" clears the goal
	SendWindow      *models.SendWindow     `json:"send_time_window"`
	ClearSendWindow bool                   `json:"clear_send_time_window"`
	MaxEmailsPerDay *int                   `json:"max_emails_per_day"`
}

// CreateSequence stores a new, inactive sequence owned by the actor's company.
func (s *Service) CreateSequence(ctx context.Context, actor Actor, seq *models.Sequence) error {
	seq.ID = 0
	seq.CompanyID = actor.CompanyID
	seq.CreatedBy = actor.UserID
	seq.IsActive = false
	seq.Stats = models.SequenceStats{}
	if seq.Steps == nil {
		seq.Steps = []models.SequenceStep{}
	}

	if err := seq.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSequence, err)
	}

	if err := s.store.CreateSequence(ctx, seq); err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"sequence_id": seq.ID,
		"company_id":  seq.CompanyID,
		"steps":       len(seq.Steps),
	}).Info("Sequence created")
	return nil
}

// GetSequence loads a sequence, hiding sequences of other companies.
func (s *Service) GetSequence(ctx context.Context, actor Actor, id uint) (*models.Sequence, error) {
	seq, err := s.store.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}
	if seq.CompanyID != actor.CompanyID {
		return nil, ErrSequenceNotFound
	}
	return seq, nil
}

func (s *Service) ListSequences(ctx context.Context, actor Actor) ([]models.Sequence, error) {
	return s.store.ListSequences(ctx, actor.CompanyID)
}

// UpdateSequence applies a partial update. Step edits take effect for active
// enrollments at their next due step.
func (s *Service) UpdateSequence(ctx context.Context, actor Actor, id uint, upd SequenceUpdate) (*models.Sequence, error) {
	seq, err := s.GetSequence(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		seq.Name = *upd.Name
	}
	if upd.Description != nil {
		seq.Description = *upd.Description
	}
	if upd.Steps != nil {
		seq.Steps = *upd.Steps
	}
	if upd.ExitOnReply != nil {
		seq.ExitOnReply = *upd.ExitOnReply
	}
	if upd.ExitOnGoal != nil {
		if *upd.ExitOnGoal == "" {
			seq.ExitOnGoal = nil
		} else {
			seq.ExitOnGoal = upd.ExitOnGoal
		}
	}
	if upd.ClearSendWindow {
		seq.SendWindow = nil
	} else if upd.SendWindow != nil {
		seq.SendWindow = upd.SendWindow
	}
	if upd.MaxEmailsPerDay != nil {
		seq.MaxEmailsPerDay = *upd.MaxEmailsPerDay
	}

	if err := seq.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSequence, err)
	}
	if err := s.store.SaveSequence(ctx, seq); err != nil {
		return nil, fmt.Errorf("save sequence: %w", err)
	}
	return seq, nil
}

// SetSequenceActive toggles whether new enrollments are accepted. Existing
// active enrollments keep running either way.
func (s *Service) SetSequenceActive(ctx context.Context, actor Actor, id uint, active bool) (*models.Sequence, error) {
	seq, err := s.GetSequence(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if seq.IsActive == active {
		return seq, nil
	}

	seq.IsActive = active
	if err := s.store.SaveSequence(ctx, seq); err != nil {
		return nil, fmt.Errorf("save sequence: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"sequence_id": seq.ID,
		"is_active":   active,
	}).Info("Sequence activation changed")
	return seq, nil
}

// DeleteSequence removes a sequence that has no active enrollments.
func (s *Service) DeleteSequence(ctx context.Context, actor Actor, id uint) error {
	seq, err := s.GetSequence(ctx, actor, id)
	if err != nil {
		return err
	}

	stats, err := s.store.CountEnrollments(ctx, seq.ID)
	if err != nil {
		return fmt.Errorf("count enrollments: %w", err)
	}
	if stats.Active > 0 {
		return fmt.Errorf("%w: %d still active", ErrSequenceHasActiveEnrollments, stats.Active)
	}

	return s.store.DeleteSequence(ctx, seq.ID)
}
