package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dripline/automation"
	"dripline/models"

	"gorm.io/gorm"
)

func (s *Store) ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]models.SequenceEnrollment, error) {
	var enrollments []models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", models.EnrollmentActive, now.UTC()).
		Order("next_run_at ASC, id ASC").
		Limit(limit).
		Find(&enrollments).Error
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (s *Store) GetEnrollment(ctx context.Context, id uint) (*models.SequenceEnrollment, error) {
	var enrollment models.SequenceEnrollment
	if err := s.db.WithContext(ctx).First(&enrollment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, automation.ErrEnrollmentNotFound
		}
		return nil, err
	}
	return &enrollment, nil
}

func (s *Store) FindActiveEnrollment(ctx context.Context, sequenceID, leadID uint) (*models.SequenceEnrollment, error) {
	var enrollments []models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("sequence_id = ? AND lead_id = ? AND status = ?", sequenceID, leadID, models.EnrollmentActive).
		Limit(1).
		Find(&enrollments).Error
	if err != nil {
		return nil, err
	}
	if len(enrollments) == 0 {
		return nil, nil
	}
	return &enrollments[0], nil
}

func (s *Store) ListEnrollments(ctx context.Context, sequenceID uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error) {
	query := s.db.WithContext(ctx).Where("sequence_id = ?", sequenceID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var enrollments []models.SequenceEnrollment
	if err := query.Order("id ASC").Find(&enrollments).Error; err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (s *Store) ListActiveEnrollmentsForLead(ctx context.Context, leadID uint) ([]models.SequenceEnrollment, error) {
	var enrollments []models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND status = ?", leadID, models.EnrollmentActive).
		Order("id ASC").
		Find(&enrollments).Error
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (s *Store) CreateEnrollment(ctx context.Context, e *models.SequenceEnrollment) error {
	e.EnrolledAt = e.EnrolledAt.UTC()
	e.NextRunAt = utc(e.NextRunAt)

	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		if isDuplicateKey(err) {
			return automation.ErrAlreadyEnrolled
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// SaveTransition only touches rows that are still active, so a terminal
// enrollment never changes again.
func (s *Store) SaveTransition(ctx context.Context, e *models.SequenceEnrollment) error {
	result := s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ?", e.ID, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":             e.Status,
			"current_step":       e.CurrentStep,
			"next_run_at":        utc(e.NextRunAt),
			"steps_completed":    e.StepsCompleted,
			"emails_sent":        e.EmailsSent,
			"emails_sent_today":  e.EmailsSentToday,
			"last_email_sent_at": utc(e.LastEmailSentAt),
			"last_message_id":    e.LastMessageID,
			"exit_reason":        e.ExitReason,
			"exited_at":          utc(e.ExitedAt),
			"completed_at":       utc(e.CompletedAt),
		})
	if result.Error != nil {
		return fmt.Errorf("update enrollment %d: %w", e.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("enrollment %d: %w", e.ID, automation.ErrEnrollmentNotActive)
	}
	return nil
}

func (s *Store) CountEnrollments(ctx context.Context, sequenceID uint) (models.SequenceStats, error) {
	var rows []struct {
		Status     models.EnrollmentStatus
		Count      int
		EmailsSent int
	}
	err := s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(emails_sent), 0) AS emails_sent").
		Where("sequence_id = ?", sequenceID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.SequenceStats{}, err
	}

	var stats models.SequenceStats
	for _, r := range rows {
		stats.Enrolled += r.Count
		stats.EmailsSent += r.EmailsSent
		switch r.Status {
		case models.EnrollmentActive:
			stats.Active = r.Count
		case models.EnrollmentCompleted:
			stats.Completed = r.Count
		case models.EnrollmentExited:
			stats.Exited = r.Count
		case models.EnrollmentFailed:
			stats.Failed = r.Count
		}
	}
	return stats, nil
}
