package store

import (
	"context"
	"errors"

	"dripline/automation"
	"dripline/models"

	"gorm.io/gorm"
)

func (s *Store) GetSequence(ctx context.Context, id uint) (*models.Sequence, error) {
	var seq models.Sequence
	if err := s.db.WithContext(ctx).First(&seq, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, automation.ErrSequenceNotFound
		}
		return nil, err
	}
	return &seq, nil
}

func (s *Store) ListSequences(ctx context.Context, companyID uint) ([]models.Sequence, error) {
	var sequences []models.Sequence
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("created_at DESC").
		Find(&sequences).Error
	if err != nil {
		return nil, err
	}
	return sequences, nil
}

func (s *Store) CreateSequence(ctx context.Context, seq *models.Sequence) error {
	return s.db.WithContext(ctx).Create(seq).Error
}

// SaveSequence writes the definition and settings. Stats are owned by
// UpdateSequenceStats and left alone.
func (s *Store) SaveSequence(ctx context.Context, seq *models.Sequence) error {
	result := s.db.WithContext(ctx).
		Model(seq).
		Select("name", "description", "steps", "is_active", "exit_on_reply", "exit_on_goal", "send_window", "max_emails_per_day").
		Updates(seq)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return automation.ErrSequenceNotFound
	}
	return nil
}

func (s *Store) DeleteSequence(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Sequence{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return automation.ErrSequenceNotFound
	}
	return nil
}

func (s *Store) UpdateSequenceStats(ctx context.Context, id uint, stats models.SequenceStats) error {
	result := s.db.WithContext(ctx).
		Model(&models.Sequence{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stats_enrolled":    stats.Enrolled,
			"stats_active":      stats.Active,
			"stats_completed":   stats.Completed,
			"stats_exited":      stats.Exited,
			"stats_failed":      stats.Failed,
			"stats_emails_sent": stats.EmailsSent,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return automation.ErrSequenceNotFound
	}
	return nil
}
