package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"dripline/automation"
	"dripline/models"

	"gorm.io/gorm"
)

func (s *Store) GetLead(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).First(&lead, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, automation.ErrLeadNotFound
		}
		return nil, err
	}
	return &lead, nil
}

func (s *Store) FindLeadsByEmail(ctx context.Context, companyID uint, email string) ([]models.Lead, error) {
	var leads []models.Lead
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND LOWER(email) = ?", companyID, strings.ToLower(email)).
		Find(&leads).Error
	if err != nil {
		return nil, err
	}
	return leads, nil
}

func (s *Store) MarkLeadReplied(ctx context.Context, id uint, at time.Time) error {
	at = at.UTC()
	result := s.db.WithContext(ctx).
		Model(&models.Lead{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_replied_at": at,
			"last_contact":    at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return automation.ErrLeadNotFound
	}
	return nil
}
