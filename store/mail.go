package store

import (
	"context"
	"errors"
	"time"

	"dripline/models"

	"gorm.io/gorm"
)

// GetTemplate loads a template owned by the company.
func (s *Store) GetTemplate(ctx context.Context, companyID, id uint) (*models.Template, error) {
	var tmpl models.Template
	err := s.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", id, companyID).
		First(&tmpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return &tmpl, nil
}

// ActiveSender returns the company's oldest active sender.
func (s *Store) ActiveSender(ctx context.Context, companyID uint) (*models.Sender, error) {
	var sender models.Sender
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND is_active = ?", companyID, true).
		Order("id ASC").
		First(&sender).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveSender
		}
		return nil, err
	}
	return &sender, nil
}

// ListIMAPSenders returns active senders with an inbox configured.
func (s *Store) ListIMAPSenders(ctx context.Context) ([]models.Sender, error) {
	var senders []models.Sender
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND imap_host <> ''", true).
		Order("id ASC").
		Find(&senders).Error
	if err != nil {
		return nil, err
	}
	return senders, nil
}

// MarkSenderChecked records an inbox poll. An empty lastError clears the
// previous one; a nil at leaves last_checked_at unchanged.
func (s *Store) MarkSenderChecked(ctx context.Context, id uint, at *time.Time, lastError string) error {
	updates := map[string]interface{}{
		"last_error": lastError,
	}
	if at != nil {
		updates["last_checked_at"] = at.UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.Sender{}).
		Where("id = ?", id).
		Updates(updates).Error
}
