package store

import (
	"errors"
	"strings"
	"time"

	"dripline/automation"

	"gorm.io/gorm"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrNoActiveSender   = errors.New("company has no active sender")
)

// Store persists sequences, enrollments, leads and mail settings through GORM.
// Times are written and compared in UTC.
type Store struct {
	db *gorm.DB
}

var _ automation.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// isDuplicateKey reports unique violations. Drivers opened without
// TranslateError still carry the backend's own message.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "23505")
}
