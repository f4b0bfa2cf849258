package automation

import (
	"context"
	"time"

	"dripline/models"
)

// EnrollmentStore is the row-level persistence contract for enrollments.
type EnrollmentStore interface {
	// ListDueEnrollments returns active enrollments with next_run_at <= now, oldest first.
	ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]models.SequenceEnrollment, error)
	GetEnrollment(ctx context.Context, id uint) (*models.SequenceEnrollment, error)
	// FindActiveEnrollment returns nil without error when the pair has no active enrollment.
	FindActiveEnrollment(ctx context.Context, sequenceID, leadID uint) (*models.SequenceEnrollment, error)
	ListEnrollments(ctx context.Context, sequenceID uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error)
	ListActiveEnrollmentsForLead(ctx context.Context, leadID uint) ([]models.SequenceEnrollment, error)
	CreateEnrollment(ctx context.Context, e *models.SequenceEnrollment) error
	// SaveTransition writes the progress columns of e, only while the stored row is
	// still active. It returns ErrEnrollmentNotActive otherwise.
	SaveTransition(ctx context.Context, e *models.SequenceEnrollment) error
	CountEnrollments(ctx context.Context, sequenceID uint) (models.SequenceStats, error)
}

// SequenceStore gives access to sequence definitions.
type SequenceStore interface {
	GetSequence(ctx context.Context, id uint) (*models.Sequence, error)
	ListSequences(ctx context.Context, companyID uint) ([]models.Sequence, error)
	CreateSequence(ctx context.Context, seq *models.Sequence) error
	SaveSequence(ctx context.Context, seq *models.Sequence) error
	DeleteSequence(ctx context.Context, id uint) error
	UpdateSequenceStats(ctx context.Context, id uint, stats models.SequenceStats) error
}

// LeadStore gives access to leads.
type LeadStore interface {
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	FindLeadsByEmail(ctx context.Context, companyID uint, email string) ([]models.Lead, error)
	MarkLeadReplied(ctx context.Context, id uint, at time.Time) error
}

// Store is everything the scheduler and the enrollment service persist through.
type Store interface {
	EnrollmentStore
	SequenceStore
	LeadStore
}

// Actor is the user an operation, or a scheduled send, runs on behalf of.
type Actor struct {
	UserID    uint
	CompanyID uint
}

// SendRequest asks the mail collaborator to deliver one template to one lead.
type SendRequest struct {
	Lead       models.Lead
	TemplateID uint
	CustomData map[string]any
	Actor      Actor
	// IdempotencyKey is stable for a given enrollment step so the transport can
	// drop a resend after a crash between sending and persisting.
	IdempotencyKey string
}

type SendResult struct {
	MessageID string
}

// Mailer delivers sequence emails. Any returned error fails the enrollment.
type Mailer interface {
	SendToLead(ctx context.Context, req SendRequest) (SendResult, error)
}
