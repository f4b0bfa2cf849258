package automation

import (
	"context"
	"fmt"
	"time"

	"dripline/models"
	"dripline/utils"
)

// Action describes what a pass did to an enrollment.
type Action string

const (
	ActionCompleted    Action = "completed"
	ActionRateLimited  Action = "rate_limited"
	ActionStepExecuted Action = "step_executed"
	ActionExited       Action = "exited"
)

const (
	ExitReasonReplied     = "replied"
	ExitReasonGoalReached = "goal_reached"
	ExitReasonManual      = "manual"
)

// Transition is the outcome of executing a due enrollment: the action taken
// and the enrollment state to persist.
type Transition struct {
	Action     Action
	Enrollment models.SequenceEnrollment
}

// Executor runs the current step of one enrollment. It never persists; the
// caller writes Transition.Enrollment back through the store.
type Executor struct {
	mailer   Mailer
	location *time.Location
	now      func() time.Time
}

// NewExecutor builds an executor. Windows and daily caps of sequences without
// their own timezone are evaluated in loc (UTC when nil).
func NewExecutor(mailer Mailer, loc *time.Location) *Executor {
	if loc == nil {
		loc = time.UTC
	}
	return &Executor{
		mailer:   mailer,
		location: loc,
		now:      time.Now,
	}
}

func (x *Executor) ExecuteStep(ctx context.Context, e models.SequenceEnrollment, seq models.Sequence, lead models.Lead) (Transition, error) {
	now := x.now()
	local := now.In(sequenceLocation(seq, x.location))
	next := e

	if e.Status.IsTerminal() {
		return Transition{}, fmt.Errorf("enrollment %d: %w", e.ID, ErrEnrollmentNotActive)
	}

	if e.CurrentStep >= len(seq.Steps) {
		complete(&next, now)
		return Transition{Action: ActionCompleted, Enrollment: next}, nil
	}

	if reason, ok := exitReason(seq, lead, e); ok {
		exit(&next, reason, now)
		return Transition{Action: ActionExited, Enrollment: next}, nil
	}

	step := seq.Steps[e.CurrentStep]
	switch step.Type {
	case models.StepSendEmail:
		sentToday := emailsSentToday(e, local)
		if seq.MaxEmailsPerDay > 0 && sentToday >= seq.MaxEmailsPerDay {
			tomorrow := utils.StartOfDay(local).AddDate(0, 0, 1)
			runAt := ComputeNextRun(models.Delay{}, seq.SendWindow, tomorrow)
			next.NextRunAt = &runAt
			return Transition{Action: ActionRateLimited, Enrollment: next}, nil
		}

		res, err := x.mailer.SendToLead(ctx, SendRequest{
			Lead:           lead,
			TemplateID:     step.TemplateID,
			CustomData:     step.CustomData,
			Actor:          Actor{UserID: e.EnrolledBy, CompanyID: e.CompanyID},
			IdempotencyKey: IdempotencyKey(e, e.CurrentStep),
		})
		if err != nil {
			return Transition{}, fmt.Errorf("send step %d: %w", e.CurrentStep, err)
		}

		next.EmailsSent++
		next.EmailsSentToday = sentToday + 1
		next.LastEmailSentAt = &now
		next.LastMessageID = res.MessageID

	case models.StepWait:

	default:
		return Transition{}, fmt.Errorf("step %d: unsupported step type %q", e.CurrentStep, step.Type)
	}

	next.CurrentStep++
	next.StepsCompleted++
	if next.CurrentStep >= len(seq.Steps) {
		complete(&next, now)
		return Transition{Action: ActionStepExecuted, Enrollment: next}, nil
	}

	runAt := ComputeNextRun(seq.Steps[next.CurrentStep].Delay, seq.SendWindow, local)
	next.NextRunAt = &runAt
	return Transition{Action: ActionStepExecuted, Enrollment: next}, nil
}

// IdempotencyKey identifies one step of one enrollment across retries.
func IdempotencyKey(e models.SequenceEnrollment, step int) string {
	return fmt.Sprintf("seq-%d-enr-%d-step-%d", e.SequenceID, e.ID, step)
}

// emailsSentToday is the same-day send count as of local. The counter belongs
// to the day of the last send and is stale once that day has passed.
func emailsSentToday(e models.SequenceEnrollment, local time.Time) int {
	if e.LastEmailSentAt == nil || e.LastEmailSentAt.Before(utils.StartOfDay(local)) {
		return 0
	}
	return e.EmailsSentToday
}

func exitReason(seq models.Sequence, lead models.Lead, e models.SequenceEnrollment) (string, bool) {
	if seq.ExitOnReply && lead.LastRepliedAt != nil && !lead.LastRepliedAt.Before(e.EnrolledAt) {
		return ExitReasonReplied, true
	}
	if seq.ExitOnGoal != nil && *seq.ExitOnGoal != "" && lead.Status == *seq.ExitOnGoal {
		return ExitReasonGoalReached, true
	}
	return "", false
}

func complete(e *models.SequenceEnrollment, now time.Time) {
	e.Status = models.EnrollmentCompleted
	e.NextRunAt = nil
	e.CompletedAt = &now
}

func exit(e *models.SequenceEnrollment, reason string, now time.Time) {
	e.Status = models.EnrollmentExited
	e.NextRunAt = nil
	e.ExitReason = &reason
	e.ExitedAt = &now
}
