package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dripline/metrics"
	"dripline/models"
	"dripline/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 100

// Result reports the outcome of one enrollment in a pass.
type Result struct {
	EnrollmentID uint   `json:"enrollment_id"`
	Success      bool   `json:"success"`
	Action       Action `json:"action,omitempty"`
	Error        string `json:"error,omitempty"`
}

type SchedulerConfig struct {
	Store    Store
	Executor *Executor
	Logger   logrus.FieldLogger
	// BatchSize caps the enrollments selected per pass.
	BatchSize int
	// Concurrency is the number of enrollments processed at once. 1 is sequential.
	Concurrency int
	Now         func() time.Time
}

func (c *SchedulerConfig) defaults() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Executor == nil {
		return errors.New("executor is required")
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Scheduler advances due enrollments one step per pass.
type Scheduler struct {
	store       Store
	executor    *Executor
	log         logrus.FieldLogger
	batchSize   int
	concurrency int
	now         func() time.Time
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid scheduler configuration: %w", err)
	}
	cfg.Executor.now = cfg.Now

	return &Scheduler{
		store:       cfg.Store,
		executor:    cfg.Executor,
		log:         cfg.Logger.WithField("component", "sequence_scheduler"),
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
	}, nil
}

// RunDuePass processes every enrollment due at the time of the call, up to
// the batch size. Failures are isolated to their enrollment and reported in
// the results; only a failure to select due work aborts the pass.
func (s *Scheduler) RunDuePass(ctx context.Context) ([]Result, error) {
	start := time.Now()
	metrics.PassesTotal.Inc()
	defer func() { metrics.PassDuration.Observe(time.Since(start).Seconds()) }()

	due, err := s.store.ListDueEnrollments(ctx, s.now(), s.batchSize)
	if err != nil {
		metrics.PassErrors.Inc()
		return nil, fmt.Errorf("select due enrollments: %w", err)
	}
	metrics.LastPassDue.Set(float64(len(due)))
	if len(due) == 0 {
		return []Result{}, nil
	}

	sequences := s.loadSequences(ctx, due)

	results := make([]Result, len(due))
	terminal := make([]bool, len(due))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range due {
		g.Go(func() error {
			results[i], terminal[i] = s.process(ctx, due[i], sequences)
			return nil
		})
	}
	_ = g.Wait()

	succeeded, failed := 0, 0
	touched := make(map[uint]struct{})
	for i, r := range results {
		if r.Success {
			succeeded++
			metrics.EnrollmentsHandled.WithLabelValues(string(r.Action)).Inc()
		} else {
			failed++
		}
		if terminal[i] {
			touched[due[i].SequenceID] = struct{}{}
		}
	}

	for sequenceID := range touched {
		if err := refreshStats(ctx, s.store, sequenceID); err != nil {
			s.log.WithError(err).WithField("sequence_id", sequenceID).Warn("Failed to refresh sequence stats")
		}
	}

	s.log.WithFields(logrus.Fields{
		"due":       len(due),
		"succeeded": succeeded,
		"failed":    failed,
		"duration":  time.Since(start).String(),
	}).Info("Processed due sequence enrollments")

	return results, nil
}

type sequenceLookup struct {
	sequence *models.Sequence
	err      error
}

// loadSequences reads each distinct sequence of the batch once. The map is
// read-only once processing starts.
func (s *Scheduler) loadSequences(ctx context.Context, due []models.SequenceEnrollment) map[uint]sequenceLookup {
	out := make(map[uint]sequenceLookup)
	for _, e := range due {
		if _, ok := out[e.SequenceID]; ok {
			continue
		}
		seq, err := s.store.GetSequence(ctx, e.SequenceID)
		out[e.SequenceID] = sequenceLookup{sequence: seq, err: err}
	}
	return out
}

// process runs one enrollment and reports whether it ended in a terminal status.
func (s *Scheduler) process(ctx context.Context, e models.SequenceEnrollment, sequences map[uint]sequenceLookup) (res Result, terminal bool) {
	log := s.log.WithFields(logrus.Fields{
		"enrollment_id": e.ID,
		"sequence_id":   e.SequenceID,
		"step":          e.CurrentStep,
	})

	defer func() {
		if r := recover(); r != nil {
			res, terminal = s.fail(ctx, e, fmt.Errorf("panic while processing enrollment: %v", r)), true
		}
	}()

	lookup := sequences[e.SequenceID]
	if lookup.err != nil {
		return s.loadFailed(ctx, e, log, fmt.Errorf("load sequence: %w", lookup.err))
	}

	lead, err := s.store.GetLead(ctx, e.LeadID)
	if err != nil {
		return s.loadFailed(ctx, e, log, fmt.Errorf("load lead: %w", err))
	}

	tr, err := s.executor.ExecuteStep(ctx, e, *lookup.sequence, *lead)
	if err != nil {
		return s.fail(ctx, e, err), true
	}

	if err := s.store.SaveTransition(ctx, &tr.Enrollment); err != nil {
		if errors.Is(err, ErrEnrollmentNotActive) {
			// Unenrolled while the step ran; the terminal row wins.
			log.WithError(err).Warn("Enrollment left active state during pass")
			return Result{EnrollmentID: e.ID, Success: false, Error: err.Error()}, true
		}
		return s.fail(ctx, e, fmt.Errorf("persist transition: %w", err)), true
	}

	if tr.Enrollment.EmailsSent > e.EmailsSent {
		metrics.EmailsSent.Inc()
	}
	log.WithField("action", tr.Action).Debug("Enrollment processed")

	return Result{EnrollmentID: e.ID, Success: true, Action: tr.Action}, tr.Enrollment.Status.IsTerminal()
}

// loadFailed fails the enrollment when its sequence or lead no longer exists.
// Any other read error leaves the row untouched and due for the next pass.
func (s *Scheduler) loadFailed(ctx context.Context, e models.SequenceEnrollment, log logrus.FieldLogger, err error) (Result, bool) {
	if errors.Is(err, ErrSequenceNotFound) || errors.Is(err, ErrLeadNotFound) {
		return s.fail(ctx, e, err), true
	}
	metrics.PassLoadErrors.Inc()
	log.WithError(err).Warn("Skipping enrollment until next pass")
	return Result{EnrollmentID: e.ID, Success: false, Error: err.Error()}, false
}

// fail marks the enrollment failed with cause as its exit reason. Failed is
// terminal; there is no retry.
func (s *Scheduler) fail(ctx context.Context, e models.SequenceEnrollment, cause error) Result {
	metrics.EnrollmentFailures.Inc()

	now := s.now()
	reason := cause.Error()
	next := e
	next.Status = models.EnrollmentFailed
	next.ExitReason = &reason
	next.ExitedAt = &now
	next.NextRunAt = nil

	if err := s.store.SaveTransition(ctx, &next); err != nil {
		s.log.WithError(err).WithField("enrollment_id", e.ID).Error("Failed to mark enrollment failed")
	}

	utils.LogError("sequence_enrollment_failed", cause, map[string]interface{}{
		"enrollment_id": e.ID,
		"sequence_id":   e.SequenceID,
		"lead_id":       e.LeadID,
		"step":          e.CurrentStep,
	})

	return Result{EnrollmentID: e.ID, Success: false, Error: reason}
}
