package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dripline/automation"
	"dripline/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const DefaultSequenceSchedule = "@every 1m"

var (
	// ErrPassInProgress is returned by RunNow while another pass is running.
	ErrPassInProgress = errors.New("a sequence pass is already running")
	// ErrWorkerStopped is returned by RunNow once Stop has been called.
	ErrWorkerStopped = errors.New("sequence worker is stopped")
)

// PassRunner runs one scheduler pass.
type PassRunner interface {
	RunDuePass(ctx context.Context) ([]automation.Result, error)
}

// SequenceStatus is a snapshot of the worker for operators.
type SequenceStatus struct {
	Scheduled     bool       `json:"scheduled"`
	Running       bool       `json:"running"`
	Schedule      string     `json:"schedule"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastProcessed int        `json:"last_processed"`
	LastSucceeded int        `json:"last_succeeded"`
	LastFailed    int        `json:"last_failed"`
	LastError     string     `json:"last_error,omitempty"`
}

// SequenceWorker triggers scheduler passes on a cron schedule and on demand.
// At most one pass runs at a time; overlapping triggers are skipped.
type SequenceWorker struct {
	runner   PassRunner
	schedule string
	location *time.Location
	log      logrus.FieldLogger

	running atomic.Bool
	passes  sync.WaitGroup

	mu      sync.Mutex
	cron    *cron.Cron
	stopped bool
	status  SequenceStatus
}

func NewSequenceWorker(runner PassRunner, schedule string, loc *time.Location, logger logrus.FieldLogger) *SequenceWorker {
	if schedule == "" {
		schedule = DefaultSequenceSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SequenceWorker{
		runner:   runner,
		schedule: schedule,
		location: loc,
		log:      logger.WithField("component", "sequence_worker"),
		status:   SequenceStatus{Schedule: schedule},
	}
}

// Start runs a pass immediately, then on every schedule tick until ctx is
// done. It blocks, and waits for the pass in flight before returning.
func (w *SequenceWorker) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(w.location))
	if _, err := c.AddFunc(w.schedule, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid sequence worker schedule %q: %w", w.schedule, err)
	}

	w.mu.Lock()
	w.cron = c
	w.stopped = false
	w.status.Scheduled = true
	w.mu.Unlock()

	w.log.WithField("schedule", w.schedule).Info("Sequence worker started")
	c.Start()
	w.tick(ctx)

	<-ctx.Done()
	w.log.Info("Sequence worker shutting down...")
	w.Stop()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish. Later
// RunNow calls fail with ErrWorkerStopped.
func (w *SequenceWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	c := w.cron
	w.cron = nil
	w.status.Scheduled = false
	w.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	w.passes.Wait()
}

// RunNow runs a pass synchronously unless one is already running.
func (w *SequenceWorker) RunNow(ctx context.Context) ([]automation.Result, error) {
	return w.run(ctx)
}

func (w *SequenceWorker) Status() SequenceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	s.Running = w.running.Load()
	return s
}

func (w *SequenceWorker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.run(ctx); err != nil && !errors.Is(err, ErrPassInProgress) && !errors.Is(err, ErrWorkerStopped) {
		w.log.WithError(err).Error("Sequence pass failed")
	}
}

func (w *SequenceWorker) run(ctx context.Context) ([]automation.Result, error) {
	// Admission is serialized with Stop so no pass is added once Stop waits.
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil, ErrWorkerStopped
	}
	if !w.running.CompareAndSwap(false, true) {
		w.mu.Unlock()
		metrics.PassSkipped.Inc()
		w.log.Warn("Sequence pass already running, skipping trigger")
		return nil, ErrPassInProgress
	}
	w.passes.Add(1)
	w.mu.Unlock()
	defer w.passes.Done()
	defer w.running.Store(false)

	// Sends are not cancelled mid-step; shutdown waits for the pass instead.
	results, err := w.runner.RunDuePass(context.WithoutCancel(ctx))
	w.record(results, err)
	return results, err
}

func (w *SequenceWorker) record(results []automation.Result, err error) {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.status.LastRunAt = &now
	w.status.LastProcessed = len(results)
	w.status.LastSucceeded, w.status.LastFailed = 0, 0
	for _, r := range results {
		if r.Success {
			w.status.LastSucceeded++
		} else {
			w.status.LastFailed++
		}
	}
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
}
