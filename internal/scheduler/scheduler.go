package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/models"
	"github.com/crazysandman/air-quality/internal/reconcile"
	"github.com/crazysandman/air-quality/internal/source"
)

// ErrAlreadyRunning is returned when a trigger arrives while a run is in
// flight. Triggers coalesce; they are never queued.
var ErrAlreadyRunning = errors.New("scheduler: run already in progress")

// State of the scheduler.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateFailed  State = "failed"
)

// Origin tags what started a run.
type Origin string

const (
	OriginTimer  Origin = "timer"
	OriginManual Origin = "manual"
)

// Outcome of a finished run.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// AdapterError records one source failing during a run.
type AdapterError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// RunRecord is the retained outcome of one scheduler execution.
type RunRecord struct {
	ID               int64            `json:"id"`
	Origin           Origin           `json:"origin"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	Outcome          Outcome          `json:"outcome"`
	Report           reconcile.Report `json:"report"`
	AdapterErrors    []AdapterError   `json:"adapter_errors,omitempty"`
	SkippedMalformed int              `json:"skipped_malformed"`
	Error            string           `json:"error,omitempty"`
}

// Status is the externally visible scheduler state.
type Status struct {
	State    State       `json:"state"`
	Sources  []string    `json:"sources"`
	Interval string      `json:"interval"`
	NextRun  *time.Time  `json:"next_run,omitempty"`
	LastRun  *RunRecord  `json:"last_run,omitempty"`
	History  []RunRecord `json:"history"`
}

// Reconciler is the downstream the scheduler hands each run's combined
// batch to.
type Reconciler interface {
	Reconcile(ctx context.Context, readings []models.StationReading) (reconcile.Report, error)
}

// Options tune scheduler behavior.
type Options struct {
	Interval    time.Duration
	RunTimeout  time.Duration
	HistorySize int
	// OnSuccess runs after a pass that wrote rows; the read cache hooks
	// its invalidation in here.
	OnSuccess func(ctx context.Context)
}

// Scheduler drives periodic and manual reconciliation runs, guaranteeing
// at most one run in flight.
type Scheduler struct {
	sources    []source.Source
	reconciler Reconciler
	opts       Options
	logger     *zap.Logger

	mu      sync.Mutex
	state   State
	nextID  int64
	history []RunRecord
	nextRun time.Time
	started bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Scheduler. Zero option fields get sane defaults.
func New(sources []source.Source, rec Reconciler, opts Options, logger *zap.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 20
	}
	return &Scheduler{
		sources:    sources,
		reconciler: rec,
		opts:       opts,
		logger:     logger,
		state:      StateIdle,
	}
}

// Start launches the timer loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler: already started")
	}
	s.started = true
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.nextRun = time.Now().Add(s.opts.Interval)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.Int("sources", len(s.sources)))
	return nil
}

// Stop cancels the loop and any in-flight run, then waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// TriggerManual starts a run in the background and returns its id
// immediately, or ErrAlreadyRunning when one is in flight.
func (s *Scheduler) TriggerManual() (int64, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return 0, errors.New("scheduler: not started")
	}

	rec, err := s.begin(OriginManual)
	if err != nil {
		return 0, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(rec)
	}()
	return rec.ID, nil
}

// Status returns a snapshot for the status endpoint, history newest first.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.sources))
	for _, src := range s.sources {
		names = append(names, src.Name())
	}

	status := Status{
		State:    s.state,
		Sources:  names,
		Interval: s.opts.Interval.String(),
		History:  make([]RunRecord, 0, len(s.history)),
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		status.History = append(status.History, s.history[i])
	}
	if len(status.History) > 0 {
		last := status.History[0]
		status.LastRun = &last
	}
	if s.started && !s.nextRun.IsZero() {
		next := s.nextRun
		status.NextRun = &next
	}
	return status
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	// Populate the table before the first tick.
	s.runFromTimer()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextRun = time.Now().Add(s.opts.Interval)
			s.mu.Unlock()
			s.runFromTimer()
		}
	}
}

func (s *Scheduler) runFromTimer() {
	rec, err := s.begin(OriginTimer)
	if err != nil {
		s.logger.Info("tick skipped, run already in progress")
		return
	}
	s.execute(rec)
}

// begin transitions Idle/Failed -> Running and reserves a run record.
func (s *Scheduler) begin(origin Origin) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return RunRecord{}, ErrAlreadyRunning
	}
	s.state = StateRunning
	s.nextID++
	return RunRecord{
		ID:        s.nextID,
		Origin:    origin,
		StartedAt: time.Now().UTC(),
	}, nil
}

// execute performs one full run: fetch all adapters, reconcile the
// combined batch, record the outcome.
func (s *Scheduler) execute(rec RunRecord) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.RunTimeout)
	defer cancel()

	readings := s.collect(ctx, &rec)

	// Cancellation or timeout while adapters were in flight discards
	// their results; no partial batch reaches the reconciler.
	if err := ctx.Err(); err != nil {
		s.finish(rec, s.abortOutcome(), err)
		return
	}

	report, err := s.reconciler.Reconcile(ctx, readings)
	rec.Report = report
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.finish(rec, s.abortOutcome(), err)
			return
		}
		s.finish(rec, OutcomeFailed, err)
		return
	}

	s.finish(rec, OutcomeOK, nil)

	if s.opts.OnSuccess != nil && report.Changed() {
		s.opts.OnSuccess(s.baseCtx)
	}
}

// collect fetches every source concurrently and joins the results in
// registration order. Failed adapters contribute zero readings and one
// entry in the run's adapter error list.
func (s *Scheduler) collect(ctx context.Context, rec *RunRecord) []models.StationReading {
	type outcome struct {
		res source.FetchResult
		err error
	}

	outcomes := make([]outcome, len(s.sources))
	var wg sync.WaitGroup
	for i := range s.sources {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.sources[i].Fetch(ctx)
			outcomes[i] = outcome{res: res, err: err}
		}(i)
	}
	wg.Wait()

	var readings []models.StationReading
	for i, out := range outcomes {
		name := s.sources[i].Name()
		if out.err != nil {
			rec.AdapterErrors = append(rec.AdapterErrors, AdapterError{Source: name, Error: out.err.Error()})
			s.logger.Warn("source fetch failed", zap.String("source", name), zap.Error(out.err))
			continue
		}
		rec.SkippedMalformed += out.res.SkippedMalformed
		readings = append(readings, out.res.Readings...)
		s.logger.Debug("source fetched",
			zap.String("source", name),
			zap.Int("readings", len(out.res.Readings)),
			zap.Int("skipped_malformed", out.res.SkippedMalformed))
	}
	return readings
}

// abortOutcome distinguishes a shutdown cancellation from a run timeout.
func (s *Scheduler) abortOutcome() Outcome {
	if s.baseCtx.Err() != nil {
		return OutcomeCancelled
	}
	return OutcomeTimeout
}

func (s *Scheduler) finish(rec RunRecord, outcome Outcome, err error) {
	rec.FinishedAt = time.Now().UTC()
	rec.Outcome = outcome
	if err != nil {
		rec.Error = err.Error()
	}

	s.mu.Lock()
	if outcome == OutcomeFailed {
		s.state = StateFailed
	} else {
		s.state = StateIdle
	}
	s.history = append(s.history, rec)
	if len(s.history) > s.opts.HistorySize {
		s.history = s.history[len(s.history)-s.opts.HistorySize:]
	}
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int64("run_id", rec.ID),
		zap.String("origin", string(rec.Origin)),
		zap.String("outcome", string(outcome)),
		zap.Duration("elapsed", rec.FinishedAt.Sub(rec.StartedAt)),
		zap.Int("created", rec.Report.Created),
		zap.Int("updated", rec.Report.Updated),
		zap.Int("stale", rec.Report.Stale),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	switch outcome {
	case OutcomeOK:
		s.logger.Info("run finished", fields...)
	default:
		s.logger.Warn("run did not complete cleanly", fields...)
	}
}
