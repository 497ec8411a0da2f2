package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/models"
	"github.com/crazysandman/air-quality/internal/reconcile"
	"github.com/crazysandman/air-quality/internal/source"
)

type fakeSource struct {
	name   string
	result source.FetchResult
	err    error
	// waitCtx makes Fetch block until the run context is cancelled.
	waitCtx bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context) (source.FetchResult, error) {
	if f.waitCtx {
		<-ctx.Done()
		return source.FetchResult{}, &source.Error{Source: f.name, Kind: source.KindTimeout, Err: ctx.Err()}
	}
	return f.result, f.err
}

type fakeReconciler struct {
	mu      sync.Mutex
	batches [][]models.StationReading
	report  reconcile.Report
	err     error

	// When entered is non-nil, Reconcile signals it and then blocks on
	// release, letting tests hold a run open.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeReconciler) Reconcile(ctx context.Context, readings []models.StationReading) (reconcile.Report, error) {
	f.mu.Lock()
	f.batches = append(f.batches, readings)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.report, f.err
}

func (f *fakeReconciler) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func someReading(uid int64, src string) models.StationReading {
	return models.StationReading{
		StationUID: uid,
		Source:     src,
		Latitude:   52.5,
		Longitude:  13.4,
		ObservedAt: time.Now().UTC(),
	}
}

func waitForIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Status().State != StateRunning
	}, 2*time.Second, 5*time.Millisecond)
}

// waitForStartupRun blocks until the run launched by Start has finished,
// so manual triggers in the test cannot collide with it.
func waitForStartupRun(t *testing.T, s *Scheduler, rec *fakeReconciler) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.batchCount() >= 1 && s.Status().State != StateRunning
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerRunsOnStart(t *testing.T) {
	rec := &fakeReconciler{report: reconcile.Report{Created: 1}}
	src := &fakeSource{name: models.SourceWAQI, result: source.FetchResult{
		Readings: []models.StationReading{someReading(10032, models.SourceWAQI)},
	}}
	s := New([]source.Source{src}, rec, Options{Interval: time.Hour}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return rec.batchCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	waitForIdle(t, s)

	status := s.Status()
	require.NotNil(t, status.LastRun)
	assert.Equal(t, OriginTimer, status.LastRun.Origin)
	assert.Equal(t, OutcomeOK, status.LastRun.Outcome)
	assert.Equal(t, 1, status.LastRun.Report.Created)
	assert.NotNil(t, status.NextRun)
}

func TestSchedulerCoalescesConcurrentTriggers(t *testing.T) {
	rec := &fakeReconciler{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	src := &fakeSource{name: models.SourceWAQI, result: source.FetchResult{
		Readings: []models.StationReading{someReading(1, models.SourceWAQI)},
	}}
	s := New([]source.Source{src}, rec, Options{Interval: time.Hour}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// Startup run is now held open inside the reconciler.
	<-rec.entered

	_, err := s.TriggerManual()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateRunning, s.Status().State)
	assert.Equal(t, 1, rec.batchCount(), "no second reconciliation may start")

	close(rec.release)
	waitForIdle(t, s)

	runID, err := s.TriggerManual()
	require.NoError(t, err)
	assert.Greater(t, runID, int64(1))
	waitForIdle(t, s)
	assert.Equal(t, 2, rec.batchCount())
}

func TestSchedulerManualRunRecordsOrigin(t *testing.T) {
	rec := &fakeReconciler{}
	src := &fakeSource{name: models.SourceWAQI}
	s := New([]source.Source{src}, rec, Options{Interval: time.Hour}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	waitForStartupRun(t, s, rec)

	runID, err := s.TriggerManual()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status := s.Status()
		return status.LastRun != nil && status.LastRun.ID == runID
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, OriginManual, s.Status().LastRun.Origin)
}

func TestSchedulerCombinesSourcesIntoOneBatch(t *testing.T) {
	rec := &fakeReconciler{}
	waqi := &fakeSource{name: models.SourceWAQI, result: source.FetchResult{
		Readings:         []models.StationReading{someReading(1, models.SourceWAQI)},
		SkippedMalformed: 2,
	}}
	openaq := &fakeSource{name: models.SourceOpenAQ, result: source.FetchResult{
		Readings: []models.StationReading{someReading(1, models.SourceOpenAQ), someReading(2, models.SourceOpenAQ)},
	}}
	s := New([]source.Source{waqi, openaq}, rec, Options{Interval: time.Hour}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return rec.batchCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	waitForIdle(t, s)

	rec.mu.Lock()
	batch := rec.batches[0]
	rec.mu.Unlock()
	assert.Len(t, batch, 3, "one combined batch per run, not one per adapter")
	assert.Equal(t, 2, s.Status().LastRun.SkippedMalformed)
}

func TestSchedulerAbsorbsAdapterFailure(t *testing.T) {
	rec := &fakeReconciler{}
	broken := &fakeSource{name: models.SourceWAQI, err: &source.Error{Source: models.SourceWAQI, Kind: source.KindTimeout}}
	healthy := &fakeSource{name: models.SourceOpenAQ, result: source.FetchResult{
		Readings: []models.StationReading{someReading(5, models.SourceOpenAQ)},
	}}
	s := New([]source.Source{broken, healthy}, rec, Options{Interval: time.Hour}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return rec.batchCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	waitForIdle(t, s)

	status := s.Status()
	assert.Equal(t, OutcomeOK, status.LastRun.Outcome, "one failed adapter does not fail the run")
	require.Len(t, status.LastRun.AdapterErrors, 1)
	assert.Equal(t, models.SourceWAQI, status.LastRun.AdapterErrors[0].Source)

	rec.mu.Lock()
	batch := rec.batches[0]
	rec.mu.Unlock()
	assert.Len(t, batch, 1, "failed adapter contributes zero readings")
}

func TestSchedulerFatalReconcileError(t *testing.T) {
	rec := &fakeReconciler{err: &reconcile.StorageError{Kind: reconcile.StorageConnectionLost, Err: errors.New("db gone")}}
	src := &fakeSource{name: models.SourceWAQI}
	s := New([]source.Source{src}, rec, Options{Interval: time.Hour}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool {
		return s.Status().LastRun != nil
	}, 2*time.Second, 5*time.Millisecond)

	status := s.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, OutcomeFailed, status.LastRun.Outcome)
	assert.Contains(t, status.LastRun.Error, "db gone")

	// Failed state must not block the next trigger.
	_, err := s.TriggerManual()
	assert.NoError(t, err)
	waitForIdle(t, s)
}

func TestSchedulerRunTimeout(t *testing.T) {
	rec := &fakeReconciler{}
	slow := &fakeSource{name: models.SourceWAQI, waitCtx: true}
	s := New([]source.Source{slow}, rec, Options{Interval: time.Hour, RunTimeout: 30 * time.Millisecond}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		status := s.Status()
		return status.LastRun != nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, OutcomeTimeout, s.Status().LastRun.Outcome)
	assert.Equal(t, 0, rec.batchCount(), "timed-out run must not reconcile a partial batch")
}

func TestSchedulerShutdownCancelsRun(t *testing.T) {
	rec := &fakeReconciler{}
	slow := &fakeSource{name: models.SourceWAQI, waitCtx: true}
	s := New([]source.Source{slow}, rec, Options{Interval: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	// Let the startup run reach the blocking fetch, then shut down.
	time.Sleep(20 * time.Millisecond)
	cancel()
	s.Stop()

	status := s.Status()
	require.NotNil(t, status.LastRun)
	assert.Equal(t, OutcomeCancelled, status.LastRun.Outcome)
	assert.Equal(t, 0, rec.batchCount(), "cancelled run must not reconcile a partial batch")
}

func TestSchedulerHistoryIsBounded(t *testing.T) {
	rec := &fakeReconciler{}
	src := &fakeSource{name: models.SourceWAQI}
	s := New([]source.Source{src}, rec, Options{Interval: time.Hour, HistorySize: 3}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	waitForStartupRun(t, s, rec)

	for i := 0; i < 5; i++ {
		_, err := s.TriggerManual()
		require.NoError(t, err)
		waitForIdle(t, s)
	}

	status := s.Status()
	assert.Len(t, status.History, 3)
	assert.Equal(t, status.History[0].ID, status.LastRun.ID)
	assert.Greater(t, status.History[0].ID, status.History[2].ID, "history is newest first")
}

func TestSchedulerTriggerBeforeStart(t *testing.T) {
	s := New(nil, &fakeReconciler{}, Options{}, zap.NewNop())
	_, err := s.TriggerManual()
	assert.Error(t, err)
}
