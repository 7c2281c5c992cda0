package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crisis-engine/internal/aggregator"
	"crisis-engine/internal/models"
)

// fakeRunner counts cycles; when gate is set each cycle waits on it.
type fakeRunner struct {
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	started chan string
	gate    chan struct{}
	err     error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan string, 128)}
}

func (f *fakeRunner) RunCycle(ctx context.Context, subjectID string) (*models.CrisisRiskAssessment, error) {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	f.calls.Add(1)
	select {
	case f.started <- subjectID:
	default:
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.CrisisRiskAssessment{UserID: subjectID}, nil
}

func TestStart_ClampsInterval(t *testing.T) {
	s := New(newFakeRunner(), time.Hour, time.Minute, zap.NewNop())
	defer s.Close()

	got, err := s.Start("s-1", time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, got)

	got, err = s.Start("s-2", 0, false)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, got)

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "s-1", jobs[0].SubjectID)
}

func TestStart_RunsPeriodically(t *testing.T) {
	r := newFakeRunner()
	s := New(r, time.Hour, 5*time.Millisecond, zap.NewNop())
	defer s.Close()

	_, err := s.Start("s-1", 5*time.Millisecond, true)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		jobs := s.Jobs()
		return len(jobs) == 1 && !jobs[0].LastRun.IsZero()
	}, time.Second, 5*time.Millisecond)
}

// TestTriggerNow_BusyWhileRunning checks at most one cycle runs per subject.
func TestTriggerNow_BusyWhileRunning(t *testing.T) {
	r := newFakeRunner()
	r.gate = make(chan struct{})
	s := New(r, time.Hour, time.Millisecond, zap.NewNop())
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background(), "s-1")
		done <- err
	}()
	<-r.started

	_, err := s.TriggerNow(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrBusy)

	// A different subject is independent.
	other := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background(), "s-2")
		other <- err
	}()
	<-r.started

	close(r.gate)
	require.NoError(t, <-done)
	require.NoError(t, <-other)
	assert.Equal(t, int32(2), r.calls.Load())

	a, err := s.TriggerNow(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", a.UserID)
}

func TestTicksSkippedWhileBusy(t *testing.T) {
	r := newFakeRunner()
	r.gate = make(chan struct{})
	s := New(r, time.Hour, time.Millisecond, zap.NewNop())
	defer s.Close()

	_, err := s.Start("s-1", time.Millisecond, true)
	require.NoError(t, err)
	<-r.started

	_, err = s.TriggerNow(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrBusy)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), r.calls.Load(), "no tick may start a second cycle")

	close(r.gate)
	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, time.Second, time.Millisecond)
	assert.False(t, r.overlap.Load())
}

func TestRunnerInFlightIsBusy(t *testing.T) {
	r := newFakeRunner()
	r.err = aggregator.ErrInFlight
	s := New(r, time.Hour, time.Millisecond, zap.NewNop())
	defer s.Close()

	_, err := s.TriggerNow(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrBusy)
}

func TestStop(t *testing.T) {
	r := newFakeRunner()
	s := New(r, time.Hour, time.Millisecond, zap.NewNop())
	defer s.Close()

	_, err := s.Start("s-1", 2*time.Millisecond, false)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, time.Second, time.Millisecond)

	assert.True(t, s.Stop("s-1"))
	assert.False(t, s.Stop("s-1"))
	assert.False(t, s.Stop("never-started"))
	assert.Empty(t, s.Jobs())

	time.Sleep(10 * time.Millisecond)
	settled := r.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, r.calls.Load())
}

// TestStop_LetsRunningCycleFinish checks stopping never cancels a cycle in progress.
func TestStop_LetsRunningCycleFinish(t *testing.T) {
	r := newFakeRunner()
	r.gate = make(chan struct{})
	s := New(r, time.Hour, time.Millisecond, zap.NewNop())

	_, err := s.Start("s-1", time.Hour, true)
	require.NoError(t, err)
	<-r.started

	assert.True(t, s.Stop("s-1"))

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a cycle was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(r.gate)
	<-closed
	assert.Equal(t, int32(1), r.calls.Load())

	_, err = s.Start("s-1", time.Hour, false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStart_Restart(t *testing.T) {
	r := newFakeRunner()
	s := New(r, time.Hour, time.Millisecond, zap.NewNop())
	defer s.Close()

	_, err := s.Start("s-1", time.Hour, false)
	require.NoError(t, err)
	_, err = s.Start("s-1", 2*time.Minute, false)
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 2*time.Minute, jobs[0].Interval)
}

func TestConcurrentTriggers(t *testing.T) {
	r := newFakeRunner()
	s := New(r, time.Hour, time.Millisecond, zap.NewNop())
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.TriggerNow(context.Background(), "s-1")
		}()
	}
	wg.Wait()
	assert.False(t, r.overlap.Load())
}
