package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }
func (m *manualTicker) tick()               { m.c <- time.Now() }

func TestSchedulerRunsTaskPerTick(t *testing.T) {
	ticker := newManualTicker()
	var runs atomic.Int32
	s := New(ticker, func(context.Context) { runs.Add(1) }, hclog.NewNullLogger())

	s.Start(context.Background())
	ticker.tick()
	ticker.tick()
	ticker.tick()
	s.Stop()
	s.Wait()

	assert.Equal(t, int32(3), runs.Load())
	assert.True(t, ticker.stopped.Load())
}

func TestSchedulerRunOnStart(t *testing.T) {
	ticker := newManualTicker()
	done := make(chan struct{})
	s := New(ticker, func(context.Context) { close(done) }, hclog.NewNullLogger(), WithRunOnStart(true))

	s.Start(context.Background())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run on start")
	}
	s.Stop()
	s.Wait()
}

func TestSchedulerDoesNotQueueBehindSlowRuns(t *testing.T) {
	ticker := newManualTicker()
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	s := New(ticker, func(context.Context) {
		started.Done()
		<-release
	}, hclog.NewNullLogger())

	s.Start(context.Background())
	ticker.tick()
	ticker.tick()

	// both runs are in flight at once
	started.Wait()
	s.Stop()

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while runs were in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after runs finished")
	}
}

func TestSchedulerStopsOnContextDone(t *testing.T) {
	ticker := newManualTicker()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ticker, func(context.Context) {}, hclog.NewNullLogger())

	s.Start(ctx)
	cancel()
	s.Wait()
	assert.True(t, ticker.stopped.Load())
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{spec: "*/15 * * * *"},
		{spec: "0 3 * * 1-5"},
		{spec: "@hourly"},
		{spec: "@every 10m"},
		{spec: "* * *", wantErr: true},
		{spec: "61 * * * *", wantErr: true},
		{spec: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := ParseCron(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCronNextFire(t *testing.T) {
	schedule, err := ParseCron("30 2 * * *")
	require.NoError(t, err)

	from := time.Date(2026, 5, 4, 10, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2026, 5, 5, 2, 30, 0, 0, time.Local), schedule.Next(from))
}

func TestCronTickerStop(t *testing.T) {
	ticker, err := Cron("@yearly")
	require.NoError(t, err)
	ticker.Stop()
	ticker.Stop()

	_, err = Cron("not a schedule")
	assert.Error(t, err)
}
