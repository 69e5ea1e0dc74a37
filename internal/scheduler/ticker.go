package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker delivers the times at which the task should start.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type intervalTicker struct {
	t *time.Ticker
}

// Interval ticks every d.
func Interval(d time.Duration) Ticker {
	return &intervalTicker{t: time.NewTicker(d)}
}

func (i *intervalTicker) C() <-chan time.Time { return i.t.C }
func (i *intervalTicker) Stop()               { i.t.Stop() }

type cronTicker struct {
	schedule cron.Schedule
	c        chan time.Time
	stop     chan struct{}
	once     sync.Once
}

// Cron ticks on a standard five-field cron expression or a descriptor such as "@hourly".
func Cron(spec string) (Ticker, error) {
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil, err
	}
	t := &cronTicker{
		schedule: schedule,
		c:        make(chan time.Time, 1),
		stop:     make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// ParseCron validates spec and returns its schedule.
func ParseCron(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule, nil
}

func (t *cronTicker) run() {
	for {
		now := time.Now()
		timer := time.NewTimer(t.schedule.Next(now).Sub(now))
		select {
		case fired := <-timer.C:
			// drop the tick if the previous one was not consumed, like time.Ticker
			select {
			case t.c <- fired:
			default:
			}
		case <-t.stop:
			timer.Stop()
			return
		}
	}
}

func (t *cronTicker) C() <-chan time.Time { return t.c }

func (t *cronTicker) Stop() {
	t.once.Do(func() { close(t.stop) })
}
