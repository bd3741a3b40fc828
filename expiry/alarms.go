package expiry

import (
	"sync"
	"time"
)

// Alarms arms one-shot named timers. Firing is at-least-once, so alarm
// handlers must be idempotent.
type Alarms interface {
	Schedule(name string, at time.Time)
	Cancel(name string)
}

// TimerAlarms implements Alarms with in-process timers.
type TimerAlarms struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(name string)
}

var _ Alarms = (*TimerAlarms)(nil)

// NewTimerAlarms returns an alarm facility that invokes fire when a
// scheduled alarm elapses.
func NewTimerAlarms(fire func(name string)) *TimerAlarms {
	return &TimerAlarms{timers: make(map[string]*time.Timer), fire: fire}
}

func (a *TimerAlarms) Schedule(name string, at time.Time) {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if old, ok := a.timers[name]; ok {
		old.Stop()
	}
	a.timers[name] = time.AfterFunc(d, func() {
		a.mu.Lock()
		delete(a.timers, name)
		a.mu.Unlock()
		a.fire(name)
	})
}

func (a *TimerAlarms) Cancel(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[name]; ok {
		t.Stop()
		delete(a.timers, name)
	}
}

// StopAll cancels every armed timer.
func (a *TimerAlarms) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, t := range a.timers {
		t.Stop()
		delete(a.timers, name)
	}
}
