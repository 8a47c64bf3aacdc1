package query

import (
	"sync"
	"time"
)

// ActivityState is the reported state of the worker's session.
type ActivityState int

const (
	ActivityIdle ActivityState = iota
	ActivityRunning
)

func (s ActivityState) String() string {
	switch s {
	case ActivityIdle:
		return "idle"
	case ActivityRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Activity tracks what the session is doing, in the spirit of a
// pg_stat_activity row: the state, the current or last statement and when
// it started.
type Activity struct {
	mu          sync.Mutex
	state       ActivityState
	query       string
	queryStart  time.Time
	stateChange time.Time
}

// ActivitySnapshot is a copy of an Activity at one instant.
type ActivitySnapshot struct {
	State       ActivityState
	Query       string
	QueryStart  time.Time
	StateChange time.Time
}

// NewActivity returns an idle activity.
func NewActivity() *Activity {
	return &Activity{stateChange: time.Now()}
}

func (a *Activity) begin(sql string) time.Time {
	now := time.Now()
	a.mu.Lock()
	a.state = ActivityRunning
	a.query = sql
	a.queryStart = now
	a.stateChange = now
	a.mu.Unlock()
	return now
}

func (a *Activity) end() {
	a.mu.Lock()
	a.state = ActivityIdle
	a.stateChange = time.Now()
	a.mu.Unlock()
}

// Snapshot returns the current activity. After a statement finishes, Query
// still holds it while State is idle.
func (a *Activity) Snapshot() ActivitySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ActivitySnapshot{
		State:       a.state,
		Query:       a.query,
		QueryStart:  a.queryStart,
		StateChange: a.stateChange,
	}
}
