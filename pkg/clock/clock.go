// Package clock supplies time to the quota engine and resolves fixed-window
// boundaries for a renewal schedule.
package clock

import (
	"fmt"
	"sync"
	"time"

	"quotagate/pkg/types"
)

// Clock abstracts time.Now so tests can pin the instant.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns the wall clock.
func Real() Clock { return realClock{} }

// Manual is a hand-advanced clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock pinned at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set pins the clock at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Window is one fixed quota window.
type Window struct {
	Index int64
	Start time.Time
	End   time.Time
}

// Remaining returns the time left until the window rolls over.
func (w Window) Remaining(now time.Time) time.Duration {
	if d := w.End.Sub(now); d > 0 {
		return d
	}
	return 0
}

// At resolves the fixed window containing now for a period anchored at
// anchor. Windows are counted from the anchor: index floor((now-anchor)/period).
// An anchor in the future yields window 0 starting at the anchor, so usage
// before an administrator-set start time accrues to the first window.
func At(now, anchor time.Time, period time.Duration) Window {
	if period <= 0 {
		period = time.Minute
	}
	if !anchor.Before(now) {
		return Window{Index: 0, Start: anchor, End: anchor.Add(period)}
	}
	idx := int64(now.Sub(anchor) / period)
	start := anchor.Add(time.Duration(idx) * period)
	return Window{Index: idx, Start: start, End: start.Add(period)}
}

// Anchor resolves a schedule to its window anchor. ScheduleDateCreated (and
// any schedule without a usable start time) anchors at the subject's
// creation instant.
func Anchor(s *types.Schedule, created time.Time) time.Time {
	if s != nil && s.Type == types.ScheduleStartTime && s.StartTime != nil {
		return *s.StartTime
	}
	return created
}

// Key builds the counter key for a (subject, dimension, window) triple.
func Key(subject string, dim types.Dimension, w Window) string {
	return fmt.Sprintf("quota:%s:%s:%d", subject, dim, w.Index)
}
