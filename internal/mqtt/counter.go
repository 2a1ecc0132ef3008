package mqtt

import (
	"sync"
	"time"
)

// DailyCounter counts alerts and resets at local midnight. It is safe
// for concurrent use.
type DailyCounter struct {
	mu       sync.Mutex
	count    int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyCounter creates a counter that rolls over at midnight in loc,
// or [time.Local] when loc is nil.
func NewDailyCounter(loc *time.Location) *DailyCounter {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounter{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Inc adds one.
func (d *DailyCounter) Inc() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	d.count++
}

// Value returns today's count.
func (d *DailyCounter) Value() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.count
}

// maybeReset must be called with d.mu held.
func (d *DailyCounter) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.count = 0
		d.resetDay = today
	}
}
