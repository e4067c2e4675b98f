package chrono

import (
	"context"
	"sync"
	"time"
)

// Fake is an API whose clock only moves when Wait or Advance is called.
// It is meant for tests that need to cover long waits without sleeping.
type Fake struct {
	mu       sync.Mutex
	now      time.Time
	location *time.Location
	waits    []time.Duration
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start, location: start.Location()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location {
	return f.location
}

func (f *Fake) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.waits = append(f.waits, d)
	return nil
}

// Advance moves the clock forward without recording a wait.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Waits returns every duration passed to Wait so far.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}
