package chrono

import (
	"context"
	"time"
)

// API is the interface that anything depending on the system clock should use.
//
// note: fault injection point
type API interface {
	// Now returns the current time in Location().
	Now() time.Time
	// Location is the timezone the remote repository uses for its dates.
	Location() *time.Location
	// Wait blocks for d or until ctx is done, whichever comes first.
	Wait(ctx context.Context, d time.Duration) error
}

// StandardImpl is the implementation of API using the system clock.
type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl is the constructor of StandardImpl, the repository lives
// in Brazil so dates are computed in America/Sao_Paulo.
func NewStandardImpl() (StandardImpl, error) {
	location, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

func (s StandardImpl) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DateString formats t the way the history endpoints expect it.
func DateString(t time.Time) string {
	return t.Format(time.DateOnly)
}
