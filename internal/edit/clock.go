package edit

import (
	"context"
	"time"
)

// Clock is the worker's only source of time, so tests can drive it.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done (returning ctx.Err()).
	Sleep(ctx context.Context, d time.Duration) error
	// AfterFunc runs f once after d. The returned func cancels it and reports
	// whether f was prevented from running.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
