package edit

import (
	"context"
	"errors"
	"fmt"
	"time"

	kit "chanedit/internal/transport"
)

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetry requeues the unchanged job after Delay.
	OutcomeRetry
	// OutcomeDrop discards the job and pauses the worker for Delay.
	OutcomeDrop
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeDrop:
		return "drop"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the classified result of one remote edit call.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
	// Global is set for flood control: the wait applies to every remote call,
	// not just to this job.
	Global bool
	Reason string
	Err    error
}

// Policy holds the fixed delays used by Classify.
type Policy struct {
	FloodFallback time.Duration
	TimeoutRetry  time.Duration
	ErrorPause    time.Duration
}

// Classify maps a remote edit error to an Outcome.
//
//   - nil: success
//   - rate limited with hint N: retry after N+1s, global wait
//   - rate limited without hint: drop after FloodFallback (no retry, avoids endless loops)
//   - timed out (including call deadline): retry after TimeoutRetry
//   - anything else: drop after ErrorPause
func Classify(err error, p Policy) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess}
	}

	var rl *kit.RateLimitedError
	if errors.As(err, &rl) {
		if rl.HasHint {
			return Outcome{Kind: OutcomeRetry, Delay: rl.RetryAfter + time.Second, Global: true, Reason: "flood control", Err: err}
		}
		return Outcome{Kind: OutcomeDrop, Delay: p.FloodFallback, Global: true, Reason: "flood control without retry hint", Err: err}
	}

	if errors.Is(err, kit.ErrTimedOut) || errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: OutcomeRetry, Delay: p.TimeoutRetry, Reason: "timed out", Err: err}
	}

	return Outcome{Kind: OutcomeDrop, Delay: p.ErrorPause, Reason: "edit failed", Err: err}
}
