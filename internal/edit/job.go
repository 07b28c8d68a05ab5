package edit

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	kit "chanedit/internal/transport"
)

// Kind selects which remote edit variant a job uses.
type Kind int

const (
	KindText Kind = iota
	KindCaption
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCaption:
		return "caption"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Job is one pending edit. It is immutable once submitted and is requeued
// unchanged on retry, so a retry always transforms the original raw content.
type Job struct {
	// ID correlates log lines of one submission (and its retries).
	ID          string
	ChannelID   int64
	MessageID   int
	Kind        Kind
	Raw         string
	SubmittedAt time.Time
}

func (j Job) Ref() kit.MessageRef {
	return kit.MessageRef{ChatID: j.ChannelID, MessageID: j.MessageID}
}

func (j Job) stamp(now time.Time) Job {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = now
	}
	return j
}
