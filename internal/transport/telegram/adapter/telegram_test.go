package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "chanedit/internal/transport"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		if classifyError(nil) != nil {
			t.Fatal("nil error must stay nil")
		}
	})

	t.Run("not modified is success", func(t *testing.T) {
		err := errors.New("telegram: Bad Request: message is not modified (400)")
		if got := classifyError(err); got != nil {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("too many requests without hint", func(t *testing.T) {
		err := fmt.Errorf("telebot: %w", &tele.Error{Code: 429, Description: "Too Many Requests"})
		var rl *kit.RateLimitedError
		if !errors.As(classifyError(err), &rl) || rl.HasHint {
			t.Fatalf("want rate limited without hint, got %v", classifyError(err))
		}
	})

	t.Run("too many requests with hint in description", func(t *testing.T) {
		err := &tele.Error{Code: 429, Description: "Too Many Requests: retry after 12"}
		var rl *kit.RateLimitedError
		if !errors.As(classifyError(err), &rl) || !rl.HasHint || rl.RetryAfter != 12*time.Second {
			t.Fatalf("unexpected: %+v", rl)
		}
	})

	t.Run("deadline is timeout", func(t *testing.T) {
		if got := classifyError(context.DeadlineExceeded); !errors.Is(got, kit.ErrTimedOut) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("network timeout", func(t *testing.T) {
		err := fmt.Errorf("telebot: %w", timeoutErr{})
		if got := classifyError(err); !errors.Is(got, kit.ErrTimedOut) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		err := &tele.Error{Code: 400, Description: "Bad Request: message to edit not found"}
		got := classifyError(err)
		var rl *kit.RateLimitedError
		if errors.As(got, &rl) || errors.Is(got, kit.ErrTimedOut) {
			t.Fatalf("unexpected classification: %v", got)
		}
	})
}

func TestFloodError(t *testing.T) {
	t.Parallel()
	cause := errors.New("flood")
	var rl *kit.RateLimitedError
	if !errors.As(floodError(7, cause), &rl) || !rl.HasHint || rl.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected: %+v", rl)
	}
	rl = nil
	if !errors.As(floodError(0, cause), &rl) || rl.HasHint {
		t.Fatalf("zero retry_after must mean no hint: %+v", rl)
	}
}

func TestToMessage(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:      42,
		Chat:    &tele.Chat{ID: 100, Type: tele.ChatPrivate},
		Sender:  &tele.User{ID: 7, Username: "alice"},
		Caption: "cap",
		Origin:  &tele.MessageOrigin{Chat: &tele.Chat{ID: -100555}},
	}
	got := toMessage(m)
	if got.ID != 42 || got.ChatID != 100 || !got.IsPrivate || got.FromID != 7 || got.FromUsername != "alice" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if !got.Forwarded || got.ForwardChatID != -100555 || got.Caption != "cap" {
		t.Fatalf("forward origin not mapped: %+v", got)
	}

	post := toMessage(&tele.Message{ID: 1, Chat: &tele.Chat{ID: -1, Type: tele.ChatChannel}, Text: "hi"})
	if post.FromID != 0 || post.Forwarded || post.IsPrivate || post.Text != "hi" {
		t.Fatalf("unexpected channel post: %+v", post)
	}
}

func TestWithContextStopsWaiting(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)
	_, err := withContext(ctx, func() (*tele.Message, error) {
		<-release
		return nil, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
