package settings

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"chanedit/internal/storage"
	"chanedit/pkg/logx"
)

func openFileStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "settings.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()
	s := New(Settings{}, nil, logx.Nop())
	got := s.Get()
	if got.ChannelID != DefaultChannelID || got.InsertLine != DefaultInsertLine {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestLoadMissingKeepsDefaults(t *testing.T) {
	t.Parallel()
	s := New(Settings{ChannelID: "-1005", InsertLine: 3}, openFileStore(t), logx.Nop())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.Get(); got.ChannelID != "-1005" || got.InsertLine != 3 {
		t.Fatalf("unexpected settings: %+v", got)
	}
}

func TestMutationsPersistAcrossReload(t *testing.T) {
	t.Parallel()
	backend := openFileStore(t)
	ctx := context.Background()

	s := New(Settings{}, backend, logx.Nop())
	if _, err := s.SetInsertLine(ctx, 5, Actor{UserID: 1}); err != nil {
		t.Fatalf("SetInsertLine: %v", err)
	}
	if _, err := s.SetChannel(ctx, -100777, Actor{UserID: 1}); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}

	reloaded := New(Settings{}, backend, logx.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := reloaded.Get()
	if got.ChannelID != "-100777" || got.InsertLine != 5 {
		t.Fatalf("reloaded settings = %+v", got)
	}
	if id, ok := got.ChannelInt64(); !ok || id != -100777 {
		t.Fatalf("ChannelInt64 = %d, %v", id, ok)
	}
}

func TestSetInsertLineRejectsNonPositive(t *testing.T) {
	t.Parallel()
	s := New(Settings{}, nil, logx.Nop())
	for _, n := range []int{0, -3} {
		if _, err := s.SetInsertLine(context.Background(), n, Actor{}); !errors.Is(err, ErrInvalidInsertLine) {
			t.Fatalf("SetInsertLine(%d) err = %v, want ErrInvalidInsertLine", n, err)
		}
	}
	if got := s.Get().InsertLine; got != DefaultInsertLine {
		t.Fatalf("insert line changed to %d", got)
	}
}

func TestConcurrentReadsSeeWholeSnapshots(t *testing.T) {
	t.Parallel()
	s := New(Settings{ChannelID: "-1", InsertLine: 1}, nil, logx.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			_, _ = s.SetInsertLine(ctx, i, Actor{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if got := s.Get(); got.InsertLine < 1 || got.ChannelID != "-1" {
				t.Errorf("torn snapshot: %+v", got)
				return
			}
		}
	}()
	wg.Wait()
	if got := s.Get().InsertLine; got != 200 {
		t.Fatalf("final insert line = %d, want 200", got)
	}
}
