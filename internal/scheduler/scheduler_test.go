package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 10, 16, 10, 20, 0, 0, time.UTC)

	if got := s.nextTick(now); !got.Equal(time.Date(2026, 10, 16, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("next tick = %s", got)
	}
	boundary := time.Date(2026, 10, 16, 11, 0, 0, 0, time.UTC)
	if got := s.nextTick(boundary); !got.Equal(boundary.Add(time.Hour)) {
		t.Fatalf("tick on a boundary should advance, got %s", got)
	}
	if got := s.slotStart(now); !got.Equal(time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("slot start = %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 10 * time.Minute}, zerolog.Nop())
	now := time.Date(2026, 10, 16, 10, 21, 5, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("next tick = %s", got)
	}
	if got := s.slotStart(now); !got.Equal(now) {
		t.Fatalf("unaligned slot should be the tick itself")
	}
}

func TestRunImmediatelyAndCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunImmediately: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, slot time.Time) error {
			calls.Add(1)
			cancel()
			return errors.New("job errors are logged, not returned")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one immediate run, got %d", calls.Load())
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for zero interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}
