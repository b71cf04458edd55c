package shutdown

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"trackmeta/internal/logger"
)

func TestShutdown_RunsCleanupsNewestFirstOnce(t *testing.T) {
	h := New(logger.Nop())
	var order []string
	h.AddCleanup("store", func() error { order = append(order, "store"); return nil })
	h.AddCleanup("server", func() error { order = append(order, "server"); return errors.New("boom") })

	h.Shutdown()
	h.Shutdown()

	if want := []string{"server", "store"}; !slices.Equal(order, want) {
		t.Errorf("cleanup order = %v, want %v", order, want)
	}
	if h.Context().Err() == nil {
		t.Error("context should be cancelled after Shutdown")
	}
}

func TestGoAndWait(t *testing.T) {
	h := New(logger.Nop())
	stopped := make(chan struct{})
	h.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	if err := h.Wait(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("Wait() before shutdown = %v, want ErrTimeout", err)
	}

	h.Shutdown()
	if err := h.Wait(time.Second); err != nil {
		t.Errorf("Wait() after shutdown = %v", err)
	}
	select {
	case <-stopped:
	default:
		t.Error("tracked work did not observe cancellation")
	}
}
