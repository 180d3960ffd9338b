package scheduler

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const defaultTickInterval = 30 * time.Second

// Ticker triggers the scheduler periodically so that deferred presence
// writes and stale entries are handled even when no client activity occurs.
type Ticker struct {
	scheduler *Scheduler
	interval  time.Duration
	quit      chan struct{}
	doneCh    chan struct{}
}

func NewTicker(s *Scheduler, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Ticker{
		scheduler: s,
		interval:  interval,
		quit:      make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the ticker in a background goroutine.
func (t *Ticker) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop signals the ticker to stop and returns immediately.
// Call Done() to wait for it to exit.
func (t *Ticker) Stop() {
	close(t.quit)
}

// Done returns a channel that is closed when the ticker has fully stopped.
func (t *Ticker) Done() <-chan struct{} {
	return t.doneCh
}

func (t *Ticker) run(ctx context.Context) {
	defer close(t.doneCh)

	l := log.L()
	l.Debug().Dur("interval", t.interval).Msg("presence safety tick started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		case <-ticker.C:
			t.scheduler.Trigger()
		}
	}
}
