package scribe

import (
	"context"
	"sync"
	"time"
)

// NopEngine accepts audio and never recognizes anything. It lets the server
// run without a recognizer installed.
type NopEngine struct {
	pollTimeout time.Duration
	stopped     chan struct{}
	stopOnce    sync.Once
}

func NewNopEngine(pollTimeout time.Duration) *NopEngine {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &NopEngine{pollTimeout: pollTimeout, stopped: make(chan struct{})}
}

func (e *NopEngine) Init(ctx context.Context) error { return ctx.Err() }
func (e *NopEngine) Feed(pcm []int16) error         { return nil }
func (e *NopEngine) OnPartial(fn func(text string)) {}
func (e *NopEngine) Shutdown() error                { return nil }

func (e *NopEngine) PollFinal(ctx context.Context) (string, error) {
	timer := time.NewTimer(e.pollTimeout)
	defer timer.Stop()

	select {
	case <-e.stopped:
		return "", ErrEngineStopped
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", nil
	}
}

func (e *NopEngine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopped) })
	return nil
}
