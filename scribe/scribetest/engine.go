// Package scribetest provides a scriptable recognition engine for tests.
package scribetest

import (
	"context"
	"sync"
	"time"

	"github.com/bosley/rtstt/scribe"
)

// Engine records every call made to it and lets a test push partial and
// final text as if it had been recognized.
type Engine struct {
	// Closed by the test to let Init finish. Nil means Init returns at once.
	InitGate chan struct{}
	InitErr  error
	FeedErr  error

	mu        sync.Mutex
	calls     []string
	fed       [][]int16
	ready     bool
	early     bool
	partial   func(string)
	shutdowns int

	finals   chan string
	stopped  chan struct{}
	stopOnce sync.Once
	fedCh    chan struct{}
}

func New() *Engine {
	return &Engine{
		finals:  make(chan string, 64),
		stopped: make(chan struct{}),
		fedCh:   make(chan struct{}, 1024),
	}
}

func (e *Engine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *Engine) Init(ctx context.Context) error {
	e.record("init")
	if e.InitGate != nil {
		select {
		case <-e.InitGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.InitErr != nil {
		return e.InitErr
	}

	e.mu.Lock()
	e.ready = true
	e.calls = append(e.calls, "ready")
	e.mu.Unlock()
	return nil
}

func (e *Engine) Feed(pcm []int16) error {
	e.mu.Lock()
	if !e.ready {
		e.early = true
	}
	e.calls = append(e.calls, "feed")
	e.fed = append(e.fed, append([]int16(nil), pcm...))
	e.mu.Unlock()

	select {
	case e.fedCh <- struct{}{}:
	default:
	}
	return e.FeedErr
}

func (e *Engine) PollFinal(ctx context.Context) (string, error) {
	select {
	case text := <-e.finals:
		return text, nil
	case <-e.stopped:
		return "", scribe.ErrEngineStopped
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return "", nil
	}
}

func (e *Engine) OnPartial(fn func(text string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.partial = fn
}

func (e *Engine) Stop() error {
	e.record("stop")
	e.stopOnce.Do(func() { close(e.stopped) })
	return nil
}

func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "shutdown")
	e.shutdowns++
	return nil
}

// Partial fires the partial callback synchronously, like an engine thread would
func (e *Engine) Partial(text string) {
	e.mu.Lock()
	fn := e.partial
	e.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

// Final queues text for the next PollFinal
func (e *Engine) Final(text string) {
	e.finals <- text
}

// Fed returns copies of every chunk passed to Feed
func (e *Engine) Fed() [][]int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]int16, len(e.fed))
	copy(out, e.fed)
	return out
}

// WaitFed blocks until at least n chunks were fed or the timeout passes
func (e *Engine) WaitFed(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(e.Fed()) >= n {
			return true
		}
		select {
		case <-e.fedCh:
		case <-deadline:
			return len(e.Fed()) >= n
		}
	}
}

// FedBeforeReady reports whether Feed ever ran before Init completed
func (e *Engine) FedBeforeReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.early
}

func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *Engine) Shutdowns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdowns
}
