package scribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bosley/rtstt/logger"
)

const defaultEventBuffer = 256

var (
	ErrNotReady       = errors.New("recognizer not ready")
	ErrEngineStopped  = errors.New("recognition engine stopped")
	ErrAlreadyStarted = errors.New("scribe already started")
)

// Scribe owns the recognition engine. The engine runs on a dedicated worker
// goroutine; results leave through the Events channel, which is the only
// path from the recognition side to the network side.
type Scribe struct {
	engine Engine
	logger *logger.Logger

	state   atomic.Int32
	running atomic.Bool

	// Serializes Feed against itself and against the Ready -> ShuttingDown transition
	feedMu sync.Mutex

	events       chan Event
	eventsMu     sync.RWMutex
	eventsClosed bool
	dropped      atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Scribe)

// WithEventBuffer sets how many events may wait for the network side
func WithEventBuffer(n int) Option {
	return func(s *Scribe) {
		if n > 0 {
			s.events = make(chan Event, n)
		}
	}
}

// New creates a Scribe around engine. Nothing runs until Start.
func New(engine Engine, log *logger.Logger, opts ...Option) *Scribe {
	s := &Scribe{
		engine: engine,
		logger: log.Named("scribe"),
		events: make(chan Event, defaultEventBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker and blocks until the engine is ready. An error
// means the engine never became ready and the Scribe is stopped.
func (s *Scribe) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return ErrAlreadyStarted
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running.Store(true)
	s.engine.OnPartial(func(text string) {
		s.emit(Event{Kind: KindPartial, Text: text, Timestamp: time.Now()})
	})

	initErr := make(chan error, 1)
	go s.worker(ctx, workerCtx, initErr)

	if err := <-initErr; err != nil {
		return fmt.Errorf("recognition engine init failed: %w", err)
	}
	return nil
}

// Feed hands 16 kHz audio to the engine. It returns ErrNotReady outside the
// Ready state; engine-side failures are logged, not returned.
func (s *Scribe) Feed(pcm []int16) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	if s.State() != StateReady {
		return ErrNotReady
	}
	if err := s.engine.Feed(pcm); err != nil {
		s.logger.Warn("Engine rejected audio", logger.Error(err), logger.Int("samples", len(pcm)))
	}
	return nil
}

// Events carries partial and final results in generation order. It is
// closed once the Scribe has stopped.
func (s *Scribe) Events() <-chan Event {
	return s.events
}

func (s *Scribe) State() State {
	return State(s.state.Load())
}

func (s *Scribe) Ready() bool {
	return s.State() == StateReady
}

// Dropped counts events discarded because the network side fell behind
func (s *Scribe) Dropped() int64 {
	return s.dropped.Load()
}

// Stop halts feeding, stops the engine, waits for the worker and releases the
// engine. Safe to call more than once; only the first call does the work.
func (s *Scribe) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = s.stop(ctx)
	})
	return err
}

func (s *Scribe) stop(ctx context.Context) error {
	s.feedMu.Lock()
	prev := State(s.state.Swap(int32(StateShuttingDown)))
	s.feedMu.Unlock()

	switch prev {
	case StateUninitialized:
		s.setState(StateStopped)
		s.closeEvents()
		return nil
	case StateStopped:
		// init failed, the worker already cleaned up
		s.setState(StateStopped)
		return nil
	}

	s.logger.Info("Stopping recognition engine", logger.String("from_state", prev.String()))
	s.running.Store(false)

	var errs []error
	if err := s.engine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("engine stop: %w", err))
	}
	s.cancel()

	select {
	case <-s.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for recognition worker: %w", ctx.Err()))
	}

	if err := s.engine.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}

	s.setState(StateStopped)
	s.closeEvents()
	s.logger.Info("Recognition engine stopped", logger.Int("dropped_events", int(s.dropped.Load())))
	return errors.Join(errs...)
}

func (s *Scribe) setState(st State) {
	s.state.Store(int32(st))
}

// emit may run on any engine goroutine, so it never blocks
func (s *Scribe) emit(ev Event) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		s.logger.Warn("Event queue full, dropping transcript",
			logger.String("kind", ev.Kind.String()),
			logger.String("text", ev.Text))
	}
}

func (s *Scribe) closeEvents() {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}
