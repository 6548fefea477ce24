package scribe

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/bosley/rtstt/logger"
)

const pollErrorBackoff = 100 * time.Millisecond

// worker is the dedicated recognition context. It is pinned to one OS thread
// since engines backed by native code may keep thread-local state.
func (s *Scribe) worker(initCtx, ctx context.Context, initErr chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)

	s.logger.Info("Initializing recognition engine")
	started := time.Now()

	if err := s.engine.Init(initCtx); err != nil {
		s.logger.Error("Recognition engine failed to initialize", logger.Error(err))
		s.running.Store(false)
		s.setState(StateStopped)
		s.closeEvents()
		initErr <- err
		return
	}

	if !s.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		// Stop arrived while the model was loading
		initErr <- ErrEngineStopped
		return
	}
	s.logger.Info("Recognition engine ready", logger.Duration("init_time", time.Since(started)))
	initErr <- nil

	s.pollFinals(ctx)
	s.logger.Debug("Recognition worker exiting")
}

func (s *Scribe) pollFinals(ctx context.Context) {
	for s.running.Load() {
		text, err := s.engine.PollFinal(ctx)
		if err != nil {
			if errors.Is(err, ErrEngineStopped) || ctx.Err() != nil {
				return
			}
			s.logger.Error("Error in recognition worker", logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollErrorBackoff):
			}
			continue
		}
		if text == "" {
			continue
		}

		s.logger.Info("Sentence", logger.String("text", text))
		s.emit(Event{Kind: KindFinal, Text: text, Timestamp: time.Now()})
	}
}
