package scribe

import (
	"context"
	"time"
)

// Engine is the speech recognition capability driven by the Scribe.
//
// Init may block for as long as model loading takes. Feed must not block; it
// receives 16 kHz mono PCM16. PollFinal blocks until a sentence is finished or
// the engine's own wait policy expires, in which case it returns "" and a nil
// error. The partial callback may be invoked from any goroutine the engine
// owns. Once Stop has been called PollFinal returns ErrEngineStopped.
type Engine interface {
	Init(ctx context.Context) error
	Feed(pcm []int16) error
	PollFinal(ctx context.Context) (string, error)
	OnPartial(fn func(text string))
	Stop() error
	Shutdown() error
}

// Sensitivity holds the engine parameters that can change at runtime
type Sensitivity struct {
	VADThreshold      float64
	PostSpeechSilence time.Duration
}

// Tunable engines accept new sensitivity settings while running
type Tunable interface {
	Tune(Sensitivity)
}
