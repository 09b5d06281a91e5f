package lifecycle

import "context"

// StopSignal is a set-once shutdown flag shared by every component of a bridge.
// Once set it stays set.
type StopSignal struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewStopSignal returns an unset signal.
func NewStopSignal() *StopSignal {
	ctx, cancel := context.WithCancel(context.Background())
	return &StopSignal{ctx: ctx, cancel: cancel}
}

// Set raises the signal. Safe to call repeatedly and from any goroutine.
func (s *StopSignal) Set() {
	s.cancel()
}

// IsSet reports whether Set has been called.
func (s *StopSignal) IsSet() bool {
	return s.ctx.Err() != nil
}

// Done is closed when the signal is set.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context is cancelled when the signal is set.
func (s *StopSignal) Context() context.Context {
	return s.ctx
}
