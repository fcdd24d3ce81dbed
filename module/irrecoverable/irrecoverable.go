// Package irrecoverable provides the error escalation path for conditions a
// component cannot recover from, e.g. a detected safety violation. Throwing
// replaces panic/log.Fatal anywhere a SignalerContext is threaded through.
package irrecoverable

import (
	"context"
	"fmt"
	"runtime"
)

// Signaler transports irrecoverable errors out of the component tree.
type Signaler struct {
	errors chan error
}

// NewSignaler returns a signaler and the channel irrecoverable errors
// surface on. The channel has capacity one; the first error wins, later
// throws still terminate their goroutine.
func NewSignaler() (*Signaler, <-chan error) {
	errors := make(chan error, 1)
	return &Signaler{errors: errors}, errors
}

// Throw reports the error and terminates the calling goroutine. It never
// returns.
func (s *Signaler) Throw(err error) {
	select {
	case s.errors <- err:
	default:
		// a prior error is already being handled; this one is superseded
	}
	runtime.Goexit()
}

// SignalerContext is a context.Context that additionally carries the throw
// capability, so it can be threaded through APIs expecting a plain context.
type SignalerContext interface {
	context.Context
	Throw(err error)
	sealed()
}

type signalerCtx struct {
	context.Context
	signaler *Signaler
}

func (sc signalerCtx) sealed()         {}
func (sc signalerCtx) Throw(err error) { sc.signaler.Throw(err) }

// WithSignaler derives a SignalerContext from the parent context.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return signalerCtx{parent, sig}, errChan
}

// Throw escalates err through ctx if it is a SignalerContext, and panics
// otherwise: a component that can produce irrecoverable errors must be run
// under a signaler.
func Throw(ctx context.Context, err error) {
	if sc, ok := ctx.(SignalerContext); ok {
		sc.Throw(err)
		return
	}
	panic(fmt.Sprintf("irrecoverable error with no signaler in context: %v", err))
}
