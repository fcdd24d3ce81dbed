// Package pacemaker tracks the node's position in (slot, view) time and owns
// the view timer. It is driven from the coordinator's event loop; all methods
// assume single-threaded use.
package pacemaker

import (
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/alpenlabs/alpenglow/consensus/votor/pacemaker/timeout"
)

// Pacemaker starts one bounded timer per (slot, view). Certificate formation
// before the timer fires counts as progress and shrinks later views; a fired
// timer counts as failure and grows them.
type Pacemaker struct {
	log            zerolog.Logger
	timeoutControl *timeout.Controller
	curSlot        uint64
	curView        uint64
	started        *atomic.Bool
}

// New creates a pacemaker positioned before its first slot.
func New(log zerolog.Logger, cfg timeout.Config) (*Pacemaker, error) {
	control, err := timeout.NewController(cfg)
	if err != nil {
		return nil, err
	}
	return &Pacemaker{
		log:            log.With().Str("component", "pacemaker").Logger(),
		timeoutControl: control,
		started:        atomic.NewBool(false),
	}, nil
}

// Start positions the pacemaker at (slot, view) and starts the first timer.
// Subsequent calls are no-ops.
func (p *Pacemaker) Start(slot, view uint64) {
	if p.started.Swap(true) {
		return
	}
	p.curSlot = slot
	p.curView = view
	info := p.timeoutControl.StartTimeout(slot, view)
	p.log.Debug().
		Uint64("slot", info.Slot).
		Uint64("view", info.View).
		Dur("duration", info.Duration).
		Msg("starting first view timer")
}

// CurSlot returns the current slot.
func (p *Pacemaker) CurSlot() uint64 { return p.curSlot }

// CurView returns the current view within the current slot.
func (p *Pacemaker) CurView() uint64 { return p.curView }

// TimeoutChannel returns the channel for the currently running view timer.
// It must be re-queried after every view or slot transition.
func (p *Pacemaker) TimeoutChannel() <-chan time.Time {
	return p.timeoutControl.Channel()
}

// OnTimeout records that the current view's timer fired. The view itself is
// advanced separately, once a skip certificate forms.
func (p *Pacemaker) OnTimeout() {
	p.timeoutControl.OnTimeout()
	p.log.Debug().
		Uint64("slot", p.curSlot).
		Uint64("view", p.curView).
		Uint64("failed_views", p.timeoutControl.FailedViews()).
		Msg("view timer fired")
}

// NextView advances to the next view within the current slot and restarts
// the timer. Views advance strictly monotonically; a regression is a
// programming error and panics.
func (p *Pacemaker) NextView(view uint64) {
	if view <= p.curView {
		panic("pacemaker view must be strictly monotonically increasing")
	}
	p.curView = view
	info := p.timeoutControl.StartTimeout(p.curSlot, view)
	p.log.Debug().
		Uint64("slot", info.Slot).
		Uint64("view", info.View).
		Dur("duration", info.Duration).
		Msg("entering next view")
}

// NextSlot advances to the first view of a later slot after finalization or
// abandonment, records progress for the backoff, and restarts the timer.
func (p *Pacemaker) NextSlot(slot uint64) {
	if slot <= p.curSlot {
		panic("pacemaker slot must be strictly monotonically increasing")
	}
	p.timeoutControl.OnProgress()
	p.curSlot = slot
	p.curView = 0
	info := p.timeoutControl.StartTimeout(slot, 0)
	p.log.Debug().
		Uint64("slot", info.Slot).
		Dur("duration", info.Duration).
		Msg("entering next slot")
}
