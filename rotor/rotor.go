// Package rotor ties the dissemination pipeline together: CPU-bound encode
// and decode jobs run on a bounded worker pool, independent across blocks,
// and completions are delivered over a channel so one block's coding never
// blocks the consensus sequencing point.
package rotor

import (
	"context"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/module/metrics"
	"github.com/alpenlabs/alpenglow/rotor/shred"
)

// Event is a coding completion delivered to the coordinator.
type Event interface{ rotorEvent() }

// BlockEncoded reports a completed encode: the block's shred set is ready
// for broadcast.
type BlockEncoded struct {
	Block  *model.Block
	Shreds []*model.Shred
}

// BlockDecoded reports a successful reconstruction.
type BlockDecoded struct {
	Block *model.Block
}

// DecodeFailed reports a failed reconstruction attempt; the coordinator
// decides between repair and abandonment.
type DecodeFailed struct {
	BlockID model.Identifier
	Err     error
}

func (BlockEncoded) rotorEvent() {}
func (BlockDecoded) rotorEvent() {}
func (DecodeFailed) rotorEvent() {}

// Rotor schedules coding work. Jobs carry the context of their slot;
// cancelling it (on finalization or skip) drops jobs that have not started.
type Rotor struct {
	log         zerolog.Logger
	metrics     metrics.RotorMetrics
	pool        *workerpool.WorkerPool
	completions chan Event
}

// New creates a rotor with the given worker parallelism.
func New(log zerolog.Logger, collector metrics.RotorMetrics, workers int, completionBuffer int) *Rotor {
	return &Rotor{
		log:         log.With().Str("component", "rotor").Logger(),
		metrics:     collector,
		pool:        workerpool.New(workers),
		completions: make(chan Event, completionBuffer),
	}
}

// Completions returns the channel coding results are delivered on.
func (r *Rotor) Completions() <-chan Event {
	return r.completions
}

// SubmitEncode schedules erasure-encoding the block.
func (r *Rotor) SubmitEncode(ctx context.Context, block *model.Block, params model.CodingParams, shredSize int) {
	r.pool.Submit(func() {
		if ctx.Err() != nil {
			return // slot finalized or skipped before the job started
		}
		shreds, err := shred.Encode(block, params, shredSize)
		if err != nil {
			blockID := block.ID()
			r.log.Error().Err(err).
				Hex("block_id", blockID[:]).
				Msg("could not encode block")
			return
		}
		r.metrics.ShredsEncoded(len(shreds))
		r.deliver(ctx, BlockEncoded{Block: block, Shreds: shreds})
	})
}

// SubmitDecode schedules reconstruction of a block from the shred subset.
func (r *Rotor) SubmitDecode(ctx context.Context, blockID model.Identifier, shreds []*model.Shred) {
	r.pool.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		block, err := shred.Decode(shreds)
		if err != nil {
			r.metrics.DecodeFailed()
			r.deliver(ctx, DecodeFailed{BlockID: blockID, Err: err})
			return
		}
		r.metrics.BlockDecoded()
		r.deliver(ctx, BlockDecoded{Block: block})
	})
}

// Stop drains queued jobs and shuts the pool down.
func (r *Rotor) Stop() {
	r.pool.StopWait()
}

func (r *Rotor) deliver(ctx context.Context, event Event) {
	select {
	case r.completions <- event:
	case <-ctx.Done():
	}
}
