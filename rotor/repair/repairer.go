// Package repair recovers missing shreds: a validator that cannot
// reconstruct a block after a grace period requests specific missing indices
// from a bounded responder set, escalating with exponential backoff to a
// wider set until the block reconstructs or its slot deadline passes.
package repair

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/module/metrics"
	"github.com/alpenlabs/alpenglow/network"
)

// Config bounds the repair behavior.
type Config struct {
	// GracePeriod is how long to wait for passive delivery before the first
	// repair request; it is also the initial backoff interval.
	GracePeriod time.Duration
	// MaxAttempts bounds the number of escalation rounds.
	MaxAttempts uint64
	// BaseResponders is the responder set size of the first attempt; it
	// doubles per escalation, capped at the committee size.
	BaseResponders int
	// DedupSize is the capacity of the in-flight request cache.
	DedupSize int
}

// DefaultConfig derives repair bounds from the configured grace period.
func DefaultConfig(gracePeriod time.Duration) Config {
	return Config{
		GracePeriod:    gracePeriod,
		MaxAttempts:    5,
		BaseResponders: 2,
		DedupSize:      4096,
	}
}

type requestKey struct {
	blockID model.Identifier
	index   uint16
}

type pendingBlock struct {
	params   model.CodingParams
	shreds   map[uint16]*model.Shred
	ctx      context.Context
	cancel   context.CancelFunc
	complete bool
}

// Repairer tracks blocks under reconstruction and drives their repair
// cycles. One repair goroutine runs per tracked block; all are cancelled
// when their block completes, is released, or passes its deadline.
type Repairer struct {
	mu        sync.Mutex
	log       zerolog.Logger
	metrics   metrics.RotorMetrics
	conduit   network.Conduit
	self      model.Identifier
	committee []model.Identifier // canonical order, responder pool
	cfg       Config

	inflight *lru.Cache[requestKey, uint64] // request → attempt it was sent in
	pending  map[model.Identifier]*pendingBlock
}

// NewRepairer constructs a repairer over the committee snapshot.
func NewRepairer(
	log zerolog.Logger,
	collector metrics.RotorMetrics,
	conduit network.Conduit,
	self model.Identifier,
	committee model.IdentityList,
	cfg Config,
) (*Repairer, error) {
	if cfg.GracePeriod <= 0 {
		return nil, model.NewConfigurationErrorf("repair grace period must be positive, got %v", cfg.GracePeriod)
	}
	if cfg.BaseResponders < 1 {
		return nil, model.NewConfigurationErrorf("base responder count must be positive, got %d", cfg.BaseResponders)
	}
	inflight, err := lru.New[requestKey, uint64](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("could not create request dedup cache: %w", err)
	}
	return &Repairer{
		log:       log.With().Str("component", "repair").Logger(),
		metrics:   collector,
		conduit:   conduit,
		self:      self,
		committee: committee.Sort().NodeIDs(),
		cfg:       cfg,
		inflight:  inflight,
		pending:   make(map[model.Identifier]*pendingBlock),
	}, nil
}

// Track registers a block under reconstruction and starts its repair cycle.
// The cycle ends when the block completes, Release is called, or the
// deadline passes; a block unreconstructed by its deadline is dropped and
// counted as abandoned, never retried indefinitely. Tracking an
// already-tracked block is a no-op.
func (r *Repairer) Track(parent context.Context, blockID model.Identifier, params model.CodingParams, deadline time.Time) {
	r.mu.Lock()
	if _, tracked := r.pending[blockID]; tracked {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithDeadline(parent, deadline)
	r.pending[blockID] = &pendingBlock{
		params: params,
		shreds: make(map[uint16]*model.Shred),
		ctx:    ctx,
		cancel: cancel,
	}
	r.mu.Unlock()

	go r.repairLoop(ctx, blockID, params)
}

// AddShred stores a received shred. When the block reaches K distinct
// indices for the first time, the full set is returned with ready=true for
// decoding. Shreds failing their checksum, shreds of untracked blocks, and
// shreds inconsistent with the block's tracked coding parameters are
// dropped: the checksum is self-attested, so an out-of-range index or a
// foreign parameter set must never count toward the completion threshold.
func (r *Repairer) AddShred(s *model.Shred) (shreds []*model.Shred, ready bool) {
	if !s.VerifyChecksum() {
		r.log.Warn().
			Hex("block_id", s.BlockID[:]).
			Uint16("index", s.Index).
			Msg("dropping shred with invalid checksum")
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pb, tracked := r.pending[s.BlockID]
	if !tracked {
		return nil, false
	}
	if s.Params != pb.params || s.Index >= pb.params.TotalShreds {
		r.log.Warn().
			Hex("block_id", s.BlockID[:]).
			Uint16("index", s.Index).
			Msg("dropping shred inconsistent with tracked coding parameters")
		return nil, false
	}
	if _, held := pb.shreds[s.Index]; held {
		return nil, false
	}
	pb.shreds[s.Index] = s
	r.inflight.Remove(requestKey{blockID: s.BlockID, index: s.Index})

	if pb.complete || len(pb.shreds) < int(pb.params.DataShreds) {
		return nil, false
	}
	pb.complete = true
	out := make([]*model.Shred, 0, len(pb.shreds))
	for _, held := range pb.shreds {
		out = append(out, held)
	}
	return out, true
}

// OnDecodeFailure reopens a block whose reconstruction attempt failed:
// offending indices are evicted, the completion latch is cleared and a fresh
// repair cycle requests the evicted fragments again. Without this, a block
// completed by a bad fragment would never reach the decoder again.
func (r *Repairer) OnDecodeFailure(blockID model.Identifier, badIndices []uint16) {
	r.mu.Lock()
	pb, tracked := r.pending[blockID]
	if !tracked || !pb.complete {
		r.mu.Unlock()
		return
	}
	pb.complete = false
	for _, index := range badIndices {
		delete(pb.shreds, index)
		r.inflight.Remove(requestKey{blockID: blockID, index: index})
	}
	ctx, params := pb.ctx, pb.params
	r.mu.Unlock()

	r.log.Warn().
		Hex("block_id", blockID[:]).
		Int("evicted", len(badIndices)).
		Msg("reconstruction failed, reopening block for repair")
	go r.repairLoop(ctx, blockID, params)
}

// Missing returns the shred indices still absent for a tracked block.
func (r *Repairer) Missing(blockID model.Identifier) []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	pb, tracked := r.pending[blockID]
	if !tracked {
		return nil
	}
	var missing []uint16
	for index := uint16(0); index < pb.params.TotalShreds; index++ {
		if _, held := pb.shreds[index]; !held {
			missing = append(missing, index)
		}
	}
	return missing
}

// OnRequest serves a peer's repair request from the shreds this node holds.
func (r *Repairer) OnRequest(req *network.RepairRequest) *network.RepairResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	resp := &network.RepairResponse{BlockID: req.BlockID}
	pb, tracked := r.pending[req.BlockID]
	if !tracked {
		return resp
	}
	for _, index := range req.Indices {
		if s, held := pb.shreds[index]; held {
			resp.Shreds = append(resp.Shreds, s)
		}
	}
	return resp
}

// Release drops a block's pending state and cancels its repair cycle,
// invoked once the block is finalized, superseded, or decoded.
func (r *Repairer) Release(blockID model.Identifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(blockID)
}

func (r *Repairer) releaseLocked(blockID model.Identifier) {
	pb, tracked := r.pending[blockID]
	if !tracked {
		return
	}
	pb.cancel()
	delete(r.pending, blockID)
}

// repairLoop runs one block's repair cycle: grace period, then bounded
// exponential escalation.
func (r *Repairer) repairLoop(ctx context.Context, blockID model.Identifier, params model.CodingParams) {
	select {
	case <-ctx.Done():
		r.finish(blockID)
		return
	case <-time.After(r.cfg.GracePeriod):
	}

	var attempt uint64
	backoff := retry.WithMaxRetries(r.cfg.MaxAttempts, retry.NewExponential(r.cfg.GracePeriod))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		missing, done := r.missingForAttempt(blockID, attempt)
		if done {
			return nil
		}
		if len(missing) > 0 {
			r.sendRequest(blockID, params, missing, attempt)
		}
		attempt++
		return retry.RetryableError(fmt.Errorf("block %x still missing %d shreds", blockID, len(missing)))
	})
	if err != nil && ctx.Err() == nil {
		r.log.Debug().Err(err).Hex("block_id", blockID[:]).Msg("repair attempts exhausted")
	}

	// hold collected shreds for passive delivery and peer repair until the
	// deadline passes or the block is released
	<-ctx.Done()
	r.finish(blockID)
}

// missingForAttempt returns the indices to request in this attempt: still
// absent, and not already in flight from this or a later attempt.
func (r *Repairer) missingForAttempt(blockID model.Identifier, attempt uint64) (missing []uint16, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pb, tracked := r.pending[blockID]
	if !tracked || pb.complete {
		return nil, true
	}
	for index := uint16(0); index < pb.params.TotalShreds; index++ {
		if _, held := pb.shreds[index]; held {
			continue
		}
		key := requestKey{blockID: blockID, index: index}
		if sentIn, sent := r.inflight.Get(key); sent && sentIn >= attempt {
			continue // already requested in this escalation round
		}
		missing = append(missing, index)
	}
	return missing, false
}

func (r *Repairer) sendRequest(blockID model.Identifier, params model.CodingParams, missing []uint16, attempt uint64) {
	responders := r.responders(blockID, attempt)
	req := &network.RepairRequest{BlockID: blockID, Params: params, Indices: missing}
	if err := r.conduit.Multicast(responders, req); err != nil {
		r.log.Warn().Err(err).Hex("block_id", blockID[:]).Msg("could not send repair request")
		return
	}
	for _, index := range missing {
		r.inflight.Add(requestKey{blockID: blockID, index: index}, attempt)
	}
	r.metrics.RepairRequested(len(missing))
	r.log.Debug().
		Hex("block_id", blockID[:]).
		Int("indices", len(missing)).
		Int("responders", len(responders)).
		Uint64("attempt", attempt).
		Msg("requested missing shreds")
}

// responders returns the responder set for an escalation round: a per-block
// rotation of the canonical committee order, growing 2x per attempt up to
// the full committee. Requests are never broadcast on the first attempts.
func (r *Repairer) responders(blockID model.Identifier, attempt uint64) []model.Identifier {
	size := r.cfg.BaseResponders
	for i := uint64(0); i < attempt && size < len(r.committee); i++ {
		size *= 2
	}

	offset := int(binary.BigEndian.Uint64(blockID[:8]) % uint64(len(r.committee)))
	out := make([]model.Identifier, 0, size)
	for i := 0; len(out) < size && i < len(r.committee); i++ {
		candidate := r.committee[(offset+i)%len(r.committee)]
		if candidate == r.self {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// finish drops the block's pending state once its repair cycle ends,
// counting it as abandoned if it never completed before the deadline.
func (r *Repairer) finish(blockID model.Identifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pb, tracked := r.pending[blockID]
	if !tracked {
		return
	}
	if !pb.complete {
		r.metrics.BlockAbandoned()
		r.log.Debug().Hex("block_id", blockID[:]).Msg("dropping unreconstructed block")
	}
	r.releaseLocked(blockID)
}
