// Package coordinator implements the node coordinator: the single sequencing
// point that merges transport deliveries, view and slot timers, and coding
// completions into the certificate engine and the dissemination pipeline.
// All consensus mutations happen from one event loop goroutine, preserving
// causal order per peer without imposing a global total order.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/alpenlabs/alpenglow/config"
	"github.com/alpenlabs/alpenglow/consensus/votor"
	"github.com/alpenlabs/alpenglow/consensus/votor/leader"
	"github.com/alpenlabs/alpenglow/consensus/votor/pacemaker"
	"github.com/alpenlabs/alpenglow/engine/fifoqueue"
	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/module/component"
	"github.com/alpenlabs/alpenglow/module/irrecoverable"
	"github.com/alpenlabs/alpenglow/network"
	"github.com/alpenlabs/alpenglow/rotor"
	"github.com/alpenlabs/alpenglow/rotor/relay"
	"github.com/alpenlabs/alpenglow/rotor/repair"
)

// PayloadBuilder supplies the transaction payload for a block this node
// proposes. The ledger collaborator implements it.
type PayloadBuilder interface {
	BuildPayload(slot uint64) []byte
}

type inbound struct {
	originID model.Identifier
	event    interface{}
}

// Engine is the node coordinator.
type Engine struct {
	*component.ComponentManager

	log zerolog.Logger
	cfg config.Config

	votor     *votor.Engine
	pacemaker *pacemaker.Pacemaker
	selector  *leader.Selector
	rotor     *rotor.Rotor
	relay     *relay.Relay
	repairer  *repair.Repairer
	payloads  PayloadBuilder
	conduit   network.Conduit

	self      model.Identifier
	committee model.IdentityList
	peers     []model.Identifier

	inbox         *fifoqueue.FifoQueue
	inboxNotifier chan struct{}

	// event-loop-local state, touched only from the loop goroutine
	slotScopes   map[uint64]slotScope
	slotDeadline *time.Timer
	announced    map[uint64]int // certificates already broadcast per slot
}

type slotScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ network.MessageProcessor = (*Engine)(nil)

// New wires the coordinator. Start launches the event loop.
func New(
	log zerolog.Logger,
	cfg config.Config,
	votorEngine *votor.Engine,
	pm *pacemaker.Pacemaker,
	selector *leader.Selector,
	rt *rotor.Rotor,
	rl *relay.Relay,
	repairer *repair.Repairer,
	payloads PayloadBuilder,
	conduit network.Conduit,
	self model.Identifier,
	committee model.IdentityList,
) (*Engine, error) {
	inbox, err := fifoqueue.NewFifoQueue(cfg.InboxCapacity)
	if err != nil {
		return nil, fmt.Errorf("could not create inbox: %w", err)
	}

	canonical := committee.Sort()
	var peers []model.Identifier
	for _, id := range canonical.NodeIDs() {
		if id != self {
			peers = append(peers, id)
		}
	}

	e := &Engine{
		log:           log.With().Str("component", "coordinator").Logger(),
		cfg:           cfg,
		votor:         votorEngine,
		pacemaker:     pm,
		selector:      selector,
		rotor:         rt,
		relay:         rl,
		repairer:      repairer,
		payloads:      payloads,
		conduit:       conduit,
		self:          self,
		committee:     canonical,
		peers:         peers,
		inbox:         inbox,
		inboxNotifier: make(chan struct{}, 1),
		slotScopes:    make(map[uint64]slotScope),
		announced:     make(map[uint64]int),
	}
	e.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(e.loop).
		Build()
	return e, nil
}

// Process queues an inbound message from the transport. It never blocks;
// messages beyond the inbox capacity are dropped, which the best-effort
// protocol tolerates.
func (e *Engine) Process(originID model.Identifier, event interface{}) error {
	if !e.inbox.Push(inbound{originID: originID, event: event}) {
		e.log.Warn().Hex("origin", originID[:]).Msg("inbox full, dropping message")
		return nil
	}
	select {
	case e.inboxNotifier <- struct{}{}:
	default:
	}
	return nil
}

// loop is the sequencing point. It owns all consensus progression; nothing
// else calls into the certificate engine.
func (e *Engine) loop(ctx irrecoverable.SignalerContext, ready func()) {
	e.pacemaker.Start(0, 0)
	e.slotDeadline = time.NewTimer(e.cfg.SlotDuration)
	defer e.slotDeadline.Stop()

	ready()
	e.maybePropose(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.inboxNotifier:
			e.drainInbox(ctx)
		case <-e.pacemaker.TimeoutChannel():
			e.onViewTimeout(ctx)
		case <-e.slotDeadline.C:
			e.onSlotDeadline(ctx)
		case event := <-e.rotor.Completions():
			e.onRotorEvent(ctx, event)
		}
	}
}

func (e *Engine) drainInbox(ctx irrecoverable.SignalerContext) {
	for {
		next, ok := e.inbox.Pop()
		if !ok {
			return
		}
		msg := next.(inbound)
		switch event := msg.event.(type) {
		case *network.VoteMessage:
			e.onVote(ctx, event.Vote)
		case *network.ShredMessage:
			e.onShred(ctx, event)
		case *network.RepairRequest:
			e.onRepairRequest(msg.originID, event)
		case *network.RepairResponse:
			e.onRepairResponse(ctx, event)
		case *network.CertificateMessage:
			e.onCertificate(ctx, event.Certificate)
		default:
			e.log.Warn().
				Hex("origin", msg.originID[:]).
				Str("type", fmt.Sprintf("%T", event)).
				Msg("dropping message of unknown type")
		}
	}
}

func (e *Engine) onVote(ctx irrecoverable.SignalerContext, vote *model.Vote) {
	status, err := e.votor.SubmitVote(vote)
	switch status {
	case votor.VoteAccepted:
		// quorum may have been reached
	case votor.VoteEquivocation:
		e.log.Warn().Err(err).
			Hex("signer", vote.SignerID[:]).
			Uint64("slot", vote.Slot).
			Uint64("view", vote.View).
			Msg("equivocating vote")
		e.onEquivocation(ctx, vote.Slot, vote.SignerID)
	case votor.VoteInvalidSignature:
		e.log.Warn().Err(err).
			Hex("signer", vote.SignerID[:]).
			Msg("rejected vote")
		return
	case votor.VoteDuplicate:
		return
	}
	e.reconcile(ctx, vote.Slot)
}

// onEquivocation triggers the skip path immediately when the equivocator is
// the current leader: there is no point waiting out the view timer for a
// proven-faulty proposer.
func (e *Engine) onEquivocation(ctx irrecoverable.SignalerContext, slot uint64, signerID model.Identifier) {
	state := e.votor.ViewState(slot)
	leaderID, err := e.selector.LeaderForView(slot, state.View)
	if err != nil || leaderID != signerID {
		return
	}
	e.castSkipVote(ctx, slot)
}

func (e *Engine) onShred(ctx irrecoverable.SignalerContext, msg *network.ShredMessage) {
	s := msg.Shred
	slotCtx := e.slotContext(ctx, s.Slot)
	e.repairer.Track(slotCtx, s.BlockID, s.Params, time.Now().Add(e.cfg.SlotDuration))

	shreds, ready := e.repairer.AddShred(s)
	if err := e.relay.Forward(msg); err != nil {
		e.log.Warn().Err(err).Msg("could not forward shred")
	}
	if ready {
		e.rotor.SubmitDecode(slotCtx, s.BlockID, shreds)
	}
}

func (e *Engine) onRepairRequest(originID model.Identifier, req *network.RepairRequest) {
	resp := e.repairer.OnRequest(req)
	if len(resp.Shreds) == 0 {
		return
	}
	if err := e.conduit.Unicast(originID, resp); err != nil {
		e.log.Warn().Err(err).Hex("target", originID[:]).Msg("could not answer repair request")
	}
}

func (e *Engine) onRepairResponse(ctx irrecoverable.SignalerContext, resp *network.RepairResponse) {
	for _, s := range resp.Shreds {
		if s.BlockID != resp.BlockID {
			e.log.Warn().Msg("repair response contains foreign shred, dropping")
			continue
		}
		slotCtx := e.slotContext(ctx, s.Slot)
		shreds, ready := e.repairer.AddShred(s)
		if ready {
			e.rotor.SubmitDecode(slotCtx, s.BlockID, shreds)
		}
	}
}

func (e *Engine) onCertificate(ctx irrecoverable.SignalerContext, cert *model.Certificate) {
	err := e.votor.OnCertificateReceived(cert)
	if err != nil {
		if model.IsSafetyViolationError(err) {
			// conflicting finalization certificates: fault bounds exceeded
			// or state corrupted, this is not reconcilable
			ctx.Throw(err)
		}
		e.log.Warn().Err(err).
			Uint64("slot", cert.Slot).
			Msg("rejected certificate")
		return
	}
	e.reconcile(ctx, cert.Slot)
}

func (e *Engine) onRotorEvent(ctx irrecoverable.SignalerContext, event rotor.Event) {
	switch ev := event.(type) {
	case rotor.BlockEncoded:
		if err := e.relay.Broadcast(ev.Shreds); err != nil {
			e.log.Warn().Err(err).Msg("could not broadcast shred set")
		}
		// the leader holds its own block outright and votes for it
		e.processBlock(ctx, ev.Block)
	case rotor.BlockDecoded:
		e.processBlock(ctx, ev.Block)
	case rotor.DecodeFailed:
		// evict the fragment the decoder rejected and reopen the block, so
		// a bad fragment cannot permanently satisfy the completion threshold
		var bad []uint16
		if invalid, ok := model.AsInvalidShredError(ev.Err); ok {
			bad = append(bad, invalid.Index)
		}
		e.repairer.OnDecodeFailure(ev.BlockID, bad)
		e.log.Warn().Err(ev.Err).
			Hex("block_id", ev.BlockID[:]).
			Msg("block reconstruction failed, repair reopened")
	}
}

// processBlock registers a complete block with the certificate engine and
// casts this node's notarization vote if permitted.
func (e *Engine) processBlock(ctx irrecoverable.SignalerContext, block *model.Block) {
	err := e.votor.OnBlockReceived(block)
	if err != nil {
		if model.IsDoubleVoteError(err) {
			// leader proposal equivocation: switch to the skip path now
			e.log.Warn().Err(err).Uint64("slot", block.Slot).Msg("leader equivocated, voting skip")
			e.castSkipVote(ctx, block.Slot)
			return
		}
		e.log.Warn().Err(err).Msg("rejected block")
		return
	}

	vote, err := e.votor.ProduceNotarVote(block)
	if err != nil {
		if !model.IsDuplicatedVoteError(err) {
			e.log.Warn().Err(err).Msg("could not produce notarization vote")
		}
		return
	}
	e.broadcastVote(vote)
	e.reconcile(ctx, block.Slot)
}

func (e *Engine) onViewTimeout(ctx irrecoverable.SignalerContext) {
	slot := e.pacemaker.CurSlot()
	view := e.pacemaker.CurView()
	e.pacemaker.OnTimeout()

	state, cert := e.votor.OnViewTimeout(slot, view)
	e.log.Debug().
		Uint64("slot", slot).
		Uint64("view", view).
		Str("phase", state.Phase.String()).
		Msg("view timed out")

	if cert == nil && state.Phase == model.PhaseWaiting {
		e.castSkipVote(ctx, slot)
	}
	e.reconcile(ctx, slot)
}

// onSlotDeadline abandons the current slot if it failed to finalize within
// its validity window and moves on to the next slot.
func (e *Engine) onSlotDeadline(ctx irrecoverable.SignalerContext) {
	slot := e.pacemaker.CurSlot()
	if _, finalized := e.votor.FinalizedCertificate(slot); !finalized {
		state := e.votor.AbandonSlot(slot)
		e.log.Warn().
			Uint64("slot", slot).
			Str("phase", state.Phase.String()).
			Msg("slot deadline passed without finalization")
	}
	e.cancelSlot(slot)
	e.enterSlot(ctx, slot+1)
}

// castSkipVote produces, records and broadcasts this node's skip vote for
// the slot's current view. A node that already voted in the view stays
// silent: one vote per (slot, view).
func (e *Engine) castSkipVote(ctx irrecoverable.SignalerContext, slot uint64) {
	vote, err := e.votor.ProduceSkipVote(slot)
	if err != nil {
		if !model.IsDuplicatedVoteError(err) {
			e.log.Warn().Err(err).Uint64("slot", slot).Msg("could not produce skip vote")
		}
		return
	}
	e.broadcastVote(vote)
	e.reconcile(ctx, slot)
}

func (e *Engine) broadcastVote(vote *model.Vote) {
	if err := e.conduit.Multicast(e.peers, &network.VoteMessage{Vote: vote}); err != nil {
		e.log.Warn().Err(err).Msg("could not broadcast vote")
	}
}

// reconcile propagates engine state changes into timers, dissemination and
// the network: broadcasts newly formed certificates, advances the pacemaker
// on view changes, and closes out finalized slots.
func (e *Engine) reconcile(ctx irrecoverable.SignalerContext, slot uint64) {
	// closed-out slots need no reconciliation: their certificates were
	// broadcast when they formed, re-announcing them on every late vote
	// would only waste bandwidth
	if slot < e.pacemaker.CurSlot() {
		return
	}

	certs := e.votor.Certificates(slot)
	for _, cert := range certs[e.announced[slot]:] {
		if err := e.conduit.Multicast(e.peers, &network.CertificateMessage{Certificate: cert}); err != nil {
			e.log.Warn().Err(err).Msg("could not broadcast certificate")
		}
	}
	e.announced[slot] = len(certs)

	if cert, finalized := e.votor.FinalizedCertificate(slot); finalized {
		e.repairer.Release(cert.BlockID)
		e.cancelSlot(slot)
		if e.pacemaker.CurSlot() == slot {
			e.enterSlot(ctx, slot+1)
		}
		return
	}

	state := e.votor.ViewState(slot)
	if e.pacemaker.CurSlot() == slot && state.View > e.pacemaker.CurView() {
		e.pacemaker.NextView(state.View)
		e.maybePropose(ctx)
	}
}

func (e *Engine) enterSlot(ctx irrecoverable.SignalerContext, slot uint64) {
	e.pacemaker.NextSlot(slot)

	// drain a stale expiry before re-arming, it belongs to the previous slot
	if !e.slotDeadline.Stop() {
		select {
		case <-e.slotDeadline.C:
		default:
		}
	}
	e.slotDeadline.Reset(e.cfg.SlotDuration)

	e.maybePropose(ctx)
}

// maybePropose builds, encodes and disseminates this node's block when it is
// the leader for the current (slot, view).
func (e *Engine) maybePropose(ctx irrecoverable.SignalerContext) {
	slot := e.pacemaker.CurSlot()
	view := e.pacemaker.CurView()

	leaderID, err := e.selector.LeaderForView(slot, view)
	if err != nil {
		ctx.Throw(fmt.Errorf("could not determine leader for slot %d view %d: %w", slot, view, err))
	}
	if leaderID != e.self {
		return
	}

	block, err := e.votor.ProposeBlock(e.self, slot, e.payloads.BuildPayload(slot))
	if err != nil {
		e.log.Warn().Err(err).Uint64("slot", slot).Msg("could not propose block")
		return
	}
	blockID := block.ID()
	e.log.Info().
		Uint64("slot", slot).
		Uint64("view", view).
		Hex("block_id", blockID[:]).
		Msg("proposing block")

	params := model.CodingParams{DataShreds: e.cfg.DataShreds, TotalShreds: e.cfg.TotalShreds}
	e.rotor.SubmitEncode(e.slotContext(ctx, slot), block, params, e.cfg.ShredSize)
}

// slotContext returns the cancellation context scoping all in-flight repair
// and coding work of a slot. Cancelled when the slot finalizes, is skipped,
// or passes its deadline.
func (e *Engine) slotContext(parent context.Context, slot uint64) context.Context {
	scope, exists := e.slotScopes[slot]
	if !exists {
		ctx, cancel := context.WithCancel(parent)
		scope = slotScope{ctx: ctx, cancel: cancel}
		e.slotScopes[slot] = scope
	}
	return scope.ctx
}

func (e *Engine) cancelSlot(slot uint64) {
	if scope, exists := e.slotScopes[slot]; exists {
		scope.cancel()
		delete(e.slotScopes, slot)
	}
	delete(e.announced, slot)
}
