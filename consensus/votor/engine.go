package votor

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alpenlabs/alpenglow/consensus/votor/votetracker"
	"github.com/alpenlabs/alpenglow/crypto"
	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/module/metrics"
)

// Config are the quorum thresholds the engine evaluates.
type Config struct {
	// FastThreshold is the active-stake fraction for fast certificates.
	FastThreshold float64
	// SlowThreshold is the active-stake fraction for slow and skip
	// certificates.
	SlowThreshold float64
}

// slotState is the per-slot consensus state. All fields are guarded by the
// engine's writer lock.
type slotState struct {
	view         uint64
	phase        model.Phase
	timeoutFired bool // closes the fast path for the current view
	tracker      *votetracker.Tracker
	blocks       map[model.Identifier]*model.Block // proposals by block ID
	proposals    map[uint64]model.Identifier       // first proposal seen per view
	certificates []*model.Certificate              // append-only
	finalized    *model.Certificate
}

// Engine is the vote/certificate state machine. It owns all vote,
// certificate, view and exclusion state; concurrent vote arrivals are
// serialized through one writer lock so quorum tallies never race.
type Engine struct {
	mu  sync.Mutex
	log zerolog.Logger

	metrics  metrics.ConsensusMetrics
	cfg      Config
	verifier crypto.Verifier
	signer   crypto.Signer
	selector LeaderSelector
	consumer FinalizationConsumer

	self       model.Identifier
	committee  model.IdentityList
	totalStake uint64

	// byzantine validators are excluded from all quorum computations from
	// the moment they are flagged; the exclusion survives view advancement.
	byzantine      map[model.Identifier]struct{}
	byzantineStake uint64

	slots           map[uint64]*slotState
	lastFinalizedID model.Identifier
}

// New constructs the engine for one committee snapshot.
func New(
	log zerolog.Logger,
	collector metrics.ConsensusMetrics,
	cfg Config,
	committee model.IdentityList,
	self model.Identifier,
	signer crypto.Signer,
	verifier crypto.Verifier,
	selector LeaderSelector,
	consumer FinalizationConsumer,
) (*Engine, error) {
	if cfg.SlowThreshold <= 0.5 || cfg.FastThreshold <= cfg.SlowThreshold || cfg.FastThreshold > 1 {
		return nil, model.NewConfigurationErrorf(
			"invalid quorum thresholds: fast=%v slow=%v", cfg.FastThreshold, cfg.SlowThreshold)
	}
	canonical := committee.Sort()
	totalStake := canonical.TotalStake()
	if totalStake == 0 {
		return nil, model.NewConfigurationErrorf("committee total stake must be positive")
	}
	if _, ok := canonical.ByNodeID(self); !ok {
		return nil, model.NewConfigurationErrorf("own node ID %x not in committee", self)
	}
	return &Engine{
		log:        log.With().Str("component", "votor").Logger(),
		metrics:    collector,
		cfg:        cfg,
		verifier:   verifier,
		signer:     signer,
		selector:   selector,
		consumer:   consumer,
		self:       self,
		committee:  canonical,
		totalStake: totalStake,
		byzantine:  make(map[model.Identifier]struct{}),
		slots:      make(map[uint64]*slotState),
	}, nil
}

// ProposeBlock produces this slot's block for the current view. It errors
// unless the proposer is the selected leader for (slot, view).
func (e *Engine) ProposeBlock(proposerID model.Identifier, slot uint64, payload []byte) (*model.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.slotStateLocked(slot)
	if st.finalized != nil {
		return nil, fmt.Errorf("slot %d already finalized", slot)
	}
	leader, err := e.selector.LeaderForView(slot, st.view)
	if err != nil {
		return nil, fmt.Errorf("could not determine leader for slot %d view %d: %w", slot, st.view, err)
	}
	if proposerID != leader {
		return nil, model.NewInvalidSignerErrorf(
			"proposer %x is not the leader %x for slot %d view %d", proposerID, leader, slot, st.view)
	}
	if _, proposed := st.proposals[st.view]; proposed {
		return nil, fmt.Errorf("a block was already proposed for slot %d view %d", slot, st.view)
	}

	block := &model.Block{
		Slot:       slot,
		View:       st.view,
		ProposerID: proposerID,
		ParentID:   e.lastFinalizedID,
		Payload:    payload,
	}
	e.registerBlockLocked(st, block)
	return block, nil
}

// OnBlockReceived registers a reconstructed block with the engine, making it
// votable. A second, different block from the same leader for the same view
// is proposal equivocation: the leader is flagged Byzantine and a
// DoubleVoteError returned so the caller can trigger the skip path.
func (e *Engine) OnBlockReceived(block *model.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.slotStateLocked(block.Slot)
	if block.View != st.view {
		e.log.Debug().
			Uint64("slot", block.Slot).
			Uint64("block_view", block.View).
			Uint64("cur_view", st.view).
			Msg("dropping block for non-current view")
		return nil
	}
	leader, err := e.selector.LeaderForView(block.Slot, block.View)
	if err != nil {
		return fmt.Errorf("could not determine leader for slot %d view %d: %w", block.Slot, block.View, err)
	}
	if block.ProposerID != leader {
		return model.NewInvalidSignerErrorf(
			"block %x proposed by %x, expected leader %x", block.ID(), block.ProposerID, leader)
	}

	if firstID, proposed := st.proposals[block.View]; proposed {
		if firstID == block.ID() {
			return nil // duplicate delivery
		}
		e.markByzantineLocked(block.ProposerID)
		return model.NewDoubleVoteErrorf(nil, nil,
			"leader %x proposed conflicting blocks %x and %x for slot %d view %d",
			block.ProposerID, firstID, block.ID(), block.Slot, block.View)
	}
	e.registerBlockLocked(st, block)
	return nil
}

func (e *Engine) registerBlockLocked(st *slotState, block *model.Block) {
	st.blocks[block.ID()] = block
	st.proposals[block.View] = block.ID()
	if st.phase == model.PhaseProposing {
		st.phase = model.PhaseVoting
	}
}

// SubmitVote verifies and records a vote, then attempts certificate
// formation. See VoteStatus for the possible outcomes.
func (e *Engine) SubmitVote(vote *model.Vote) (VoteStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, err := e.submitLocked(vote, true)
	e.metrics.VoteProcessed(status.String())
	return status, err
}

func (e *Engine) submitLocked(vote *model.Vote, verifySig bool) (VoteStatus, error) {
	identity, ok := e.committee.ByNodeID(vote.SignerID)
	if !ok {
		return VoteInvalidSignature, model.NewInvalidSignerErrorf(
			"vote signer %x is not a committee member", vote.SignerID)
	}

	st := e.slotStateLocked(vote.Slot)
	if vote.View != st.view {
		// votes for superseded views have been pruned; treating them as
		// duplicates keeps late arrivals idempotent no-ops
		e.log.Debug().
			Uint64("slot", vote.Slot).
			Uint64("vote_view", vote.View).
			Uint64("cur_view", st.view).
			Msg("dropping vote for non-current view")
		return VoteDuplicate, nil
	}

	if _, flagged := e.byzantine[vote.SignerID]; flagged {
		return VoteEquivocation, nil
	}

	if verifySig && !e.verifier.VerifySignature(identity.PubKey, vote.SigningMessage(), vote.SigData) {
		return VoteInvalidSignature, model.NewInvalidVoteErrorf(vote, "signature verification failed")
	}

	// a notar vote conflicting with the slot's finalization certificate is
	// equivocation against the certified choice
	if st.finalized != nil && vote.Kind == model.VoteNotarize && vote.BlockID != st.finalized.BlockID {
		e.markByzantineLocked(vote.SignerID)
		return VoteEquivocation, model.NewDoubleVoteErrorf(nil, vote,
			"signer %x voted for block %x conflicting with finalized certificate for %x in slot %d",
			vote.SignerID, vote.BlockID, st.finalized.BlockID, vote.Slot)
	}

	err := st.tracker.Add(vote)
	if err != nil {
		if model.IsDuplicatedVoteError(err) {
			return VoteDuplicate, nil
		}
		if model.IsDoubleVoteError(err) {
			e.markByzantineLocked(vote.SignerID)
			e.log.Warn().
				Hex("signer", vote.SignerID[:]).
				Uint64("slot", vote.Slot).
				Uint64("view", vote.View).
				Msg("equivocation detected, excluding validator from quorum computations")
			return VoteEquivocation, err
		}
		return 0, fmt.Errorf("could not record vote: %w", err)
	}

	e.tryFormLocked(vote.Slot, st)
	return VoteAccepted, nil
}

// TryFormCertificate evaluates the quorum rules for the given (slot, view)
// and returns the certificate if one forms or has formed. It returns
// (nil, nil) when no quorum is reached.
func (e *Engine) TryFormCertificate(slot, view uint64) (*model.Certificate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.slotStateLocked(slot)
	for _, cert := range st.certificates {
		if cert.View == view {
			return cert, nil
		}
	}
	if view != st.view {
		return nil, nil
	}
	return e.tryFormLocked(slot, st), nil
}

// tryFormLocked evaluates quorum rules for the slot's current view and
// commits the certificate if one forms. Tallies are computed against the
// exclusion set at evaluation time, so equivocators flagged after voting no
// longer contribute.
func (e *Engine) tryFormLocked(slot uint64, st *slotState) *model.Certificate {
	if st.finalized != nil {
		return nil
	}

	active := e.activeStakeLocked()
	fastQuorum := requiredStake(e.cfg.FastThreshold, active)
	slowQuorum := requiredStake(e.cfg.SlowThreshold, active)

	type tally struct {
		stake   uint64
		signers []model.Identifier
	}
	blockTallies := make(map[model.Identifier]*tally)
	var blockOrder []model.Identifier
	skip := &tally{}

	for _, vote := range st.tracker.Votes() {
		if _, flagged := e.byzantine[vote.SignerID]; flagged {
			continue
		}
		identity, ok := e.committee.ByNodeID(vote.SignerID)
		if !ok {
			continue
		}
		switch vote.Kind {
		case model.VoteSkip:
			skip.stake += identity.Stake
			skip.signers = append(skip.signers, vote.SignerID)
		case model.VoteNotarize:
			bt, seen := blockTallies[vote.BlockID]
			if !seen {
				bt = &tally{}
				blockTallies[vote.BlockID] = bt
				blockOrder = append(blockOrder, vote.BlockID)
			}
			bt.stake += identity.Stake
			bt.signers = append(bt.signers, vote.SignerID)
		}
	}

	for _, blockID := range blockOrder {
		bt := blockTallies[blockID]
		// the slow path only opens once the view timer closed the fast path,
		// otherwise the lower quorum would always preempt fast certificates
		var certType model.CertificateType
		switch {
		case !st.timeoutFired && bt.stake >= fastQuorum:
			certType = model.CertFast
		case st.timeoutFired && bt.stake >= slowQuorum:
			certType = model.CertSlow
		default:
			continue
		}
		cert := &model.Certificate{
			Slot:            slot,
			View:            st.view,
			Type:            certType,
			BlockID:         blockID,
			SignerIDs:       bt.signers,
			AggregatedStake: bt.stake,
		}
		e.commitCertificateLocked(slot, st, cert)
		return cert
	}

	if skip.stake >= slowQuorum {
		cert := &model.Certificate{
			Slot:            slot,
			View:            st.view,
			Type:            model.CertSkip,
			BlockID:         model.ZeroID,
			SignerIDs:       skip.signers,
			AggregatedStake: skip.stake,
		}
		e.commitCertificateLocked(slot, st, cert)
		return cert
	}

	return nil
}

// commitCertificateLocked appends the certificate, notifies the consumer and
// applies its effect: finalization for fast/slow, view advancement for skip.
func (e *Engine) commitCertificateLocked(slot uint64, st *slotState, cert *model.Certificate) {
	st.certificates = append(st.certificates, cert)
	e.metrics.CertificateFormed(cert.Type.String())
	e.log.Info().
		Uint64("slot", slot).
		Uint64("view", cert.View).
		Str("type", cert.Type.String()).
		Uint64("stake", cert.AggregatedStake).
		Msg("certificate formed")
	e.consumer.OnCertificateFormed(cert)

	if cert.Finalizing() {
		st.finalized = cert
		st.phase = model.PhaseCommitted
		e.lastFinalizedID = cert.BlockID
		if block, known := st.blocks[cert.BlockID]; known {
			e.consumer.OnBlockFinalized(block)
		}
		return
	}

	// skip certificate: abandon the view, keep the slot open
	e.advanceViewLocked(slot, st)
}

// AdvanceView moves the slot to its next view, invoked on timeout or skip.
// Per-view vote state is pruned; Byzantine exclusions persist.
func (e *Engine) AdvanceView(slot uint64) (model.ViewState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.slotStateLocked(slot)
	if st.finalized != nil {
		return model.ViewState{Slot: slot, View: st.view, Phase: st.phase}, nil
	}
	e.advanceViewLocked(slot, st)
	return model.ViewState{Slot: slot, View: st.view, Phase: st.phase}, nil
}

func (e *Engine) advanceViewLocked(slot uint64, st *slotState) {
	st.view++
	st.phase = model.PhaseProposing
	st.timeoutFired = false
	st.tracker = votetracker.NewTracker(slot, st.view)
	e.metrics.ViewAdvanced()
	e.log.Debug().Uint64("slot", slot).Uint64("view", st.view).Msg("advanced to next view")
}

// OnViewTimeout records that the view timer for (slot, view) fired: the fast
// path closes and the phase moves to Waiting. A slow certificate is still
// attempted from the votes on hand.
func (e *Engine) OnViewTimeout(slot, view uint64) (model.ViewState, *model.Certificate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.slotStateLocked(slot)
	if view != st.view || st.finalized != nil {
		return model.ViewState{Slot: slot, View: st.view, Phase: st.phase}, nil
	}
	st.timeoutFired = true
	if st.phase == model.PhaseProposing || st.phase == model.PhaseVoting {
		st.phase = model.PhaseWaiting
	}
	cert := e.tryFormLocked(slot, st)
	return model.ViewState{Slot: slot, View: st.view, Phase: st.phase}, cert
}

// ProduceNotarVote creates, records and returns this node's own notarization
// vote for the block, for broadcast by the caller. It returns
// DuplicatedVoteError if the node already voted in the current view.
func (e *Engine) ProduceNotarVote(block *model.Block) (*model.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.slotStateLocked(block.Slot)
	if st.finalized != nil {
		return nil, fmt.Errorf("slot %d already finalized", block.Slot)
	}
	if block.View != st.view {
		return nil, fmt.Errorf("block view %d is not the current view %d of slot %d", block.View, st.view, block.Slot)
	}
	if _, known := st.blocks[block.ID()]; !known {
		return nil, fmt.Errorf("block %x not registered with engine", block.ID())
	}
	return e.produceVoteLocked(st, block.Slot, block.ID(), model.VoteNotarize)
}

// ProduceSkipVote creates, records and returns this node's own skip vote for
// the slot's current view, cast on timeout or on observed leader
// misbehavior. It returns DuplicatedVoteError if the node already voted in
// the current view: a validator contributes at most one vote per (slot, view).
func (e *Engine) ProduceSkipVote(slot uint64) (*model.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.slotStateLocked(slot)
	if st.finalized != nil {
		return nil, fmt.Errorf("slot %d already finalized", slot)
	}
	return e.produceVoteLocked(st, slot, model.ZeroID, model.VoteSkip)
}

func (e *Engine) produceVoteLocked(st *slotState, slot uint64, blockID model.Identifier, kind model.VoteKind) (*model.Vote, error) {
	if st.tracker.HasVoted(e.self) {
		return nil, model.NewDuplicatedVoteErrorf(
			"already voted in slot %d view %d", slot, st.view)
	}

	unsigned := model.Vote{
		Slot:     slot,
		View:     st.view,
		BlockID:  blockID,
		SignerID: e.self,
		Kind:     kind,
	}
	sig, err := e.signer.Sign(unsigned.SigningMessage())
	if err != nil {
		return nil, fmt.Errorf("could not sign own vote: %w", err)
	}
	vote, err := model.NewVote(slot, st.view, blockID, e.self, kind, sig)
	if err != nil {
		return nil, fmt.Errorf("could not construct own vote: %w", err)
	}

	status, err := e.submitLocked(vote, false)
	if err != nil {
		return nil, fmt.Errorf("could not record own vote: %w", err)
	}
	if status != VoteAccepted {
		return nil, fmt.Errorf("own vote not accepted: %s", status)
	}
	return vote, nil
}

// OnCertificateReceived validates and adopts a certificate formed elsewhere.
// A finalizing certificate conflicting with the slot's already-finalized
// block is a SafetyViolationError: under the configured fault bounds this
// state is unreachable, so it is escalated as a hard alarm, never
// reconciled.
func (e *Engine) OnCertificateReceived(cert *model.Certificate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateCertificateLocked(cert); err != nil {
		return err
	}

	st := e.slotStateLocked(cert.Slot)
	if cert.Finalizing() && st.finalized != nil {
		if st.finalized.BlockID != cert.BlockID {
			return model.SafetyViolationError{
				Slot:        cert.Slot,
				Existing:    st.finalized,
				Conflicting: cert,
			}
		}
		return nil // already finalized the same block
	}
	for _, known := range st.certificates {
		if known.ID() == cert.ID() {
			return nil
		}
	}

	if cert.Type == model.CertSkip {
		if cert.View != st.view || st.finalized != nil {
			return nil // stale skip certificate
		}
		e.commitCertificateLocked(cert.Slot, st, cert)
		return nil
	}
	e.commitCertificateLocked(cert.Slot, st, cert)
	return nil
}

// validateCertificateLocked checks a received certificate's structure and
// stake against the committee snapshot. The snapshot total is used rather
// than the current active stake: the certificate may predate local
// exclusions, and past certificates remain valid.
func (e *Engine) validateCertificateLocked(cert *model.Certificate) error {
	var threshold float64
	switch cert.Type {
	case model.CertFast:
		threshold = e.cfg.FastThreshold
	case model.CertSlow, model.CertSkip:
		threshold = e.cfg.SlowThreshold
	default:
		return fmt.Errorf("unknown certificate type %d", cert.Type)
	}
	if cert.Type == model.CertSkip && cert.BlockID != model.ZeroID {
		return fmt.Errorf("skip certificate must not reference a block")
	}
	if cert.Finalizing() && cert.BlockID == model.ZeroID {
		return fmt.Errorf("%s certificate must reference a block", cert.Type)
	}

	seen := make(map[model.Identifier]struct{}, len(cert.SignerIDs))
	var stake uint64
	for _, signerID := range cert.SignerIDs {
		if _, dup := seen[signerID]; dup {
			return fmt.Errorf("certificate lists signer %x twice", signerID)
		}
		seen[signerID] = struct{}{}
		identity, ok := e.committee.ByNodeID(signerID)
		if !ok {
			return model.NewInvalidSignerErrorf("certificate signer %x is not a committee member", signerID)
		}
		stake += identity.Stake
	}
	if stake != cert.AggregatedStake {
		return fmt.Errorf("certificate claims stake %d, signers hold %d", cert.AggregatedStake, stake)
	}
	if required := requiredStake(threshold, e.totalStake); stake < required {
		return fmt.Errorf("certificate stake %d below %s quorum %d", stake, cert.Type, required)
	}
	return nil
}

// AbandonSlot drops a slot that passed its validity deadline without
// finalizing. Its pending vote state is released; the terminal phase is
// Skipped.
func (e *Engine) AbandonSlot(slot uint64) model.ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.slotStateLocked(slot)
	if st.finalized == nil {
		st.phase = model.PhaseSkipped
		st.tracker = votetracker.NewTracker(slot, st.view)
		st.blocks = make(map[model.Identifier]*model.Block)
		e.log.Debug().Uint64("slot", slot).Msg("abandoned slot at deadline")
	}
	return model.ViewState{Slot: slot, View: st.view, Phase: st.phase}
}

// ViewState returns the slot's current consensus position.
func (e *Engine) ViewState(slot uint64) model.ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.slotStateLocked(slot)
	return model.ViewState{Slot: slot, View: st.view, Phase: st.phase}
}

// FinalizedCertificate returns the slot's finalization certificate, if one
// has formed.
func (e *Engine) FinalizedCertificate(slot uint64) (*model.Certificate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.slotStateLocked(slot)
	return st.finalized, st.finalized != nil
}

// Certificates returns all certificates formed for the slot, in formation
// order.
func (e *Engine) Certificates(slot uint64) []*model.Certificate {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.slotStateLocked(slot)
	out := make([]*model.Certificate, len(st.certificates))
	copy(out, st.certificates)
	return out
}

// IsByzantine reports whether the validator has been flagged for
// equivocation.
func (e *Engine) IsByzantine(nodeID model.Identifier) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, flagged := e.byzantine[nodeID]
	return flagged
}

func (e *Engine) slotStateLocked(slot uint64) *slotState {
	st, ok := e.slots[slot]
	if !ok {
		st = &slotState{
			phase:     model.PhaseProposing,
			tracker:   votetracker.NewTracker(slot, 0),
			blocks:    make(map[model.Identifier]*model.Block),
			proposals: make(map[uint64]model.Identifier),
		}
		e.slots[slot] = st
	}
	return st
}

func (e *Engine) markByzantineLocked(nodeID model.Identifier) {
	if _, flagged := e.byzantine[nodeID]; flagged {
		return
	}
	e.byzantine[nodeID] = struct{}{}
	if identity, ok := e.committee.ByNodeID(nodeID); ok {
		e.byzantineStake += identity.Stake
	}
	e.metrics.EquivocationDetected()
}

func (e *Engine) activeStakeLocked() uint64 {
	return e.totalStake - e.byzantineStake
}

// requiredStake is the minimum aggregated stake meeting the threshold
// fraction of the reference stake.
func requiredStake(threshold float64, reference uint64) uint64 {
	return uint64(math.Ceil(threshold * float64(reference)))
}
