package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/alpenglow/config"
	"github.com/alpenlabs/alpenglow/consensus/votor"
	"github.com/alpenlabs/alpenglow/consensus/votor/leader"
	"github.com/alpenlabs/alpenglow/consensus/votor/pacemaker"
	"github.com/alpenlabs/alpenglow/consensus/votor/pacemaker/timeout"
	"github.com/alpenlabs/alpenglow/engine/coordinator"
	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/module/irrecoverable"
	"github.com/alpenlabs/alpenglow/module/metrics"
	"github.com/alpenlabs/alpenglow/network"
	"github.com/alpenlabs/alpenglow/rotor"
	"github.com/alpenlabs/alpenglow/rotor/relay"
	"github.com/alpenlabs/alpenglow/rotor/repair"
	"github.com/alpenlabs/alpenglow/utils/unittest"
)

// silentConduit swallows all sends, counting certificate announcements per
// slot for inspection.
type silentConduit struct {
	mu       sync.Mutex
	certMsgs map[uint64]int
}

func (c *silentConduit) Unicast(target model.Identifier, event interface{}) error {
	return c.Multicast([]model.Identifier{target}, event)
}

func (c *silentConduit) Multicast(targets []model.Identifier, event interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg, ok := event.(*network.CertificateMessage); ok {
		if c.certMsgs == nil {
			c.certMsgs = make(map[uint64]int)
		}
		c.certMsgs[msg.Certificate.Slot]++
	}
	return nil
}

func (c *silentConduit) certCount(slot uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.certMsgs[slot]
}

var _ network.Conduit = (*silentConduit)(nil)

type noopConsumer struct{}

func (noopConsumer) OnCertificateFormed(*model.Certificate) {}
func (noopConsumer) OnBlockFinalized(*model.Block)          {}

type staticPayloads struct{}

func (staticPayloads) BuildPayload(slot uint64) []byte { return []byte("payload") }

type soloHarness struct {
	node    *coordinator.Engine
	votor   *votor.Engine
	conduit *silentConduit
	self    model.Identifier
}

// soloNode wires a coordinator over a single-validator committee: the node is
// always the leader and its own vote exceeds the fast quorum, so slots
// finalize without any peers.
func soloNode(t *testing.T) *soloHarness {
	log := zerolog.Nop()
	cfg := config.DefaultConfig()
	cfg.DataShreds = 4
	cfg.TotalShreds = 6
	cfg.ShredSize = 256
	cfg.SlotDuration = 10 * time.Second
	cfg.ViewTimeout = 10 * time.Second

	committee := unittest.IdentityListFixture(1, unittest.WithStake(100))
	self := committee[0].NodeID

	selector, err := leader.NewSelector(unittest.SeedFixture(32), committee)
	require.NoError(t, err)
	pm, err := pacemaker.New(log, timeout.DefaultConfig(cfg.ViewTimeout))
	require.NoError(t, err)

	conduit := &silentConduit{}
	votorEngine, err := votor.New(
		log, metrics.Noop{},
		votor.Config{FastThreshold: cfg.FastThreshold, SlowThreshold: cfg.SlowThreshold},
		committee, self,
		&unittest.PassthroughSigner{Tag: self[:]},
		unittest.AcceptAllVerifier{},
		selector, noopConsumer{},
	)
	require.NoError(t, err)

	rt := rotor.New(log, metrics.Noop{}, 2, 16)
	t.Cleanup(rt.Stop)

	rl, err := relay.New(log, conduit, self, committee, relay.PolicyStakeWeighted, 2, 2)
	require.NoError(t, err)
	repairer, err := repair.NewRepairer(log, metrics.Noop{}, conduit, self, committee, repair.DefaultConfig(cfg.RepairGracePeriod))
	require.NoError(t, err)

	node, err := coordinator.New(
		log, cfg, votorEngine, pm, selector, rt, rl, repairer,
		staticPayloads{}, conduit, self, committee,
	)
	require.NoError(t, err)
	return &soloHarness{node: node, votor: votorEngine, conduit: conduit, self: self}
}

func TestSoloNodeFinalizesSlots(t *testing.T) {
	h := soloNode(t)

	runCtx, cancel := context.WithCancel(context.Background())
	signalerCtx, errChan := irrecoverable.WithSignaler(runCtx)
	h.node.Start(signalerCtx)

	select {
	case <-h.node.Ready():
	case <-time.After(time.Second):
		t.Fatal("coordinator did not become ready")
	}

	// the node proposes, encodes, votes for and finalizes its own blocks,
	// advancing slot by slot
	require.Eventually(t, func() bool {
		_, finalized := h.votor.FinalizedCertificate(1)
		return finalized
	}, 10*time.Second, 10*time.Millisecond)

	cert, _ := h.votor.FinalizedCertificate(0)
	require.Equal(t, model.CertFast, cert.Type)

	select {
	case err := <-errChan:
		t.Fatalf("unexpected irrecoverable error: %v", err)
	default:
	}

	cancel()
	select {
	case <-h.node.Done():
	case <-time.After(time.Second):
		t.Fatal("coordinator did not shut down")
	}
}

func TestLateVoteDoesNotReannounceCertificates(t *testing.T) {
	h := soloNode(t)

	runCtx, cancel := context.WithCancel(context.Background())
	signalerCtx, _ := irrecoverable.WithSignaler(runCtx)
	h.node.Start(signalerCtx)
	<-h.node.Ready()

	require.Eventually(t, func() bool {
		_, finalized := h.votor.FinalizedCertificate(1)
		return finalized
	}, 10*time.Second, 10*time.Millisecond)

	announced := h.conduit.certCount(0)
	require.Positive(t, announced)

	// a late conflicting vote for the closed slot is equivocation evidence,
	// not a reason to re-announce the slot's certificates
	late, err := model.NewVote(0, 0, model.ZeroID, h.self, model.VoteSkip, []byte{1})
	require.NoError(t, err)
	require.NoError(t, h.node.Process(h.self, &network.VoteMessage{Vote: late}))

	require.Eventually(t, func() bool {
		return h.votor.IsByzantine(h.self)
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, announced, h.conduit.certCount(0))

	cancel()
	<-h.node.Done()
}

func TestProcessDropsUnknownTypes(t *testing.T) {
	h := soloNode(t)

	// queuing never blocks or errors, unknown payloads are dropped in the loop
	require.NoError(t, h.node.Process(unittest.IdentifierFixture(), struct{}{}))

	runCtx, cancel := context.WithCancel(context.Background())
	signalerCtx, _ := irrecoverable.WithSignaler(runCtx)
	h.node.Start(signalerCtx)
	<-h.node.Ready()

	cancel()
	<-h.node.Done()
}
