package relay_test

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/network"
	"github.com/alpenlabs/alpenglow/rotor/relay"
	"github.com/alpenlabs/alpenglow/utils/unittest"
)

var testParams = model.CodingParams{DataShreds: 4, TotalShreds: 6}

// sentMessage records one conduit send.
type sentMessage struct {
	targets []model.Identifier
	event   interface{}
}

// recordingConduit captures every send for inspection.
type recordingConduit struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (c *recordingConduit) Unicast(target model.Identifier, event interface{}) error {
	return c.Multicast([]model.Identifier{target}, event)
}

func (c *recordingConduit) Multicast(targets []model.Identifier, event interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{targets: targets, event: event})
	return nil
}

func (c *recordingConduit) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage{}, c.sent...)
}

var _ network.Conduit = (*recordingConduit)(nil)

func TestAssignDeterministic(t *testing.T) {
	blockID := unittest.IdentifierFixture()
	committee := unittest.IdentityListFixture(10, unittest.WithStake(10))

	for _, policy := range []relay.Policy{relay.PolicyUniform, relay.PolicyStakeWeighted} {
		first, err := relay.Assign(blockID, testParams, committee, policy, 3)
		require.NoError(t, err)

		// a shuffled committee input yields the identical assignment
		shuffled := append(model.IdentityList{}, committee[7:]...)
		shuffled = append(shuffled, committee[:7]...)
		second, err := relay.Assign(blockID, testParams, shuffled, policy, 3)
		require.NoError(t, err)
		require.Equal(t, first, second, "policy %s", policy)
	}
}

func TestAssignCoversAllIndices(t *testing.T) {
	blockID := unittest.IdentifierFixture()
	committee := unittest.IdentityListFixture(10, unittest.WithStake(10))

	assignment, err := relay.Assign(blockID, testParams, committee, relay.PolicyStakeWeighted, 3)
	require.NoError(t, err)

	for index := uint16(0); index < testParams.TotalShreds; index++ {
		relays := assignment.Relays(index)
		require.Len(t, relays, 3)
		for _, id := range relays {
			require.True(t, assignment.IsRelay(index, id))
			_, member := committee.ByNodeID(id)
			require.True(t, member)
		}
	}
}

func TestAssignVariesWithBlock(t *testing.T) {
	committee := unittest.IdentityListFixture(20, unittest.WithStake(10))

	a, err := relay.Assign(unittest.IdentifierFixture(), testParams, committee, relay.PolicyStakeWeighted, 3)
	require.NoError(t, err)
	b, err := relay.Assign(unittest.IdentifierFixture(), testParams, committee, relay.PolicyStakeWeighted, 3)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestAssignFanoutCapped(t *testing.T) {
	committee := unittest.IdentityListFixture(3, unittest.WithStake(10))

	assignment, err := relay.Assign(unittest.IdentifierFixture(), testParams, committee, relay.PolicyUniform, 10)
	require.NoError(t, err)
	require.Len(t, assignment.Relays(0), 3)
}

func TestAssignRejectsInvalidInput(t *testing.T) {
	committee := unittest.IdentityListFixture(5, unittest.WithStake(10))
	blockID := unittest.IdentifierFixture()

	_, err := relay.Assign(blockID, testParams, nil, relay.PolicyUniform, 3)
	require.Error(t, err)

	_, err = relay.Assign(blockID, testParams, committee, relay.PolicyUniform, 0)
	require.Error(t, err)

	_, err = relay.Assign(blockID, testParams, committee, relay.Policy("bogus"), 3)
	require.Error(t, err)
}

// TestStakeWeightedPrefersHighStake checks the sampling bias: across many
// blocks, a validator holding most of the stake leads the relay order far
// more often than any small validator.
func TestStakeWeightedPrefersHighStake(t *testing.T) {
	committee := unittest.IdentityListFixture(9, unittest.WithStake(1))
	whale := unittest.IdentityFixture(unittest.WithStake(100))
	committee = append(committee, whale)

	whaleLeads := 0
	draws := 200
	for i := 0; i < draws; i++ {
		assignment, err := relay.Assign(unittest.IdentifierFixture(), testParams, committee, relay.PolicyStakeWeighted, 1)
		require.NoError(t, err)
		if assignment.Relays(0)[0] == whale.NodeID {
			whaleLeads++
		}
	}
	require.Greater(t, whaleLeads, draws/2)
}

func shredSetFixture(t *testing.T) []*model.Shred {
	shreds := make([]*model.Shred, 0, testParams.TotalShreds)
	blockID := unittest.IdentifierFixture()
	for i := uint16(0); i < testParams.TotalShreds; i++ {
		payload := unittest.SeedFixture(64)
		shreds = append(shreds, &model.Shred{
			BlockID:  blockID,
			Slot:     1,
			Index:    i,
			Params:   testParams,
			IsParity: i >= testParams.DataShreds,
			Payload:  payload,
			Checksum: model.HashToID(payload),
		})
	}
	return shreds
}

func TestBroadcastSeedsAssignedRelays(t *testing.T) {
	committee := unittest.IdentityListFixture(10, unittest.WithStake(10)).Sort()
	self := committee[0].NodeID
	conduit := &recordingConduit{}

	r, err := relay.New(zerolog.Nop(), conduit, self, committee, relay.PolicyUniform, 3, 2)
	require.NoError(t, err)

	shreds := shredSetFixture(t)
	require.NoError(t, r.Broadcast(shreds))

	assignment, err := relay.Assign(shreds[0].BlockID, testParams, committee, relay.PolicyUniform, 3)
	require.NoError(t, err)

	messages := conduit.messages()
	require.Len(t, messages, int(testParams.TotalShreds))
	for _, sent := range messages {
		msg, ok := sent.event.(*network.ShredMessage)
		require.True(t, ok)
		require.Equal(t, uint8(1), msg.Hops)
		for _, target := range sent.targets {
			require.NotEqual(t, self, target)
			require.True(t, assignment.IsRelay(msg.Shred.Index, target))
		}
	}

	require.Error(t, r.Broadcast(nil))
}

func TestForwardOnlyWhenAssigned(t *testing.T) {
	committee := unittest.IdentityListFixture(10, unittest.WithStake(10)).Sort()
	shreds := shredSetFixture(t)

	assignment, err := relay.Assign(shreds[0].BlockID, testParams, committee, relay.PolicyUniform, 2)
	require.NoError(t, err)

	assigned := assignment.Relays(0)[0]
	var outsider model.Identifier
	for _, identity := range committee {
		if !assignment.IsRelay(0, identity.NodeID) {
			outsider = identity.NodeID
			break
		}
	}

	msg := &network.ShredMessage{Shred: shreds[0], Hops: 1}

	// an assigned relay fans out to the rest of the committee
	conduit := &recordingConduit{}
	r, err := relay.New(zerolog.Nop(), conduit, assigned, committee, relay.PolicyUniform, 2, 2)
	require.NoError(t, err)
	require.NoError(t, r.Forward(msg))
	messages := conduit.messages()
	require.Len(t, messages, 1)
	require.Len(t, messages[0].targets, len(committee)-1)
	forwarded := messages[0].event.(*network.ShredMessage)
	require.Equal(t, uint8(2), forwarded.Hops)

	// a node that is not assigned stays silent
	conduit = &recordingConduit{}
	r, err = relay.New(zerolog.Nop(), conduit, outsider, committee, relay.PolicyUniform, 2, 2)
	require.NoError(t, err)
	require.NoError(t, r.Forward(msg))
	require.Empty(t, conduit.messages())
}

func TestForwardStopsAtHopBound(t *testing.T) {
	committee := unittest.IdentityListFixture(10, unittest.WithStake(10)).Sort()
	shreds := shredSetFixture(t)

	conduit := &recordingConduit{}
	r, err := relay.New(zerolog.Nop(), conduit, committee[0].NodeID, committee, relay.PolicyUniform, 2, 2)
	require.NoError(t, err)

	require.NoError(t, r.Forward(&network.ShredMessage{Shred: shreds[0], Hops: 2}))
	require.Empty(t, conduit.messages())
}
