package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/utils/unittest"
)

func TestMakeIDDeterministic(t *testing.T) {
	block := unittest.BlockFixture()
	require.Equal(t, block.ID(), block.ID())

	// any field change moves the identifier
	modified := *block
	modified.Slot++
	require.NotEqual(t, block.ID(), modified.ID())

	modified = *block
	modified.Payload = append([]byte{}, block.Payload...)
	modified.Payload[0] ^= 0xff
	require.NotEqual(t, block.ID(), modified.ID())
}

func TestBlockEncodeRoundTrip(t *testing.T) {
	block := unittest.BlockFixture()

	encoded, err := model.EncodeBlock(block)
	require.NoError(t, err)
	decoded, err := model.DecodeBlock(encoded)
	require.NoError(t, err)

	require.Equal(t, block, decoded)
	require.Equal(t, block.ID(), decoded.ID())
}

func TestNewVoteValidation(t *testing.T) {
	signer := unittest.IdentifierFixture()
	blockID := unittest.IdentifierFixture()
	sig := unittest.SeedFixture(48)

	vote, err := model.NewVote(1, 0, blockID, signer, model.VoteNotarize, sig)
	require.NoError(t, err)
	require.Equal(t, model.VoteNotarize, vote.Kind)

	_, err = model.NewVote(1, 0, model.ZeroID, signer, model.VoteNotarize, sig)
	require.Error(t, err, "notarize vote must reference a block")

	_, err = model.NewVote(1, 0, blockID, signer, model.VoteSkip, sig)
	require.Error(t, err, "skip vote must not reference a block")

	_, err = model.NewVote(1, 0, model.ZeroID, model.ZeroID, model.VoteSkip, sig)
	require.Error(t, err, "signer must not be zero")

	_, err = model.NewVote(1, 0, model.ZeroID, signer, model.VoteSkip, nil)
	require.Error(t, err, "signature must not be empty")

	_, err = model.NewVote(1, 0, model.ZeroID, signer, model.VoteKind(9), sig)
	require.Error(t, err, "unknown vote kind")
}

func TestVoteEquivalence(t *testing.T) {
	vote := unittest.VoteFixture()

	resigned := *vote
	resigned.SigData = unittest.SeedFixture(48)
	require.True(t, vote.Equivalent(&resigned))

	conflicting := *vote
	conflicting.BlockID = unittest.IdentifierFixture()
	require.False(t, vote.Equivalent(&conflicting))
}

func TestSigningMessageExcludesSignature(t *testing.T) {
	vote := unittest.VoteFixture()

	resigned := *vote
	resigned.SigData = unittest.SeedFixture(48)
	require.Equal(t, vote.SigningMessage(), resigned.SigningMessage())

	other := *vote
	other.View++
	require.NotEqual(t, vote.SigningMessage(), other.SigningMessage())
}

func TestCertificateFinalizing(t *testing.T) {
	require.True(t, (&model.Certificate{Type: model.CertFast}).Finalizing())
	require.True(t, (&model.Certificate{Type: model.CertSlow}).Finalizing())
	require.False(t, (&model.Certificate{Type: model.CertSkip}).Finalizing())
}

func TestShredChecksum(t *testing.T) {
	payload := unittest.SeedFixture(256)
	s := &model.Shred{
		BlockID:  unittest.IdentifierFixture(),
		Index:    3,
		Payload:  payload,
		Checksum: model.HashToID(payload),
	}
	require.True(t, s.VerifyChecksum())

	s.Payload[10] ^= 0x01
	require.False(t, s.VerifyChecksum())
}

func TestIdentityListCanonicalOrder(t *testing.T) {
	list := unittest.IdentityListFixture(10)
	sorted := list.Sort()

	require.Len(t, sorted, 10)
	ids := sorted.NodeIDs()
	for i := 1; i < len(ids); i++ {
		require.True(t, string(ids[i-1][:]) < string(ids[i][:]))
	}

	// sorting again is a no-op
	require.Equal(t, sorted, sorted.Sort())
}

func TestIdentityListLookup(t *testing.T) {
	list := unittest.IdentityListFixture(5, unittest.WithStake(7))
	require.Equal(t, uint64(35), list.TotalStake())

	identity, ok := list.ByNodeID(list[2].NodeID)
	require.True(t, ok)
	require.Equal(t, list[2], identity)

	_, ok = list.ByNodeID(unittest.IdentifierFixture())
	require.False(t, ok)
}
