// Package unittest provides fixtures and lightweight stand-ins for tests.
package unittest

import (
	"crypto/rand"
	"fmt"

	"github.com/alpenlabs/alpenglow/model"
)

// IdentifierFixture returns a random identifier.
func IdentifierFixture() model.Identifier {
	var id model.Identifier
	read(id[:])
	return id
}

// IdentifierListFixture returns n distinct random identifiers.
func IdentifierListFixture(n int) []model.Identifier {
	ids := make([]model.Identifier, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, IdentifierFixture())
	}
	return ids
}

// IdentityFixture returns a committee member with random node ID and key and
// the given options applied.
func IdentityFixture(opts ...func(*model.Identity)) *model.Identity {
	identity := &model.Identity{
		NodeID: IdentifierFixture(),
		PubKey: SeedFixture(32),
		Stake:  100,
	}
	for _, opt := range opts {
		opt(identity)
	}
	return identity
}

// WithStake sets the identity's stake.
func WithStake(stake uint64) func(*model.Identity) {
	return func(identity *model.Identity) {
		identity.Stake = stake
	}
}

// WithNodeID sets the identity's node ID.
func WithNodeID(nodeID model.Identifier) func(*model.Identity) {
	return func(identity *model.Identity) {
		identity.NodeID = nodeID
	}
}

// IdentityListFixture returns a committee of n members, each with the options
// applied.
func IdentityListFixture(n int, opts ...func(*model.Identity)) model.IdentityList {
	list := make(model.IdentityList, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, IdentityFixture(opts...))
	}
	return list
}

// BlockFixture returns a block with random content and the given options
// applied.
func BlockFixture(opts ...func(*model.Block)) *model.Block {
	block := &model.Block{
		Slot:       1,
		View:       0,
		ProposerID: IdentifierFixture(),
		ParentID:   IdentifierFixture(),
		Payload:    SeedFixture(128),
	}
	for _, opt := range opts {
		opt(block)
	}
	return block
}

// WithSlot sets the block's slot.
func WithSlot(slot uint64) func(*model.Block) {
	return func(block *model.Block) {
		block.Slot = slot
	}
}

// WithView sets the block's view.
func WithView(view uint64) func(*model.Block) {
	return func(block *model.Block) {
		block.View = view
	}
}

// WithProposer sets the block's proposer.
func WithProposer(proposerID model.Identifier) func(*model.Block) {
	return func(block *model.Block) {
		block.ProposerID = proposerID
	}
}

// WithPayload sets the block's payload.
func WithPayload(payload []byte) func(*model.Block) {
	return func(block *model.Block) {
		block.Payload = payload
	}
}

// VoteFixture returns a valid notarization vote from a random signer.
func VoteFixture(opts ...func(*model.Vote)) *model.Vote {
	vote := &model.Vote{
		Slot:     1,
		View:     0,
		BlockID:  IdentifierFixture(),
		SignerID: IdentifierFixture(),
		Kind:     model.VoteNotarize,
		SigData:  SeedFixture(48),
	}
	for _, opt := range opts {
		opt(vote)
	}
	return vote
}

// SeedFixture returns n random bytes.
func SeedFixture(n int) []byte {
	seed := make([]byte, n)
	read(seed)
	return seed
}

func read(target []byte) {
	if _, err := rand.Read(target); err != nil {
		panic(fmt.Sprintf("could not read random bytes: %v", err))
	}
}
