package model

import (
	"bytes"

	"golang.org/x/exp/slices"
)

// Identity represents one validator in a committee snapshot: its node ID,
// its staking public key and its stake weight. Identities are immutable for
// the duration of the epoch their snapshot is used in quorum arithmetic.
type Identity struct {
	NodeID Identifier
	PubKey []byte
	Stake  uint64
}

// IdentityList is a committee snapshot: the fixed set of validators whose
// stake weights back all quorum computations for the slots it covers.
type IdentityList []*Identity

// TotalStake returns the sum of all stake weights in the snapshot.
func (il IdentityList) TotalStake() uint64 {
	var total uint64
	for _, identity := range il {
		total += identity.Stake
	}
	return total
}

// NodeIDs returns the node IDs in list order.
func (il IdentityList) NodeIDs() []Identifier {
	ids := make([]Identifier, 0, len(il))
	for _, identity := range il {
		ids = append(ids, identity.NodeID)
	}
	return ids
}

// ByNodeID returns the identity with the given node ID, if it is a member of
// the snapshot.
func (il IdentityList) ByNodeID(nodeID Identifier) (*Identity, bool) {
	for _, identity := range il {
		if identity.NodeID == nodeID {
			return identity, true
		}
	}
	return nil, false
}

// Filter returns the sub-list of identities satisfying the predicate, in the
// original order.
func (il IdentityList) Filter(keep func(*Identity) bool) IdentityList {
	var out IdentityList
	for _, identity := range il {
		if keep(identity) {
			out = append(out, identity)
		}
	}
	return out
}

// Sort returns a copy of the list in canonical order (ascending node ID).
// Quorum math and relay assignment both require every node to iterate the
// committee in the same order.
func (il IdentityList) Sort() IdentityList {
	out := make(IdentityList, len(il))
	copy(out, il)
	slices.SortFunc(out, func(a, b *Identity) int {
		return bytes.Compare(a.NodeID[:], b.NodeID[:])
	})
	return out
}
