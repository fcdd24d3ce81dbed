// Package relay assigns fragment propagation responsibility and drives the
// bounded fan-out of shreds through the committee.
package relay

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/alpenlabs/alpenglow/model"
)

// Policy selects how relays are drawn for each shred index. The assignment
// policy is a tunable, not a protocol constant.
type Policy string

const (
	// PolicyUniform assigns relays round-robin over the canonical committee
	// order, rotated per block.
	PolicyUniform Policy = "uniform"
	// PolicyStakeWeighted orders the committee by a deterministic
	// stake-weighted draw per block, so high-stake (and typically
	// high-bandwidth) validators carry proportionally more fragments.
	PolicyStakeWeighted Policy = "stake-weighted"
)

// Assignment maps each shred index to its responsible relay validators.
// Every index gets multiple independent relays, so honest majority stake can
// always deliver at least K fragments to every honest validator.
type Assignment map[uint16][]model.Identifier

// Assign computes the deterministic relay assignment for one block's shred
// set. All nodes derive the same assignment from (blockID, committee,
// policy, fanout).
func Assign(
	blockID model.Identifier,
	params model.CodingParams,
	identities model.IdentityList,
	policy Policy,
	fanout int,
) (Assignment, error) {
	if len(identities) == 0 {
		return nil, fmt.Errorf("committee must not be empty")
	}
	if fanout < 1 {
		return nil, fmt.Errorf("fanout must be positive, got %d", fanout)
	}
	if fanout > len(identities) {
		fanout = len(identities)
	}

	var order []model.Identifier
	switch policy {
	case PolicyUniform:
		order = uniformOrder(blockID, identities)
	case PolicyStakeWeighted:
		order = stakeWeightedOrder(blockID, identities)
	default:
		return nil, fmt.Errorf("unknown relay policy %q", policy)
	}

	assignment := make(Assignment, params.TotalShreds)
	for index := uint16(0); index < params.TotalShreds; index++ {
		relays := make([]model.Identifier, 0, fanout)
		for j := 0; j < fanout; j++ {
			relays = append(relays, order[(int(index)*fanout+j)%len(order)])
		}
		assignment[index] = relays
	}
	return assignment, nil
}

// Relays returns the relay set for one index.
func (a Assignment) Relays(index uint16) []model.Identifier {
	return a[index]
}

// IsRelay reports whether the node is assigned to the given index.
func (a Assignment) IsRelay(index uint16, nodeID model.Identifier) bool {
	for _, relay := range a[index] {
		if relay == nodeID {
			return true
		}
	}
	return false
}

// uniformOrder is the canonical committee order rotated by a per-block
// offset.
func uniformOrder(blockID model.Identifier, identities model.IdentityList) []model.Identifier {
	canonical := identities.Sort().NodeIDs()
	offset := int(binary.BigEndian.Uint64(blockID[:8]) % uint64(len(canonical)))
	order := make([]model.Identifier, 0, len(canonical))
	order = append(order, canonical[offset:]...)
	order = append(order, canonical[:offset]...)
	return order
}

// stakeWeightedOrder is a deterministic weighted sample without replacement:
// each member draws a pseudo-random priority key shaped by its stake
// (exponential-sort weighted sampling), and the committee is ordered by key.
// Zero-stake members sort last.
func stakeWeightedOrder(blockID model.Identifier, identities model.IdentityList) []model.Identifier {
	canonical := identities.Sort()
	type keyed struct {
		id  model.Identifier
		key float64
	}
	keys := make([]keyed, 0, len(canonical))
	for _, identity := range canonical {
		key := math.Inf(1)
		if identity.Stake > 0 {
			u := drawUnit(blockID, identity.NodeID)
			key = -math.Log(u) / float64(identity.Stake)
		}
		keys = append(keys, keyed{id: identity.NodeID, key: key})
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].key < keys[j].key })

	order := make([]model.Identifier, 0, len(keys))
	for _, k := range keys {
		order = append(order, k.id)
	}
	return order
}

// drawUnit derives a pseudo-random value in (0, 1] from the block and node.
func drawUnit(blockID, nodeID model.Identifier) float64 {
	h := sha256.New()
	h.Write(blockID[:])
	h.Write(nodeID[:])
	digest := h.Sum(nil)
	raw := binary.BigEndian.Uint64(digest[:8])
	return (float64(raw) + 1) / float64(math.MaxUint64)
}
