// Package leader implements deterministic, verifiable, stake-weighted leader
// selection. Selection is a pure function of (seed, slot, view, committee
// snapshot): every node derives the same leader, and the seed's VRF proof
// makes the draw verifiable after the fact.
package leader

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/alpenlabs/alpenglow/model"
)

// Selector holds the cumulative stake table for one committee snapshot and
// answers leader queries for any (slot, view) under that snapshot's seed.
type Selector struct {
	memberIDs  []model.Identifier
	weightSums []uint64 // cumulative stake in canonical member order
	totalStake uint64
	seed       []byte
}

// NewSelector builds a selector from the epoch seed and the committee
// snapshot. The snapshot is re-sorted into canonical order so that all nodes
// agree on the cumulative weight table. Identities with zero stake occupy an
// empty weight range and are never selected.
func NewSelector(seed []byte, identities model.IdentityList) (*Selector, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("selection seed must not be empty")
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("committee must not be empty")
	}

	canonical := identities.Sort()

	weightSums := make([]uint64, 0, len(canonical))
	var cumsum uint64
	for _, identity := range canonical {
		cumsum += identity.Stake
		weightSums = append(weightSums, cumsum)
	}
	if cumsum == 0 {
		return nil, fmt.Errorf("total stake must be greater than zero")
	}

	return &Selector{
		memberIDs:  canonical.NodeIDs(),
		weightSums: weightSums,
		totalStake: cumsum,
		seed:       append([]byte(nil), seed...),
	}, nil
}

// LeaderForView returns the leader for the given (slot, view). The draw is a
// fitness-proportionate selection: a pseudo-random point in [0, totalStake)
// derived from (seed, slot, view) falls into exactly one validator's
// cumulative weight range.
func (s *Selector) LeaderForView(slot, view uint64) (model.Identifier, error) {
	draw := s.draw(slot, view) % s.totalStake

	// index of the first member whose cumulative weight exceeds the draw
	i := sort.Search(len(s.weightSums), func(i int) bool {
		return s.weightSums[i] > draw
	})
	if i == len(s.weightSums) {
		// unreachable: draw < totalStake = last cumulative weight
		return model.ZeroID, fmt.Errorf("selection draw %d outside weight table", draw)
	}
	return s.memberIDs[i], nil
}

// draw derives the selection randomness for (slot, view) from the seed.
func (s *Selector) draw(slot, view uint64) uint64 {
	var coords [16]byte
	binary.BigEndian.PutUint64(coords[0:8], slot)
	binary.BigEndian.PutUint64(coords[8:16], view)

	h := sha256.New()
	h.Write(s.seed)
	h.Write(coords[:])
	digest := h.Sum(nil)
	return binary.BigEndian.Uint64(digest[:8])
}

// TotalStake returns the snapshot's total stake, fixed at construction.
func (s *Selector) TotalStake() uint64 {
	return s.totalStake
}
