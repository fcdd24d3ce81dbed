package leader_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/alpenglow/consensus/votor/leader"
	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/utils/unittest"
)

func TestNewSelectorValidation(t *testing.T) {
	committee := unittest.IdentityListFixture(4, unittest.WithStake(10))

	_, err := leader.NewSelector(nil, committee)
	require.Error(t, err)

	_, err = leader.NewSelector(unittest.SeedFixture(32), nil)
	require.Error(t, err)

	zeroStake := unittest.IdentityListFixture(4, unittest.WithStake(0))
	_, err = leader.NewSelector(unittest.SeedFixture(32), zeroStake)
	require.Error(t, err)
}

func TestSelectionDeterministic(t *testing.T) {
	seed := unittest.SeedFixture(32)
	committee := unittest.IdentityListFixture(10, unittest.WithStake(10))

	first, err := leader.NewSelector(seed, committee)
	require.NoError(t, err)
	// same seed, shuffled committee input: canonical ordering makes the
	// selectors agree
	shuffled := append(model.IdentityList{}, committee[5:]...)
	shuffled = append(shuffled, committee[:5]...)
	second, err := leader.NewSelector(seed, shuffled)
	require.NoError(t, err)

	for slot := uint64(0); slot < 20; slot++ {
		for view := uint64(0); view < 5; view++ {
			a, err := first.LeaderForView(slot, view)
			require.NoError(t, err)
			b, err := second.LeaderForView(slot, view)
			require.NoError(t, err)
			require.Equal(t, a, b)
		}
	}
}

func TestSelectionDependsOnView(t *testing.T) {
	selector, err := leader.NewSelector(unittest.SeedFixture(32), unittest.IdentityListFixture(50, unittest.WithStake(10)))
	require.NoError(t, err)

	// across many views of one slot, more than one leader must appear
	leaders := make(map[model.Identifier]struct{})
	for view := uint64(0); view < 50; view++ {
		id, err := selector.LeaderForView(7, view)
		require.NoError(t, err)
		leaders[id] = struct{}{}
	}
	require.Greater(t, len(leaders), 1)
}

func TestZeroStakeNeverSelected(t *testing.T) {
	committee := unittest.IdentityListFixture(5, unittest.WithStake(10))
	idle := unittest.IdentityFixture(unittest.WithStake(0))
	committee = append(committee, idle)

	selector, err := leader.NewSelector(unittest.SeedFixture(32), committee)
	require.NoError(t, err)

	for slot := uint64(0); slot < 200; slot++ {
		id, err := selector.LeaderForView(slot, 0)
		require.NoError(t, err)
		require.NotEqual(t, idle.NodeID, id)
	}
}

// TestSelectionProportionalToStake draws many slots and checks that a
// validator holding half the total stake is selected roughly half the time.
func TestSelectionProportionalToStake(t *testing.T) {
	committee := unittest.IdentityListFixture(9, unittest.WithStake(10))
	whale := unittest.IdentityFixture(unittest.WithStake(90))
	committee = append(committee, whale)

	selector, err := leader.NewSelector(unittest.SeedFixture(32), committee)
	require.NoError(t, err)
	require.Equal(t, uint64(180), selector.TotalStake())

	draws := 2000
	whaleWins := 0
	for slot := 0; slot < draws; slot++ {
		id, err := selector.LeaderForView(uint64(slot), 0)
		require.NoError(t, err)
		if id == whale.NodeID {
			whaleWins++
		}
	}

	// expectation is 0.5 of draws; allow a generous band around it
	require.InDelta(t, float64(draws)/2, float64(whaleWins), float64(draws)/10)
}
