package dag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forks-project/bank"
	"forks-project/dag"
	"forks-project/models"
)

func newGenesis(t *testing.T) *bank.Bank {
	t.Helper()
	return bank.NewGenesis(bank.NewAccountsDB(), models.EpochSchedule{SlotsPerEpoch: 32}, 4, []models.Account{
		{Pubkey: "mint", Lamports: 1_000_000},
	})
}

func child(t *testing.T, parent *bank.Bank, slot models.Slot) *bank.Bank {
	t.Helper()
	b, err := bank.NewFromParent(parent, slot)
	require.NoError(t, err)
	return b
}

func frozenChild(t *testing.T, parent *bank.Bank, slot models.Slot) *bank.Bank {
	t.Helper()
	b := child(t, parent, slot)
	b.Freeze()
	return b
}

func insert(t *testing.T, forks *dag.ForkTable, b *bank.Bank) {
	t.Helper()
	_, err := forks.Insert(b)
	require.NoError(t, err)
}

func slots(m map[models.Slot]struct{}) []models.Slot {
	out := make([]models.Slot, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	return out
}

func TestForkTable_New(t *testing.T) {
	forks := dag.New(newGenesis(t))
	b0, ok := forks.Get(0)
	require.True(t, ok)

	c := child(t, b0.(*bank.Bank), 1)
	c.RegisterTick()
	insert(t, forks, c)

	got, ok := forks.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.TickHeight())
	assert.Equal(t, uint64(1), forks.WorkingCheckpoint().TickHeight())
	assert.Equal(t, models.Slot(0), forks.Root())
	assert.Equal(t, models.Slot(0), forks.RootCheckpoint().Slot())
}

func TestForkTable_NewFromBanks(t *testing.T) {
	genesis := newGenesis(t)
	c := frozenChild(t, genesis, 1)

	forks, err := dag.NewFromBanks([]models.Checkpoint{genesis, c}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.Slot(0), forks.Root())
	assert.Equal(t, models.Slot(1), forks.WorkingCheckpoint().Slot())

	forks, err = dag.NewFromBanks([]models.Checkpoint{c, genesis}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.Slot(0), forks.Root())
	assert.Equal(t, models.Slot(1), forks.WorkingCheckpoint().Slot())
	assert.Equal(t, 2, forks.Len())
}

func TestForkTable_NewFromBanksSharedAncestors(t *testing.T) {
	genesis := newGenesis(t)
	b1 := frozenChild(t, genesis, 1)
	b2 := frozenChild(t, b1, 2)
	b3 := frozenChild(t, b1, 3)
	b4 := frozenChild(t, genesis, 4)

	forks, err := dag.NewFromBanks([]models.Checkpoint{b2, b3, b4}, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, forks.Len())
	for _, s := range []models.Slot{0, 1, 2, 3, 4} {
		_, ok := forks.Get(s)
		assert.True(t, ok, "slot %d", s)
	}
}

func TestForkTable_NewFromBanksRejectsMissingRoot(t *testing.T) {
	genesis := newGenesis(t)

	_, err := dag.NewFromBanks([]models.Checkpoint{genesis}, 7)
	require.Error(t, err)
	assert.True(t, dag.IsInvariantViolation(err))
	assert.ErrorIs(t, err, dag.ErrMissingRoot)

	_, err = dag.NewFromBanks(nil, 0)
	assert.ErrorIs(t, err, dag.ErrNoHeads)
}

func TestForkTable_Descendants(t *testing.T) {
	genesis := newGenesis(t)
	forks := dag.New(genesis)
	insert(t, forks, child(t, genesis, 1))
	insert(t, forks, child(t, genesis, 2))

	descendants := forks.Descendants()
	assert.ElementsMatch(t, []models.Slot{1, 2}, slots(descendants[0]))
	require.Contains(t, descendants, models.Slot(1))
	require.Contains(t, descendants, models.Slot(2))
	assert.Empty(t, descendants[1])
	assert.Empty(t, descendants[2])
}

func TestForkTable_Ancestors(t *testing.T) {
	genesis := newGenesis(t)
	forks := dag.New(genesis)
	insert(t, forks, child(t, genesis, 1))
	insert(t, forks, child(t, genesis, 2))

	ancestors := forks.Ancestors()
	assert.Empty(t, ancestors[0])
	assert.Equal(t, []models.Slot{0}, slots(ancestors[1]))
	assert.Equal(t, []models.Slot{0}, slots(ancestors[2]))
}

func TestForkTable_AncestorDescendantDuality(t *testing.T) {
	genesis := newGenesis(t)
	b1 := frozenChild(t, genesis, 1)
	b2 := frozenChild(t, genesis, 2)
	b3 := frozenChild(t, b1, 3)
	b4 := frozenChild(t, b3, 4)
	b5 := child(t, b2, 5)

	forks := dag.New(genesis)
	for _, b := range []*bank.Bank{b1, b2, b3, b4, b5} {
		insert(t, forks, b)
	}

	ancestors := forks.Ancestors()
	descendants := forks.Descendants()
	for p := range ancestors {
		for c := range ancestors {
			_, isDesc := descendants[p][c]
			_, isAnc := ancestors[c][p]
			assert.Equal(t, isDesc, isAnc, "parent %d child %d", p, c)
		}
	}
}

func TestForkTable_FrozenAndActive(t *testing.T) {
	genesis := newGenesis(t)
	forks := dag.New(genesis)
	insert(t, forks, child(t, genesis, 1))

	_, ok := forks.FrozenCheckpoints()[0]
	assert.True(t, ok)
	_, ok = forks.FrozenCheckpoints()[1]
	assert.False(t, ok)
	assert.Equal(t, []models.Slot{1}, forks.ActiveCheckpoints())

	status := forks.Status()
	assert.Equal(t, 2, status.Checkpoints)
	assert.Equal(t, 1, status.Frozen)
	assert.Equal(t, 1, status.Active)
	assert.Equal(t, models.Slot(1), status.HighestSlot)
}

func TestForkTable_InsertDuplicate(t *testing.T) {
	genesis := newGenesis(t)
	forks := dag.New(genesis)
	b1 := frozenChild(t, genesis, 1)
	five := child(t, genesis, 5)
	insert(t, forks, b1)
	insert(t, forks, five)

	_, err := forks.Insert(child(t, b1, 5))
	require.Error(t, err)
	assert.True(t, dag.IsInvariantViolation(err))
	assert.ErrorIs(t, err, dag.ErrDuplicateSlot)

	got, ok := forks.Get(5)
	require.True(t, ok)
	assert.Same(t, five, got.(*bank.Bank))
	assert.Equal(t, models.Slot(0), got.ParentSlot())
	assert.Equal(t, 3, forks.Len())
}

func TestForkTable_Remove(t *testing.T) {
	genesis := newGenesis(t)
	forks := dag.New(genesis)
	insert(t, forks, child(t, genesis, 1))

	_, _, err := forks.Remove(0)
	assert.ErrorIs(t, err, dag.ErrRemoveRoot)

	removed, ok, err := forks.Remove(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Slot(1), removed.Slot())

	_, ok, err = forks.Remove(1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok = forks.Get(1)
	assert.False(t, ok)
}

func TestForkTable_GetMissingSlot(t *testing.T) {
	forks := dag.New(newGenesis(t))
	got, ok := forks.Get(42)
	assert.False(t, ok)
	assert.Nil(t, got)
}
