package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forks-project/models"
)

func newTestGenesis(t *testing.T) (*AccountsDB, *Bank) {
	t.Helper()
	db := NewAccountsDB()
	genesis := NewGenesis(db, models.EpochSchedule{SlotsPerEpoch: 32}, 4, []models.Account{
		{Pubkey: "alice", Lamports: 1_000},
		{Pubkey: "bob", Lamports: 10},
	})
	return db, genesis
}

func TestGenesisIsFrozenAndRooted(t *testing.T) {
	db, genesis := newTestGenesis(t)

	assert.True(t, genesis.IsFrozen())
	assert.True(t, db.IsRoot(0))
	assert.Equal(t, uint64(0), genesis.BlockHeight())
	assert.False(t, genesis.Hash().IsZero())
	assert.Empty(t, genesis.Parents())
}

func TestNewFromParent(t *testing.T) {
	_, genesis := newTestGenesis(t)

	child, err := NewFromParent(genesis, 1)
	require.NoError(t, err)
	assert.Equal(t, models.Slot(0), child.ParentSlot())
	assert.Equal(t, uint64(1), child.BlockHeight())
	assert.False(t, child.IsFrozen())
	assert.Contains(t, child.Ancestors(), models.Slot(0))
	assert.Contains(t, child.Ancestors(), models.Slot(1))

	_, err = NewFromParent(child, 2)
	assert.ErrorIs(t, err, ErrParentNotFrozen)

	_, err = NewFromParent(genesis, 0)
	assert.ErrorIs(t, err, ErrSlotNotAfterParent)
}

func TestTransferAndFreeze(t *testing.T) {
	_, genesis := newTestGenesis(t)
	child, err := NewFromParent(genesis, 1)
	require.NoError(t, err)

	require.NoError(t, child.Transfer("alice", "carol", 100))
	assert.ErrorIs(t, child.Transfer("bob", "carol", 100), ErrInsufficientFunds)
	assert.ErrorIs(t, child.Transfer("dave", "carol", 1), ErrUnknownAccount)
	assert.Equal(t, uint64(1), child.TransactionCount())

	carol, ok := child.Account("carol")
	require.True(t, ok)
	assert.Equal(t, uint64(100), carol.Lamports)

	child.RegisterTick()
	child.Freeze()
	assert.True(t, child.IsFrozen())
	assert.Equal(t, uint64(1), child.TickHeight())
	assert.ErrorIs(t, child.Store(models.Account{Pubkey: "x"}), ErrFrozen)

	// the parent still sees its own version
	alice, ok := genesis.Account("alice")
	require.True(t, ok)
	assert.Equal(t, uint64(1_000), alice.Lamports)
}

func TestSquashCutsParentsAndRoots(t *testing.T) {
	db, genesis := newTestGenesis(t)
	b1, err := NewFromParent(genesis, 1)
	require.NoError(t, err)
	require.NoError(t, b1.Transfer("alice", "bob", 5))
	b1.Freeze()
	b2, err := NewFromParent(b1, 2)
	require.NoError(t, err)
	b2.Freeze()

	require.Len(t, b2.Parents(), 2)
	b2.Squash()
	assert.Empty(t, b2.Parents())
	assert.True(t, db.IsRoot(1))
	assert.True(t, db.IsRoot(2))
	assert.Equal(t, []models.Slot{0, 1, 2}, b2.RootSlots())
	assert.Equal(t, []models.Slot{0, 1}, b1.RootSlots())

	storages := b2.SnapshotStorages()
	require.Len(t, storages, 3)
	assert.Equal(t, models.Slot(0), storages[0].Slot)
	assert.Equal(t, models.Slot(2), storages[2].Slot)

	h := b2.UpdateAccountsHash()
	assert.Equal(t, h, b2.AccountsHash())
	assert.Equal(t, h, HashStorages(storages))
}

func TestAccountsHashTracksLatestVersion(t *testing.T) {
	_, genesis := newTestGenesis(t)
	before := genesis.UpdateAccountsHash()

	b1, err := NewFromParent(genesis, 1)
	require.NoError(t, err)
	require.NoError(t, b1.Transfer("alice", "bob", 1))
	b1.Freeze()
	b1.Squash()

	assert.NotEqual(t, before, b1.UpdateAccountsHash())
}

func TestPurgeUnrooted(t *testing.T) {
	db, genesis := newTestGenesis(t)
	b1, err := NewFromParent(genesis, 1)
	require.NoError(t, err)
	b1.Freeze()
	b2, err := NewFromParent(genesis, 2)
	require.NoError(t, err)
	b2.Freeze()
	b2.Squash()

	assert.Equal(t, 1, db.PurgeUnrooted(3))
	_, ok := db.Load("alice", b1.Ancestors())
	assert.True(t, ok, "genesis storage is rooted and survives")
	assert.Len(t, db.Storages(b2.Ancestors(), 2), 2)
}
