// Package dag tracks every checkpoint being replayed, keyed by slot, and
// advances the root as consensus confirms slots.
//
// A ForkTable has a single writer. Insert, Remove and SetRoot must be
// serialized by the caller; there is no internal locking around the map.
// Checkpoints handed out by Get and friends stay valid after the table
// prunes them.
package dag

import (
	"math"
	"sort"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"forks-project/logger"
	"forks-project/models"
)

// ForkTable is the mapping from slot to checkpoint plus the root pointer.
type ForkTable struct {
	banks          map[models.Slot]models.Checkpoint
	root           models.Slot
	snapshotConfig *models.SnapshotConfig

	accountsHashIntervalSlots uint64
	lastAccountsHashSlot      models.Slot
	// written by the packager goroutine when a snapshot completes
	lastSnapshotSlot *atomic.Uint64

	log *zap.Logger
}

// New creates a fork table rooted at bank.
func New(bank models.Checkpoint) *ForkTable {
	f, _ := NewFromBanks([]models.Checkpoint{bank}, bank.Slot())
	return f
}

// NewFromBanks seeds the table from the heads of every fork. Each head's
// parent chain is walked until a slot already inserted by another head is
// reached.
func NewFromBanks(heads []models.Checkpoint, root models.Slot) (*ForkTable, error) {
	if len(heads) == 0 {
		return nil, invariant(root, ErrNoHeads)
	}

	banks := make(map[models.Slot]models.Checkpoint)
	for _, head := range heads {
		if _, ok := banks[head.Slot()]; ok {
			continue
		}
		banks[head.Slot()] = head
		for _, parent := range head.Parents() {
			if _, ok := banks[parent.Slot()]; ok {
				// the rest of the chain came in with another fork
				break
			}
			banks[parent.Slot()] = parent
		}
	}
	if _, ok := banks[root]; !ok {
		return nil, invariant(root, ErrMissingRoot)
	}

	return &ForkTable{
		banks:                     banks,
		root:                      root,
		accountsHashIntervalSlots: math.MaxUint64,
		lastAccountsHashSlot:      root,
		lastSnapshotSlot:          atomic.NewUint64(root),
		log:                       logger.Logger.Named("bank_forks"),
	}, nil
}

// Ancestors maps every slot to its ancestor slots at or above the root,
// excluding itself.
func (f *ForkTable) Ancestors() map[models.Slot]map[models.Slot]struct{} {
	ancestors := make(map[models.Slot]map[models.Slot]struct{}, len(f.banks))
	for slot, bank := range f.banks {
		set := make(map[models.Slot]struct{})
		for a := range bank.Ancestors() {
			if a < f.root || a == slot {
				continue
			}
			if _, ok := f.banks[a]; !ok {
				continue
			}
			set[a] = struct{}{}
		}
		ancestors[slot] = set
	}
	return ancestors
}

// Descendants maps every slot to the slots descending from it. Every slot in
// the table has an entry, leaves included.
func (f *ForkTable) Descendants() map[models.Slot]map[models.Slot]struct{} {
	descendants := make(map[models.Slot]map[models.Slot]struct{}, len(f.banks))
	for slot, bank := range f.banks {
		if _, ok := descendants[slot]; !ok {
			descendants[slot] = make(map[models.Slot]struct{})
		}
		for parent := range bank.Ancestors() {
			if parent == slot {
				continue
			}
			set, ok := descendants[parent]
			if !ok {
				set = make(map[models.Slot]struct{})
				descendants[parent] = set
			}
			set[slot] = struct{}{}
		}
	}
	return descendants
}

func (f *ForkTable) FrozenCheckpoints() map[models.Slot]models.Checkpoint {
	frozen := make(map[models.Slot]models.Checkpoint)
	for slot, bank := range f.banks {
		if bank.IsFrozen() {
			frozen[slot] = bank
		}
	}
	return frozen
}

// ActiveCheckpoints returns the slots still being replayed, ascending.
func (f *ForkTable) ActiveCheckpoints() []models.Slot {
	var active []models.Slot
	for slot, bank := range f.banks {
		if !bank.IsFrozen() {
			active = append(active, slot)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return active
}

// Get returns the checkpoint at slot. A missing slot, for example one that
// was already pruned, is reported with ok == false.
func (f *ForkTable) Get(slot models.Slot) (models.Checkpoint, bool) {
	bank, ok := f.banks[slot]
	return bank, ok
}

func (f *ForkTable) Root() models.Slot {
	return f.root
}

func (f *ForkTable) RootCheckpoint() models.Checkpoint {
	return f.banks[f.root]
}

func (f *ForkTable) Len() int {
	return len(f.banks)
}

func (f *ForkTable) HighestSlot() models.Slot {
	var highest models.Slot
	for slot := range f.banks {
		if slot > highest {
			highest = slot
		}
	}
	return highest
}

// WorkingCheckpoint is the checkpoint at the highest slot.
func (f *ForkTable) WorkingCheckpoint() models.Checkpoint {
	return f.banks[f.HighestSlot()]
}

// Insert adds a new checkpoint. Inserting a slot twice is a contract breach;
// the table is left unchanged.
func (f *ForkTable) Insert(bank models.Checkpoint) (models.Checkpoint, error) {
	if _, ok := f.banks[bank.Slot()]; ok {
		return nil, invariant(bank.Slot(), ErrDuplicateSlot)
	}
	f.banks[bank.Slot()] = bank
	return bank, nil
}

// Remove evicts a single checkpoint outside of pruning, e.g. one whose
// replay failed. The root cannot be removed.
func (f *ForkTable) Remove(slot models.Slot) (models.Checkpoint, bool, error) {
	if slot == f.root {
		return nil, false, invariant(slot, ErrRemoveRoot)
	}
	bank, ok := f.banks[slot]
	if ok {
		delete(f.banks, slot)
	}
	return bank, ok, nil
}

func (f *ForkTable) SetSnapshotConfig(cfg *models.SnapshotConfig) {
	f.snapshotConfig = cfg
}

func (f *ForkTable) SnapshotConfig() *models.SnapshotConfig {
	return f.snapshotConfig
}

// SetAccountsHashIntervalSlots sets the hashing cadence. Zero disables it.
func (f *ForkTable) SetAccountsHashIntervalSlots(slots uint64) {
	if slots == 0 {
		slots = math.MaxUint64
	}
	f.accountsHashIntervalSlots = slots
}

func (f *ForkTable) AccountsHashIntervalSlots() uint64 {
	return f.accountsHashIntervalSlots
}

func (f *ForkTable) LastAccountsHashSlot() models.Slot {
	return f.lastAccountsHashSlot
}

// LastSnapshotSlot is safe to call from any goroutine.
func (f *ForkTable) LastSnapshotSlot() models.Slot {
	return f.lastSnapshotSlot.Load()
}

// Status summarizes the table for readers on other goroutines.
func (f *ForkTable) Status() models.ForkStatus {
	status := models.ForkStatus{
		Root:                 f.root,
		HighestSlot:          f.HighestSlot(),
		Checkpoints:          len(f.banks),
		LastAccountsHashSlot: f.lastAccountsHashSlot,
		LastSnapshotSlot:     f.LastSnapshotSlot(),
		UpdatedAt:            time.Now().UnixMilli(),
	}
	for _, bank := range f.banks {
		if bank.IsFrozen() {
			status.Frozen++
		} else {
			status.Active++
		}
	}
	return status
}
