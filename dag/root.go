package dag

import (
	"time"

	"go.uber.org/zap"

	"forks-project/models"
)

// PackageSink accepts snapshot requests without blocking the caller. The
// request's Done callback reports the outcome later, from another goroutine.
type PackageSink interface {
	Send(req *models.PackageRequest) error
}

// SetRoot advances the root to a slot already in the table, squashes it,
// schedules an accounts hash and snapshot when one is due, and prunes every
// checkpoint that is no longer reachable from the new root.
//
// Only the first checkpoint in the chain new root, parent, grandparent, ...
// that satisfies the hashing cadence is accounted. Scanning from the root
// means the most recent eligible checkpoint wins, and at most one checkpoint
// is hashed per call no matter how many slots the root skipped.
//
// A nil sink or snapshot config skips snapshotting. A nil
// highestConfirmedRoot keeps nothing below the new root.
func (f *ForkTable) SetRoot(root models.Slot, sink PackageSink, highestConfirmedRoot *models.Slot) error {
	start := time.Now()

	rootBank, ok := f.banks[root]
	if !ok {
		return invariant(root, ErrMissingRoot)
	}
	oldEpoch := f.RootCheckpoint().Epoch()
	f.root = root

	if newEpoch := rootBank.Epoch(); newEpoch != oldEpoch {
		f.log.Info("Root entering epoch",
			zap.Uint64("epoch", newEpoch),
			zap.Uint64("next_epoch_start_slot", rootBank.EpochSchedule().FirstSlotInEpoch(newEpoch+1)))
	}

	parents := rootBank.Parents()
	var rootTxCount uint64
	if len(parents) > 0 {
		rootTxCount = parents[len(parents)-1].TransactionCount()
	}

	candidates := make([]models.Checkpoint, 0, len(parents)+1)
	candidates = append(candidates, rootBank)
	candidates = append(candidates, parents...)

	rootSquashed := false
	for _, bank := range candidates {
		if bank.BlockHeight()%f.accountsHashIntervalSlots != 0 || bank.Slot() <= f.lastAccountsHashSlot {
			continue
		}
		f.lastAccountsHashSlot = bank.Slot()
		bank.Squash()
		rootSquashed = bank.Slot() == root

		hash := bank.UpdateAccountsHash()
		accountsHashSlot.Set(float64(bank.Slot()))
		f.log.Debug("Updated accounts hash",
			zap.Uint64("slot", bank.Slot()),
			zap.Stringer("accounts_hash", hash))

		if f.snapshotConfig != nil && sink != nil {
			f.requestSnapshot(bank, sink)
		}
		break
	}
	if !rootSquashed {
		rootBank.Squash()
	}
	newTxCount := rootBank.TransactionCount()

	if err := f.pruneNonRoot(root, highestConfirmedRoot); err != nil {
		return err
	}

	setRootDuration.Observe(time.Since(start).Seconds())
	if newTxCount > rootTxCount {
		setRootTxCount.Add(float64(newTxCount - rootTxCount))
	}
	rootSlot.Set(float64(root))
	return nil
}

func (f *ForkTable) requestSnapshot(bank models.Checkpoint, sink PackageSink) {
	slot := bank.Slot()
	req := &models.PackageRequest{
		Checkpoint:      bank,
		Storages:        bank.SnapshotStorages(),
		SlotsToSnapshot: bank.RootSlots(),
		Config:          *f.snapshotConfig,
		Done: func(_ *models.AccountsPackage, err error) {
			if err == nil {
				f.recordSnapshot(slot)
			}
		},
	}
	if err := sink.Send(req); err != nil {
		snapshotRequestFailures.Inc()
		f.log.Warn("Error generating snapshot for bank",
			zap.Uint64("slot", slot),
			zap.Error(err))
	}
}

// recordSnapshot raises the snapshot high-water mark, never lowers it.
func (f *ForkTable) recordSnapshot(slot models.Slot) {
	for {
		current := f.lastSnapshotSlot.Load()
		if slot <= current || f.lastSnapshotSlot.CompareAndSwap(current, slot) {
			return
		}
	}
}

// pruneNonRoot keeps the root, its descendants, and the ancestors of the
// root at or above highestConfirmedRoot.
func (f *ForkTable) pruneNonRoot(root models.Slot, highestConfirmedRoot *models.Slot) error {
	descendants := f.Descendants()
	rootDescendants, ok := descendants[root]
	if !ok {
		return invariant(root, ErrMissingDescendants)
	}
	lowest := root
	if highestConfirmedRoot != nil {
		lowest = *highestConfirmedRoot
	}

	var drop []models.Slot
	for slot := range f.banks {
		if slot == root {
			continue
		}
		if _, ok := rootDescendants[slot]; ok {
			continue
		}
		if slot < root && slot >= lowest {
			set, ok := descendants[slot]
			if !ok {
				return invariant(slot, ErrMissingDescendants)
			}
			if _, ok := set[root]; ok {
				continue
			}
		}
		drop = append(drop, slot)
	}
	for _, slot := range drop {
		delete(f.banks, slot)
	}

	retainedBanks.Set(float64(len(f.banks)))
	f.log.Debug("Pruned fork table",
		zap.Uint64("root", root),
		zap.Int("num_banks_pruned", len(drop)),
		zap.Int("num_banks_retained", len(f.banks)))
	return nil
}
