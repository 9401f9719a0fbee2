package bank

import (
	"sort"
	"sync"

	"forks-project/models"
)

// AccountsDB is the persistent account store shared by every bank of a
// validator. Each frozen slot contributes one storage; squashing marks slots
// as rooted.
type AccountsDB struct {
	mu       sync.RWMutex
	storages map[models.Slot]*models.AccountStorage
	roots    map[models.Slot]struct{}
	nextID   uint64
}

func NewAccountsDB() *AccountsDB {
	return &AccountsDB{
		storages: make(map[models.Slot]*models.AccountStorage),
		roots:    make(map[models.Slot]struct{}),
	}
}

// StoreSlot records the accounts written by a slot. Storages are never
// modified after they are stored, so callers may share them freely.
func (db *AccountsDB) StoreSlot(slot models.Slot, accounts []models.Account) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextID++
	db.storages[slot] = &models.AccountStorage{
		Slot:     slot,
		ID:       db.nextID,
		Accounts: accounts,
	}
}

func (db *AccountsDB) AddRoots(slots ...models.Slot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, s := range slots {
		db.roots[s] = struct{}{}
	}
}

func (db *AccountsDB) IsRoot(slot models.Slot) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.roots[slot]
	return ok
}

// Roots returns the rooted slots in ascending order.
func (db *AccountsDB) Roots() []models.Slot {
	db.mu.RLock()
	defer db.mu.RUnlock()
	roots := make([]models.Slot, 0, len(db.roots))
	for s := range db.roots {
		roots = append(roots, s)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

// Storages returns the storages of rooted slots up to maxSlot that lie on
// the given ancestor set, oldest first.
func (db *AccountsDB) Storages(ancestors map[models.Slot]struct{}, maxSlot models.Slot) []*models.AccountStorage {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var storages []*models.AccountStorage
	for slot, storage := range db.storages {
		if slot > maxSlot {
			continue
		}
		if _, rooted := db.roots[slot]; !rooted {
			continue
		}
		if _, ok := ancestors[slot]; !ok {
			continue
		}
		storages = append(storages, storage)
	}
	sort.Slice(storages, func(i, j int) bool { return storages[i].Slot < storages[j].Slot })
	return storages
}

// Load finds the newest version of an account written by any slot in ancestors.
func (db *AccountsDB) Load(pubkey string, ancestors map[models.Slot]struct{}) (models.Account, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		found   models.Account
		newest  models.Slot
		matched bool
	)
	for slot := range ancestors {
		storage, ok := db.storages[slot]
		if !ok || (matched && slot < newest) {
			continue
		}
		for _, acc := range storage.Accounts {
			if acc.Pubkey == pubkey {
				found, newest, matched = acc, slot, true
				break
			}
		}
	}
	return found, matched
}

// PurgeUnrooted drops storages of slots below the given slot that were never
// rooted. Those slots belong to abandoned forks.
func (db *AccountsDB) PurgeUnrooted(below models.Slot) int {
	db.mu.Lock()
	defer db.mu.Unlock()

	purged := 0
	for slot := range db.storages {
		if slot >= below {
			continue
		}
		if _, rooted := db.roots[slot]; rooted {
			continue
		}
		delete(db.storages, slot)
		purged++
	}
	return purged
}
