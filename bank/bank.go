// Package bank is an in-memory checkpoint of ledger state at one slot.
package bank

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"

	"forks-project/models"
)

var (
	ErrFrozen             = errors.New("bank is frozen")
	ErrParentNotFrozen    = errors.New("parent bank is not frozen")
	ErrUnknownAccount     = errors.New("account not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrSlotNotAfterParent = errors.New("slot must be greater than parent slot")
)

// Bank implements models.Checkpoint.
type Bank struct {
	slot         models.Slot
	parentSlot   models.Slot
	blockHeight  uint64
	ticksPerSlot uint64
	schedule     models.EpochSchedule
	ancestors    map[models.Slot]struct{}
	accounts     *AccountsDB

	mu           sync.RWMutex
	parent       *Bank
	frozen       bool
	tickHeight   uint64
	txCount      uint64
	delta        map[string]models.Account
	parentHash   models.Hash
	hash         models.Hash
	accountsHash models.Hash
}

var _ models.Checkpoint = (*Bank)(nil)

// NewGenesis creates the frozen, rooted bank at slot 0.
func NewGenesis(db *AccountsDB, schedule models.EpochSchedule, ticksPerSlot uint64, accounts []models.Account) *Bank {
	b := &Bank{
		ticksPerSlot: ticksPerSlot,
		schedule:     schedule,
		ancestors:    map[models.Slot]struct{}{0: {}},
		accounts:     db,
		delta:        make(map[string]models.Account, len(accounts)),
	}
	for _, acc := range accounts {
		b.delta[acc.Pubkey] = acc
	}
	b.Freeze()
	db.AddRoots(0)
	return b
}

// NewFromParent creates an unfrozen child of a frozen bank.
func NewFromParent(parent *Bank, slot models.Slot) (*Bank, error) {
	if !parent.IsFrozen() {
		return nil, fmt.Errorf("new bank at slot %d: %w", slot, ErrParentNotFrozen)
	}
	if slot <= parent.slot {
		return nil, fmt.Errorf("new bank at slot %d with parent %d: %w", slot, parent.slot, ErrSlotNotAfterParent)
	}

	ancestors := make(map[models.Slot]struct{}, len(parent.ancestors)+1)
	for s := range parent.ancestors {
		ancestors[s] = struct{}{}
	}
	ancestors[slot] = struct{}{}

	return &Bank{
		slot:         slot,
		parentSlot:   parent.slot,
		blockHeight:  parent.blockHeight + 1,
		ticksPerSlot: parent.ticksPerSlot,
		schedule:     parent.schedule,
		ancestors:    ancestors,
		accounts:     parent.accounts,
		parent:       parent,
		tickHeight:   parent.TickHeight(),
		txCount:      parent.TransactionCount(),
		delta:        make(map[string]models.Account),
		parentHash:   parent.Hash(),
	}, nil
}

func (b *Bank) Slot() models.Slot       { return b.slot }
func (b *Bank) ParentSlot() models.Slot { return b.parentSlot }
func (b *Bank) BlockHeight() uint64     { return b.blockHeight }
func (b *Bank) TicksPerSlot() uint64    { return b.ticksPerSlot }
func (b *Bank) Epoch() uint64           { return b.schedule.GetEpoch(b.slot) }

func (b *Bank) EpochSchedule() models.EpochSchedule { return b.schedule }

func (b *Bank) Ancestors() map[models.Slot]struct{} { return b.ancestors }

func (b *Bank) Parents() []models.Checkpoint {
	var parents []models.Checkpoint
	b.mu.RLock()
	cur := b.parent
	b.mu.RUnlock()
	for cur != nil {
		parents = append(parents, cur)
		cur.mu.RLock()
		next := cur.parent
		cur.mu.RUnlock()
		cur = next
	}
	return parents
}

func (b *Bank) IsFrozen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frozen
}

func (b *Bank) TickHeight() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tickHeight
}

func (b *Bank) TransactionCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.txCount
}

func (b *Bank) Hash() models.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hash
}

func (b *Bank) AccountsHash() models.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accountsHash
}

func (b *Bank) RegisterTick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickHeight++
}

// Account returns the newest version of an account visible to this bank.
func (b *Bank) Account(pubkey string) (models.Account, bool) {
	b.mu.RLock()
	acc, ok := b.delta[pubkey]
	b.mu.RUnlock()
	if ok {
		return acc, true
	}
	return b.accounts.Load(pubkey, b.ancestors)
}

func (b *Bank) Store(acc models.Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrFrozen
	}
	b.delta[acc.Pubkey] = acc
	return nil
}

// Transfer moves lamports between two accounts and counts one transaction.
func (b *Bank) Transfer(from, to string, lamports uint64) error {
	src, ok := b.Account(from)
	if !ok {
		return fmt.Errorf("transfer from %s: %w", from, ErrUnknownAccount)
	}
	if src.Lamports < lamports {
		return fmt.Errorf("transfer %d from %s: %w", lamports, from, ErrInsufficientFunds)
	}
	dst, ok := b.Account(to)
	if !ok {
		dst = models.Account{Pubkey: to}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrFrozen
	}
	src.Lamports -= lamports
	dst.Lamports += lamports
	b.delta[src.Pubkey] = src
	b.delta[dst.Pubkey] = dst
	b.txCount++
	return nil
}

// Freeze writes the slot's accounts to the store and computes the bank hash.
// Freezing twice is a no-op.
func (b *Bank) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}

	written := make([]models.Account, 0, len(b.delta))
	for _, acc := range b.delta {
		written = append(written, acc)
	}
	sort.Slice(written, func(i, j int) bool { return written[i].Pubkey < written[j].Pubkey })
	b.accounts.StoreSlot(b.slot, written)

	var buf bytes.Buffer
	buf.Write(b.parentHash[:])
	_ = binary.Write(&buf, binary.BigEndian, b.slot)
	_ = binary.Write(&buf, binary.BigEndian, b.txCount)
	deltaHash := hashAccounts(written)
	buf.Write(deltaHash[:])
	b.hash = blake2b.Sum256(buf.Bytes())
	b.frozen = true
}

// Squash roots this bank and every un-squashed parent in the accounts store
// and drops the parent link.
func (b *Bank) Squash() {
	parents := b.Parents()
	roots := make([]models.Slot, 0, len(parents)+1)
	roots = append(roots, b.slot)
	for _, p := range parents {
		roots = append(roots, p.Slot())
	}
	b.accounts.AddRoots(roots...)

	b.mu.Lock()
	b.parent = nil
	b.mu.Unlock()
}

func (b *Bank) SnapshotStorages() []*models.AccountStorage {
	return b.accounts.Storages(b.ancestors, b.slot)
}

func (b *Bank) UpdateAccountsHash() models.Hash {
	h := HashStorages(b.SnapshotStorages())
	b.mu.Lock()
	b.accountsHash = h
	b.mu.Unlock()
	return h
}

func (b *Bank) RootSlots() []models.Slot {
	roots := b.accounts.Roots()
	i := sort.Search(len(roots), func(i int) bool { return roots[i] > b.slot })
	return roots[:i]
}

// HashStorages digests the newest version of every account found in the
// storages, which must be ordered oldest first.
func HashStorages(storages []*models.AccountStorage) models.Hash {
	latest := make(map[string]models.Account)
	for _, storage := range storages {
		for _, acc := range storage.Accounts {
			latest[acc.Pubkey] = acc
		}
	}
	accounts := make([]models.Account, 0, len(latest))
	for _, acc := range latest {
		accounts = append(accounts, acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Pubkey < accounts[j].Pubkey })
	return hashAccounts(accounts)
}

func hashAccounts(accounts []models.Account) models.Hash {
	var buf bytes.Buffer
	for _, acc := range accounts {
		buf.WriteString(acc.Pubkey)
		_ = binary.Write(&buf, binary.BigEndian, acc.Lamports)
		_ = binary.Write(&buf, binary.BigEndian, uint64(len(acc.Data)))
		buf.Write(acc.Data)
	}
	return blake2b.Sum256(buf.Bytes())
}
