package models

import (
	"encoding/hex"
	"fmt"
)

// Slot is a position on the chain's time axis.
type Slot = uint64

// Hash is a 32 byte digest used for bank hashes and accounts hashes.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash has never been computed.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(h) {
		return fmt.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return nil
}

// Account is a single account version as written by a slot.
type Account struct {
	Pubkey   string `json:"pubkey"`
	Lamports uint64 `json:"lamports"`
	Data     []byte `json:"data,omitempty"`
}

// AccountStorage holds the accounts written by one slot.
type AccountStorage struct {
	Slot     Slot      `json:"slot"`
	ID       uint64    `json:"id"`
	Accounts []Account `json:"accounts"`
}

// EpochSchedule maps slots to epochs.
type EpochSchedule struct {
	SlotsPerEpoch uint64 `json:"slots_per_epoch"`
}

func (s EpochSchedule) GetEpoch(slot Slot) uint64 {
	if s.SlotsPerEpoch == 0 {
		return 0
	}
	return slot / s.SlotsPerEpoch
}

func (s EpochSchedule) FirstSlotInEpoch(epoch uint64) Slot {
	return epoch * s.SlotsPerEpoch
}

// Checkpoint is the ledger state at one slot. It is immutable once frozen,
// except for its own squash and accounts hash operations.
type Checkpoint interface {
	Slot() Slot
	ParentSlot() Slot
	// Parents returns the ancestor chain nearest first. The walk stops at the
	// most recently squashed ancestor.
	Parents() []Checkpoint
	// Ancestors is every slot on the path to genesis, including the
	// checkpoint's own slot. It is fixed when the checkpoint is created.
	Ancestors() map[Slot]struct{}
	IsFrozen() bool
	Squash()
	UpdateAccountsHash() Hash
	AccountsHash() Hash
	Hash() Hash
	SnapshotStorages() []*AccountStorage
	// RootSlots are the rooted slots known to the accounts store, oldest first.
	RootSlots() []Slot
	Epoch() uint64
	EpochSchedule() EpochSchedule
	BlockHeight() uint64
	TransactionCount() uint64
	TickHeight() uint64
	TicksPerSlot() uint64
}
