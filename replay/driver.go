// Package replay drives the fork table with a simulated block stream. It is
// the only writer of the table; other goroutines read the published status.
package replay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"forks-project/bank"
	"forks-project/dag"
	"forks-project/logger"
	"forks-project/models"
)

const mintPubkey = "mint"

type Options struct {
	// Slots to replay; 0 runs until the context is cancelled
	Slots uint64
	// Start a minority fork every this many slots; 0 never forks
	ForkEvery uint64
	// The root trails the tip by this many slots
	ConfirmationDepth uint64
	// Delay between slots; 0 replays as fast as possible
	SlotDuration time.Duration
}

type Driver struct {
	forks    *dag.ForkTable
	accounts *bank.AccountsDB
	sink     dag.PackageSink
	opts     Options

	tip      *bank.Bank
	next     models.Slot
	produced uint64
	// main chain slots above the root, ascending
	chain []models.Slot

	status *atomic.Pointer[models.ForkStatus]
	log    *zap.Logger
}

// GenesisAccounts funds the mint that pays for simulated transfers.
func GenesisAccounts() []models.Account {
	return []models.Account{{Pubkey: mintPubkey, Lamports: 1 << 40}}
}

// NewDriver replays on top of the table's current working bank. sink may be
// nil when snapshots are disabled.
func NewDriver(forks *dag.ForkTable, accounts *bank.AccountsDB, sink dag.PackageSink, opts Options) (*Driver, error) {
	tip, ok := forks.WorkingCheckpoint().(*bank.Bank)
	if !ok {
		return nil, fmt.Errorf("working checkpoint %d is not a bank", forks.WorkingCheckpoint().Slot())
	}
	if opts.ConfirmationDepth == 0 {
		opts.ConfirmationDepth = 1
	}
	d := &Driver{
		forks:    forks,
		accounts: accounts,
		sink:     sink,
		opts:     opts,
		tip:      tip,
		next:     tip.Slot() + 1,
		status:   atomic.NewPointer[models.ForkStatus](nil),
		log:      logger.Logger.Named("replay"),
	}
	d.publish()
	return d, nil
}

// Run replays slots until the configured count is reached or ctx is done.
// An invariant violation from the fork table is returned as is.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("Replay started",
		zap.Uint64("root", d.forks.Root()),
		zap.Uint64("next_slot", d.next),
		zap.Duration("slot_duration", d.opts.SlotDuration))

	var tick <-chan time.Time
	if d.opts.SlotDuration > 0 {
		ticker := time.NewTicker(d.opts.SlotDuration)
		defer ticker.Stop()
		tick = ticker.C
	}

	for d.opts.Slots == 0 || d.produced < d.opts.Slots {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if err := d.Step(); err != nil {
			if dag.IsInvariantViolation(err) {
				d.log.Error("Fork table invariant violated", zap.Uint64("slot", d.next), zap.Error(err))
			}
			return err
		}
	}
	d.log.Info("Replay finished", zap.Uint64("slots", d.produced), zap.Uint64("root", d.forks.Root()))
	return nil
}

// Step replays one slot of the main chain, plus a competing fork bank when
// the slot is a fork point, then advances the root.
func (d *Driver) Step() error {
	slot := d.next
	if d.opts.ForkEvery > 0 && slot%d.opts.ForkEvery == 0 {
		// the minority fork takes this slot and is later abandoned
		if _, err := d.produce(d.tip, slot, fmt.Sprintf("fork-%d", slot)); err != nil {
			return err
		}
		slot++
	}

	b, err := d.produce(d.tip, slot, fmt.Sprintf("user-%d", slot%16))
	if err != nil {
		return err
	}
	d.tip = b
	d.chain = append(d.chain, slot)
	d.next = slot + 1
	d.produced++

	if err := d.advanceRoot(); err != nil {
		return err
	}
	d.publish()
	return nil
}

func (d *Driver) produce(parent *bank.Bank, slot models.Slot, to string) (*bank.Bank, error) {
	b, err := bank.NewFromParent(parent, slot)
	if err != nil {
		return nil, err
	}
	if err := b.Transfer(mintPubkey, to, 1); err != nil {
		return nil, err
	}
	for i := uint64(0); i < b.TicksPerSlot(); i++ {
		b.RegisterTick()
	}
	b.Freeze()
	if _, err := d.forks.Insert(b); err != nil {
		return nil, err
	}
	d.log.Debug("Inserted bank", zap.Uint64("slot", slot), zap.Uint64("parent", parent.Slot()))
	return b, nil
}

// advanceRoot roots the newest main chain slot at least ConfirmationDepth
// behind the tip, keeping the previous root as the confirmed root.
func (d *Driver) advanceRoot() error {
	if d.tip.Slot() < d.opts.ConfirmationDepth {
		return nil
	}
	limit := d.tip.Slot() - d.opts.ConfirmationDepth

	idx := -1
	for i, s := range d.chain {
		if s > limit {
			break
		}
		idx = i
	}
	if idx < 0 {
		return nil
	}
	newRoot := d.chain[idx]
	prevRoot := d.forks.Root()

	if err := d.forks.SetRoot(newRoot, d.sink, &prevRoot); err != nil {
		return err
	}
	d.chain = d.chain[idx+1:]

	if purged := d.accounts.PurgeUnrooted(newRoot); purged > 0 {
		d.log.Debug("Purged unrooted storages", zap.Uint64("below", newRoot), zap.Int("count", purged))
	}
	return nil
}

func (d *Driver) publish() {
	status := d.forks.Status()
	d.status.Store(&status)
}

// Status returns the last published fork table status. It is safe to call
// from any goroutine.
func (d *Driver) Status() models.ForkStatus {
	if s := d.status.Load(); s != nil {
		return *s
	}
	return models.ForkStatus{}
}
