package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"forks-project/logger"
	"forks-project/models"
)

var (
	ErrQueueFull       = errors.New("snapshot packager queue is full")
	ErrPackagerStopped = errors.New("snapshot packager is stopped")
)

const DefaultQueueSize = 4

// Catalog records finished archives.
type Catalog interface {
	PutPackage(rec *models.PackageRecord) error
	ListPackages() ([]*models.PackageRecord, error)
	DeletePackage(slot models.Slot) error
}

// Packager is a long-running worker that turns package requests into
// archives, off the replay path. Requests are handled one at a time in the
// order they were sent.
type Packager struct {
	catalog  Catalog
	requests chan *models.PackageRequest
	stopped  *atomic.Bool
	log      *zap.Logger
}

// NewPackager creates a packager that accepts requests immediately; they
// are processed once Run is called.
func NewPackager(catalog Catalog, queueSize int) *Packager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Packager{
		catalog:  catalog,
		requests: make(chan *models.PackageRequest, queueSize),
		stopped:  atomic.NewBool(false),
		log:      logger.Logger.Named("snapshot_packager"),
	}
}

// Send enqueues a request without blocking. It fails when the queue is full
// or the packager has stopped; the request is then dropped and its Done
// callback is not called.
func (p *Packager) Send(req *models.PackageRequest) error {
	if p.stopped.Load() {
		return ErrPackagerStopped
	}
	select {
	case p.requests <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes requests until ctx is cancelled. Requests still queued at
// that point are completed with ErrPackagerStopped.
func (p *Packager) Run(ctx context.Context) error {
	p.log.Info("Snapshot packager started")
	defer p.drain()
	for {
		select {
		case <-ctx.Done():
			p.stopped.Store(true)
			p.log.Info("Snapshot packager stopped")
			return nil
		case req := <-p.requests:
			p.process(req)
		}
	}
}

func (p *Packager) drain() {
	for {
		select {
		case req := <-p.requests:
			if req.Done != nil {
				req.Done(nil, ErrPackagerStopped)
			}
		default:
			return
		}
	}
}

func (p *Packager) process(req *models.PackageRequest) {
	start := time.Now()
	slot := req.Checkpoint.Slot()

	pkg, err := p.generate(req)
	if err != nil {
		packageFailures.Inc()
		p.log.Warn("Error generating snapshot for bank",
			zap.Uint64("slot", slot),
			zap.String("working_path", req.Config.WorkingPath),
			zap.String("output_path", req.Config.OutputPath),
			zap.Error(err))
	} else {
		elapsed := time.Since(start)
		totalSnapshotDuration.Observe(elapsed.Seconds())
		lastPackagedSlot.Set(float64(slot))
		p.log.Info("Snapshot package created",
			zap.Uint64("slot", slot),
			zap.String("archive", pkg.ArchivePath),
			zap.Int("storages", len(pkg.Storages)),
			zap.Duration("elapsed", elapsed))
	}

	// Cleanup outdated snapshots
	var purge *multierror.Error
	if perr := PurgeOldSnapshots(req.Config.WorkingPath, req.Config.MaxRetainedSnapshots); perr != nil {
		purge = multierror.Append(purge, perr)
	}
	if perr := PurgeOldArchives(p.catalog, req.Config.MaxRetainedArchives); perr != nil {
		purge = multierror.Append(purge, perr)
	}
	if perr := purge.ErrorOrNil(); perr != nil {
		p.log.Warn("Couldn't remove old snapshots",
			zap.String("working_path", req.Config.WorkingPath),
			zap.Error(perr))
	}

	if req.Done != nil {
		req.Done(pkg, err)
	}
}

func (p *Packager) generate(req *models.PackageRequest) (*models.AccountsPackage, error) {
	cfg := req.Config
	cp := req.Checkpoint

	paths, err := AddSnapshot(cfg.WorkingPath, cp, req.Storages, cfg.Version)
	if err != nil {
		return nil, err
	}

	pkg := PackageSnapshot(cp, paths, req.SlotsToSnapshot, cfg.OutputPath, req.Storages, cfg.Compression, cfg.Version)
	size, err := ArchivePackage(pkg)
	if err != nil {
		return nil, err
	}
	archiveSize.Set(float64(size))

	rec := &models.PackageRecord{
		Slot:         pkg.Slot,
		BlockHeight:  pkg.BlockHeight,
		Hash:         pkg.Hash,
		AccountsHash: pkg.AccountsHash,
		ArchivePath:  pkg.ArchivePath,
		Compression:  pkg.Compression.String(),
		Version:      pkg.Version,
		StorageCount: len(pkg.Storages),
		Size:         size,
		CreatedAt:    time.Now().UnixMilli(),
	}
	if err := p.catalog.PutPackage(rec); err != nil {
		return nil, fmt.Errorf("record package for slot %d: %w", pkg.Slot, err)
	}
	return pkg, nil
}
