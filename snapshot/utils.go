// Package snapshot writes restartable snapshots of account state: a bank
// snapshot file per slot in the working directory, and compressed archives
// in the output directory.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"

	"forks-project/models"
)

const (
	versionFileName     = "version"
	statusCacheFileName = "status_cache"

	// DefaultMaxRetainedSnapshots matches the number of slots kept by the
	// status cache.
	DefaultMaxRetainedSnapshots = 300
	DefaultMaxRetainedArchives  = 2
)

// BankFields is the bank state serialized into a bank snapshot file.
type BankFields struct {
	Slot             models.Slot            `cbor:"1,keyasint"`
	ParentSlot       models.Slot            `cbor:"2,keyasint"`
	BlockHeight      uint64                 `cbor:"3,keyasint"`
	Epoch            uint64                 `cbor:"4,keyasint"`
	SlotsPerEpoch    uint64                 `cbor:"5,keyasint"`
	TickHeight       uint64                 `cbor:"6,keyasint"`
	TicksPerSlot     uint64                 `cbor:"7,keyasint"`
	TransactionCount uint64                 `cbor:"8,keyasint"`
	Hash             models.Hash            `cbor:"9,keyasint"`
	AccountsHash     models.Hash            `cbor:"10,keyasint"`
	StorageIDs       []uint64               `cbor:"11,keyasint"`
	Version          models.SnapshotVersion `cbor:"12,keyasint"`
}

func bankFields(cp models.Checkpoint, storages []*models.AccountStorage, version models.SnapshotVersion) BankFields {
	ids := make([]uint64, 0, len(storages))
	for _, s := range storages {
		ids = append(ids, s.ID)
	}
	return BankFields{
		Slot:             cp.Slot(),
		ParentSlot:       cp.ParentSlot(),
		BlockHeight:      cp.BlockHeight(),
		Epoch:            cp.Epoch(),
		SlotsPerEpoch:    cp.EpochSchedule().SlotsPerEpoch,
		TickHeight:       cp.TickHeight(),
		TicksPerSlot:     cp.TicksPerSlot(),
		TransactionCount: cp.TransactionCount(),
		Hash:             cp.Hash(),
		AccountsHash:     cp.AccountsHash(),
		StorageIDs:       ids,
		Version:          version,
	}
}

// SlotSnapshotPaths locates the bank snapshot file of one slot.
type SlotSnapshotPaths struct {
	Slot             models.Slot
	SnapshotFilePath string
}

func snapshotDir(workingPath string, slot models.Slot) string {
	return filepath.Join(workingPath, strconv.FormatUint(slot, 10))
}

// AddSnapshot writes <working>/<slot>/<slot> and a version file next to it.
func AddSnapshot(workingPath string, cp models.Checkpoint, storages []*models.AccountStorage, version models.SnapshotVersion) (SlotSnapshotPaths, error) {
	start := time.Now()
	slot := cp.Slot()
	dir := snapshotDir(workingPath, slot)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return SlotSnapshotPaths{}, fmt.Errorf("create snapshot dir %s: %w", dir, err)
	}

	data, err := cbor.Marshal(bankFields(cp, storages, version))
	if err != nil {
		return SlotSnapshotPaths{}, fmt.Errorf("encode bank %d: %w", slot, err)
	}
	path := filepath.Join(dir, strconv.FormatUint(slot, 10))
	if err := writeFileAtomic(path, data); err != nil {
		return SlotSnapshotPaths{}, err
	}
	if err := writeFileAtomic(filepath.Join(dir, versionFileName), []byte(version)); err != nil {
		return SlotSnapshotPaths{}, err
	}

	addSnapshotDuration.Observe(time.Since(start).Seconds())
	return SlotSnapshotPaths{Slot: slot, SnapshotFilePath: path}, nil
}

// GetSnapshotPaths lists the bank snapshots in the working directory in
// ascending slot order. A missing directory has no snapshots.
func GetSnapshotPaths(workingPath string) ([]SlotSnapshotPaths, error) {
	entries, err := os.ReadDir(workingPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var paths []SlotSnapshotPaths
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		slot, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		file := filepath.Join(workingPath, entry.Name(), entry.Name())
		if _, err := os.Stat(file); err != nil {
			// half written or already removed
			continue
		}
		paths = append(paths, SlotSnapshotPaths{Slot: slot, SnapshotFilePath: file})
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Slot < paths[j].Slot })
	return paths, nil
}

func RemoveSnapshot(slot models.Slot, workingPath string) error {
	return os.RemoveAll(snapshotDir(workingPath, slot))
}

// PurgeOldSnapshots keeps the newest maxRetained bank snapshots.
func PurgeOldSnapshots(workingPath string, maxRetained int) error {
	paths, err := GetSnapshotPaths(workingPath)
	if err != nil {
		return err
	}
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetainedSnapshots
	}
	var result *multierror.Error
	for len(paths) > maxRetained {
		if err := RemoveSnapshot(paths[0].Slot, workingPath); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove snapshot %d: %w", paths[0].Slot, err))
		}
		paths = paths[1:]
	}
	return result.ErrorOrNil()
}

// PackageSnapshot describes the archive to build for a bank snapshot. It
// does no I/O.
func PackageSnapshot(
	cp models.Checkpoint,
	snapshotPaths SlotSnapshotPaths,
	slotsToSnapshot []models.Slot,
	outputPath string,
	storages []*models.AccountStorage,
	compression models.CompressionType,
	version models.SnapshotVersion,
) *models.AccountsPackage {
	return &models.AccountsPackage{
		Slot:          cp.Slot(),
		BlockHeight:   cp.BlockHeight(),
		Hash:          cp.Hash(),
		AccountsHash:  cp.AccountsHash(),
		Storages:      storages,
		Ancestors:     slotsToSnapshot,
		SnapshotLinks: filepath.Dir(snapshotPaths.SnapshotFilePath),
		ArchivePath:   ArchivePath(outputPath, cp.Slot(), cp.Hash(), compression),
		Compression:   compression,
		Version:       version,
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
