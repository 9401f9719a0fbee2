package models

import (
	"fmt"
	"strings"
)

type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionGzip
	CompressionBzip2
	CompressionZstd
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bzip2"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// Extension is the archive file extension for the compression type.
func (c CompressionType) Extension() string {
	switch c {
	case CompressionGzip:
		return "tar.gz"
	case CompressionBzip2:
		return "tar.bz2"
	case CompressionZstd:
		return "tar.zst"
	default:
		return "tar"
	}
}

func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "bzip2", "bz2":
		return CompressionBzip2, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// SnapshotVersion is the format version written into every snapshot.
type SnapshotVersion string

const (
	SnapshotVersion1_2_0 SnapshotVersion = "1.2.0"
	SnapshotVersion1_3_0 SnapshotVersion = "1.3.0"

	DefaultSnapshotVersion = SnapshotVersion1_3_0
)

func ParseSnapshotVersion(s string) (SnapshotVersion, error) {
	switch SnapshotVersion(strings.TrimSpace(s)) {
	case "":
		return DefaultSnapshotVersion, nil
	case SnapshotVersion1_2_0:
		return SnapshotVersion1_2_0, nil
	case SnapshotVersion1_3_0:
		return SnapshotVersion1_3_0, nil
	default:
		return "", fmt.Errorf("unsupported snapshot version %q", s)
	}
}

// SnapshotConfig controls snapshot generation. A nil *SnapshotConfig
// disables snapshots.
type SnapshotConfig struct {
	// Generate a new snapshot every this many slots
	IntervalSlots uint64
	// Where packaged archives are written
	OutputPath string
	// Where bank snapshots for recent slots are kept
	WorkingPath string
	Compression CompressionType
	Version     SnapshotVersion

	MaxRetainedSnapshots int
	MaxRetainedArchives  int
}

// PackageRequest asks the packager to snapshot a squashed checkpoint.
type PackageRequest struct {
	Checkpoint      Checkpoint
	Storages        []*AccountStorage
	SlotsToSnapshot []Slot
	Config          SnapshotConfig
	// Done is called from the packager goroutine once the request is finished.
	Done func(pkg *AccountsPackage, err error)
}

// AccountsPackage describes the artifacts produced for one slot.
type AccountsPackage struct {
	Slot          Slot
	BlockHeight   uint64
	Hash          Hash
	AccountsHash  Hash
	Storages      []*AccountStorage
	Ancestors     []Slot
	SnapshotLinks string
	ArchivePath   string
	Compression   CompressionType
	Version       SnapshotVersion
}

// PackageRecord is the catalog entry stored for a finished archive.
type PackageRecord struct {
	Slot         Slot            `json:"slot"`
	BlockHeight  uint64          `json:"block_height"`
	Hash         Hash            `json:"hash"`
	AccountsHash Hash            `json:"accounts_hash"`
	ArchivePath  string          `json:"archive_path"`
	Compression  string          `json:"compression"`
	Version      SnapshotVersion `json:"version"`
	StorageCount int             `json:"storage_count"`
	Size         int64           `json:"size"`
	CreatedAt    int64           `json:"created_at"` // unix timestamp in ms
}

// ForkStatus is a point-in-time view of the fork table for readers that
// must not touch the table itself.
type ForkStatus struct {
	Root                 Slot  `json:"root"`
	HighestSlot          Slot  `json:"highest_slot"`
	Checkpoints          int   `json:"checkpoints"`
	Frozen               int   `json:"frozen"`
	Active               int   `json:"active"`
	LastAccountsHashSlot Slot  `json:"last_accounts_hash_slot"`
	LastSnapshotSlot     Slot  `json:"last_snapshot_slot"`
	UpdatedAt            int64 `json:"updated_at"` // unix timestamp in ms
}
