package snapshot

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"

	"forks-project/bank"
	"forks-project/models"
)

var ErrAccountsHashMismatch = errors.New("archived accounts do not match the accounts hash")

const (
	archivePrefix   = "snapshot-"
	snapshotsDir    = "snapshots"
	accountsDirName = "accounts"
)

// ArchivePath is <output>/snapshot-<slot>-<hash>.<ext>.
func ArchivePath(outputPath string, slot models.Slot, hash models.Hash, c models.CompressionType) string {
	name := fmt.Sprintf("%s%d-%s.%s", archivePrefix, slot, hash, c.Extension())
	return filepath.Join(outputPath, name)
}

// ArchivePackage writes the package as a compressed tar archive and returns
// its size. The archive only appears under its final name once complete.
func ArchivePackage(pkg *models.AccountsPackage) (int64, error) {
	dir := filepath.Dir(pkg.ArchivePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return 0, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(pkg.ArchivePath)+"-*")
	if err != nil {
		return 0, fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeArchive(tmp, pkg); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write archive for slot %d: %w", pkg.Slot, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), pkg.ArchivePath); err != nil {
		return 0, fmt.Errorf("rename archive: %w", err)
	}
	return info.Size(), nil
}

func writeArchive(w io.Writer, pkg *models.AccountsPackage) error {
	zw, err := newCompressor(w, pkg.Compression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)
	now := time.Now()

	add := func(name string, data []byte) error {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0640,
			Size:     int64(len(data)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(data)
		return err
	}

	slotName := fmt.Sprintf("%d", pkg.Slot)
	bankFile, err := os.ReadFile(filepath.Join(pkg.SnapshotLinks, slotName))
	if err != nil {
		return err
	}
	statusCache, err := cbor.Marshal(pkg.Ancestors)
	if err != nil {
		return err
	}

	if err := add(versionFileName, []byte(pkg.Version)); err != nil {
		return err
	}
	if err := add(snapshotsDir+"/"+slotName+"/"+slotName, bankFile); err != nil {
		return err
	}
	if err := add(snapshotsDir+"/"+statusCacheFileName, statusCache); err != nil {
		return err
	}
	for _, storage := range pkg.Storages {
		data, err := cbor.Marshal(storage.Accounts)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s/%d.%d", accountsDirName, storage.Slot, storage.ID)
		if err := add(name, data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

// Archive is the decoded content of a snapshot archive.
type Archive struct {
	Version     models.SnapshotVersion
	Bank        BankFields
	StatusCache []models.Slot
	// oldest first
	Storages []*models.AccountStorage
}

// OpenArchive reads a snapshot archive; the codec is taken from the file
// extension.
func OpenArchive(path string) (*Archive, error) {
	compression, err := compressionFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := newDecompressor(f, compression)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer zr.Close()

	var (
		archive  Archive
		haveBank bool
		tr       = tar.NewReader(zr)
	)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, err
		}

		switch {
		case hdr.Name == versionFileName:
			archive.Version = models.SnapshotVersion(buf.String())
		case hdr.Name == snapshotsDir+"/"+statusCacheFileName:
			if err := cbor.Unmarshal(buf.Bytes(), &archive.StatusCache); err != nil {
				return nil, fmt.Errorf("decode status cache: %w", err)
			}
		case strings.HasPrefix(hdr.Name, snapshotsDir+"/"):
			if err := cbor.Unmarshal(buf.Bytes(), &archive.Bank); err != nil {
				return nil, fmt.Errorf("decode bank fields: %w", err)
			}
			haveBank = true
		case strings.HasPrefix(hdr.Name, accountsDirName+"/"):
			storage := &models.AccountStorage{}
			if _, err := fmt.Sscanf(hdr.Name, accountsDirName+"/%d.%d", &storage.Slot, &storage.ID); err != nil {
				return nil, fmt.Errorf("bad storage entry %q: %w", hdr.Name, err)
			}
			if err := cbor.Unmarshal(buf.Bytes(), &storage.Accounts); err != nil {
				return nil, fmt.Errorf("decode storage %q: %w", hdr.Name, err)
			}
			archive.Storages = append(archive.Storages, storage)
		}
	}
	if !haveBank {
		return nil, fmt.Errorf("%s: no bank snapshot in archive", path)
	}
	sort.Slice(archive.Storages, func(i, j int) bool { return archive.Storages[i].Slot < archive.Storages[j].Slot })
	return &archive, nil
}

// VerifyArchive opens an archive and checks that its storages hash to the
// accounts hash recorded in the bank snapshot.
func VerifyArchive(path string) (*Archive, error) {
	archive, err := OpenArchive(path)
	if err != nil {
		return nil, err
	}
	if got := bank.HashStorages(archive.Storages); got != archive.Bank.AccountsHash {
		return archive, fmt.Errorf("slot %d: computed %s, recorded %s: %w",
			archive.Bank.Slot, got, archive.Bank.AccountsHash, ErrAccountsHashMismatch)
	}
	return archive, nil
}

// PurgeOldArchives keeps the newest maxRetained archives in the catalog and
// removes the rest from disk and from the catalog.
func PurgeOldArchives(catalog Catalog, maxRetained int) error {
	recs, err := catalog.ListPackages()
	if err != nil {
		return err
	}
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetainedArchives
	}
	var result *multierror.Error
	for len(recs) > maxRetained {
		rec := recs[0]
		recs = recs[1:]
		if err := os.Remove(rec.ArchivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("remove archive %s: %w", rec.ArchivePath, err))
			continue
		}
		if err := catalog.DeletePackage(rec.Slot); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete catalog entry %d: %w", rec.Slot, err))
		}
	}
	return result.ErrorOrNil()
}
