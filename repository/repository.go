package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"forks-project/db"
	"forks-project/models"
)

// ErrPackageNotFound is returned when no catalog entry exists for a slot
var ErrPackageNotFound = errors.New("snapshot package not found")

const packagePrefix = "package:"

// It abstracts the snapshot catalog storage from the packager and the HTTP handlers
type PackageRepositoryInterface interface {
	PutPackage(rec *models.PackageRecord) error
	GetPackage(slot models.Slot) (*models.PackageRecord, error)
	GetLatestPackage() (*models.PackageRecord, error)
	ListPackages() ([]*models.PackageRecord, error)
	DeletePackage(slot models.Slot) error
}

// PackageRepository implements the PackageRepositoryInterface using LevelDB as the storage backend
type PackageRepository struct {
	db *db.LevelDB
}

// NewPackageRepository creates and returns a new PackageRepository instance
func NewPackageRepository(db *db.LevelDB) *PackageRepository {
	return &PackageRepository{db: db}
}

// Keys are zero padded so that LevelDB key order is slot order
func packageKey(slot models.Slot) []byte {
	return []byte(fmt.Sprintf("%s%020d", packagePrefix, slot))
}

// PutPackage stores the catalog entry of a finished archive
func (r *PackageRepository) PutPackage(rec *models.PackageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Put(packageKey(rec.Slot), data)
}

// GetPackage retrieves the catalog entry for a slot
func (r *PackageRepository) GetPackage(slot models.Slot) (*models.PackageRecord, error) {
	data, err := r.db.Get(packageKey(slot))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec models.PackageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Retrieves the entry with the highest slot, used to pick the archive to restart from
func (r *PackageRepository) GetLatestPackage() (*models.PackageRecord, error) {
	iter := r.db.NewIterator([]byte(packagePrefix))
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, err
		}
		return nil, ErrPackageNotFound
	}
	var rec models.PackageRecord
	if err := json.Unmarshal(iter.Value(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPackages retrieves all catalog entries in ascending slot order
func (r *PackageRepository) ListPackages() ([]*models.PackageRecord, error) {
	iter := r.db.NewIterator([]byte(packagePrefix))
	defer iter.Release()

	var recs []*models.PackageRecord
	for iter.Next() {
		var rec models.PackageRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, iter.Error()
}

// DeletePackage removes the catalog entry for a slot
func (r *PackageRepository) DeletePackage(slot models.Slot) error {
	return r.db.Delete(packageKey(slot))
}
