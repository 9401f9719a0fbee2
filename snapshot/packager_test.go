package snapshot_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forks-project/db"
	"forks-project/models"
	"forks-project/repository"
	"forks-project/snapshot"
)

type doneResult struct {
	pkg *models.AccountsPackage
	err error
}

func newRepository(t *testing.T) *repository.PackageRepository {
	t.Helper()
	ldb, err := db.NewLevelDB(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	return repository.NewPackageRepository(ldb)
}

func packageRequest(t *testing.T, done chan<- doneResult) *models.PackageRequest {
	t.Helper()
	b := rootedBank(t)
	dir := t.TempDir()
	return &models.PackageRequest{
		Checkpoint:      b,
		Storages:        b.SnapshotStorages(),
		SlotsToSnapshot: b.RootSlots(),
		Config: models.SnapshotConfig{
			IntervalSlots: 100,
			OutputPath:    filepath.Join(dir, "out"),
			WorkingPath:   filepath.Join(dir, "work"),
			Compression:   models.CompressionZstd,
			Version:       models.DefaultSnapshotVersion,
		},
		Done: func(pkg *models.AccountsPackage, err error) {
			done <- doneResult{pkg: pkg, err: err}
		},
	}
}

func TestPackagerProducesArchive(t *testing.T) {
	repo := newRepository(t)
	packager := snapshot.NewPackager(repo, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- packager.Run(ctx) }()

	done := make(chan doneResult, 1)
	req := packageRequest(t, done)
	require.NoError(t, packager.Send(req))

	var result doneResult
	select {
	case result = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("package request was not completed")
	}
	require.NoError(t, result.err)
	require.NotNil(t, result.pkg)
	assert.Equal(t, models.Slot(2), result.pkg.Slot)

	rec, err := repo.GetLatestPackage()
	require.NoError(t, err)
	assert.Equal(t, result.pkg.ArchivePath, rec.ArchivePath)
	assert.Equal(t, "zstd", rec.Compression)
	assert.Equal(t, 3, rec.StorageCount)
	assert.Positive(t, rec.Size)

	_, err = snapshot.VerifyArchive(rec.ArchivePath)
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-errCh)
}

func TestPackagerReportsFailure(t *testing.T) {
	repo := newRepository(t)
	packager := snapshot.NewPackager(repo, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go packager.Run(ctx)

	done := make(chan doneResult, 1)
	req := packageRequest(t, done)
	// a regular file where the working directory should be
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, writeFile(blocker))
	req.Config.WorkingPath = blocker

	require.NoError(t, packager.Send(req))
	result := <-done
	assert.Error(t, result.err)
	assert.Nil(t, result.pkg)

	recs, err := repo.ListPackages()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPackagerSendDoesNotBlock(t *testing.T) {
	packager := snapshot.NewPackager(newMemCatalog(), 1)
	done := make(chan doneResult, 2)

	// not running, so the first request fills the queue
	require.NoError(t, packager.Send(packageRequest(t, done)))
	assert.ErrorIs(t, packager.Send(packageRequest(t, done)), snapshot.ErrQueueFull)
}

func TestPackagerStopCompletesQueuedRequests(t *testing.T) {
	packager := snapshot.NewPackager(newMemCatalog(), 1)
	done := make(chan doneResult, 1)
	require.NoError(t, packager.Send(packageRequest(t, done)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, packager.Run(ctx))

	result := <-done
	// the request either ran before cancellation was noticed or was drained
	if result.err != nil {
		assert.ErrorIs(t, result.err, snapshot.ErrPackagerStopped)
	}
	assert.ErrorIs(t, packager.Send(packageRequest(t, done)), snapshot.ErrPackagerStopped)
}
