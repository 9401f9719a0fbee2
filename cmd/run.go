package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"forks-project/bank"
	"forks-project/dag"
	"forks-project/db"
	"forks-project/handlers"
	"forks-project/logger"
	"forks-project/models"
	"forks-project/replay"
	"forks-project/repository"
	"forks-project/routers"
	"forks-project/snapshot"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay slots, advance the root and package snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Logger.Sync()

		logger.Logger.Info("Starting fork manager...")

		// Snapshot catalog
		ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
		if err != nil {
			logger.Logger.Fatal("Failed to open leveldb", zap.Error(err))
		}
		defer ldb.Close()
		packageRepo := repository.NewPackageRepository(ldb)

		snapshotConfig, err := cfg.SnapshotConfig()
		if err != nil {
			return err
		}

		accounts := bank.NewAccountsDB()
		schedule := models.EpochSchedule{SlotsPerEpoch: cfg.Replay.SlotsPerEpoch}
		genesis := bank.NewGenesis(accounts, schedule, cfg.Replay.TicksPerSlot, replay.GenesisAccounts())
		forks := dag.New(genesis)

		// Snapshots are taken on accounts hash slots, so snapshotting sets
		// the hashing cadence.
		hashInterval := cfg.Forks.AccountsHashIntervalSlots
		var (
			sink     dag.PackageSink
			packager *snapshot.Packager
		)
		if snapshotConfig != nil {
			hashInterval = snapshotConfig.IntervalSlots
			forks.SetSnapshotConfig(snapshotConfig)
			packager = snapshot.NewPackager(packageRepo, cfg.Snapshot.QueueSize)
			sink = packager
		}
		forks.SetAccountsHashIntervalSlots(hashInterval)

		driver, err := replay.NewDriver(forks, accounts, sink, replay.Options{
			Slots:             cfg.Replay.Slots,
			ForkEvery:         cfg.Replay.ForkEvery,
			ConfirmationDepth: cfg.Replay.ConfirmationDepth,
			SlotDuration:      cfg.Replay.SlotDuration,
		})
		if err != nil {
			return err
		}

		h := handlers.NewHandler(driver, packageRepo)
		r := mux.NewRouter()
		routers.RegisterRoutes(r, h)
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: r,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		if packager != nil {
			g.Go(func() error { return packager.Run(gctx) })
		}
		g.Go(func() error { return driver.Run(gctx) })
		g.Go(func() error {
			logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Logger.Info("Shutdown signal received, exiting...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		if dag.IsInvariantViolation(err) {
			var ie *dag.InvariantError
			errors.As(err, &ie)
			logger.Logger.Fatal("Fork table invariant violated", zap.Uint64("slot", ie.Slot), zap.Error(ie.Err))
		}
		return err
	},
}
