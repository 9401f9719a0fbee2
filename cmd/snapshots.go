package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"forks-project/db"
	"forks-project/repository"
	"forks-project/snapshot"
)

var flagBankSnapshots bool

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect packaged snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogued snapshot archives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()

		if flagBankSnapshots {
			paths, err := snapshot.GetSnapshotPaths(cfg.Snapshot.WorkingPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "SLOT\tPATH")
			for _, p := range paths {
				fmt.Fprintf(w, "%d\t%s\n", p.Slot, p.SnapshotFilePath)
			}
			return nil
		}

		ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
		if err != nil {
			return err
		}
		defer ldb.Close()

		recs, err := repository.NewPackageRepository(ldb).ListPackages()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "SLOT\tHEIGHT\tCOMPRESSION\tSIZE\tCREATED\tARCHIVE")
		for _, rec := range recs {
			created := time.UnixMilli(rec.CreatedAt).UTC().Format(time.RFC3339)
			fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%s\n",
				rec.Slot, rec.BlockHeight, rec.Compression, rec.Size, created, rec.ArchivePath)
		}
		return nil
	},
}

var snapshotsVerifyCmd = &cobra.Command{
	Use:   "verify <slot|latest>",
	Short: "Check a snapshot archive against its accounts hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
		if err != nil {
			return err
		}
		defer ldb.Close()
		repo := repository.NewPackageRepository(ldb)

		var path string
		if args[0] == "latest" {
			rec, err := repo.GetLatestPackage()
			if err != nil {
				return err
			}
			path = rec.ArchivePath
		} else {
			slot, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid slot %q: %w", args[0], err)
			}
			rec, err := repo.GetPackage(slot)
			if err != nil {
				return fmt.Errorf("slot %d: %w", slot, err)
			}
			path = rec.ArchivePath
		}

		archive, err := snapshot.VerifyArchive(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: slot %d, version %s, %d storages, accounts hash %s OK\n",
			path, archive.Bank.Slot, archive.Version, len(archive.Storages), archive.Bank.AccountsHash)
		return nil
	},
}

func init() {
	snapshotsListCmd.Flags().BoolVar(&flagBankSnapshots, "bank", false, "list bank snapshots in the working directory instead")
	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsVerifyCmd)
}
