package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simrun/internal/backup"
	"github.com/nvandessel/simrun/internal/pathutil"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the run registry",
		Long: `Write the run registry to a compressed, checksummed snapshot file.

Snapshots go to backup.dir (default ~/.simrun/backups) and the newest
backup.keep are retained. A snapshot is also taken before every delete
unless backup.keep is 0.

Examples:
  simrun backup
  simrun backup list
  simrun backup verify ~/.simrun/backups/rundb-20260301-120000.000000000.snap
  simrun backup restore ~/.simrun/backups/rundb-20260301-120000.000000000.snap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			path, header, err := backup.Backup(cmd.Context(), a.store, a.cfg.Backup.Dir)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			a.rotateBackups()

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"path":      path,
					"run_count": header.RunCount,
					"checksum":  header.Checksum,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %d runs\n", header.RunCount)
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", pathutil.RedactPath(path))
			return nil
		},
	}

	cmd.AddCommand(
		newBackupListCmd(),
		newBackupVerifyCmd(),
		newBackupRestoreCmd(),
	)

	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registry snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			snaps, err := backup.List(cfg.Backup.Dir)
			if err != nil {
				return err
			}

			type entry struct {
				Path      string `json:"path"`
				Size      int64  `json:"size_bytes"`
				CreatedAt string `json:"created_at,omitempty"`
				RunCount  int    `json:"run_count"`
			}
			entries := make([]entry, 0, len(snaps))
			for _, s := range snaps {
				e := entry{Path: s.Path, Size: s.Size}
				if h, err := backup.ReadHeader(s.Path); err == nil {
					e.CreatedAt = h.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
					e.RunCount = h.RunCount
				}
				entries = append(entries, e)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"backups":     entries,
					"total_count": len(entries),
				})
			}

			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No backups found in %s\n", pathutil.RedactPath(cfg.Backup.Dir))
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tCREATED\tRUNS\tSIZE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", filepath.Base(e.Path), e.CreatedAt, e.RunCount, e.Size)
			}
			return w.Flush()
		},
	}
}

func newBackupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check a snapshot's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			header, err := backup.Verify(args[0])
			if jsonOut {
				out := map[string]interface{}{"path": args[0], "valid": err == nil}
				if err != nil {
					out["error"] = err.Error()
				} else {
					out["run_count"] = header.RunCount
				}
				if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(out); encErr != nil {
					return encErr
				}
				return err
			}
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d runs, %s\n", header.RunCount, header.Checksum)
			return nil
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the registry with a snapshot",
		Long: `Replace every run record with the contents of a snapshot.

Output directories are not recreated; runs deleted since the snapshot
come back with their records only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := backup.Restore(cmd.Context(), a.store, args[0])
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			if err := a.reg.Reload(cmd.Context()); err != nil {
				return err
			}
			a.audit.Record("restore", map[string]any{"path": args[0], "runs": n})

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{"path": args[0], "run_count": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d runs\n", n)
			return nil
		},
	}
}
