package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync [library-id]",
	Short: "Synchronise document libraries into the index",
	Long: `Runs one ingestion cycle: reads each library's change feed since
the stored cursor and pushes the changes through permission resolution,
extraction, chunking, embedding and indexing.
If a library ID is given, only that library is synchronised.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

var resyncCmd = &cobra.Command{
	Use:   "resync [library-id]",
	Short: "Discard a library's cursor and crawl it from scratch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncOrchestrator == nil {
			return errors.New("sync service not configured")
		}
		report, err := syncOrchestrator.Resync(cmd.Context(), args[0])
		if report != nil {
			printReport(cmd, report)
		}
		if err != nil {
			return fmt.Errorf("resync failed: %w", err)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "discard the cursor and crawl the whole library")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resyncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errors.New("sync service not configured")
	}

	ctx := cmd.Context()

	if len(args) == 0 {
		if syncFull {
			return errors.New("--full requires a library ID")
		}
		reports, err := syncOrchestrator.RunAll(ctx)
		for _, report := range reports {
			printReport(cmd, report)
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return nil
	}

	libraryID := args[0]
	var (
		report *domain.SyncReport
		err    error
	)
	if syncFull {
		report, err = syncOrchestrator.Resync(ctx, libraryID)
	} else {
		report, err = syncOrchestrator.Run(ctx, libraryID)
	}
	if report != nil {
		printReport(cmd, report)
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

func printReport(cmd *cobra.Command, report *domain.SyncReport) {
	if report == nil {
		return
	}
	cmd.Printf("%s: %d processed, %d removed, %d chunks written (%s)\n",
		report.LibraryID, report.Processed, report.Removed, report.ChunksWritten,
		report.FinishedAt.Sub(report.StartedAt).Round(10*time.Millisecond))
	if !report.CursorAdvanced {
		cmd.Printf("%s: cursor held back, %d item(s) will be retried next cycle\n",
			report.LibraryID, len(report.Failures))
	}
	for _, failure := range report.Failures {
		cmd.Printf("  failed: %s (attempts %d): %s\n", failure.DocumentID, failure.Attempts, failure.Reason)
	}
}
