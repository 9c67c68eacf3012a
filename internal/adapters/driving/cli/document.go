package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage individual documents",
}

var reindexCmd = &cobra.Command{
	Use:   "reindex [library-id] [document-id]",
	Short: "Re-run one document through the ingestion chain",
	Long: `Reprocesses a single document exactly as a change-feed upsert
would: permissions are re-resolved, text re-extracted and the index
records replaced. Documents no longer present in the store are removed
from the index instead.`,
	Args: cobra.ExactArgs(2),
	RunE: runReindex,
}

func init() {
	documentCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(documentCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errors.New("sync service not configured")
	}

	libraryID, documentID := args[0], args[1]
	if err := syncOrchestrator.ReindexDocument(cmd.Context(), libraryID, documentID); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	cmd.Printf("Document %s reindexed.\n", documentID)
	return nil
}
