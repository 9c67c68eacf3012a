package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

var (
	queryUser string
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question over the indexed documents",
	Long: `Answers a question from the permission-trimmed index on behalf of
a user. Retrieval is filtered to the user's resolved directory groups
before ranking, and the answer cites the passages it was grounded on.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryUser, "user", "u", "", "user ID to answer on behalf of (required)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the full result as JSON")
	_ = queryCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	result, err := queryService.AnswerQuery(cmd.Context(), queryUser, args[0])
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		return outputQueryJSON(cmd, result)
	}
	outputQueryText(cmd, result)
	return nil
}

func outputQueryJSON(cmd *cobra.Command, result *domain.RetrievalResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputQueryText(cmd *cobra.Command, result *domain.RetrievalResult) {
	cmd.Println(result.Answer.Text)
	for _, warning := range result.Answer.Warnings {
		cmd.Printf("warning: %s\n", warning)
	}
}
