package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	validateUser   string
	validateExpect []string
	validateDeny   []string
)

var validateCmd = &cobra.Command{
	Use:   "validate [probe-query]",
	Short: "Check which documents a user can retrieve",
	Long: `Runs a probe query as a user and lists the distinct document
titles the security filter lets through. With --expect and --deny the
command exits non-zero when the visible set violates the expectation,
for use in permission regression checks.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateUser, "user", "u", "", "user ID to probe as (required)")
	validateCmd.Flags().StringSliceVar(&validateExpect, "expect", nil, "titles that must be visible")
	validateCmd.Flags().StringSliceVar(&validateDeny, "deny", nil, "titles that must not be visible")
	_ = validateCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	titles, err := queryService.VisibleTitles(cmd.Context(), validateUser, args[0])
	if err != nil {
		return fmt.Errorf("validation probe failed: %w", err)
	}

	if len(titles) == 0 {
		cmd.Println("No documents visible.")
	}
	for _, title := range titles {
		cmd.Println(title)
	}

	visible := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		visible[title] = struct{}{}
	}

	failures := 0
	for _, title := range validateExpect {
		if _, ok := visible[title]; ok {
			cmd.Printf("PASS: %q visible\n", title)
		} else {
			cmd.Printf("FAIL: expected %q to be visible\n", title)
			failures++
		}
	}
	for _, title := range validateDeny {
		if _, ok := visible[title]; !ok {
			cmd.Printf("PASS: %q hidden\n", title)
		} else {
			cmd.Printf("FAIL: expected %q to be hidden\n", title)
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d permission expectation(s) violated", failures)
	}
	return nil
}
