package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunOnceCmd() *cobra.Command {
	var printResults bool

	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Run a single scheduler pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.sequences.RunNow(cmd.Context())
			if err != nil {
				return err
			}

			if printResults {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			failed := 0
			for _, r := range results {
				if !r.Success {
					failed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d enrollments, %d failed\n", len(results), failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&printResults, "json", false, "Print every per-enrollment result as JSON")

	return cmd
}
