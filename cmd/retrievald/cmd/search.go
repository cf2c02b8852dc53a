package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lorekeep/retrieval/internal/pipeline"
)

func newSearchCmd() *cobra.Command {
	var (
		scope     string
		topKFinal int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Run one retrieval query against the local corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// File logging only; stdout carries the results.
			cfg.Logging.WriteToStderr = false
			cleanup, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := buildStack(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.loadCorpus(cmd.Context()); err != nil {
				return err
			}

			result, err := s.pipeline.Run(cmd.Context(), pipeline.Request{
				Query:     strings.Join(args, " "),
				Scope:     scope,
				TopKFinal: topKFinal,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			fmt.Fprintf(out, "verdict: %s  corrective: %s", result.Verdict, result.Corrective)
			if len(result.Flags) > 0 {
				fmt.Fprintf(out, "  flags: %s", strings.Join(result.Flags, ", "))
			}
			fmt.Fprintln(out)
			for _, c := range result.Candidates {
				fmt.Fprintf(out, "%2d. [%.5f] %s  %s\n", c.FinalRank+1, c.FusedScore, c.ID, c.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "default", "Tenant scope to search")
	cmd.Flags().IntVar(&topKFinal, "top-k", 0, "Number of results (0 uses the configured default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}
