package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the retrieval indexes from the corpus directory",
		Long: `Rebuilds the sparse and dense indexes plus the passage store for
every <scope>.jsonl file in the corpus directory. With a sqlite passage
store and a qdrant backend configured, the results persist for a later
'retrievald serve'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if dir != "" {
				cfg.Corpus.Dir = dir
			}

			s, err := buildStack(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer s.close()

			n, err := s.indexer.ReindexDir(cmd.Context(), cfg.Corpus.Dir)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d scope(s) from %s\n", n, cfg.Corpus.Dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Corpus directory (overrides config)")
	return cmd
}
