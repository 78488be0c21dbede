package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build the index for the corpus and report on it",
		Long: `The 'index' command loads the corpus, embeds every document and reports
the resulting index. With index.cache_dir set the snapshot is persisted, so
later commands over the same corpus skip embedding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.readyPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			info := p.Info()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "corpus:      %s\n", opts.cfg.Corpus.Path)
			fmt.Fprintf(out, "documents:   %d\n", info.Documents)
			fmt.Fprintf(out, "dimension:   %d\n", info.Dimension)
			fmt.Fprintf(out, "embedder:    %s\n", info.Embedder)
			fmt.Fprintf(out, "fingerprint: %s\n", info.Fingerprint)
			fmt.Fprintf(out, "from cache:  %t\n", info.FromCache)
			if s := p.Summary(); s != "" {
				fmt.Fprintf(out, "summary:     %s\n", s)
			}
			return nil
		},
	}
}
