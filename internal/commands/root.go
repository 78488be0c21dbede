// Package commands implements the ragqa command line.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ragqa/internal/config"
	"ragqa/internal/logger"
	"ragqa/internal/service"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

type rootOptions struct {
	configPath string
	verbose    bool
	corpus     string
	cfg        *config.AppConfig
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ragqa",
		Short:         "ragqa answers questions over a CSV corpus with retrieval-augmented generation",
		Version:       fmt.Sprintf("%s (commit: %s)", appVersion, appCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./config.yaml or ~/.config/ragqa/config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.corpus, "corpus", "", "corpus CSV file, overrides corpus.path")

	root.AddCommand(newIndexCmd(opts), newAskCmd(opts), newTUICmd(opts), newServeCmd(opts))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	root := NewRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

func (o *rootOptions) load() error {
	var (
		cfg *config.AppConfig
		err error
	)
	if o.configPath == "" {
		cfg, o.configPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(o.configPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.corpus != "" {
		cfg.Corpus.Path = o.corpus
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", o.configPath, err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	if o.verbose {
		logger.SetVerbose(true)
	}
	logger.Debug("config loaded", "path", o.configPath)
	o.cfg = cfg
	return nil
}

// readyPipeline assembles the pipeline and builds the index from the configured corpus.
func (o *rootOptions) readyPipeline(ctx context.Context) (*service.Pipeline, error) {
	p, err := newPipeline(ctx, o.cfg)
	if err != nil {
		return nil, err
	}
	if err := p.BuildIndex(ctx, o.cfg.Corpus.Path); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("build index: %w", err)
	}
	return p, nil
}
