package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sitebooks/costledger/finance"
)

// RecalculateOptions holds flags for the recalculate command.
type RecalculateOptions struct {
	*RootOptions
	Project string
	Code    string
}

// NewRecalculateCommand creates the recalculate command.
func NewRecalculateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecalculateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Rebuild financial snapshots from source documents",
		Long: `Recompute financial snapshots without running the server.

With --code only that key is rebuilt. Without it, every key of the project
that already has a snapshot is rebuilt.

Example:
  costledger recalculate --db ./data/costledger.db --project P-001
  costledger recalculate --db ./data/costledger.db --project P-001 --code C-100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecalculate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "project ID (required)")
	cmd.Flags().StringVar(&opts.Code, "code", "", "cost code ID")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runRecalculate(cmd *cobra.Command, opts *RecalculateOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := finance.NewService(finance.ServiceConfig{
		Store:              store,
		States:             store,
		Master:             store,
		RecalculateTimeout: cfg.Recalculation.Timeout,
		Logger:             logger,
	})

	project := finance.ProjectID(opts.Project)
	var keys []finance.Key
	if opts.Code != "" {
		keys = append(keys, finance.NewKey(project, finance.CodeID(opts.Code)))
	} else {
		states, err := svc.Summary(ctx, project)
		if err != nil {
			return err
		}
		for _, s := range states {
			keys = append(keys, s.Key())
		}
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, key := range keys {
		state, err := svc.Recalculate(ctx, key)
		if err != nil {
			failed++
			logger.Error("recalculation failed", "key", key.String(), "error", err)
			continue
		}
		fmt.Fprintf(out, "%s\tcommitted=%s\tcertified=%s\tpaid=%s\tretention=%s\trevision=%d\n",
			key, state.CommittedValue, state.CertifiedValue, state.PaidValue, state.RetentionHeld, state.SourceRevision)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d keys failed to recalculate", failed, len(keys))
	}
	return nil
}
