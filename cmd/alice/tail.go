package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nidhogg/alice/internal/config"
	"github.com/nidhogg/alice/internal/transcript"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTailCmd(opts *options) *cobra.Command {
	var (
		count  int64
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "tail RUN_ID",
		Short: "Print a run's transcript from the Redis stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Redis.URL == "" {
				return fmt.Errorf("tail: no redis url configured")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sink, err := transcript.NewRedisSink(ctx, cfg.Database.Redis.URL, zap.NewNop())
			if err != nil {
				return err
			}
			defer sink.Close()

			out := cmd.OutOrStdout()
			lines, err := sink.Tail(ctx, args[0], count)
			if err != nil {
				return err
			}
			for _, l := range lines {
				printLine(out, l, false)
			}
			if !follow {
				return nil
			}
			for l := range sink.Follow(ctx, args[0]) {
				printLine(out, l, false)
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&count, "lines", "n", 20, "number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	return cmd
}
