package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/nidhogg/alice/internal/transcript"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(opts *options) *cobra.Command {
	var (
		maxTurns int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation headless and print the transcript",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, sc, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if maxTurns > 0 {
				sc.MaxTurns = maxTurns
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := build(ctx, cfg, false, logger)
			if err != nil {
				return err
			}
			if err := sc.ApplyTo(st.engine); err != nil {
				st.Close()
				return err
			}

			sub := st.engine.SubscribeTranscript(cfg.Simulation.QueueSize)
			out := cmd.OutOrStdout()

			var g errgroup.Group
			g.Go(func() error {
				for line := range sub.C() {
					if err := printLine(out, line, asJSON); err != nil {
						return err
					}
				}
				return nil
			})

			final, err := st.engine.Run(ctx)
			// Close ends the subscription so the printer returns.
			cerr := st.Close()
			if werr := g.Wait(); err == nil {
				err = werr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nrun %s ended after %d turns (%s, status %s)\n",
				st.engine.RunID(), final.TurnCount, final.Reason, final.Status)
			return cerr
		},
	}
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "override the scenario turn cap")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print transcript lines as JSON")
	return cmd
}

func printLine(w io.Writer, line transcript.Line, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(line)
	}
	_, err := fmt.Fprintf(w, "[T=%d] %s\n", line.Turn, line.Description)
	return err
}
