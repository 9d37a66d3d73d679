package main

import (
	"fmt"

	"github.com/nidhogg/alice/internal/config"
	"github.com/nidhogg/alice/internal/scenario"
	"github.com/spf13/cobra"
)

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and scenario files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			sc, err := scenario.Load(opts.scenarioPath)
			if err != nil {
				return err
			}
			sc.Tune(&cfg.Simulation)
			sim := cfg.Simulation.Defaults()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config   %s: %d providers, engine %s, max %d turns\n",
				opts.configPath, len(cfg.Providers), sim.Engine, sim.MaxTurns)
			fmt.Fprintf(out, "scenario %s: %q, %d residents, %d knowledge records, privileged %q\n",
				opts.scenarioPath, sc.Name, len(sc.Residents), len(sc.Knowledge), sc.Privileged)
			if sc.Privileged != "" && sim.Engine == config.EngineSingle {
				fmt.Fprintf(out, "warning: engine %s never reports a verdict, the run can only end at the turn cap\n", sim.Engine)
			}
			return nil
		},
	}
}
