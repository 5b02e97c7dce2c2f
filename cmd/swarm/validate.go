package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/logging"
)

// newValidateCmd checks the config files and environment without starting
// anything.
func newValidateCmd(f *rootFlags, lookup agent.LookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config files and required environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildOptions(f, lookup, logging.Discard())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			memAddr, evalAddr := opts.MemoryAddr, opts.EvaluationAddr
			if opts.DisableMemory {
				memAddr = "disabled"
			}
			if opts.DisableEvaluation {
				evalAddr = "disabled"
			}
			fmt.Fprintf(out, "discovery  %s\nmemory     %s\nevaluation %s\n", opts.DiscoveryAddr, memAddr, evalAddr)
			for _, spec := range opts.Agents {
				line := fmt.Sprintf("agent %-16s %-10s %s", spec.Config.ID, spec.Config.Type, spec.Config.URL)
				if spec.Runtime != nil {
					line += " (tools: " + spec.Runtime.ServerURL + ")"
				}
				fmt.Fprintln(out, line)
			}
			if opts.ToolRuntime != nil {
				fmt.Fprintf(out, "tool runtime %s (%s)\n", opts.ToolRuntime.URL, opts.ToolRuntime.Transport)
			}
			return nil
		},
	}
}
