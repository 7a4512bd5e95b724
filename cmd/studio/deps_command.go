package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"livestream-studio/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external binaries and host resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.CheckBinaries(deps.Requirements(cfg.Encoder.Binary, cfg.Surface.ChromePath, cfg.Audio.Pactl, cfg.Audio.Enabled))
			host, hostErr := deps.CheckHost(cmd.Context(), deps.MinAvailableMemory)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Dependency", "Available", "Command", "Detail"},
				dependencyRows(statuses),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			if hostErr != nil {
				fmt.Fprintf(out, "Host memory: unknown (%v)\n", hostErr)
			} else {
				fmt.Fprintln(out, renderTable(
					[]string{"Total", "Available", "Used", "Sufficient"},
					[][]string{hostRow(host)},
					[]columnAlignment{alignRight, alignRight, alignRight, alignLeft},
				))
			}

			for _, status := range statuses {
				if !status.Available && !status.Optional {
					return fmt.Errorf("required dependency %s is missing", status.Name)
				}
			}
			return nil
		},
	}
}

func dependencyRows(statuses []deps.Status) [][]string {
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		detail := status.Detail
		if detail == "" {
			detail = status.Description
		}
		rows = append(rows, []string{status.Name, yesNo(status.Available), status.Command, detail})
	}
	return rows
}

func hostRow(host deps.HostStatus) []string {
	sufficient := yesNo(host.Sufficient)
	if host.Detail != "" {
		sufficient += " (" + host.Detail + ")"
	}
	return []string{
		fmt.Sprintf("%d MiB", host.TotalMemory>>20),
		fmt.Sprintf("%d MiB", host.AvailableMemory>>20),
		fmt.Sprintf("%.1f%%", host.UsedPercent),
		sufficient,
	}
}
