package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"livestream-studio/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cmd.Context(), cfg.History.Driver, cfg.History.DSN)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close(context.Background())

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Session", "Ended", "Duration", "Reason", "Exit", "Resolution", "FPS", "Bitrate", "Key"},
				historyRows(entries),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Number of entries to show")
	return cmd
}

func historyRows(entries []history.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		exit := "-"
		if entry.ExitCode != nil {
			exit = strconv.Itoa(*entry.ExitCode)
		}
		rows = append(rows, []string{
			entry.SessionID,
			entry.EndedAt.Local().Format(time.DateTime),
			entry.Duration().Round(time.Second).String(),
			entry.Reason,
			exit,
			entry.Resolution,
			strconv.Itoa(entry.LastFPS),
			fmt.Sprintf("%.0fk", entry.LastBitrate),
			entry.KeyFingerprint,
		})
	}
	return rows
}
