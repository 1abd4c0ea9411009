package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/adapters"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/history"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/logging"
)

func newHistoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored conversation transcripts",
	}
	cmd.AddCommand(newHistoryListCmd(c), newHistoryExportCmd(c))
	return cmd
}

func newHistoryListCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversation ids, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDatabase(cmd.Context(), c.cfg.Database, c.logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			ids, err := adapters.NewLibSQLConversationStore(conn).ListConversations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of conversations (0 for all)")
	return cmd
}

func newHistoryExportCmd(c *cli) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export one conversation as json, yaml or markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := history.ExporterFor(format)
			if err != nil {
				return err
			}

			conn, err := openDatabase(cmd.Context(), c.cfg.Database, logging.Component(c.logger, "history"))
			if err != nil {
				return err
			}
			defer conn.Close()

			turns, err := adapters.NewLibSQLConversationStore(conn).LoadContext(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				return fmt.Errorf("conversation %s not found", args[0])
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return exporter.Export(history.Transcript{ConversationID: args[0], Turns: turns}, w)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format: json, yaml or markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
