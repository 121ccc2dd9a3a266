package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"relaybot/internal/usage"

	"github.com/spf13/cobra"
)

func usageCmd() *cobra.Command {
	var conversation string
	var recent int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print token usage recorded in the usage ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			if !cfg.Usage.Enabled {
				return errors.New("usage ledger is disabled (set usage.enabled)")
			}
			ledger, err := usage.Open(cfg.Usage.DBPath, logger)
			if err != nil {
				return err
			}
			defer ledger.Close()

			totals, err := ledger.Totals(cmd.Context(), conversation)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printTotals(out, conversation, totals)

			if recent <= 0 {
				return nil
			}
			entries, err := ledger.Recent(cmd.Context(), recent)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			printEntries(out, entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "restrict totals to one conversation id")
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent entries to list (0 to skip)")
	return cmd
}

func printTotals(w io.Writer, conversation string, t usage.Totals) {
	scope := "all conversations"
	if conversation != "" {
		scope = "conversation " + conversation
	}
	fmt.Fprintf(w, "Usage for %s\n", scope)
	fmt.Fprintf(w, "  turns:             %d (%d failed)\n", t.Turns, t.Failed)
	fmt.Fprintf(w, "  prompt tokens:     %d\n", t.PromptTokens)
	fmt.Fprintf(w, "  completion tokens: %d\n", t.CompletionTokens)
	fmt.Fprintf(w, "  total tokens:      %d\n", t.TotalTokens)
}

func printEntries(w io.Writer, entries []usage.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCHANNEL\tCONVERSATION\tOUTCOME\tTOKENS\tLATENCY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Channel,
			e.ConversationID,
			e.Outcome,
			e.TotalTokens,
			e.Latency,
		)
	}
	tw.Flush()
}
