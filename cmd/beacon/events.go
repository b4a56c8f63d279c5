package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect recorded events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := listQuery(cmd)
		if v, _ := cmd.Flags().GetString("start"); v != "" {
			q.Set("start", v)
		}
		if v, _ := cmd.Flags().GetString("end"); v != "" {
			q.Set("end", v)
		}

		list, err := newClient(cmd).ListEvents(cmd.Context(), q)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSEVERITY\tTYPE\tENTITY\tMESSAGE")
		for _, e := range list.Events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Severity, e.Type, e.EntityName, e.Message)
		}
		_ = w.Flush()
		fmt.Printf("\n%d of %d events\n", list.Results, list.TotalResults)
		return nil
	},
}

func init() {
	addListFlags(eventsListCmd)
	eventsListCmd.Flags().String("start", "", "Only events at or after this time (RFC3339)")
	eventsListCmd.Flags().String("end", "", "Only events before this time (RFC3339)")

	eventsCmd.AddCommand(eventsListCmd)
	rootCmd.AddCommand(eventsCmd)
}
