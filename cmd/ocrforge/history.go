package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [query]",
	Short: "List recent jobs or search recognized text",
	Long: `Without a query, list the most recent jobs. With a query, search job
file names, errors and the recognized text of finished conversions.

Examples:
  ocrforge history
  ocrforge history "invoice 4411"
  ocrforge history --clear`,
	SilenceUsage: true,
	RunE:         runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "maximum entries to show")
	historyCmd.Flags().Bool("clear", false, "delete all history")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}
	defer a.close()
	if a.history == nil {
		return errors.New("history is unavailable")
	}

	if wipe, _ := cmd.Flags().GetBool("clear"); wipe {
		if err := a.history.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := a.history.Search(strings.Join(args, " "), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no matching jobs")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tFILE\tSTATUS\tSIZE\tPAGES\tOUTPUT")
	for _, e := range entries {
		out := e.OutputPath
		if e.Error != "" {
			out = firstLine(e.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Date.Local().Format("2006-01-02 15:04"), e.Filename, e.Status, e.SizeMB(), e.Pages, out)
	}
	return w.Flush()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
