package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ocrforge/internal/chunk"
	"ocrforge/internal/document"
	"ocrforge/internal/raster"
)

var inspectCmd = &cobra.Command{
	Use:          "inspect <file.pdf>...",
	Short:        "Show page count, encryption and content type",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("password", "", "document password")
	inspectCmd.Flags().Bool("pages", false, "list page sizes and image DPI")
}

func runInspect(cmd *cobra.Command, args []string) error {
	password, _ := cmd.Flags().GetString("password")
	showPages, _ := cmd.Flags().GetBool("pages")
	out := cmd.OutOrStdout()

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tPAGES\tENCRYPTION\tCONTENT\tCHUNKS")
	for _, path := range args {
		doc := document.Inspect(path, password)
		chunks := 1
		if chunk.Needed(doc.PageCount, chunk.DefaultThreshold) {
			chunks = len(chunk.Plan(doc.PageCount, chunk.DefaultSize))
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n", path, doc.PageCount, doc.Encryption, doc.Classification, chunks)
	}
	w.Flush()

	if !showPages {
		return nil
	}
	for _, path := range args {
		pages, err := document.Geometry(path)
		if err != nil {
			fmt.Fprintf(out, "\n%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n", path)
		pw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(pw, "PAGE\tWIDTH(pt)\tHEIGHT(pt)\tIMAGE DPI\tRASTER DPI")
		for _, g := range pages {
			fmt.Fprintf(pw, "%d\t%.0f\t%.0f\t%d\t%d\n", g.Number, g.Width, g.Height, g.ImageDPI, raster.ResolveDPI(0, g.ImageDPI))
		}
		pw.Flush()
	}
	return nil
}
