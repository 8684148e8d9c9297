package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ocrforge/internal/config"
	"ocrforge/internal/toolchain"
)

var doctorCmd = &cobra.Command{
	Use:          "doctor",
	Short:        "Check the OCR toolchain and installed languages",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	p, err := config.Load(profilePath())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	tools := toolchain.Detect(log.Logger, p.Toolchain())
	out := cmd.OutOrStdout()

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tPATH\tVERSION\tNEEDED FOR")
	rows := []struct{ name, path, role string }{
		{"ocrmypdf", tools.OCRmyPDF, "all conversions"},
		{"tesseract", tools.Tesseract, "all conversions"},
		{"pdftoppm", tools.Pdftoppm, "rasterize mode, sanitize fallback"},
		{"qpdf", tools.Qpdf, "documents pdfcpu cannot decrypt"},
	}
	for _, r := range rows {
		path, version := "not found", ""
		if r.path != "" {
			path = r.path
			version = toolchain.Version(ctx, r.path)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.name, path, version, r.role)
	}
	w.Flush()

	fmt.Fprintf(out, "\nsettings: %s\n", profilePath())
	if tools.Tesseract != "" {
		langs, err := toolchain.Languages(ctx, tools.Tesseract)
		if err != nil {
			fmt.Fprintf(out, "languages: could not list (%v)\n", err)
		} else {
			fmt.Fprintf(out, "languages: %s\n", strings.Join(langs, " "))
			if missing := toolchain.MissingLanguages(langs, p.Languages); len(missing) > 0 {
				fmt.Fprintf(out, "configured but not installed: %s\n", strings.Join(missing, " "))
			}
		}
	}

	if missing := tools.Missing(); len(missing) > 0 {
		return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
	}
	return nil
}
