// Command ocrforge converts scanned PDFs into searchable PDFs with OCRmyPDF.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ocrforge",
	Short: "Make scanned PDFs searchable",
	Long: `ocrforge drives OCRmyPDF and Tesseract to add a text layer to PDF
documents. Large documents are processed in chunks, failures fall back to
safer strategies, and every job is recorded in a searchable history.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings profile (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
