package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ocrforge/internal/config"
	"ocrforge/internal/document"
	"ocrforge/internal/job"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file...>",
	Short: "Convert several PDFs one after another",
	Long: `Convert each file in turn, writing ocr_<name> into the output directory.
Pages that already carry text are re-OCRed unless --force=false is given.
Stored passwords from the settings profile are used for encrypted files.
Interrupting cancels the current file and skips the rest.

Examples:
  ocrforge batch scans/*.pdf --out-dir searchable
  ocrforge batch a.pdf b.pdf -l deu --force=false`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().String("out-dir", ".", "output directory")
	addOptionFlags(batchCmd)
}

// fileBar shows one progress bar per batch item.
type fileBar struct {
	w       io.Writer
	profile config.Profile
	bar     *pb.ProgressBar
}

func (f *fileBar) start(i, n int, path string) {
	f.finish()
	pw, _ := f.profile.PasswordFor(path)
	f.bar = pb.New(document.Inspect(path, pw).PageCount).
		SetTemplateString(barTemplate).
		SetWriter(f.w).
		Set("file", fmt.Sprintf("[%d/%d] %s", i+1, n, filepath.Base(path)))
	f.bar.Start()
}

func (f *fileBar) page(_ string, page int) {
	if f.bar != nil {
		f.bar.SetCurrent(int64(page))
	}
}

func (f *fileBar) finish() {
	if f.bar != nil {
		f.bar.Finish()
		f.bar = nil
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	outDir, _ := cmd.Flags().GetString("out-dir")
	opts, force := resolveOptions(cmd, a.profile)
	if !cmd.Flags().Changed("force") {
		force = true
	}

	ctx, stop := a.interruptible(cmd)
	defer stop()

	bars := &fileBar{w: cmd.ErrOrStderr(), profile: a.profile}
	reports, err := a.runner.RunBatch(ctx, job.Batch{
		Files:      args,
		OutDir:     outDir,
		Force:      force,
		Options:    opts,
		Password:   a.profile.PasswordFor,
		OnFile:     bars.start,
		OnProgress: bars.page,
		OnLog:      func(line string) { log.Debug().Msg(line) },
	})
	bars.finish()
	if err != nil {
		return err
	}
	return summarize(cmd.OutOrStdout(), args, reports)
}

func summarize(out io.Writer, inputs []string, reports []job.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATUS\tDETAIL")
	failed := 0
	for _, r := range reports {
		detail := r.Output
		if r.Err != nil {
			failed++
			detail = explain(r.Err).Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", filepath.Base(r.Input), r.Status, detail)
	}
	for _, in := range inputs[len(reports):] {
		fmt.Fprintf(w, "%s\tSkipped\tbatch cancelled\n", filepath.Base(in))
	}
	w.Flush()
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(inputs))
	}
	return nil
}
