package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ocrforge/internal/document"
	"ocrforge/internal/job"
	"ocrforge/internal/ocr"
)

const barTemplate = `{{ string . "file" }} {{ bar . "[" "=" ">" " " "]" }} {{ counters . }} {{ percent . }} {{ etime . }}`

var convertCmd = &cobra.Command{
	Use:   "convert <input.pdf>",
	Short: "Add a searchable text layer to one PDF",
	Long: `Convert one PDF into a searchable PDF plus a plain-text sidecar.

Examples:
  ocrforge convert scan.pdf
  ocrforge convert scan.pdf -o searchable.pdf -l eng+ben --deskew
  ocrforge convert locked.pdf --password secret --remember-password`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringP("output", "o", "", "output PDF (default: <input>_ocr.pdf)")
	convertCmd.Flags().String("password", "", "document password (default: stored password)")
	convertCmd.Flags().Bool("remember-password", false, "store --password in the settings profile")
	addOptionFlags(convertCmd)
}

func defaultOutput(in string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + "_ocr.pdf"
}

func runConvert(cmd *cobra.Command, args []string) error {
	in := args[0]
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = defaultOutput(in)
	}
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		if password, err = a.profile.PasswordFor(in); err != nil {
			log.Warn().Err(err).Msg("stored password unreadable")
		}
	} else if remember, _ := cmd.Flags().GetBool("remember-password"); remember {
		if err := a.profile.SetPassword(in, password); err != nil {
			return err
		}
		if err := a.profile.Save(a.profilePath); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	opts, force := resolveOptions(cmd, a.profile)

	doc := document.Inspect(in, password)
	bar := pb.New(doc.PageCount).
		SetTemplateString(barTemplate).
		SetWriter(cmd.ErrOrStderr()).
		Set("file", filepath.Base(in))
	bar.Start()

	ctx, stop := a.interruptible(cmd)
	defer stop()
	rep := a.runner.Convert(ctx, job.Spec{
		Input:      in,
		Output:     out,
		Password:   password,
		Force:      force,
		Options:    opts,
		OnProgress: func(page int) { bar.SetCurrent(int64(page)) },
		OnLog:      func(line string) { log.Debug().Msg(line) },
	})
	bar.Finish()

	if rep.Err != nil {
		return explain(rep.Err)
	}
	res := rep.Result
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d pages, %s, %d chunk(s))\n",
		filepath.Base(in), res.OutputPath, res.Pages, res.Strategy, res.Chunks)
	fmt.Fprintf(cmd.OutOrStdout(), "text: %s\n", res.SidecarPath)
	return nil
}

// explain turns engine errors into messages a user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, ocr.ErrCancelled):
		return errors.New("cancelled")
	case errors.Is(err, ocr.ErrInvalidPassword):
		return errors.New("the document is encrypted: pass the correct --password")
	case errors.Is(err, ocr.ErrDecryptionUnavailable):
		return fmt.Errorf("%w: install qpdf or decrypt the document first", err)
	case errors.Is(err, ocr.ErrNoLanguageSelected):
		return errors.New("no OCR language selected: use --lang")
	}
	return err
}
