package ocr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"

	"ocrforge/internal/proc"
)

// Executor runs one OCR attempt to completion, reporting every output line.
type Executor interface {
	Execute(ctx context.Context, a Attempt, o Options, onLine func(string)) error
}

// toolExecutor invokes the OCRmyPDF binary under the engine's tracker so a
// cancel can kill it along with the tesseract and ghostscript children.
type toolExecutor struct {
	bin     string
	tracker *proc.Tracker
	log     zerolog.Logger
}

func (x *toolExecutor) Execute(ctx context.Context, a Attempt, o Options, onLine func(string)) error {
	args := buildArgs(a, o)
	cmd := exec.CommandContext(ctx, x.bin, args...)
	cmd.Env = buildEnv(a, o)

	x.log.Debug().Str("tier", a.Tier.String()).Strs("args", args).Msg("starting ocrmypdf")

	var tail tailBuffer
	emit := func(line string) {
		if onLine != nil {
			onLine(line)
		}
	}
	err := x.tracker.Run(cmd, emit, func(line string) {
		tail.WriteLine(line)
		emit(line)
	})
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{ExitCode: exitErr.ExitCode(), Diagnostic: tail.String()}
	}
	return fmt.Errorf("run %s: %w", x.bin, err)
}
