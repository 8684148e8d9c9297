package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

type outcomeKind int

const (
	succeeded outcomeKind = iota
	cancelled
	failed
)

// outcome is the tagged result of an attempt ladder or a whole run. Only
// failed carries an error.
type outcome struct {
	kind outcomeKind
	err  error
}

var (
	okOutcome        = outcome{kind: succeeded}
	cancelledOutcome = outcome{kind: cancelled}
)

func failure(err error) outcome { return outcome{kind: failed, err: err} }

// unit is one OCR pass: the whole document or a single chunk.
type unit struct {
	input   string
	output  string
	sidecar string
	// offset is the zero-based document page of the unit's first page.
	offset int
	force  bool
}

// process walks the fallback ladder for u:
//
//	accelerated -> unaccelerated -> sanitized -> failed
//
// Each tier runs at most once. Cancellation observed around any attempt wins
// over whatever error that attempt produced.
func (e *Engine) process(ctx context.Context, u unit, o Options, prog *progress, scratch string, log zerolog.Logger) outcome {
	if e.cancelled(ctx) {
		return cancelledOutcome
	}

	if o.UseAcceleratedDevice {
		err := e.attempt(ctx, TierAccelerated, u, o, prog, scratch)
		if e.cancelled(ctx) {
			return cancelledOutcome
		}
		if err == nil {
			return okOutcome
		}
		log.Warn().Err(err).Msg("accelerated OCR failed, retrying without device acceleration")
	}

	baseErr := e.attempt(ctx, TierUnaccelerated, u, o, prog, scratch)
	if e.cancelled(ctx) {
		return cancelledOutcome
	}
	if baseErr == nil {
		return okOutcome
	}

	if o.RasterizeFirst {
		return failure(baseErr)
	}
	if o.NoSanitizeFallback || e.raster == nil {
		return failure(withHint(baseErr, rasterizeHint))
	}

	log.Warn().Err(baseErr).Msg("OCR failed, retrying on a rasterized copy")
	sanitized := filepath.Join(scratch, fmt.Sprintf("sanitized-%04d.pdf", u.offset))
	defer os.Remove(sanitized)

	if err := e.raster.Rasterize(ctx, u.input, sanitized, o.TargetDPI); err != nil {
		if e.cancelled(ctx) {
			return cancelledOutcome
		}
		log.Warn().Err(err).Msg("could not rasterize input for retry")
		return failure(baseErr)
	}
	if e.cancelled(ctx) {
		return cancelledOutcome
	}

	retry := u
	retry.input = sanitized
	retry.force = true
	err := e.attempt(ctx, TierSanitized, retry, o, prog, scratch)
	if e.cancelled(ctx) {
		return cancelledOutcome
	}
	if err == nil {
		return okOutcome
	}
	log.Warn().Err(err).Msg("OCR on rasterized copy failed")
	return failure(baseErr)
}

// attempt runs a single tier. The accelerated tier's device config lives
// only for the duration of the call.
func (e *Engine) attempt(ctx context.Context, tier Tier, u unit, o Options, prog *progress, scratch string) error {
	a := Attempt{
		Tier:    tier,
		Input:   u.input,
		Output:  u.output,
		Sidecar: u.sidecar,
		Force:   u.force,
	}
	if tier == TierAccelerated {
		cfg, err := writeDeviceConfig(scratch)
		if err != nil {
			return err
		}
		defer os.Remove(cfg)
		a.DeviceConfig = cfg
	}
	return e.exec.Execute(ctx, a, o, prog.lineFunc(u.offset))
}

func writeDeviceConfig(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "tess-opencl-*.cfg")
	if err != nil {
		return "", fmt.Errorf("write device config: %w", err)
	}
	_, werr := f.WriteString(deviceConfigBody)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write device config: %w", werr)
	}
	return f.Name(), nil
}
