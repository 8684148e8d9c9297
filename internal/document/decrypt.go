package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
)

// Decrypter writes decrypted working copies of password-protected PDFs.
// pdfcpu handles the common cases in-process; qpdf, when installed, covers
// documents pdfcpu refuses (typically a user password without owner rights).
type Decrypter struct {
	// QpdfBin is the qpdf executable. Empty means look it up on PATH.
	QpdfBin string
	Log     zerolog.Logger
}

// Decrypt writes a decrypted copy of path into dir and returns its path. The
// caller owns the copy and must remove it.
func (d Decrypter) Decrypt(ctx context.Context, path, password, dir string) (string, error) {
	out := filepath.Join(dir, "decrypted-"+filepath.Base(path))

	err := api.DecryptFile(path, out, pdfcpuConfig(password))
	if err == nil {
		d.Log.Debug().Str("file", path).Msg("decrypted with pdfcpu")
		return out, nil
	}
	_ = os.Remove(out)
	d.Log.Debug().Err(err).Str("file", path).Msg("pdfcpu could not decrypt, trying fallbacks")

	if authErr := authenticate(path, password); errors.Is(authErr, pdf.ErrInvalidPassword) {
		return "", ErrInvalidPassword
	}

	bin := d.qpdf()
	if bin == "" {
		return "", fmt.Errorf("%w: %v", ErrDecryptionUnavailable, err)
	}
	if qerr := runQpdf(ctx, bin, path, password, out); qerr != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", qerr
	}
	d.Log.Debug().Str("file", path).Msg("decrypted with qpdf")
	return out, nil
}

func (d Decrypter) qpdf() string {
	name := d.QpdfBin
	if name == "" {
		name = "qpdf"
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return p
}

// authenticate checks the password with the read-only reader.
func authenticate(path, password string) error {
	f, _, err := openReader(path, password)
	if err != nil {
		return err
	}
	return f.Close()
}

// qpdf exit status 3 means success with warnings.
const qpdfWarnings = 3

func runQpdf(ctx context.Context, bin, in, password, out string) error {
	cmd := exec.CommandContext(ctx, bin, "--password="+password, "--decrypt", in, out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == qpdfWarnings {
		return nil
	}
	msg := strings.TrimSpace(stderr.String())
	if strings.Contains(strings.ToLower(msg), "invalid password") {
		return ErrInvalidPassword
	}
	return fmt.Errorf("qpdf decrypt: %w: %s", err, msg)
}
