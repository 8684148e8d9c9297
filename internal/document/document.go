// Package document inspects input PDFs before OCR: page count, whether a
// password is needed, and whether pages already carry a text layer or only
// scanned images. It also produces decrypted working copies.
package document

import (
	"errors"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// SampleLimit is how many leading pages Inspect looks at.
const SampleLimit = 15

var (
	// ErrInvalidPassword means the document is encrypted and the supplied
	// password (possibly empty) does not open it.
	ErrInvalidPassword = errors.New("invalid or missing document password")
	// ErrDecryptionUnavailable means no available PDF toolkit could write a
	// decrypted copy.
	ErrDecryptionUnavailable = errors.New("decryption unavailable: no PDF toolkit could decrypt the document")
)

// EncryptionState describes whether a document needs a password.
type EncryptionState int

const (
	EncryptionNone EncryptionState = iota
	EncryptionPasswordRequired
	EncryptionUnlocked
)

func (s EncryptionState) String() string {
	switch s {
	case EncryptionPasswordRequired:
		return "password required"
	case EncryptionUnlocked:
		return "unlocked"
	default:
		return "none"
	}
}

// Classification is the text/image makeup of the sampled pages.
type Classification string

const (
	ClassText      Classification = "text"
	ClassImage     Classification = "image"
	ClassMixed     Classification = "mixed"
	ClassUnknown   Classification = "unknown"
	ClassEncrypted Classification = "encrypted"
)

// HasText reports whether OCR without force would skip at least some pages.
func (c Classification) HasText() bool { return c == ClassText || c == ClassMixed }

// Document is the result of inspecting a file. It is never mutated; inspect
// again to refresh it.
type Document struct {
	Path           string
	PageCount      int
	Encryption     EncryptionState
	Classification Classification
}

func init() {
	// pdfcpu otherwise writes a config directory under the user's home.
	api.DisableConfigDir()
}

func pdfcpuConfig(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.UserPW = password
	conf.OwnerPW = password
	return conf
}
