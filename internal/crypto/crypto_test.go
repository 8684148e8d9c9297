package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestSealOpen_Roundtrip(t *testing.T) {
	sealed, err := Seal("s3cret pdf pass")
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "s3cret") {
		t.Fatalf("sealed value leaks or lacks prefix: %q", sealed)
	}
	got, err := Open(sealed)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got != "s3cret pdf pass" {
		t.Errorf("roundtrip = %q", got)
	}
}

func TestSeal_EmptyAndIdempotent(t *testing.T) {
	if v, _ := Seal(""); v != "" {
		t.Errorf("Seal(\"\") = %q", v)
	}
	once, _ := Seal("pw")
	twice, _ := Seal(once)
	if once != twice {
		t.Error("sealing a sealed value changed it")
	}
}

func TestSeal_RandomNonce(t *testing.T) {
	a, _ := Seal("pw")
	b, _ := Seal("pw")
	if a == b {
		t.Error("same password sealed to identical output")
	}
}

func TestOpen_PlaintextPassthrough(t *testing.T) {
	got, err := Open("typed-by-hand")
	if err != nil || got != "typed-by-hand" {
		t.Errorf("Open(plaintext) = %q, %v", got, err)
	}
}

func TestOpen_Malformed(t *testing.T) {
	if _, err := Open("enc:!!!not-base64"); !errors.Is(err, ErrMalformed) {
		t.Errorf("bad base64: %v", err)
	}
	if _, err := Open("enc:AAAA"); !errors.Is(err, ErrMalformed) {
		t.Errorf("short payload: %v", err)
	}
	sealed, _ := Seal("pw")
	tampered := sealed[:len(sealed)-4] + "AAAA"
	if _, err := Open(tampered); err == nil {
		t.Error("tampered value opened")
	}
}
