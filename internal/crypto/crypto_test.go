package crypto

import (
	"errors"
	"strings"
	"testing"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(MachineKey("rexpro-test"))
	if err != nil {
		t.Fatalf("NewSealer error: %v", err)
	}
	return s
}

func TestSealOpen_Roundtrip(t *testing.T) {
	s := testSealer(t)
	original := "AIzaSyA-abc123def456ghi789"
	sealed, err := s.Seal(original)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	if !IsSealed(sealed) {
		t.Errorf("sealed value %q lacks prefix", sealed)
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if opened != original {
		t.Errorf("roundtrip failed: got %q, want %q", opened, original)
	}
}

func TestSealOpen_EmptyString(t *testing.T) {
	s := testSealer(t)
	sealed, err := s.Seal("")
	if err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = %q, %v; want empty", sealed, err)
	}
	opened, err := s.Open("")
	if err != nil || opened != "" {
		t.Errorf("Open(\"\") = %q, %v; want empty", opened, err)
	}
}

func TestSeal_DifferentCiphertextEachTime(t *testing.T) {
	// random nonce
	s := testSealer(t)
	enc1, _ := s.Seal("sk-abc123")
	enc2, _ := s.Seal("sk-abc123")
	if enc1 == enc2 {
		t.Error("two seals of the same plaintext should differ")
	}
	if strings.Contains(enc1, "sk-abc123") {
		t.Error("sealed output leaks the plaintext")
	}
}

func TestOpen_LegacyPlaintextPassthrough(t *testing.T) {
	s := testSealer(t)
	got, err := s.Open("sk-legacy-plaintext")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got != "sk-legacy-plaintext" {
		t.Errorf("got %q, want passthrough", got)
	}
}

func TestOpen_Malformed(t *testing.T) {
	s := testSealer(t)
	if _, err := s.Open("enc:not-valid-base64!!!"); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if _, err := s.Open("enc:AAAA"); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for short input, got %v", err)
	}
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, _ := testSealer(t).Seal("secret")
	other, err := NewSealer(MachineKey("another-app"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Error("expected error opening with a different key")
	}
}

func TestNewSealer_BadKeyLength(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Error("expected error for a 5-byte key")
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"short":               "****",
		"AIzaSyA-1234567890z": "AIza...890z",
	}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
	if !IsMasked(Mask("AIzaSyA-1234567890z")) || !IsMasked("****") {
		t.Error("masked values should be recognised")
	}
	if IsMasked("AIzaSyA-1234567890z") {
		t.Error("a real key is not masked")
	}
}
