package archive

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plain := []byte("%PDF-1.7 pretend merged output")

	sealed, err := encrypt(plain, "hunter2")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("ciphertext contains plaintext")
	}

	got, err := decrypt(sealed, "hunter2")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestDecryptRejectsWrongPassword(t *testing.T) {
	sealed, err := encrypt([]byte("secret"), "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decrypt(sealed, "wrong"); err == nil {
		t.Fatal("expected decryption failure with wrong password")
	}
}

func TestDecryptRejectsTruncatedInput(t *testing.T) {
	for _, n := range []int{0, 5, saltLen} {
		if _, err := decrypt(make([]byte, n), "pw"); err == nil {
			t.Fatalf("expected error for %d-byte input", n)
		}
	}
}
