package decryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
)

// makeToken seals key||nonce the way the provider does.
func makeToken(t *testing.T, key, nonce []byte) string {
	t.Helper()

	master, _ := base64.StdEncoding.DecodeString(masterKey)
	block, err := aes.NewCipher(master)
	if err != nil {
		t.Fatal(err)
	}

	plain := make([]byte, 32)
	copy(plain, key)
	copy(plain[16:], nonce)

	iv := []byte("0123456789abcdef")
	sealed := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(sealed, plain)

	return base64.StdEncoding.EncodeToString(append(append([]byte{}, iv...), sealed...))
}

func encryptCTR(t *testing.T, key, nonce, plain []byte) []byte {
	t.Helper()

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	counter := make([]byte, 16)
	copy(counter, nonce)
	out := make([]byte, len(plain))
	cipher.NewCTR(block, counter).XORKeyStream(out, plain)
	return out
}

func TestDecodeToken(t *testing.T) {
	key := []byte("session-key-0001")
	nonce := []byte("nonce-08")

	session, err := NewDecryptor().DecodeToken(makeToken(t, key, nonce))
	if err != nil {
		t.Fatalf("DecodeToken failed: %v", err)
	}
	if !bytes.Equal(session.Key, key) {
		t.Errorf("Key mismatch: got %x", session.Key)
	}
	if !bytes.Equal(session.Nonce, nonce) {
		t.Errorf("Nonce mismatch: got %x", session.Nonce)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"too short", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"not block aligned", base64.StdEncoding.EncodeToString(make([]byte, 16+20))},
		{"too little key material", base64.StdEncoding.EncodeToString(make([]byte, 16+16))},
	}

	d := NewDecryptor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DecodeToken(tt.token)
			if !apperrors.IsDecryptionError(err) {
				t.Errorf("Expected decryption error, got %v", err)
			}
		})
	}
}

func TestDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	// Not a multiple of the block size, and long enough to span buffers.
	plain := make([]byte, 3*copyBufferSize+77)
	for i := range plain {
		plain[i] = byte(i % 253)
	}

	dir := t.TempDir()
	encPath := filepath.Join(dir, "track.flac.part")
	outPath := filepath.Join(dir, "track.flac")
	if err := os.WriteFile(encPath, encryptCTR(t, key, nonce, plain), 0644); err != nil {
		t.Fatal(err)
	}

	if err := NewDecryptor().Decrypt(makeToken(t, key, nonce), encPath, outPath); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Failed to read plaintext: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("Decrypted content does not match original")
	}
	if _, err := os.Stat(encPath); !os.IsNotExist(err) {
		t.Error("Expected ciphertext to be removed")
	}
	if _, err := os.Stat(outPath + ".dec"); !os.IsNotExist(err) {
		t.Error("Expected no leftover temp file")
	}
}

func TestDecryptEmptyTokenPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "track.m4a.part")
	dst := filepath.Join(dir, "out", "track.m4a")
	content := []byte("plain bytes that must not change")
	os.WriteFile(src, content, 0644)

	if err := NewDecryptor().Decrypt("", src, dst); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	got, _ := os.ReadFile(dst)
	if !bytes.Equal(got, content) {
		t.Errorf("Expected byte-identical passthrough, got %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Expected source to be moved")
	}
}

func TestDecryptBadTokenLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "track.part")
	dst := filepath.Join(dir, "track.flac")
	os.WriteFile(src, []byte("ciphertext"), 0644)

	err := NewDecryptor().Decrypt("bad token", src, dst)
	if !apperrors.IsDecryptionError(err) {
		t.Fatalf("Expected decryption error, got %v", err)
	}
	if apperrors.IsRetryable(err) {
		t.Error("Expected decryption error to be non-retryable")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("Expected no plaintext file")
	}
}

func TestDecryptMissingCiphertext(t *testing.T) {
	dir := t.TempDir()
	key := []byte("0123456789abcdef")
	err := NewDecryptor().Decrypt(makeToken(t, key, make([]byte, 8)), filepath.Join(dir, "missing"), filepath.Join(dir, "out"))
	if err == nil {
		t.Fatal("Expected error for missing ciphertext")
	}
}
