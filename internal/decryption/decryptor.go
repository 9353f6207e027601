package decryption

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
	"github.com/tidaldl/tidaldl-go/internal/monitoring"
)

// masterKey is the fixed key the provider encrypts per-asset session keys
// with. It is not a secret of this program.
const masterKey = "UIlTTEMmmLfGowo/UC60x2H45W6MdGgTRfo/umg4754="

const (
	// Decoded tokens carry a 16 byte IV followed by the encrypted session
	// material, which must be a whole number of AES blocks.
	tokenIVSize = 16
	// Session material: a 16 byte key followed by an 8 byte nonce.
	sessionKeySize   = 16
	sessionNonceSize = 8

	copyBufferSize = 64 * 1024
)

// SessionKey is the symmetric key and nonce recovered from a token.
type SessionKey struct {
	Key   []byte
	Nonce []byte
}

// Decryptor turns downloaded ciphertext into playable files.
type Decryptor struct {
	master []byte
}

// NewDecryptor creates a decryptor using the provider master key.
func NewDecryptor() *Decryptor {
	master, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		panic("decryption: invalid master key: " + err.Error())
	}
	return &Decryptor{master: master}
}

// DecodeToken recovers the session key and nonce from an encryption token.
func (d *Decryptor) DecodeToken(token string) (*SessionKey, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, apperrors.NewDecryptionError("token is not valid base64", err)
	}
	if len(raw) <= tokenIVSize || (len(raw)-tokenIVSize)%aes.BlockSize != 0 {
		return nil, apperrors.NewDecryptionError(fmt.Sprintf("token has invalid length %d", len(raw)), nil)
	}

	block, err := aes.NewCipher(d.master)
	if err != nil {
		return nil, apperrors.NewDecryptionError("failed to create master cipher", err)
	}

	iv, sealed := raw[:tokenIVSize], raw[tokenIVSize:]
	plain := make([]byte, len(sealed))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, sealed)

	if len(plain) < sessionKeySize+sessionNonceSize {
		return nil, apperrors.NewDecryptionError("token carries too little key material", nil)
	}
	return &SessionKey{
		Key:   plain[:sessionKeySize],
		Nonce: plain[sessionKeySize : sessionKeySize+sessionNonceSize],
	}, nil
}

// Stream returns the counter-mode keystream for a session key. The counter
// block is the nonce followed by an eight byte zero counter.
func (k *SessionKey) Stream() (cipher.Stream, error) {
	block, err := aes.NewCipher(k.Key)
	if err != nil {
		return nil, apperrors.NewDecryptionError("failed to create session cipher", err)
	}
	counter := make([]byte, aes.BlockSize)
	copy(counter, k.Nonce)
	return cipher.NewCTR(block, counter), nil
}

// Decrypt writes the plaintext of ciphertextPath to plaintextPath and removes
// the ciphertext. With an empty token the file is moved unchanged. The
// plaintext path only appears once it is complete.
func (d *Decryptor) Decrypt(token, ciphertextPath, plaintextPath string) error {
	if token == "" {
		return Move(ciphertextPath, plaintextPath)
	}

	start := time.Now()
	defer func() { monitoring.RecordDecryption(time.Since(start)) }()

	key, err := d.DecodeToken(token)
	if err != nil {
		return err
	}
	stream, err := key.Stream()
	if err != nil {
		return err
	}

	src, err := os.Open(ciphertextPath)
	if err != nil {
		return apperrors.NewDecryptionError("failed to open ciphertext", err)
	}
	defer src.Close()

	tempPath := plaintextPath + ".dec"
	dst, err := os.Create(tempPath)
	if err != nil {
		return apperrors.NewPathError("failed to create plaintext file", err)
	}

	reader := &cipher.StreamReader{S: stream, R: src}
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(dst, reader, buf); err != nil {
		dst.Close()
		os.Remove(tempPath)
		return apperrors.NewDecryptionError("failed to decrypt stream", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tempPath)
		return apperrors.NewPathError("failed to flush plaintext file", err)
	}

	if err := os.Rename(tempPath, plaintextPath); err != nil {
		os.Remove(tempPath)
		return apperrors.NewPathError("failed to move plaintext into place", err)
	}
	src.Close()
	os.Remove(ciphertextPath)
	return nil
}

// Move renames src to dst, falling back to a copy when they sit on
// different filesystems.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apperrors.NewPathError("failed to create destination directory", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return apperrors.NewPathError("failed to open source file", err)
	}
	defer in.Close()

	tempPath := dst + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return apperrors.NewPathError("failed to create destination file", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tempPath)
		return apperrors.NewPathError("failed to copy file", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return apperrors.NewPathError("failed to flush destination file", err)
	}
	if err := os.Rename(tempPath, dst); err != nil {
		os.Remove(tempPath)
		return apperrors.NewPathError("failed to move file into place", err)
	}
	in.Close()
	os.Remove(src)
	return nil
}
