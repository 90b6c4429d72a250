package downloader

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"jurisline/internal/domain"
)

// Validate accepts a non-empty JSON body whose top level is an array or an
// object.
func Validate(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return domain.WrapError(domain.ErrMalformed, "validate payload", fmt.Errorf("empty body"))
	}
	if trimmed[0] != '[' && trimmed[0] != '{' {
		return domain.WrapError(domain.ErrMalformed, "validate payload", fmt.Errorf("top level is not an array or object"))
	}
	if !json.Valid(trimmed) {
		return domain.WrapError(domain.ErrMalformed, "validate payload", fmt.Errorf("invalid json"))
	}
	return nil
}

// ValidateFile re-reads a saved payload and validates it.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Validate(data)
}

// FileChecksum returns the SHA-256 hex digest of a file, read in chunks.
func FileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.CopyBuffer(h, f, make([]byte, 64*1024))
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
