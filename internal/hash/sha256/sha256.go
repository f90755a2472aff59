// Package sha256 provides the SHA-256 digests used for progress log names and
// output checksums.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Hex returns the hex digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of the digest of s. n is clamped
// to the digest length.
func Short(s string, n int) string {
	full := Hex([]byte(s))
	if n <= 0 || n > len(full) {
		return full
	}
	return full[:n]
}

// File streams path through SHA-256 and returns the hex digest.
func File(path string) (string, error) {
	// #nosec G304 -- callers hash their own output files.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
