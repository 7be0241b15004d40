// Package hasher computes content digests used to detect changed files.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ChunkSize is the read buffer size used while digesting a file.
const ChunkSize = 8192

// DigestLen is the length of a hex encoded digest.
const DigestLen = sha256.Size * 2

// File returns the hex encoded SHA-256 digest of the file at path.
// The file is read in ChunkSize chunks so memory use does not depend on its
// size. No digest is returned if the file cannot be fully read.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	digest, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return digest, nil
}

// Reader returns the hex encoded SHA-256 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)

	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether s has the shape of a digest produced by this package.
func Valid(s string) bool {
	if len(s) != DigestLen {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
