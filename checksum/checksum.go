// Package checksum computes streaming cryptographic digests of file
// contents. Digests are 256-bit and hex-encoded, and are used to verify
// that a copied file is byte-identical to its source.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm string

const (
	// SHA256 is the default algorithm.
	SHA256 Algorithm = "sha256"
	// BLAKE2b256 is a faster alternative with the same digest length.
	BLAKE2b256 Algorithm = "blake2b-256"
)

// DefaultBlockSize is the read block size used when none is specified
// (64 KiB).
const DefaultBlockSize = 64 * 1024

// ErrUnknownAlgorithm indicates an algorithm name that is not supported.
var ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")

// ParseAlgorithm maps a configuration string to an Algorithm.
// The empty string selects SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", string(SHA256):
		return SHA256, nil
	case string(BLAKE2b256):
		return BLAKE2b256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// New returns a fresh hash.Hash for the algorithm.
func New(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case SHA256:
		return sha256.New(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
}

// Reader digests everything read from r in blockSize blocks until EOF.
func Reader(r io.Reader, algo Algorithm, blockSize int) (string, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	h, err := New(algo)
	if err != nil {
		return "", err
	}

	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to read data for digest: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// File computes the digest of the file at path, streaming its contents
// in blockSize blocks. It never modifies the file and is safe to call
// concurrently on different paths.
func File(path string, algo Algorithm, blockSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for digest: %w", err)
	}
	defer f.Close()

	sum, err := Reader(f, algo, blockSize)
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "File",
		"path":      path,
		"algorithm": algo,
		"digest":    sum[:8],
	}).Debug("Computed file digest")

	return sum, nil
}
