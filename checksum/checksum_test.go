package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Algorithm
		wantErr bool
	}{
		{name: "empty_defaults_to_sha256", input: "", want: SHA256},
		{name: "sha256", input: "sha256", want: SHA256},
		{name: "blake2b", input: "blake2b-256", want: BLAKE2b256},
		{name: "unknown", input: "md5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownAlgorithm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileMatchesDirectHash(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "data.bin")
	data := bytes.Repeat([]byte("courier"), 40960) // larger than one block
	require.NoError(t, os.WriteFile(path, data, 0o644))

	sum, err := File(path, SHA256, DefaultBlockSize)
	require.NoError(t, err)

	expected := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(expected[:]), sum)
}

func TestFileEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	sum, err := File(path, SHA256, DefaultBlockSize)
	require.NoError(t, err)

	empty := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(empty[:]), sum)
}

func TestFileBlockSizeDoesNotAffectDigest(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 100_000)), 0o644))

	a, err := File(path, BLAKE2b256, 512)
	require.NoError(t, err)
	b, err := File(path, BLAKE2b256, 0) // falls back to DefaultBlockSize
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "256-bit digest should hex-encode to 64 chars")
}

func TestFileAlgorithmsDiffer(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "data")
	require.NoError(t, os.WriteFile(path, []byte("same input"), 0o644))

	shaSum, err := File(path, SHA256, DefaultBlockSize)
	require.NoError(t, err)
	blakeSum, err := File(path, BLAKE2b256, DefaultBlockSize)
	require.NoError(t, err)

	assert.NotEqual(t, shaSum, blakeSum)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope"), SHA256, DefaultBlockSize)
	require.Error(t, err)
}

func TestReaderRejectsUnknownAlgorithm(t *testing.T) {
	_, err := Reader(bytes.NewReader([]byte("x")), Algorithm("crc32"), 0)
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}
