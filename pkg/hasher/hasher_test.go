package hasher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256("hello")
const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("known digest", func(t *testing.T) {
		got, err := File(writeFile(t, dir, "a.txt", "hello"))
		require.NoError(t, err)
		assert.Equal(t, helloDigest, got)
	})

	t.Run("same content different paths", func(t *testing.T) {
		a, err := File(writeFile(t, dir, "one.txt", "same bytes"))
		require.NoError(t, err)

		b, err := File(writeFile(t, dir, "two.txt", "same bytes"))
		require.NoError(t, err)

		assert.Equal(t, a, b)
	})

	t.Run("different content", func(t *testing.T) {
		a, err := File(writeFile(t, dir, "lower.txt", "hello"))
		require.NoError(t, err)

		b, err := File(writeFile(t, dir, "upper.txt", "HELLO"))
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("larger than one chunk", func(t *testing.T) {
		content := strings.Repeat("x", ChunkSize*3+17)

		fromFile, err := File(writeFile(t, dir, "big.bin", content))
		require.NoError(t, err)

		fromReader, err := Reader(strings.NewReader(content))
		require.NoError(t, err)

		assert.Equal(t, fromReader, fromFile)
		assert.Len(t, fromFile, DigestLen)
	})

	t.Run("missing file", func(t *testing.T) {
		got, err := File(filepath.Join(dir, "nope"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
		assert.Empty(t, got)
	})
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("disk on fire")
	}

	n := min(len(p), r.after)
	r.after -= n

	return n, nil
}

func TestReader_ErrorMidway(t *testing.T) {
	got, err := Reader(&failingReader{after: ChunkSize + 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Empty(t, got)
}

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "real digest", input: helloDigest, want: true},
		{name: "empty", input: "", want: false},
		{name: "too short", input: helloDigest[:10], want: false},
		{name: "uppercase", input: strings.ToUpper(helloDigest), want: false},
		{name: "non hex", input: strings.Repeat("z", DigestLen), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.input))
		})
	}
}
