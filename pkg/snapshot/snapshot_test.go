package snapshot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	files map[string][]byte
}

func (f *fakeReader) ListFiles(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeReader) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	return f.files[relPath], nil
}

func TestSelectExcludesAndFilters(t *testing.T) {
	r := &fakeReader{files: map[string][]byte{
		"package.json":                []byte(`{"name":"x"}`),
		"src/index.ts":                []byte("export const x = 1;"),
		"node_modules/pkg/index.js":   []byte("module.exports = {};"),
		"dist/bundle.js":              []byte("bundled"),
		"README.md":                   []byte("# hi"),
		"image.bin":                   append([]byte("PNG"), 0x00, 0x01),
		"notes.log":                   []byte("not a text extension"),
	}}

	sel, err := Select(context.Background(), r)
	require.NoError(t, err)

	assert.Contains(t, sel.Files, "package.json")
	assert.Contains(t, sel.Files, "src/index.ts")
	assert.Contains(t, sel.Files, "README.md")
	assert.NotContains(t, sel.Files, "node_modules/pkg/index.js")
	assert.NotContains(t, sel.Files, "dist/bundle.js")
	assert.NotContains(t, sel.Files, "image.bin")
	assert.NotContains(t, sel.Files, "notes.log")
}

func TestSnapshotVersionAndFileCount(t *testing.T) {
	r := &fakeReader{files: map[string][]byte{
		"z_random.ts":  []byte("z"),
		"package.json": []byte(`{}`),
	}}

	doc, err := Snapshot(context.Background(), r, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, 2, doc.FileCount)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := &Document{
		Version:     1,
		GeneratedAt: time.Unix(100, 0).UTC(),
		FileCount:   1,
		Files:       map[string]string{"a.ts": "content"},
	}

	encoded, err := Encode(doc)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, doc.Files, decoded.Files)
	assert.Equal(t, doc.FileCount, decoded.FileCount)
}

func TestIsBinaryDetectsNUL(t *testing.T) {
	assert.True(t, isBinary([]byte("abc\x00def")))
	assert.False(t, isBinary([]byte(strings.Repeat("a", 10))))
}
