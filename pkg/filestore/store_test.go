package filestore

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore(t *testing.T) {
	store := NewDiskStore()
	root := t.TempDir()

	dir := filepath.Join(root, "albums", "scan-1")
	require.NoError(t, store.EnsureDir(dir))
	assert.True(t, store.Exists(dir, ""))
	// Idempotent.
	require.NoError(t, store.EnsureDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.obj"), []byte("mesh"), 0o644))
	assert.True(t, store.Exists(dir, "a.obj"))
	assert.False(t, store.Exists(dir, "b.obj"))

	names, err := store.List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.obj"}, names)

	exportDir := filepath.Join(root, "exports")
	require.NoError(t, store.Move(dir, "a.obj", exportDir, "model.obj"))
	assert.False(t, store.Exists(dir, "a.obj"))
	assert.True(t, store.Exists(exportDir, "model.obj"))

	require.NoError(t, store.Remove(exportDir, "model.obj"))
	assert.False(t, store.Exists(exportDir, "model.obj"))

	_, err = store.List(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func writeTestArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestUnzip(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "model.zip")
	writeTestArchive(t, archive, map[string]string{
		"model.obj":        "vertices",
		"textures/tex.png": "pixels",
	})

	dest := filepath.Join(root, "out")
	extracted, err := Unzip(archive, dest)
	require.NoError(t, err)
	assert.Len(t, extracted, 2)

	content, err := os.ReadFile(filepath.Join(dest, "model.obj"))
	require.NoError(t, err)
	assert.Equal(t, "vertices", string(content))

	content, err = os.ReadFile(filepath.Join(dest, "textures", "tex.png"))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(content))
}

func TestUnzipRejectsEscapingEntry(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "evil.zip")
	writeTestArchive(t, archive, map[string]string{
		"../escape.txt": "nope",
	})

	_, err := Unzip(archive, filepath.Join(root, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
}

func TestUnzipMissingArchive(t *testing.T) {
	_, err := Unzip(filepath.Join(t.TempDir(), "absent.zip"), t.TempDir())
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	sum, err := Checksum(path)
	require.NoError(t, err)
	// SHA-256 of "abc".
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	_, err = Checksum(filepath.Join(t.TempDir(), "absent.bin"))
	assert.Error(t, err)
}
