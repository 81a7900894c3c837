package storage

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "reports"))
	require.NoError(t, err)

	data := []byte("SYMBOL,OPEN,CLOSE\nINFY,1500,1510\n")
	path, n, err := m.Save(bytes.NewReader(data), "bhav.csv", int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "reports", "bhav.csv"), path)
	assert.Equal(t, int64(len(data)), n)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, []string{"bhav.csv"}, listDir(t, m.Dir()))
}

func TestSaveTruncatedLeavesNothing(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	t.Run("short body", func(t *testing.T) {
		_, _, err := m.Save(strings.NewReader("abc"), "short.csv", 10)
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("read error", func(t *testing.T) {
		r := iotest.TimeoutReader(iotest.OneByteReader(strings.NewReader("abcdef")))
		_, _, err := m.Save(r, "broken.csv", -1)
		assert.Error(t, err)
	})

	assert.Empty(t, listDir(t, m.Dir()))
}

func TestSaveAtLeastKeepsEarlierFile(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	good := bytes.Repeat([]byte("x"), 100)
	path, _, err := m.SaveAtLeast(bytes.NewReader(good), "ind_close_all.csv", -1, 50)
	require.NoError(t, err)

	_, n, err := m.SaveAtLeast(strings.NewReader("<html>maintenance</html>"), "ind_close_all.csv", -1, 50)
	assert.ErrorIs(t, err, ErrTooSmall)
	assert.Equal(t, int64(24), n)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, good, got)
	assert.Equal(t, []string{"ind_close_all.csv"}, listDir(t, m.Dir()))
}

func TestDetectKind(t *testing.T) {
	assert.Equal(t, KindZip, DetectKind([]byte("PK\x03\x04"), "report"))
	assert.Equal(t, KindZip, DetectKind([]byte("SYMB"), "report.ZIP"))
	assert.Equal(t, KindGzip, DetectKind([]byte{0x1f, 0x8b, 8, 0}, "CM_MII.csv.gz"))
	assert.Equal(t, KindPlain, DetectKind([]byte("SYMB"), "report.csv"))
	assert.Equal(t, KindPlain, DetectKind(nil, "empty"))
}

func TestExtractZip(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	archive, _, err := m.Save(bytes.NewReader(buildZip(t,
		[2]string{"cm01JAN2024bhav.csv", "first"},
		[2]string{"notes/readme.txt", "second"},
	)), "bhav.zip", -1)
	require.NoError(t, err)

	kind, err := DetectFile(archive)
	require.NoError(t, err)
	assert.Equal(t, KindZip, kind)

	paths, err := m.ExtractZip(archive)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(m.Dir(), "cm01JAN2024bhav.csv"), paths[0])

	got, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(filepath.Join(root, "out"))
	require.NoError(t, err)

	archive, _, err := m.Save(bytes.NewReader(buildZip(t,
		[2]string{"ok.csv", "fine"},
		[2]string{"../escape.csv", "evil"},
	)), "evil.zip", -1)
	require.NoError(t, err)

	_, err = m.ExtractZip(archive)
	assert.ErrorIs(t, err, ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(root, "escape.csv"))
	assert.NoFileExists(t, filepath.Join(m.Dir(), "ok.csv"), "partial extraction is rolled back")
}

func TestExtractZipEmpty(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	archive, _, err := m.Save(bytes.NewReader(buildZip(t)), "empty.zip", -1)
	require.NoError(t, err)

	_, err = m.ExtractZip(archive)
	assert.True(t, errors.Is(err, ErrEmptyArchive))
}

func TestGunzip(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err = gz.Write([]byte("ISIN,SYMBOL\nINE009A01021,INFY\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	archive, _, err := m.Save(&buf, "CM_MII.csv.gz", -1)
	require.NoError(t, err)

	path, err := m.Gunzip(archive, "CM_MII.csv")
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ISIN,SYMBOL\nINE009A01021,INFY\n", string(got))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cookies.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`), 0600))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":2}`), 0600))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))
	assert.Equal(t, []string{"cookies.json"}, listDir(t, filepath.Dir(path)))
}
