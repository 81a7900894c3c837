package storage

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrTruncated reports a body shorter or longer than announced
	ErrTruncated = errors.New("transfer truncated")
	// ErrTooSmall reports a body below the caller's minimum size
	ErrTooSmall = errors.New("body below minimum size")
	// ErrUnsafePath reports an archive entry that would escape the folder
	ErrUnsafePath = errors.New("archive entry escapes destination folder")
	// ErrEmptyArchive reports a zip archive without any regular file
	ErrEmptyArchive = errors.New("archive contains no files")
)

// Kind classifies a payload by its leading bytes and name
type Kind int

const (
	KindPlain Kind = iota
	KindZip
	KindGzip
)

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
)

// DetectKind inspects the first bytes of a file and its name
func DetectKind(header []byte, name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case bytes.HasPrefix(header, zipMagic):
		return KindZip
	case bytes.HasPrefix(header, gzipMagic):
		return KindGzip
	case strings.HasSuffix(lower, ".zip"):
		return KindZip
	default:
		return KindPlain
	}
}

// DetectFile reads the head of path and classifies it
func DetectFile(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindPlain, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return KindPlain, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return DetectKind(header[:n], path), nil
}

// Manager handles file storage operations inside one folder
type Manager struct {
	dir string
}

// NewManager creates a new storage manager
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the output directory path
func (m *Manager) Dir() string {
	return m.dir
}

// Save streams r into name inside the folder. expected is the announced
// length, or a negative value when unknown. On any failure the temporary
// file is removed and nothing appears at the final path.
func (m *Manager) Save(r io.Reader, name string, expected int64) (string, int64, error) {
	return m.SaveAtLeast(r, name, expected, 0)
}

// SaveAtLeast is Save that also rejects bodies shorter than minSize with
// ErrTooSmall. The check runs before the rename, so an earlier file at the
// final path survives a rejected body.
func (m *Manager) SaveAtLeast(r io.Reader, name string, expected, minSize int64) (string, int64, error) {
	final := filepath.Join(m.dir, name)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), tempPattern(final))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err == nil && expected >= 0 && n != expected {
		err = fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, expected)
	}
	if err == nil && n < minSize {
		err = fmt.Errorf("%w: got %d bytes, want at least %d", ErrTooSmall, n, minSize)
	}
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", n, fmt.Errorf("failed to save %s: %w", name, err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", n, fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return final, n, nil
}

// ExtractZip unpacks every regular file of the archive into the folder and
// returns their paths in archive order. The archive itself is left alone.
func (m *Manager) ExtractZip(archive string) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsafePath, archive)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open zip %s: %w", archive, err)
	}
	defer zr.Close()

	var paths []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			m.cleanup(paths)
			return nil, fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
		}

		path, err := m.extractEntry(f, name)
		if err != nil {
			m.cleanup(paths)
			return nil, err
		}
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", archive, ErrEmptyArchive)
	}
	return paths, nil
}

func (m *Manager) extractEntry(f *zip.File, name string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	path, _, err := m.Save(rc, name, int64(f.UncompressedSize64))
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return path, nil
}

// Gunzip decompresses archive into name inside the folder
func (m *Manager) Gunzip(archive, name string) (string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", archive, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to read gzip header: %w", err)
	}
	defer gz.Close()

	path, _, err := m.Save(gz, name, -1)
	if err != nil {
		return "", err
	}
	return path, nil
}

func (m *Manager) cleanup(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// tempPattern yields hidden names like ".bhav.csv.3f2a....part*"
func tempPattern(final string) string {
	return "." + filepath.Base(final) + "." + uuid.NewString() + ".part*"
}

// WriteFileAtomic replaces path with data via a synced temporary file
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), tempPattern(path))
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(perm)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
