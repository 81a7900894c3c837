package nsetest

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"testing"
)

func buildZip(t testing.TB, files ...string) []byte {
	if len(files)%2 != 0 {
		t.Fatalf("Zip needs name/content pairs, got %d values", len(files))
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i < len(files); i += 2 {
		w, err := zw.Create(files[i])
		if err != nil {
			t.Fatalf("zip create %s: %v", files[i], err)
		}
		if _, err := io.WriteString(w, files[i+1]); err != nil {
			t.Fatalf("zip write %s: %v", files[i], err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func writeGzip(t testing.TB, w io.Writer, data []byte) {
	gz := gzip.NewWriter(w)
	if _, err := gz.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
}
