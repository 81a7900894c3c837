// Package storage writes downloaded artifacts to disk without ever exposing
// a partial file at its final path.
//
// Every write goes to a hidden temporary file in the destination folder and
// is renamed into place only after the expected number of bytes has been
// written and the file synced. Zip archives are unpacked entry by entry the
// same way, with entry names confined to the destination folder. Gzip
// payloads are decompressed next to the archive.
//
//	m, err := storage.NewManager("downloads")
//	path, n, err := m.Save(resp.Body, "bhav.csv.zip", resp.ContentLength)
//	if errors.Is(err, storage.ErrTruncated) {
//	    // nothing was left behind
//	}
//	files, err := m.ExtractZip(path)
package storage
