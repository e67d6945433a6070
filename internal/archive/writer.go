// Package archive implements the portable migration container: an
// uncompressed tar stream of individually compressed entries, one per table
// snapshot and one per blob, closed by a JSON manifest.
package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/willibrandon/tenantmove/internal/store"
)

// PAX record keys stored on every entry.
const (
	paxCodec    = "TENANTMOVE.codec"
	paxChecksum = "TENANTMOVE.sha256"
)

var (
	// ErrDuplicateKey is returned when a key is written twice.
	ErrDuplicateKey = errors.New("duplicate archive key")
	// ErrSealed is returned when writing after the manifest.
	ErrSealed = errors.New("archive already has a manifest")
)

// Writer appends entries to a new archive file.
type Writer struct {
	path        string
	file        *os.File
	tw          *tar.Writer
	compression CompressionType
	keys        map[string]bool
	tables      []TableEntry
	sealed      bool
	closed      bool
}

// Create creates the archive file at path.
func Create(path string, compression CompressionType) (*Writer, error) {
	if !compression.IsValid() {
		return nil, fmt.Errorf("invalid compression type %q", compression)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	return &Writer{
		path:        path,
		file:        f,
		tw:          tar.NewWriter(f),
		compression: compression,
		keys:        make(map[string]bool),
	}, nil
}

// Path returns the archive file path.
func (w *Writer) Path() string {
	return w.path
}

// WriteEntry stores the bytes produced by fill under key. The payload is
// spooled before the entry header is written, so a failing fill leaves the
// archive unchanged and the call may be retried.
func (w *Writer) WriteEntry(key string, fill func(io.Writer) error) error {
	return w.writeEntry(key, w.compression, fill)
}

func (w *Writer) writeEntry(key string, codec CompressionType, fill func(io.Writer) error) error {
	if w.sealed {
		return ErrSealed
	}
	if w.keys[key] {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	spool, err := os.CreateTemp(filepath.Dir(w.path), ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to create spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	hasher := sha256.New()
	cw, err := compressor(codec, io.MultiWriter(spool, hasher))
	if err != nil {
		return err
	}
	if err := fill(cw); err != nil {
		cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to close compression writer: %w", err)
	}

	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to size spool file: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind spool file: %w", err)
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     key,
		Mode:     0600,
		Size:     size,
		ModTime:  time.Now(),
		Format:   tar.FormatPAX,
		PAXRecords: map[string]string{
			paxCodec:    string(codec),
			paxChecksum: checksum(hasher),
		},
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", key, err)
	}
	if _, err := io.Copy(w.tw, spool); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", key, err)
	}
	if err := w.tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush entry %s: %w", key, err)
	}
	w.keys[key] = true
	return nil
}

// WriteTable stores a table snapshot under key.
func (w *Writer) WriteTable(key string, t *store.Table) error {
	err := w.WriteEntry(key, func(out io.Writer) error {
		return EncodeTable(out, t)
	})
	if err != nil {
		return err
	}
	w.tables = append(w.tables, TableEntry{Key: key, Rows: t.Len()})
	return nil
}

// WriteManifest stores m as the final, uncompressed entry. Table entries
// recorded by WriteTable are filled in when m.Tables is empty.
func (w *Writer) WriteManifest(m *Manifest) error {
	if len(m.Tables) == 0 {
		m.Tables = w.tables
	}
	m.Compression = w.compression
	data, err := m.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	err = w.writeEntry(ManifestKey, CompressionNone, func(out io.Writer) error {
		_, err := out.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	w.sealed = true
	return nil
}

// Close finishes the tar stream and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.tw.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to close archive: %w", err)
	}
	return w.file.Close()
}

// Abort closes and deletes the archive.
func (w *Writer) Abort() {
	w.Close()
	os.Remove(w.path)
}

func checksum(h hash.Hash) string {
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
