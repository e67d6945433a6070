package archive

import (
	"archive/tar"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/willibrandon/tenantmove/internal/store"
)

// ErrEntryNotFound is returned for keys absent from the archive.
var ErrEntryNotFound = errors.New("archive entry not found")

type entry struct {
	offset   int64
	size     int64
	codec    CompressionType
	checksum string
}

// Reader gives random access to the entries of an archive.
type Reader struct {
	file    *os.File
	entries map[string]entry
	order   []string
}

// Open opens an archive and indexes its entries.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	r := &Reader{file: f, entries: make(map[string]entry)}
	if err := r.index(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// index walks the tar headers once. tar.Reader reads the file directly, so
// the file offset after Next is the start of the entry data.
func (r *Reader) index() error {
	tr := tar.NewReader(r.file)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive index: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		offset, err := r.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("failed to locate entry %s: %w", hdr.Name, err)
		}
		if _, dup := r.entries[hdr.Name]; !dup {
			r.order = append(r.order, hdr.Name)
		}
		r.entries[hdr.Name] = entry{
			offset:   offset,
			size:     hdr.Size,
			codec:    CompressionType(hdr.PAXRecords[paxCodec]),
			checksum: hdr.PAXRecords[paxChecksum],
		}
	}
}

// Keys returns entry keys in write order.
func (r *Reader) Keys() []string {
	return r.order
}

// Has reports whether key is present.
func (r *Reader) Has(key string) bool {
	_, ok := r.entries[key]
	return ok
}

// OpenEntry returns a decompressing reader over the entry stored at key.
func (r *Reader) OpenEntry(key string) (io.ReadCloser, error) {
	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, key)
	}
	return decompressor(e.codec, io.NewSectionReader(r.file, e.offset, e.size))
}

// ReadTable decodes the table snapshot stored at key.
func (r *Reader) ReadTable(key string) (*store.Table, error) {
	rc, err := r.OpenEntry(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return DecodeTable(rc)
}

// Manifest decodes the manifest entry.
func (r *Reader) Manifest() (*Manifest, error) {
	rc, err := r.OpenEntry(ManifestKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Verify recomputes every entry checksum.
func (r *Reader) Verify() error {
	for _, key := range r.order {
		e := r.entries[key]
		h := sha256.New()
		if _, err := io.Copy(h, io.NewSectionReader(r.file, e.offset, e.size)); err != nil {
			return fmt.Errorf("failed to read entry %s: %w", key, err)
		}
		if got := checksum(h); got != e.checksum {
			return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", key, e.checksum, got)
		}
	}
	return nil
}

// Close closes the archive file.
func (r *Reader) Close() error {
	return r.file.Close()
}
