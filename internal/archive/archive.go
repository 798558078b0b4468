// Package archive expands credential archives (ZIP, TAR, TAR.GZ) into a
// lazy, single-pass sequence of named entries.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// ErrNotAnArchive is returned by Open when the data cannot be read as an
// archive of the requested format.
var ErrNotAnArchive = errors.New("not an archive")

// ErrEntryTooLarge marks an entry that exceeds the configured size or
// decompression ratio limits.
var ErrEntryTooLarge = errors.New("archive entry exceeds limits")

// Limits controls zip bomb protection thresholds.
type Limits struct {
	// MaxDecompressionRatio is the maximum allowed ratio of uncompressed to
	// compressed size for a single ZIP entry. TAR entries are not ratio-checked
	// because TAR stores uncompressed data.
	MaxDecompressionRatio int64

	// MaxTotalSize is the maximum total bytes that may be extracted from a
	// single archive across all entries. Iteration stops once it is reached.
	MaxTotalSize int64

	// MaxEntryCount is the maximum number of entries yielded from a single
	// archive.
	MaxEntryCount int

	// MaxEntrySize is the maximum allowed size of a single decompressed entry.
	// Larger entries are yielded with ErrEntryTooLarge.
	MaxEntrySize int64
}

// DefaultLimits returns conservative defaults for archive extraction.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressionRatio: 100,
		MaxTotalSize:          256 * 1024 * 1024, // 256 MB
		MaxEntryCount:         10_000,
		MaxEntrySize:          10 * 1024 * 1024, // 10 MB
	}
}

// Format identifiers returned by FormatOf.
const (
	FormatZip   = "zip"
	FormatTar   = "tar"
	FormatTarGz = "tar.gz"
)

// archiveExtensions maps file extensions to archive format identifiers.
// The ".tar.gz" compound extension is handled separately in FormatOf.
var archiveExtensions = map[string]string{
	".zip": FormatZip,
	".tar": FormatTar,
	".tgz": FormatTarGz,
}

// FormatOf returns the archive format for the given name based on its
// extension, or "" if the name is not a recognized archive.
func FormatOf(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".tar.gz") {
		return FormatTarGz
	}
	return archiveExtensions[strings.ToLower(filepath.Ext(name))]
}

// Entry is one file expanded from an archive. Err is set when the entry
// could not be read; the remaining entries are unaffected.
type Entry struct {
	Name string
	Data []byte
	Err  error
}

// Iterator yields archive entries in stored order. It is single-pass; call
// Open again to restart.
type Iterator struct {
	limits  Limits
	entry   Entry
	yielded int
	total   int64
	err     error
	done    bool

	// zip state
	files []*zip.File
	pos   int

	// tar state
	tr      *tar.Reader
	pending *tar.Header
	closer  io.Closer
}

// Open prepares data for iteration as the given format. A body that does not
// parse as that format yields ErrNotAnArchive.
func Open(format string, data []byte, limits Limits) (*Iterator, error) {
	it := &Iterator{limits: limits}
	switch format {
	case FormatZip:
		reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("opening ZIP archive: %w: %v", ErrNotAnArchive, err)
		}
		it.files = reader.File
	case FormatTar, FormatTarGz:
		var r io.Reader = bytes.NewReader(data)
		if format == FormatTarGz {
			gr, err := gzip.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("opening gzip layer: %w: %v", ErrNotAnArchive, err)
			}
			it.closer = gr
			r = gr
		}
		it.tr = tar.NewReader(r)
		header, err := it.tr.Next()
		switch {
		case err == io.EOF:
			it.done = true
		case err != nil:
			_ = it.Close()
			return nil, fmt.Errorf("reading TAR archive: %w: %v", ErrNotAnArchive, err)
		default:
			it.pending = header
		}
	default:
		return nil, fmt.Errorf("unsupported archive format %q: %w", format, ErrNotAnArchive)
	}
	return it, nil
}

// Next advances to the next file entry, returning false when the archive is
// exhausted, a limit stops iteration, or the archive stream is corrupt.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.yielded >= it.limits.MaxEntryCount {
		slog.Warn("archive entry count limit reached, stopping", "limit", it.limits.MaxEntryCount)
		it.done = true
		return false
	}

	var ok bool
	if it.tr != nil {
		ok = it.nextTar()
	} else {
		ok = it.nextZip()
	}
	if !ok {
		it.done = true
		return false
	}
	it.yielded++
	return true
}

// Entry returns the entry produced by the last successful Next.
func (it *Iterator) Entry() Entry {
	return it.entry
}

// Err returns the error that stopped iteration early, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases decompressor state. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.closer == nil {
		return nil
	}
	err := it.closer.Close()
	it.closer = nil
	return err
}

func (it *Iterator) nextZip() bool {
	for it.pos < len(it.files) {
		f := it.files[it.pos]
		it.pos++

		if f.FileInfo().IsDir() {
			continue
		}

		it.entry = Entry{Name: f.Name}
		if f.CompressedSize64 > 0 {
			ratio := int64(f.UncompressedSize64 / f.CompressedSize64)
			if ratio > it.limits.MaxDecompressionRatio {
				it.entry.Err = fmt.Errorf("%w: decompression ratio %d > %d", ErrEntryTooLarge, ratio, it.limits.MaxDecompressionRatio)
				return true
			}
		}
		if f.UncompressedSize64 > uint64(it.limits.MaxEntrySize) {
			it.entry.Err = fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, f.UncompressedSize64)
			return true
		}
		if it.total+int64(f.UncompressedSize64) > it.limits.MaxTotalSize {
			it.err = fmt.Errorf("archive total size limit %d reached", it.limits.MaxTotalSize)
			slog.Warn("archive total size limit reached, stopping", "limit", it.limits.MaxTotalSize)
			return false
		}

		it.entry.Data, it.entry.Err = readZipEntry(f, it.limits.MaxEntrySize)
		it.total += int64(len(it.entry.Data))
		return true
	}
	return false
}

func (it *Iterator) nextTar() bool {
	for {
		header := it.pending
		it.pending = nil
		if header == nil {
			var err error
			header, err = it.tr.Next()
			if err == io.EOF {
				return false
			}
			if err != nil {
				it.err = fmt.Errorf("reading TAR archive: %w", err)
				slog.Warn("tar read error after entries", "yielded", it.yielded, "error", err)
				return false
			}
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		it.entry = Entry{Name: header.Name}
		if header.Size > it.limits.MaxEntrySize {
			it.entry.Err = fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, header.Size)
			return true
		}
		if it.total+header.Size > it.limits.MaxTotalSize {
			it.err = fmt.Errorf("archive total size limit %d reached", it.limits.MaxTotalSize)
			slog.Warn("archive total size limit reached, stopping", "limit", it.limits.MaxTotalSize)
			return false
		}

		data, err := io.ReadAll(io.LimitReader(it.tr, safeLimitSize(it.limits.MaxEntrySize)))
		switch {
		case err != nil:
			it.entry.Err = fmt.Errorf("reading TAR entry %s: %w", header.Name, err)
		case int64(len(data)) > it.limits.MaxEntrySize:
			it.entry.Err = fmt.Errorf("%w: header understated size", ErrEntryTooLarge)
		default:
			it.entry.Data = data
			it.total += int64(len(data))
		}
		return true
	}
}

// readZipEntry reads the contents of a ZIP file entry with an enforced size
// limit via io.LimitReader, regardless of what the ZIP header claims.
func readZipEntry(f *zip.File, maxSize int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening ZIP entry %s: %w", f.Name, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			slog.Warn("closing ZIP entry", "entry", f.Name, "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(rc, safeLimitSize(maxSize)))
	if err != nil {
		return nil, fmt.Errorf("reading ZIP entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: ZIP entry %s exceeds %d bytes", ErrEntryTooLarge, f.Name, maxSize)
	}
	return data, nil
}

// safeLimitSize returns maxSize+1 for overflow detection in io.LimitReader,
// clamped to math.MaxInt64 to prevent int64 wraparound.
func safeLimitSize(maxSize int64) int64 {
	if maxSize == math.MaxInt64 {
		return math.MaxInt64
	}
	return maxSize + 1
}
