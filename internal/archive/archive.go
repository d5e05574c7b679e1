// Package archive unpacks package files: tarballs with any common
// compression, zip files and Debian binary packages.
package archive

import (
	"bufio"
	"compress/bzip2"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ErrUnsupported is returned for files that are not a known archive.
var ErrUnsupported = errors.New("unsupported archive format")

// Extractor unpacks an archive file into a directory.
type Extractor interface {
	Extract(ctx context.Context, filename, dir string) error
}

// Format is a detected archive format.
type Format string

const (
	Unknown Format = ""
	Tar     Format = "tar"
	Gzip    Format = "gzip"
	Bzip2   Format = "bzip2"
	XZ      Format = "xz"
	Zstd    Format = "zstd"
	Zip     Format = "zip"
	Deb     Format = "deb"
)

// sniffLen is the number of bytes mimetype inspects by default.
const sniffLen = 3072

var mimeFormats = []struct {
	mime   string
	format Format
}{
	{"application/vnd.debian.binary-package", Deb},
	{"application/x-tar", Tar},
	{"application/gzip", Gzip},
	{"application/x-bzip2", Bzip2},
	{"application/x-xz", XZ},
	{"application/zstd", Zstd},
	{"application/zip", Zip},
}

func formatOf(m *mimetype.MIME) Format {
	for ; m != nil; m = m.Parent() {
		for _, mf := range mimeFormats {
			if m.Is(mf.mime) {
				return mf.format
			}
		}
	}
	return Unknown
}

// Detect returns the archive format of filename.
func Detect(filename string) (Format, error) {
	m, err := mimetype.DetectFile(filename)
	if err != nil {
		return Unknown, errors.WithStack(err)
	}
	return formatOf(m), nil
}

// IsArchive returns true if filename can be extracted.
func IsArchive(filename string) bool {
	f, err := Detect(filename)
	return err == nil && f != Unknown
}

func detectReader(br *bufio.Reader) Format {
	head, _ := br.Peek(sniffLen)
	return formatOf(mimetype.Detect(head))
}

// Builtin extracts archives without external tools. Symbolic links in
// archives are never created.
type Builtin struct{}

var _ Extractor = Builtin{}

// Extract unpacks filename into dir, which is created if needed.
func (Builtin) Extract(ctx context.Context, filename, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.WithStack(err)
	}

	format, err := Detect(filename)
	if err != nil {
		return err
	}
	debug.Log("extract %v (%v) to %v", filename, format, dir)

	switch format {
	case Zip:
		return extractZip(ctx, filename, dir)
	case Unknown:
		return errors.Wrap(ErrUnsupported, filepath.Base(filename))
	}

	f, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() { _ = f.Close() }()

	if format == Deb {
		return extractDeb(ctx, f, dir)
	}

	return extractStream(ctx, bufio.NewReader(f), format, filepath.Base(filename), dir)
}

// decompress wraps rd for the given compression format. Tar and unknown
// formats are returned as is.
func decompress(rd io.Reader, format Format) (io.Reader, func(), error) {
	noop := func() {}
	switch format {
	case Gzip:
		zr, err := gzip.NewReader(rd)
		if err != nil {
			return nil, noop, errors.Wrap(err, "gzip")
		}
		return zr, func() { _ = zr.Close() }, nil
	case Bzip2:
		return bzip2.NewReader(rd), noop, nil
	case XZ:
		xr, err := xz.NewReader(rd)
		if err != nil {
			return nil, noop, errors.Wrap(err, "xz")
		}
		return xr, noop, nil
	case Zstd:
		zr, err := zstd.NewReader(rd)
		if err != nil {
			return nil, noop, errors.Wrap(err, "zstd")
		}
		return zr, zr.Close, nil
	}
	return rd, noop, nil
}

var compressedSuffixes = map[Format]string{
	Gzip:  ".gz",
	Bzip2: ".bz2",
	XZ:    ".xz",
	Zstd:  ".zst",
}

// extractStream unpacks a plain or compressed tar file. A compressed file
// that does not contain a tar archive is written to dir under its name
// without the compression suffix.
func extractStream(ctx context.Context, br *bufio.Reader, format Format, name, dir string) error {
	if format == Tar {
		return untar(ctx, br, dir)
	}

	rd, done, err := decompress(br, format)
	if err != nil {
		return err
	}
	defer done()

	inner := bufio.NewReader(rd)
	if detectReader(inner) == Tar {
		return untar(ctx, inner, dir)
	}

	out := strings.TrimSuffix(name, compressedSuffixes[format])
	if out == "" || out == name {
		out = name + ".out"
	}
	return writeFile(filepath.Join(dir, out), inner, 0644)
}

// target returns the location of name below dir, refusing names which
// would end up outside of it.
func target(dir, name string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(name))
	if clean == "/" {
		return "", nil
	}
	p := filepath.Join(dir, clean)
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("archive entry %q escapes the target directory", name)
	}
	return p, nil
}

func writeFile(path string, rd io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithStack(err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm.Perm()|0600)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(f, rd); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write "+filepath.Base(path))
	}
	return errors.WithStack(f.Close())
}
