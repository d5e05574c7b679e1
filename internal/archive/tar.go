package archive

import (
	"archive/tar"
	"context"
	"io"
	"os"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
)

func untar(ctx context.Context, rd io.Reader, dir string) error {
	tr := tar.NewReader(rd)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "tar")
		}

		path, err := target(dir, hdr.Name)
		if err != nil {
			return err
		}
		if path == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, os.FileMode(hdr.Mode).Perm()|0700); err != nil {
				return errors.WithStack(err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := writeFile(path, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeLink:
			src, err := target(dir, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := fs.CopyFile(path, src); err != nil {
				debug.Log("hardlink %v -> %v: %v", hdr.Name, hdr.Linkname, err)
			}
		default:
			debug.Log("skip %v (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}
