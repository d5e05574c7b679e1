package archive

import (
	"context"
	"os"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/klauspost/compress/zip"
)

func extractZip(ctx context.Context, filename, dir string) error {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return errors.Wrap(err, "zip")
	}
	defer func() { _ = zr.Close() }()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		path, err := target(dir, zf.Name)
		if err != nil {
			return err
		}
		if path == "" {
			continue
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(path, mode.Perm()|0700); err != nil {
				return errors.WithStack(err)
			}
		case mode.IsRegular():
			rc, err := zf.Open()
			if err != nil {
				return errors.Wrap(err, zf.Name)
			}
			err = writeFile(path, rc, mode)
			_ = rc.Close()
			if err != nil {
				return err
			}
		default:
			debug.Log("skip %v (mode %v)", zf.Name, mode)
		}
	}
	return nil
}
