package fs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/hashget/hashget/internal/errors"
)

// IsRegularFile returns true if fi belongs to a normal file. If fi is nil,
// false is returned.
func IsRegularFile(fi os.FileInfo) bool {
	if fi == nil {
		return false
	}

	return fi.Mode()&(os.ModeType|os.ModeCharDevice) == 0
}

// IsSymlink returns true if fi describes a symbolic link.
func IsSymlink(fi os.FileInfo) bool {
	return fi != nil && fi.Mode()&os.ModeSymlink != 0
}

// RemoveSymlinks deletes every symbolic link below root. Extracted archives
// may contain links pointing outside of the extraction directory; they must
// be gone before files are copied out or ownership is restored.
func RemoveSymlinks(root string) (removed int, err error) {
	err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if IsSymlink(fi) {
			if err := os.Remove(path); err != nil {
				return errors.Wrap(err, "Remove")
			}
			removed++
		}

		return nil
	})

	return removed, err
}

// MakeWritable sets the owner write and execute bits on every directory
// below root so that its contents can be removed.
func MakeWritable(root string) error {
	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if fi.IsDir() && fi.Mode().Perm()&0700 != 0700 {
			return os.Chmod(path, fi.Mode().Perm()|0700)
		}

		return nil
	})
}

// CopyFile copies the contents of src to dst, truncating dst.
func CopyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "Open")
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "OpenFile")
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrap(err, "Copy")
	}

	return errors.Wrap(out.Close(), "Close")
}

// DirSize returns the sum of the sizes of all regular files below root.
func DirSize(root string) (size int64, err error) {
	err = filepath.Walk(root, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if IsRegularFile(fi) {
			size += fi.Size()
		}
		return nil
	})
	return size, err
}
