package fs

import (
	"os"
	"path/filepath"
	"time"
)

// MkdirAll creates a directory named path, along with any necessary parents.
func MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Remove removes the named file or directory.
func Remove(name string) error {
	return os.Remove(name)
}

// RemoveAll removes path and any children it contains. Read-only directories
// below path are made writable first, unpacked packages often contain them.
func RemoveAll(path string) error {
	_ = MakeWritable(path)
	return os.RemoveAll(path)
}

// Rename renames (moves) oldpath to newpath.
func Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Stat returns a FileInfo structure describing the named file.
func Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

// Lstat returns the FileInfo structure describing the named file. If the
// file is a symbolic link, the returned FileInfo describes the symbolic link.
func Lstat(name string) (os.FileInfo, error) {
	return os.Lstat(name)
}

// Open opens a file for reading.
func Open(name string) (*os.File, error) {
	return os.Open(name)
}

// OpenFile is the generalized open call.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

// Walk walks the file tree rooted at root in lexical order. Walk does not
// follow symbolic links.
func Walk(root string, walkFn filepath.WalkFunc) error {
	return filepath.Walk(root, walkFn)
}

// RemoveIfExists removes a file, returning no error if it does not exist.
func RemoveIfExists(filename string) error {
	err := os.Remove(filename)
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// Chtimes changes the access and modification times of the named file. A
// symlink itself is changed, not its target, where the platform allows it.
func Chtimes(name string, atime time.Time, mtime time.Time) error {
	err := utimesNano(name, atime.UnixNano(), mtime.UnixNano())
	if err != nil {
		return &os.PathError{Op: "UtimesNano", Path: name, Err: err}
	}
	return nil
}
