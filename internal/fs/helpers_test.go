package fs_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashget/hashget/internal/fs"
	rtest "github.com/hashget/hashget/internal/test"
)

func TestRemoveSymlinks(t *testing.T) {
	root := rtest.TempDir(t)
	rtest.WriteFile(t, filepath.Join(root, "dir", "file"), []byte("content"))
	rtest.OK(t, os.Symlink("/etc/passwd", filepath.Join(root, "dir", "escape")))
	rtest.OK(t, os.Symlink("file", filepath.Join(root, "dir", "relative")))

	removed, err := fs.RemoveSymlinks(root)
	rtest.OK(t, err)
	rtest.Equals(t, 2, removed)

	_, err = os.Lstat(filepath.Join(root, "dir", "escape"))
	rtest.Assert(t, os.IsNotExist(err), "symlink still exists: %v", err)

	fi, err := os.Lstat(filepath.Join(root, "dir", "file"))
	rtest.OK(t, err)
	rtest.Assert(t, fs.IsRegularFile(fi), "regular file was removed")
}

func TestRestoreMetadataUserMode(t *testing.T) {
	root := rtest.TempDir(t)
	path := filepath.Join(root, "file")
	rtest.WriteFile(t, path, []byte("data"))

	mtime := time.Unix(1500000000, 0)
	atime := time.Unix(1500000100, 0)
	rtest.OK(t, fs.RestoreMetadata(path, fs.Metadata{Mode: 0640, ATime: atime, MTime: mtime}, true))

	fi, err := os.Stat(path)
	rtest.OK(t, err)
	rtest.Equals(t, os.FileMode(0640), fi.Mode().Perm())
	rtest.Assert(t, fi.ModTime().Equal(mtime), "wrong mtime %v", fi.ModTime())

	m := fs.ExtendedStat(fi)
	rtest.Equals(t, os.Getuid(), m.UID)
	rtest.Assert(t, m.ATime.Equal(atime), "wrong atime %v", m.ATime)
}

func TestCopyFileAndDirSize(t *testing.T) {
	root := rtest.TempDir(t)
	src := filepath.Join(root, "src")
	data := rtest.Random(23, 5000)
	rtest.WriteFile(t, src, data)

	dst := filepath.Join(root, "sub", "dst")
	rtest.OK(t, os.MkdirAll(filepath.Dir(dst), 0755))
	rtest.OK(t, fs.CopyFile(dst, src))

	buf, err := os.ReadFile(dst)
	rtest.OK(t, err)
	rtest.Equals(t, data, buf)

	size, err := fs.DirSize(root)
	rtest.OK(t, err)
	rtest.Equals(t, int64(10000), size)
}
