package fs_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashget/hashget/internal/fs"
	rtest "github.com/hashget/hashget/internal/test"
)

func TestChtimesSymlink(t *testing.T) {
	root := rtest.TempDir(t)
	target := filepath.Join(root, "file")
	link := filepath.Join(root, "link")
	rtest.WriteFile(t, target, []byte("data"))
	rtest.OK(t, os.Symlink("file", link))

	before, err := os.Stat(target)
	rtest.OK(t, err)

	mtime := time.Unix(1400000000, 0)
	rtest.OK(t, fs.Chtimes(link, mtime, mtime))

	fi, err := os.Lstat(link)
	rtest.OK(t, err)
	rtest.Equals(t, mtime.Unix(), fi.ModTime().Unix())

	after, err := os.Stat(target)
	rtest.OK(t, err)
	rtest.Equals(t, before.ModTime(), after.ModTime())
}
