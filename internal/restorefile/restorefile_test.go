package restorefile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/hashspec"
	rtest "github.com/hashget/hashget/internal/test"
)

func testFile(t testing.TB, root, rel string, data []byte) *File {
	filename := filepath.Join(root, rel)
	rtest.OK(t, os.MkdirAll(filepath.Dir(filename), 0755))
	rtest.WriteFile(t, filename, data)
	rtest.OK(t, os.Chmod(filename, 0640))

	f, err := hashspec.ReadFile(filename, root, false)
	rtest.OK(t, err)
	fi, err := os.Stat(filename)
	rtest.OK(t, err)
	return NewFile(f, fi)
}

func size(n int64) *int64 {
	return &n
}

func TestNewFile(t *testing.T) {
	root := rtest.TempDir(t)
	f := testFile(t, root, "usr/bin/tool", []byte("hello"))

	rtest.Equals(t, "usr/bin/tool", f.Path)
	rtest.Equals(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", f.SHA256)
	rtest.Equals(t, hashspec.String("hello"), f.Hashspec())
	rtest.Equals(t, int64(5), f.Size)
	rtest.Equals(t, uint32(0640), f.Mode)
	rtest.Equals(t, os.Getuid(), f.UID)
}

func TestSaveLoad(t *testing.T) {
	root := rtest.TempDir(t)

	rf := New()
	rf.AddFile(testFile(t, root, "a", []byte("file a")))
	rf.AddFile(testFile(t, root, "dir/b", rtest.Random(23, 2000)))
	rf.AddPackage("http://example.com/a.deb", hashspec.String("a.deb"), size(100))
	rf.AddPackage("http://example.com/b.deb", hashspec.String("b.deb"), size(50))
	rf.Expires = hashdb.NewDate(time.Date(2031, 2, 3, 0, 0, 0, 0, time.UTC))

	rtest.Equals(t, int64(150), rf.PackageSize)
	rtest.Assert(t, rf.PackageSizeExact, "package size not exact")
	rtest.Equals(t, int64(6+2000), rf.SumSize())

	filename := filepath.Join(root, Filename)
	rtest.OK(t, rf.Save(filename))

	loaded, err := Load(filename)
	rtest.OK(t, err)

	opts := []cmp.Option{cmpopts.IgnoreUnexported(RestoreFile{})}
	if diff := cmp.Diff(rf, loaded, opts...); diff != "" {
		t.Errorf("loaded restore file differs (-want +got):\n%s", diff)
	}
	rtest.Equals(t, rf.SumSize(), loaded.SumSize())
	rtest.Equals(t, 1, len(loaded.FilesByHash(hashspec.String("file a"))))
}

func TestInexactPackageSize(t *testing.T) {
	rf := New()
	rf.AddPackage("http://example.com/a.deb", hashspec.String("a.deb"), size(100))
	rf.AddPackage("http://example.com/b.deb", hashspec.String("b.deb"), nil)

	rtest.Equals(t, int64(100), rf.PackageSize)
	rtest.Assert(t, !rf.PackageSizeExact, "package size exact with unknown size")
}

func TestProcessed(t *testing.T) {
	root := rtest.TempDir(t)

	rf := New()
	rf.AddFile(testFile(t, root, "one", []byte("same")))
	rf.AddFile(testFile(t, root, "two", []byte("same")))
	rf.AddFile(testFile(t, root, "three", []byte("other")))

	same := hashspec.String("same")
	rtest.Assert(t, rf.ShouldProcess(same), "new file not to be processed")
	rtest.Assert(t, rf.SetProcessed(same), "SetProcessed did not find file")
	rtest.Assert(t, !rf.ShouldProcess(same), "processed file to be processed again")
	rtest.Assert(t, !rf.SetProcessed(hashspec.String("missing")), "SetProcessed found missing file")

	unprocessed := rf.Unprocessed()
	rtest.Equals(t, 1, len(unprocessed))
	rtest.Equals(t, "three", unprocessed[0].Path)

	rf.PreIteration()
	rtest.Equals(t, 3, len(rf.Unprocessed()))
}

func TestRecover(t *testing.T) {
	src := rtest.TempDir(t)
	f := testFile(t, src, "etc/config", []byte("content"))
	f.MTime = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC).Unix()
	f.Mode = 0600

	dst := rtest.TempDir(t)
	rtest.OK(t, f.Recover(dst, filepath.Join(src, "etc/config"), true))

	filename := filepath.Join(dst, "etc", "config")
	data, err := os.ReadFile(filename)
	rtest.OK(t, err)
	rtest.Equals(t, "content", string(data))

	fi, err := os.Stat(filename)
	rtest.OK(t, err)
	rtest.Equals(t, os.FileMode(0600), fi.Mode().Perm())
	rtest.Equals(t, f.MTime, fi.ModTime().Unix())
}
