package hashdb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashspec"
	rtest "github.com/hashget/hashget/internal/test"
)

func newTestDirDB(t testing.TB, storage string) *DirDB {
	db, err := CreateDirDB(filepath.Join(rtest.TempDir(t), ProjectTest), ProjectOptions{Storage: storage})
	rtest.OK(t, err)
	return db
}

func TestDirDBSubmit(t *testing.T) {
	db := newTestDirDB(t, "")

	hp := newTestPackage("http://example.com/foo.tar.gz", "a", "b")
	rtest.OK(t, db.SubmitSave(hp))

	for _, f := range []string{"a", "b"} {
		list := db.Hash2Packages(hashspec.String(f))
		rtest.Equals(t, 1, len(list))
		rtest.Equals(t, hp.URL, list[0].URL)
	}
	rtest.Equals(t, 1, len(db.Hash2Packages(hp.Hashspec())))
	rtest.Equals(t, 0, len(db.Hash2Packages(hashspec.String("c"))))

	found, err := db.Signature2Package(SigURL, hp.URL)
	rtest.OK(t, err)
	rtest.Equals(t, hp, found)
	rtest.Assert(t, db.SigPresent(SigURL, hp.URL), "signature not present")

	_, err = db.Signature2Package(SigURL, "http://example.com/other")
	rtest.Assert(t, errors.Is(err, ErrNotFound), "wrong error %v", err)
}

func TestDirDBSubmitTwice(t *testing.T) {
	db := newTestDirDB(t, StorageHash2)

	first := newTestPackage("http://example.com/foo.tar.gz", "a", "b")
	rtest.OK(t, db.SubmitSave(first))
	firstPath := first.Path()

	// same URL, new content
	second := newTestPackage("http://example.com/foo.tar.gz", "b", "c")
	second.Hashes[0] = hashspec.String("new package")
	rtest.OK(t, db.SubmitSave(second))

	rtest.Equals(t, 1, db.Len())
	rtest.OK(t, db.SelfCheck())
	rtest.Equals(t, 0, len(db.Hash2Packages(hashspec.String("a"))))
	rtest.Equals(t, 1, len(db.Hash2Packages(hashspec.String("b"))))
	rtest.Equals(t, 0, len(db.Hash2Packages(first.Hashspec())))

	_, err := os.Stat(firstPath)
	rtest.Assert(t, os.IsNotExist(err), "file of superseded package still exists")

	// identical resubmission
	again := newTestPackage("http://example.com/foo.tar.gz", "b", "c")
	again.Hashes[0] = second.Hashes[0]
	rtest.OK(t, db.SubmitSave(again))
	rtest.Equals(t, 1, db.Len())
	rtest.Equals(t, 1, len(db.Hash2Packages(hashspec.String("c"))))
	rtest.OK(t, db.SelfCheck())
}

func TestDirDBSharedFiles(t *testing.T) {
	db := newTestDirDB(t, "")

	rtest.OK(t, db.Submit(newTestPackage("http://example.com/one.tar.gz", "shared", "x")))
	rtest.OK(t, db.Submit(newTestPackage("http://example.com/two.tar.gz", "shared", "y")))

	rtest.Equals(t, 2, len(db.Hash2Packages(hashspec.String("shared"))))
	rtest.Equals(t, 2, len(db.Packages()))
	rtest.Equals(t, "http://example.com/one.tar.gz", db.Packages()[0].URL)
}

func TestDirDBStorage(t *testing.T) {
	hp := newTestPackage("http://example.com/dir/foo.tar.gz")
	_, enc := hashspec.Split(hp.Hashspec())

	var tests = []struct {
		storage string
		rel     string
	}{
		{StorageBasename, "foo.tar.gz"},
		{StorageHash2, filepath.Join(enc[0:2], enc[2:4], "foo.tar.gz")},
		{StorageHash3, filepath.Join(enc[0:2], enc[2:4], enc[4:6], "foo.tar.gz")},
	}

	for _, test := range tests {
		t.Run(test.storage, func(t *testing.T) {
			db := newTestDirDB(t, test.storage)
			rtest.Equals(t, filepath.Join(db.Path(), "p", test.rel), db.packagePath(hp))
		})
	}

	_, err := CreateDirDB(filepath.Join(rtest.TempDir(t), "x"), ProjectOptions{Storage: "hash9"})
	rtest.Assert(t, err != nil, "unknown storage accepted")
}

func TestDirDBWriteLoad(t *testing.T) {
	dir := filepath.Join(rtest.TempDir(t), "proj")
	db, err := CreateDirDB(dir, ProjectOptions{Storage: StorageHash3, PkgType: "debian"})
	rtest.OK(t, err)

	fresh := newTestPackage("http://example.com/fresh.deb", "a")
	fresh.Expires = Today().AddDays(1)
	rtest.OK(t, db.Submit(fresh))
	rtest.OK(t, db.Submit(newTestPackage("http://example.com/never.deb", "b")))
	expired := newTestPackage("http://example.com/expired.deb", "c")
	expired.Expires = Today().AddDays(-1)
	rtest.OK(t, db.Submit(expired))
	rtest.OK(t, db.Write())

	rtest.WriteFile(t, filepath.Join(dir, "p", "broken.json"), []byte("{not json"))
	rtest.WriteFile(t, filepath.Join(dir, "p", "nohash.json"), []byte(`{"url": "http://example.com/x"}`))

	var warnings int
	loaded, err := OpenDirDB(dir, func(string, ...interface{}) { warnings++ })
	rtest.OK(t, err)

	rtest.Equals(t, 2, loaded.Len())
	rtest.Equals(t, 2, warnings)
	rtest.Equals(t, ProjectOptions{Storage: StorageHash3, PkgType: "debian"}, loaded.Options())
	rtest.Equals(t, 1, len(loaded.Hash2Packages(hashspec.String("a"))))
	rtest.Equals(t, 0, len(loaded.Hash2Packages(hashspec.String("c"))))
	rtest.OK(t, loaded.SelfCheck())
}

func TestDirDBPrune(t *testing.T) {
	db := newTestDirDB(t, "")
	old := newTestPackage("http://example.com/old.deb", "a")
	old.Expires = Today().AddDays(-3)
	rtest.OK(t, db.SubmitSave(old))
	soon := newTestPackage("http://example.com/soon.deb", "b")
	soon.Expires = Today().AddDays(2)
	rtest.OK(t, db.SubmitSave(soon))
	rtest.OK(t, db.SubmitSave(newTestPackage("http://example.com/never.deb", "c")))

	loaded, err := OpenDirDB(db.Path(), nil)
	rtest.OK(t, err)
	rtest.Equals(t, 2, loaded.Len())

	removed, err := loaded.Prune(time.Now().AddDate(0, 0, 5))
	rtest.OK(t, err)
	rtest.Equals(t, 2, removed)
	rtest.Equals(t, 1, loaded.Len())

	removed, err = loaded.Prune(time.Now())
	rtest.OK(t, err)
	rtest.Equals(t, 0, removed)

	loaded, err = OpenDirDB(db.Path(), nil)
	rtest.OK(t, err)
	rtest.Equals(t, []string{"http://example.com/never.deb"}, urls(loaded.Packages()))
}

func urls(list []*HashPackage) []string {
	res := make([]string, 0, len(list))
	for _, hp := range list {
		res = append(res, hp.URL)
	}
	return res
}

func TestDirDBBasenameClash(t *testing.T) {
	db := newTestDirDB(t, StorageBasename)
	var warnings int
	db.Warn = func(string, ...interface{}) { warnings++ }

	one := newTestPackage("http://a.example.com/one/foo.tar.gz", "a")
	two := newTestPackage("http://b.example.com/two/foo.tar.gz", "b")
	rtest.OK(t, db.SubmitSave(one))
	rtest.OK(t, db.SubmitSave(two))
	rtest.Equals(t, filepath.Join(db.Path(), "p", "foo.tar.gz"), one.Path())
	rtest.Equals(t, filepath.Join(db.Path(), "p", "foo.tar.gz.1"), two.Path())
	rtest.Equals(t, 1, warnings)

	loaded, err := OpenDirDB(db.Path(), nil)
	rtest.OK(t, err)
	rtest.Equals(t, 2, loaded.Len())

	rtest.OK(t, db.Delete(one))
	loaded, err = OpenDirDB(db.Path(), nil)
	rtest.OK(t, err)
	rtest.Equals(t, []string{two.URL}, urls(loaded.Packages()))
}

func TestDirDBLoadDuplicate(t *testing.T) {
	dir := filepath.Join(rtest.TempDir(t), "proj")
	db, err := CreateDirDB(dir, ProjectOptions{})
	rtest.OK(t, err)

	hp := newTestPackage("http://example.com/foo.tar.gz", "a")
	rtest.OK(t, db.SubmitSave(hp))
	rtest.OK(t, hp.Save(filepath.Join(dir, "p", "copy.json")))

	var warnings int
	loaded, err := OpenDirDB(dir, func(string, ...interface{}) { warnings++ })
	rtest.OK(t, err)
	rtest.Equals(t, 1, loaded.Len())
	rtest.Equals(t, 1, warnings)
	rtest.OK(t, loaded.SelfCheck())
}

func TestDirDBDefaultOptions(t *testing.T) {
	dir := rtest.TempDir(t)
	db, err := OpenDirDB(dir, nil)
	rtest.OK(t, err)
	rtest.Equals(t, ProjectOptions{Storage: StorageBasename, PkgType: "generic"}, db.Options())
	rtest.Equals(t, 0, db.Len())
}

func TestDirDBTruncate(t *testing.T) {
	db := newTestDirDB(t, "")
	for _, u := range []string{"http://example.com/a.tgz", "http://example.com/b.tgz"} {
		rtest.OK(t, db.SubmitSave(newTestPackage(u, u+"-file")))
	}
	rtest.Equals(t, 2, db.Len())

	rtest.OK(t, db.Truncate())
	rtest.Equals(t, 0, db.Len())

	size, err := db.DirSize()
	rtest.OK(t, err)
	rtest.Equals(t, int64(0), size)

	loaded, err := OpenDirDB(db.Path(), nil)
	rtest.OK(t, err)
	rtest.Equals(t, 0, loaded.Len())
}
