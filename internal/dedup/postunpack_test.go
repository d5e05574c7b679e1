package dedup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashget/hashget/internal/filepool"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/hashget/hashget/internal/restorefile"
	"github.com/hashget/hashget/internal/submit"
	rtest "github.com/hashget/hashget/internal/test"
	"github.com/hashget/hashget/internal/upstream"
)

func submitOptions(expires *hashdb.Date) submit.Options {
	return submit.Options{URL: testURL, Project: "tools", Expires: expires}
}

// unpacked returns a tree as it looks after extracting a packed archive.
func (te *testEnv) unpacked(t *testing.T) string {
	te.index(t)
	te.prepare(t, nil)

	root := filepath.Join(te.dir, "unpacked")
	rtest.WriteFile(t, filepath.Join(root, "app", "own.dat"), te.own)
	buf, err := os.ReadFile(filepath.Join(te.dir, "restore.json"))
	rtest.OK(t, err)
	rtest.WriteFile(t, filepath.Join(root, restorefile.Filename), buf)
	return root
}

func checkRecovered(t *testing.T, te *testEnv, root string) {
	buf, err := os.ReadFile(filepath.Join(root, "app", "big.bin"))
	rtest.OK(t, err)
	rtest.Equals(t, te.big, buf)

	buf, err = os.ReadFile(filepath.Join(root, "app", "medium.bin"))
	rtest.OK(t, err)
	rtest.Equals(t, te.medium, buf)
}

func TestPostUnpack(t *testing.T) {
	te := newTestEnv(t)
	root := te.unpacked(t)

	res, err := PostUnpack(context.TODO(), te.Env, PostUnpackOptions{Root: root, UserMode: true})
	rtest.OK(t, err)
	rtest.Equals(t, 2, res.Files)
	rtest.Equals(t, 2, res.Total)
	rtest.Equals(t, 1, res.Packages)
	rtest.Equals(t, int64(len(te.big)+len(te.medium)), res.Recovered)
	checkRecovered(t, te, root)
}

func TestPostUnpackPool(t *testing.T) {
	te := newTestEnv(t)
	root := te.unpacked(t)

	pool, err := filepool.NewDirPool(filepath.Join(te.dir, "pool"))
	rtest.OK(t, err)
	te.Pool = pool

	_, err = PostUnpack(context.TODO(), te.Env, PostUnpackOptions{Root: root, UserMode: true})
	rtest.OK(t, err)
	rtest.Equals(t, 1, pool.Len())

	// the second run must not need the network
	rtest.OK(t, os.Remove(filepath.Join(root, "app", "big.bin")))
	te.Getter = fileGetter{}
	res, err := PostUnpack(context.TODO(), te.Env, PostUnpackOptions{Root: root, UserMode: true})
	rtest.OK(t, err)
	rtest.Equals(t, 2, res.Files)
	rtest.Assert(t, res.FromPool > 0, "package was not taken from the pool")
	checkRecovered(t, te, root)
}

func TestPostUnpackIncomplete(t *testing.T) {
	te := newTestEnv(t)
	root := te.unpacked(t)

	filename := filepath.Join(root, restorefile.Filename)
	rf, err := restorefile.Load(filename)
	rtest.OK(t, err)
	rf.AddFile(&restorefile.File{Path: "app/missing.bin", SHA256: "00", Size: 1, Mode: 0644})
	rtest.OK(t, rf.Save(filename))

	_, err = PostUnpack(context.TODO(), te.Env, PostUnpackOptions{Root: root, UserMode: true})
	var ie *IncompleteError
	rtest.Assert(t, errors.As(err, &ie), "expected IncompleteError, got %v", err)
	rtest.Equals(t, []string{"app/missing.bin"}, ie.Files)
	checkRecovered(t, te, root)
}

func TestPostUnpackForcesUserMode(t *testing.T) {
	defer func(f func() int) { geteuid = f }(geteuid)
	geteuid = func() int { return 1000 }

	te := newTestEnv(t)
	root := te.unpacked(t)

	res, err := PostUnpack(context.TODO(), te.Env, PostUnpackOptions{Root: root})
	rtest.OK(t, err)
	rtest.Equals(t, 2, res.Files)
}

func TestPostUnpackLocale(t *testing.T) {
	env := map[string]string{"LANG": "C"}
	defer func(f func(string) string) { getenv = f }(getenv)
	getenv = func(name string) string { return env[name] }

	te := newTestEnv(t)
	root := te.unpacked(t)

	filename := filepath.Join(root, restorefile.Filename)
	rf, err := restorefile.Load(filename)
	rtest.OK(t, err)
	rf.Files[0].Path = "app/bär.bin"
	rtest.OK(t, rf.Save(filename))

	_, err = PostUnpack(context.TODO(), te.Env, PostUnpackOptions{Root: root, UserMode: true})
	rtest.Assert(t, errors.Is(err, ErrLocale), "expected locale error, got %v", err)

	env["LC_ALL"] = "en_US.UTF-8"
	_, err = PostUnpack(context.TODO(), te.Env, PostUnpackOptions{Root: root, UserMode: true})
	rtest.OK(t, err)
}

func TestIncompleteErrorMessage(t *testing.T) {
	err := &IncompleteError{Files: []string{"a", "b"}}
	rtest.Equals(t, "2 files not recovered: a, b (maybe retry with --recursive)", err.Error())

	err = &IncompleteError{Files: []string{"a"}, Recursive: true}
	rtest.Equals(t, "1 files not recovered: a", err.Error())
}

func TestRecoverFilesSkipsProcessed(t *testing.T) {
	te := newTestEnv(t)
	root := filepath.Join(te.dir, "unpacked")
	src := filepath.Join(te.dir, "src", "medium.bin")
	rtest.WriteFile(t, src, te.medium)

	h, size, err := hashspec.Sum(src, false)
	rtest.OK(t, err)
	_, enc := hashspec.Split(h.SHA256)

	rf := restorefile.New()
	done := &restorefile.File{Path: "app/done.bin", SHA256: enc, Size: size, Mode: 0644, Processed: true}
	todo := &restorefile.File{Path: "app/todo.bin", SHA256: enc, Size: size, Mode: 0644}
	rf.AddFile(done)
	rf.AddFile(todo)

	var res PostUnpackResult
	files := []hashspec.File{{Path: src, Size: size, Hashes: h}}
	recoverFiles(te.Env, PostUnpackOptions{Root: root, UserMode: true}, rf, &upstream.Package{URL: testURL}, files, &res)

	rtest.Equals(t, 1, res.Files)
	rtest.Equals(t, size, res.Recovered)
	rtest.Assert(t, todo.Processed, "entry not marked as processed")

	buf, err := os.ReadFile(filepath.Join(root, "app", "todo.bin"))
	rtest.OK(t, err)
	rtest.Equals(t, te.medium, buf)
	_, err = os.Stat(filepath.Join(root, "app", "done.bin"))
	rtest.Assert(t, os.IsNotExist(err), "processed entry was written again")
}
