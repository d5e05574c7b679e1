package hashdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashspec"
	rtest "github.com/hashget/hashget/internal/test"
)

func newTestClient(t testing.TB, remotes ...string) *Client {
	c, err := NewClient(context.TODO(), Options{
		Root:    filepath.Join(rtest.TempDir(t), "hashdb"),
		Remotes: remotes,
		Warn:    t.Logf,
	})
	rtest.OK(t, err)
	return c
}

func TestClientProjects(t *testing.T) {
	c := newTestClient(t)
	rtest.Equals(t, 0, len(c.Projects()))

	_, err := c.CreateProject("debsnap", ProjectOptions{PkgType: "debian"})
	rtest.OK(t, err)
	_, err = c.CreateProject("debsnap", ProjectOptions{})
	rtest.Assert(t, err != nil, "project created twice")

	db, err := c.EnsureProject(ProjectSubmitted, "")
	rtest.OK(t, err)
	rtest.Equals(t, "generic", db.Options().PkgType)

	_, err = c.EnsureProject("../evil", "")
	rtest.Assert(t, errors.IsFatal(err), "invalid project name accepted: %v", err)

	rtest.OK(t, c.SubmitSave(newTestPackage("http://example.com/foo.deb", "a"), "debsnap", "debian"))

	reopened, err := NewClient(context.TODO(), Options{Root: c.Root()})
	rtest.OK(t, err)
	var names []string
	for _, db := range reopened.Projects() {
		names = append(names, db.Name())
	}
	rtest.Equals(t, []string{"_submitted", "debsnap"}, names)

	list, err := reopened.Packages("")
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(list))

	_, err = reopened.Packages("nonexistent")
	rtest.Assert(t, errors.Is(err, ErrProjectNotFound), "wrong error %v", err)

	rtest.OK(t, reopened.RemoveProject("debsnap"))
	_, err = os.Stat(filepath.Join(c.Root(), "debsnap"))
	rtest.Assert(t, os.IsNotExist(err), "project directory not removed")
	rtest.Assert(t, errors.Is(reopened.RemoveProject("debsnap"), ErrProjectNotFound), "removed missing project")
}

func TestClientEnabledProjects(t *testing.T) {
	c := newTestClient(t)
	rtest.OK(t, c.SubmitSave(newTestPackage("http://example.com/a.deb", "a"), "one", ""))
	rtest.OK(t, c.SubmitSave(newTestPackage("http://example.com/b.deb", "b"), "two", ""))

	only, err := NewClient(context.TODO(), Options{Root: c.Root(), Projects: []string{"two", "missing"}})
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(only.Projects()))

	list, err := only.Hash2Packages(context.TODO(), hashspec.String("a"), false)
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(list))
	list, err = only.Hash2Packages(context.TODO(), hashspec.String("b"), false)
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(list))

	rtest.Equals(t, Counter{Queries: 2, Hits: 1, Misses: 1}, only.Stats().Hash)
}

func TestClientPullByHash(t *testing.T) {
	srv := newTestServer(t, testServerConfig)
	remote := newTestPackage("http://example.com/remote.tar.gz", "r")
	srv.addPackage(t, AnchorPath(hashspec.String("r")), remote)

	c := newTestClient(t, srv.URL)
	rtest.Equals(t, 1, len(c.Remotes()))
	rtest.OK(t, c.SubmitSave(newTestPackage("http://example.com/local.tar.gz", "l"), "local", ""))

	res, err := c.PullByHash(context.TODO(), hashspec.String("l"))
	rtest.OK(t, err)
	rtest.Equals(t, PullLocal, res)

	list, err := c.Hash2Packages(context.TODO(), hashspec.String("r"), false)
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(list))

	res, err = c.PullByHash(context.TODO(), hashspec.String("r"))
	rtest.OK(t, err)
	rtest.Equals(t, PullPulled, res)

	cached, err := c.Project(ProjectCached)
	rtest.OK(t, err)
	rtest.Equals(t, 1, cached.Len())
	_, err = os.Stat(cached.Packages()[0].Path())
	rtest.OK(t, err)

	res, err = c.PullByHash(context.TODO(), hashspec.String("r"))
	rtest.OK(t, err)
	rtest.Equals(t, PullLocal, res)

	res, err = c.PullByHash(context.TODO(), hashspec.String("nowhere"))
	rtest.OK(t, err)
	rtest.Equals(t, PullNotFound, res)
	rtest.Equals(t, 1, c.Stats().Pulled)
}

func TestClientPullBySignature(t *testing.T) {
	srv := newTestServer(t, testServerConfig)
	sig := DebSignature("bash", "5.0-4", "amd64")
	hp := newTestPackage("http://example.com/bash_5.0-4_amd64.deb", "bash")
	hp.Signatures[SigDeb] = sig
	srv.addPackage(t, "sig/deb/b/bash/5.0-4_amd64.json", hp)

	c := newTestClient(t, srv.URL)

	ok, err := c.SigPresent(context.TODO(), SigDeb, sig, false)
	rtest.OK(t, err)
	rtest.Assert(t, !ok, "signature present locally before pull")
	ok, err = c.SigPresent(context.TODO(), SigDeb, sig, true)
	rtest.OK(t, err)
	rtest.Assert(t, ok, "signature not present on server")

	res, err := c.PullBySignature(context.TODO(), SigDeb, sig)
	rtest.OK(t, err)
	rtest.Equals(t, PullPulled, res)

	found, err := c.Signature2Package(context.TODO(), SigDeb, sig, false)
	rtest.OK(t, err)
	rtest.Equals(t, hp.URL, found.URL)

	res, err = c.PullBySignature(context.TODO(), SigDeb, sig)
	rtest.OK(t, err)
	rtest.Equals(t, PullLocal, res)

	res, err = c.PullBySignature(context.TODO(), SigDeb, DebSignature("zsh", "1", "amd64"))
	rtest.OK(t, err)
	rtest.Equals(t, PullNotFound, res)
}

func TestClientUnreachableRemote(t *testing.T) {
	defer func(d time.Duration) { remoteRetryDelay = d }(remoteRetryDelay)
	remoteRetryDelay = time.Millisecond

	var warnings int
	c, err := NewClient(context.TODO(), Options{
		Root:    rtest.TempDir(t),
		Remotes: []string{"http://127.0.0.1:1/"},
		Warn:    func(string, ...interface{}) { warnings++ },
	})
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(c.Remotes()))
	rtest.Equals(t, 1, warnings)
}
