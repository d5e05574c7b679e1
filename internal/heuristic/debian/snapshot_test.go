package debian

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/heuristic"
	rtest "github.com/hashget/hashget/internal/test"
)

func newSnapshotServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/mr/binary/libc6/2.28-10/binfiles", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": [
			{"architecture": "i386", "hash": "1111"},
			{"architecture": "amd64", "hash": "2222"}
		]}`)
	})
	mux.HandleFunc("/mr/file/2222/info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": [{
			"archive_name": "debian",
			"first_seen": "20190628T000000Z",
			"name": "libc6_2.28-10_amd64.deb",
			"path": "/pool/main/g/glibc",
			"size": 2870000
		}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSnapshotURL(t *testing.T) {
	srv := newSnapshotServer(t)
	s, err := NewSnapshot(srv.URL, srv.Client())
	rtest.OK(t, err)

	u, err := s.URL(context.TODO(), "libc6", "2.28-10", "amd64")
	rtest.OK(t, err)
	rtest.Equals(t, srv.URL+"/archive/debian/20190628T000000Z/pool/main/g/glibc/libc6_2.28-10_amd64.deb", u)

	u, err = s.URL(context.TODO(), "libc6", "2.28-10", "arm64")
	rtest.OK(t, err)
	rtest.Equals(t, "", u)

	u, err = s.URL(context.TODO(), "missing", "1.0", "amd64")
	rtest.OK(t, err)
	rtest.Equals(t, "", u)
}

func TestHeuristic(t *testing.T) {
	srv := newSnapshotServer(t)
	h := New(heuristic.Options{HTTP: srv.Client(), SnapshotURL: srv.URL})
	rtest.Equals(t, "debian", h.Name())

	root := rtest.TempDir(t)
	status := filepath.Join(root, "var", "lib", "dpkg", "status")
	rtest.WriteFile(t, status, []byte(testStatus))

	list, err := h.Check(filepath.Join(root, "etc", "passwd"))
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(list))

	list, err = h.Check(status)
	rtest.OK(t, err)
	rtest.Equals(t, 2, len(list))

	sr := list[1]
	rtest.Equals(t, Project, sr.Project)
	rtest.Equals(t, "debian", sr.PkgType)
	rtest.Equals(t, map[string]string{hashdb.SigDeb: "libc6 2.28-10 amd64"}, sr.Signatures)

	u, err := sr.ResolveURL(context.TODO())
	rtest.OK(t, err)
	rtest.Equals(t, srv.URL+"/archive/debian/20190628T000000Z/pool/main/g/glibc/libc6_2.28-10_amd64.deb", u)
}
