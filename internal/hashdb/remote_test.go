package hashdb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashspec"
	rtest "github.com/hashget/hashget/internal/test"
)

type testServer struct {
	*httptest.Server

	mu        sync.Mutex
	files     map[string][]byte
	requests  map[string]int
	submitted map[string]string
}

func newTestServer(t testing.TB, cfg ServerConfig) *testServer {
	srv := &testServer{
		files:     make(map[string][]byte),
		requests:  make(map[string]int),
		submitted: make(map[string]string),
	}

	buf, err := json.Marshal(cfg)
	rtest.OK(t, err)
	srv.files["config.json"] = buf
	srv.files["motd.txt"] = []byte("hello from the test server\n")

	srv.Server = httptest.NewServer(http.HandlerFunc(srv.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (srv *testServer) serve(w http.ResponseWriter, r *http.Request) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/")
	srv.requests[r.Method+" "+p]++

	if r.Method == http.MethodPost && p == "submit" {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		srv.submitted[r.FormValue("url")] = r.FormValue("size") + ":" + string(data)
		return
	}

	buf, ok := srv.files[p]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(buf)
}

func (srv *testServer) addPackage(t testing.TB, p string, hp ...*HashPackage) {
	var buf []byte
	var err error
	if len(hp) == 1 {
		buf, err = hp[0].JSON()
	} else {
		buf, err = json.Marshal(hp)
	}
	rtest.OK(t, err)

	srv.mu.Lock()
	srv.files["hashdb/"+p] = buf
	srv.mu.Unlock()
}

func (srv *testServer) count(key string) int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.requests[key]
}

var testServerConfig = ServerConfig{
	Submit:    "submit",
	HashDB:    "hashdb/",
	MOTD:      "motd.txt",
	AcceptURL: []string{`^http://example\.com/`},
}

func TestRemoteDBConfig(t *testing.T) {
	srv := newTestServer(t, testServerConfig)

	db, err := NewRemoteDB(context.TODO(), srv.URL, srv.Client())
	rtest.OK(t, err)
	rtest.Equals(t, "hello from the test server", db.MOTD())
	rtest.Equals(t, srv.URL+"/hashdb/", db.hashdb.String())
	rtest.Equals(t, srv.URL+"/submit", db.submit.String())
	rtest.Assert(t, db.Accepts("http://example.com/foo.deb"), "URL not accepted")
	rtest.Assert(t, !db.Accepts("http://other.example.org/foo.deb"), "URL accepted")
}

func TestRemoteDBNoConfig(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewRemoteDB(context.TODO(), srv.URL, srv.Client())
	var serr *RemoteStatusError
	rtest.Assert(t, errors.As(err, &serr), "wrong error %v", err)
	rtest.Equals(t, http.StatusNotFound, serr.Code)
}

func TestRemoteDBHash2Packages(t *testing.T) {
	srv := newTestServer(t, testServerConfig)
	db, err := NewRemoteDB(context.TODO(), srv.URL, srv.Client())
	rtest.OK(t, err)

	one := newTestPackage("http://example.com/one.tar.gz", "shared", "a")
	two := newTestPackage("http://example.com/two.tar.gz", "shared", "b")
	srv.addPackage(t, AnchorPath(hashspec.String("a")), one)
	srv.addPackage(t, AnchorPath(hashspec.String("shared")), one, two)

	list, err := db.Hash2Packages(context.TODO(), hashspec.String("a"))
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(list))
	rtest.Equals(t, one.URL, list[0].URL)

	list, err = db.Hash2Packages(context.TODO(), hashspec.String("shared"))
	rtest.OK(t, err)
	rtest.Equals(t, 2, len(list))

	// unknown hashes are cached as well
	for i := 0; i < 3; i++ {
		list, err = db.Hash2Packages(context.TODO(), hashspec.String("unknown"))
		rtest.OK(t, err)
		rtest.Equals(t, 0, len(list))
	}
	rtest.Equals(t, 1, srv.count("GET hashdb/"+AnchorPath(hashspec.String("unknown"))))

	_, err = db.Hash2Packages(context.TODO(), "sha256:xyz")
	rtest.Assert(t, err != nil, "invalid hash accepted")
}

func TestRemoteDBSignature(t *testing.T) {
	srv := newTestServer(t, testServerConfig)
	db, err := NewRemoteDB(context.TODO(), srv.URL, srv.Client())
	rtest.OK(t, err)

	sig := DebSignature("libc6", "2.28-10", "amd64")
	hp := newTestPackage("http://example.com/libc6_2.28-10_amd64.deb", "a")
	hp.Signatures[SigDeb] = sig
	srv.addPackage(t, "sig/deb/libc/libc6/2.28-10_amd64.json", hp)

	ok, err := db.SigPresent(context.TODO(), SigDeb, sig)
	rtest.OK(t, err)
	rtest.Assert(t, ok, "signature not present")
	rtest.Equals(t, 1, srv.count("HEAD hashdb/sig/deb/libc/libc6/2.28-10_amd64.json"))

	found, err := db.Signature2Package(context.TODO(), SigDeb, sig)
	rtest.OK(t, err)
	rtest.Equals(t, hp.URL, found.URL)

	_, err = db.Signature2Package(context.TODO(), SigDeb, DebSignature("bash", "5.0", "amd64"))
	rtest.Assert(t, errors.Is(err, ErrNotFound), "wrong error %v", err)

	ok, err = db.SigPresent(context.TODO(), SigURL, "http://example.com/missing.deb")
	rtest.OK(t, err)
	rtest.Assert(t, !ok, "missing signature present")
}

func TestRemoteDBSubmit(t *testing.T) {
	srv := newTestServer(t, testServerConfig)
	db, err := NewRemoteDB(context.TODO(), srv.URL, srv.Client())
	rtest.OK(t, err)

	filename := filepath.Join(rtest.TempDir(t), "foo.tar.gz")
	rtest.WriteFile(t, filename, []byte("package data"))

	ok, err := db.Submit(context.TODO(), "http://other.example.org/foo.tar.gz", filename)
	rtest.OK(t, err)
	rtest.Assert(t, !ok, "URL outside of accept list submitted")

	ok, err = db.Submit(context.TODO(), "http://example.com/foo.tar.gz", filename)
	rtest.OK(t, err)
	rtest.Assert(t, ok, "package not submitted")
	rtest.Equals(t, "12:package data", srv.submitted["http://example.com/foo.tar.gz"])

	known := newTestPackage("http://example.com/known.tar.gz")
	srv.addPackage(t, URLSignaturePath(known.URL), known)
	ok, err = db.Submit(context.TODO(), known.URL, filename)
	rtest.OK(t, err)
	rtest.Assert(t, !ok, "known package submitted again")
	rtest.Equals(t, 1, len(srv.submitted))
}

// refusingTransport fails the first n requests with a connection error
// once armed.
type refusingTransport struct {
	armed    atomic.Bool
	n        int32
	failures atomic.Int32
}

func (rt *refusingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.armed.Load() && (rt.n < 0 || rt.failures.Add(1) <= rt.n) {
		return nil, errors.New("dial tcp: connection refused")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestRemoteDBRetriesConnectionErrors(t *testing.T) {
	srv := newTestServer(t, testServerConfig)
	rt := &refusingTransport{n: 8}
	db, err := NewRemoteDB(context.TODO(), srv.URL, &http.Client{Transport: rt})
	rtest.OK(t, err)
	db.RetryDelay = time.Millisecond

	hp := newTestPackage("http://example.com/late.tar.gz", "a")
	srv.addPackage(t, AnchorPath(hashspec.String("a")), hp)

	rt.armed.Store(true)
	list, err := db.Hash2Packages(context.TODO(), hashspec.String("a"))
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(list))
	rtest.Equals(t, hp.URL, list[0].URL)
	rtest.Equals(t, int32(9), rt.failures.Load())
}

func TestRemoteDBCancelRetries(t *testing.T) {
	srv := newTestServer(t, testServerConfig)
	rt := &refusingTransport{n: -1}
	db, err := NewRemoteDB(context.TODO(), srv.URL, &http.Client{Transport: rt})
	rtest.OK(t, err)
	db.RetryDelay = time.Millisecond

	rt.armed.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = db.Hash2Packages(ctx, hashspec.String("b"))
	rtest.Assert(t, errors.Is(err, context.DeadlineExceeded), "expected deadline error, got %v", err)
}
