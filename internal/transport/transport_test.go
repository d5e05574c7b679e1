package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	rtest "github.com/hashget/hashget/internal/test"
)

func TestUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	for _, ua := range []string{"", "hashget-test/1.0"} {
		c, err := Client(Options{HTTPUserAgent: ua})
		rtest.OK(t, err)
		resp, err := c.Get(srv.URL)
		rtest.OK(t, err)
		rtest.OK(t, resp.Body.Close())

		want := ua
		if want == "" {
			want = DefaultUserAgent
		}
		rtest.Equals(t, want, got)
	}
}

func TestUnixSocket(t *testing.T) {
	socket := filepath.Join(rtest.TempDir(t), "hashget.sock")
	l, err := net.Listen("unix", socket)
	rtest.OK(t, err)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	})}
	go func() { _ = srv.Serve(l) }()
	defer func() { _ = srv.Shutdown(context.TODO()) }()

	c, err := Client(Options{})
	rtest.OK(t, err)
	resp, err := c.Get("http+unix://" + socket + ":/config.json")
	rtest.OK(t, err)
	defer func() { _ = resp.Body.Close() }()
	rtest.Equals(t, http.StatusOK, resp.StatusCode)
}

func TestBadRootCert(t *testing.T) {
	_, err := Transport(Options{RootCertFilenames: []string{""}})
	rtest.Assert(t, err != nil, "expected error for empty certificate filename")

	_, err = Transport(Options{RootCertFilenames: []string{filepath.Join(rtest.TempDir(t), "missing.pem")}})
	rtest.Assert(t, err != nil, "expected error for missing certificate file")
}
