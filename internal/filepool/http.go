package filepool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/opencontainers/go-digest"
)

// Key returns the location of content d in a pool:
// pool/<algorithm>/hh/hh/hh/rest.
func Key(d digest.Digest) string {
	algo, _ := hashspec.Split(d)
	return hashspec.Shard(path.Join("pool", algo), d)
}

func localName(d digest.Digest, name string) string {
	if name != "" {
		name = path.Base(strings.TrimRight(name, "/"))
	}
	if name == "" || name == "." || name == "/" {
		_, name = hashspec.Split(d)
	}
	return name
}

// HTTPPool is a read-only pool on a web server. Files are downloaded into
// a scratch directory which is removed by Cleanup.
type HTTPPool struct {
	base   *url.URL
	client *http.Client
	tmpdir string
	dir    string

	Requested int
}

// NewHTTPPool returns a pool for the server at rawurl.
func NewHTTPPool(rawurl string, client *http.Client, tmpdir string) (*HTTPPool, error) {
	if !strings.HasSuffix(rawurl, "/") {
		rawurl += "/"
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrap(err, "parse pool URL")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPool{base: u, client: client, tmpdir: tmpdir}, nil
}

func (p *HTTPPool) scratch() (string, error) {
	if p.dir != "" {
		return p.dir, nil
	}
	dir, err := os.MkdirTemp(p.tmpdir, "hashget-tmp-pool-")
	if err != nil {
		return "", errors.WithStack(err)
	}
	p.dir = dir
	return dir, nil
}

// Get downloads content d from the server.
func (p *HTTPPool) Get(ctx context.Context, d digest.Digest, name string) (string, bool, error) {
	u := p.base.ResolveReference(&url.URL{Path: Key(d)})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", false, errors.WithStack(err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", false, errors.Wrap(err, "pool request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		debug.Log("http pool: no %v in %v (%v)", d, p.base, resp.Status)
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, nil
	}

	dir, err := p.scratch()
	if err != nil {
		return "", false, err
	}
	filename := filepath.Join(dir, localName(d, name))

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", false, errors.WithStack(err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(filename)
		return "", false, errors.Wrapf(err, "download %v", u)
	}
	if err := f.Close(); err != nil {
		return "", false, errors.WithStack(err)
	}

	p.Requested++
	debug.Log("http pool: got %v as %v", u, filename)
	return filename, true, nil
}

// Append implements Pool. The pool is read-only.
func (p *HTTPPool) Append(context.Context, string) (bool, error) {
	return false, nil
}

// Cleanup removes the scratch directory.
func (p *HTTPPool) Cleanup() error {
	if p.dir == "" {
		return nil
	}
	err := fs.RemoveAll(p.dir)
	p.dir = ""
	return errors.WithStack(err)
}

func (p *HTTPPool) String() string {
	return fmt.Sprintf("http pool %v", p.base)
}
