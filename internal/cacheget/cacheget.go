// Package cacheget fetches files over HTTP into a disk cache that mirrors the
// source URLs. Cached files are revalidated with their ETag.
package cacheget

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/renameio"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/limiter"
)

// DefaultRetryDelay is the pause between attempts after a connection error.
const DefaultRetryDelay = 10 * time.Second

// HTTPError is returned for responses other than 200 and 304. It is not
// retried.
type HTTPError struct {
	URL  string
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("download %v: unexpected HTTP response (%d): %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Result describes one fetched URL.
type Result struct {
	URL  string
	File string
	Size int64

	// Cached is the number of bytes served from the cache, Downloaded the
	// number of bytes transferred.
	Cached     int64
	Downloaded int64

	ETag string
	// Code is the HTTP status code, or zero if no request was made.
	Code int
}

// Stats are running totals over all Get calls of a Getter.
type Stats struct {
	Requests    int
	CacheHits   int
	NotModified int
	Retries     int
	Cached      int64
	Downloaded  int64
}

// Options configure a Getter.
type Options struct {
	// CacheDir holds the files/ and etags/ trees.
	CacheDir string

	// SkipRevalidate returns cached files without asking the server.
	SkipRevalidate bool

	RetryDelay time.Duration
	Client     *http.Client
	Limiter    limiter.Limiter

	// Report is called for every failed attempt that is retried.
	Report func(msg string, err error, d time.Duration)
}

// Getter is a caching HTTP client.
type Getter struct {
	opts Options

	m     sync.Mutex
	stats Stats
}

// New returns a Getter storing files below opts.CacheDir.
func New(opts Options) (*Getter, error) {
	if opts.CacheDir == "" {
		return nil, errors.New("cacheget: no cache directory")
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &Getter{opts: opts}, nil
}

// Paths returns the cache file and the ETag file for rawurl.
func (g *Getter) Paths(rawurl string) (file, etag string, err error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", "", errors.Wrap(err, "parse URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", errors.Errorf("cacheget: %q is not an absolute URL", rawurl)
	}

	rel := strings.TrimPrefix(u.Path, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		return "", "", errors.Errorf("cacheget: %q has no file name", rawurl)
	}
	rel = filepath.FromSlash(filepath.Clean("/" + rel))[1:]

	file = filepath.Join(g.opts.CacheDir, "files", u.Scheme, u.Host, rel)
	etag = filepath.Join(g.opts.CacheDir, "etags", u.Scheme, u.Host, rel+".etag")
	return file, etag, nil
}

// Stats returns a copy of the running totals.
func (g *Getter) Stats() Stats {
	g.m.Lock()
	defer g.m.Unlock()
	return g.stats
}

func (g *Getter) count(f func(s *Stats)) {
	g.m.Lock()
	f(&g.stats)
	g.m.Unlock()
}

func readETag(filename string) string {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(buf))
}

func cachedResult(rawurl, file, etag string, code int) (*Result, error) {
	fi, err := fs.Stat(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Result{
		URL:    rawurl,
		File:   file,
		Size:   fi.Size(),
		Cached: fi.Size(),
		ETag:   etag,
		Code:   code,
	}, nil
}

// Get returns the cached copy of rawurl, downloading or revalidating it
// first as needed. Connection errors are retried until ctx is cancelled.
func (g *Getter) Get(ctx context.Context, rawurl string) (*Result, error) {
	file, etagFile, err := g.Paths(rawurl)
	if err != nil {
		return nil, err
	}

	g.count(func(s *Stats) { s.Requests++ })

	var etag string
	if fi, err := fs.Stat(file); err == nil && fs.IsRegularFile(fi) {
		etag = readETag(etagFile)
		if etag == "" || g.opts.SkipRevalidate {
			debug.Log("%v served from cache %v", rawurl, file)
			res, err := cachedResult(rawurl, file, etag, 0)
			if err == nil {
				g.count(func(s *Stats) { s.CacheHits++; s.Cached += res.Size })
			}
			return res, err
		}
	}

	if err := fs.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	var res *Result
	op := func() error {
		var err error
		res, err = g.fetch(ctx, rawurl, file, etagFile, etag)
		return err
	}

	notify := func(err error, d time.Duration) {
		g.count(func(s *Stats) { s.Retries++ })
		debug.Log("download %v failed: %v, retrying in %v", rawurl, err, d)
		if g.opts.Report != nil {
			g.opts.Report(rawurl, err, d)
		}
	}

	bo := backoff.WithContext(backoff.NewConstantBackOff(g.opts.RetryDelay), ctx)
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, err
	}
	return res, nil
}

func (g *Getter) fetch(ctx context.Context, rawurl, file, etagFile, etag string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, backoff.Permanent(errors.WithStack(err))
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := g.opts.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, errors.Wrap(err, "client.Do")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	newETag := resp.Header.Get("ETag")

	switch resp.StatusCode {
	case http.StatusNotModified:
		debug.Log("%v not modified", rawurl)
		if newETag == "" {
			newETag = etag
		}
		res, err := cachedResult(rawurl, file, newETag, resp.StatusCode)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		g.count(func(s *Stats) { s.NotModified++; s.Cached += res.Size })
		return res, nil

	case http.StatusOK:
	default:
		return nil, backoff.Permanent(&HTTPError{URL: rawurl, Code: resp.StatusCode})
	}

	body := io.Reader(resp.Body)
	if g.opts.Limiter != nil {
		body = g.opts.Limiter.Downstream(body)
	}

	t, err := renameio.TempFile("", file)
	if err != nil {
		return nil, backoff.Permanent(errors.WithStack(err))
	}
	defer func() { _ = t.Cleanup() }()

	n, err := io.Copy(t, body)
	if err != nil {
		// interrupted transfer, try again
		return nil, errors.Wrap(err, "read body")
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return nil, backoff.Permanent(errors.WithStack(err))
	}

	if newETag != "" {
		if err := fs.MkdirAll(filepath.Dir(etagFile), 0755); err != nil {
			return nil, backoff.Permanent(errors.WithStack(err))
		}
		if err := renameio.WriteFile(etagFile, []byte(newETag), 0644); err != nil {
			return nil, backoff.Permanent(errors.WithStack(err))
		}
	} else {
		_ = fs.RemoveIfExists(etagFile)
	}

	debug.Log("downloaded %v (%d bytes) to %v", rawurl, n, file)
	g.count(func(s *Stats) { s.Downloaded += n })

	return &Result{
		URL:        rawurl,
		File:       file,
		Size:       n,
		Downloaded: n,
		ETag:       newETag,
		Code:       resp.StatusCode,
	}, nil
}

// CleanFromCache removes the cached file and ETag of rawurl.
func (g *Getter) CleanFromCache(rawurl string) error {
	file, etag, err := g.Paths(rawurl)
	if err != nil {
		return err
	}
	if err := fs.RemoveIfExists(file); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(fs.RemoveIfExists(etag))
}
