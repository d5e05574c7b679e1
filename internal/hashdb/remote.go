package hashdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/opencontainers/go-digest"
)

const remoteCacheSize = 4096

// connectRetries bounds the retries for config.json in NewRemoteDB, a
// server unreachable at that point is left out. Later requests retry
// connection errors until ctx is cancelled.
const connectRetries = 5

var remoteRetryDelay = time.Second

// ServerConfig is the config.json document of a hash server.
type ServerConfig struct {
	Submit    string   `json:"submit"`
	HashDB    string   `json:"hashdb"`
	MOTD      string   `json:"motd"`
	AcceptURL []string `json:"accept_url"`
}

// RemoteStatusError is returned for unexpected HTTP responses of a hash
// server.
type RemoteStatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("%v %v: unexpected HTTP response (%d): %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// RemoteDB queries a hash server. Results are kept in an in-memory LRU.
type RemoteDB struct {
	base   *url.URL
	hashdb *url.URL
	submit *url.URL

	client *http.Client
	config ServerConfig
	motd   string
	accept []*regexp.Regexp

	cache *lru.Cache[string, []*HashPackage]

	// RetryDelay is the pause before a request is repeated after a
	// connection error.
	RetryDelay time.Duration
}

// NewRemoteDB fetches the server configuration from rawurl. Relative URLs in
// the configuration are resolved against rawurl.
func NewRemoteDB(ctx context.Context, rawurl string, client *http.Client) (*RemoteDB, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.HasSuffix(rawurl, "/") {
		rawurl += "/"
	}
	base, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrap(err, "parse hash server URL")
	}

	cache, err := lru.New[string, []*HashPackage](remoteCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	db := &RemoteDB{
		base:       base,
		client:     client,
		cache:      cache,
		RetryDelay: remoteRetryDelay,
	}

	buf, code, err := db.request(ctx, http.MethodGet, base.ResolveReference(&url.URL{Path: "config.json"}), connectRetries)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &RemoteStatusError{Method: http.MethodGet, URL: rawurl + "config.json", Code: code}
	}
	if err := json.Unmarshal(buf, &db.config); err != nil {
		return nil, errors.Wrapf(err, "parse config.json of %v", rawurl)
	}

	if db.hashdb, err = db.resolve(db.config.HashDB); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(db.hashdb.Path, "/") {
		db.hashdb.Path += "/"
	}
	if db.config.Submit != "" {
		if db.submit, err = db.resolve(db.config.Submit); err != nil {
			return nil, err
		}
	}

	for _, s := range db.config.AcceptURL {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, errors.Wrapf(err, "accept_url of %v", rawurl)
		}
		db.accept = append(db.accept, re)
	}

	if db.config.MOTD != "" {
		u, err := db.resolve(db.config.MOTD)
		if err != nil {
			return nil, err
		}
		buf, code, err := db.request(ctx, http.MethodGet, u, connectRetries)
		if err == nil && code == http.StatusOK {
			db.motd = strings.TrimSpace(string(buf))
		} else {
			debug.Log("motd of %v unavailable: %v %v", rawurl, code, err)
		}
	}

	debug.Log("hash server %v: hashdb %v submit %v", rawurl, db.hashdb, db.submit)
	return db, nil
}

func (db *RemoteDB) resolve(ref string) (*url.URL, error) {
	if ref == "" {
		return db.base, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q", ref)
	}
	return db.base.ResolveReference(u), nil
}

// do runs fn with retries for connection errors. fn returns
// backoff.Permanent for errors which must not be retried.
// do runs fn until it succeeds, fails permanently or ctx is done. A positive
// retries limits the number of repetitions.
func (db *RemoteDB) do(ctx context.Context, retries int, fn func() error) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(db.RetryDelay)
	if retries > 0 {
		b = backoff.WithMaxRetries(b, uint64(retries))
	}
	return backoff.RetryNotify(fn, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		debug.Log("hash server %v: %v, retrying in %v", db.base, err, d)
	})
}

func (db *RemoteDB) request(ctx context.Context, method string, u *url.URL, retries int) (buf []byte, code int, err error) {
	err = db.do(ctx, retries, func() error {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return backoff.Permanent(errors.WithStack(err))
		}

		resp, err := db.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return errors.WithStack(err)
		}
		defer func() { _ = resp.Body.Close() }()

		code = resp.StatusCode
		if method == http.MethodHead || code != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}

		buf, err = io.ReadAll(resp.Body)
		return errors.WithStack(err)
	})
	return buf, code, err
}

func (db *RemoteDB) get(ctx context.Context, u *url.URL) ([]byte, int, error) {
	return db.request(ctx, http.MethodGet, u, 0)
}

func (db *RemoteDB) head(ctx context.Context, u *url.URL) (int, error) {
	_, code, err := db.request(ctx, http.MethodHead, u, 0)
	return code, err
}

func (db *RemoteDB) hashdbURL(p string) *url.URL {
	return db.hashdb.ResolveReference(&url.URL{Path: p})
}

// URL returns the server URL.
func (db *RemoteDB) URL() string {
	return db.base.String()
}

// Config returns the server configuration.
func (db *RemoteDB) Config() ServerConfig {
	return db.config
}

// MOTD returns the message of the day, if the server has one.
func (db *RemoteDB) MOTD() string {
	return db.motd
}

// Accepts reports whether the server accepts submissions of the URL.
func (db *RemoteDB) Accepts(pkgurl string) bool {
	if db.submit == nil {
		return false
	}
	for _, re := range db.accept {
		if re.MatchString(pkgurl) {
			return true
		}
	}
	return false
}

// decodePackages accepts a single package or a list of packages.
func decodePackages(buf []byte) ([]*HashPackage, error) {
	buf = bytes.TrimSpace(buf)
	if len(buf) > 0 && buf[0] == '[' {
		var list []*HashPackage
		if err := json.Unmarshal(buf, &list); err != nil {
			return nil, errors.Wrap(err, "decode packages")
		}
		res := list[:0]
		for _, hp := range list {
			if hp == nil {
				continue
			}
			hp.normalize()
			res = append(res, hp)
		}
		return res, nil
	}

	hp, err := ReadHashPackage(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	return []*HashPackage{hp}, nil
}

func (db *RemoteDB) lookup(ctx context.Context, key, p string) ([]*HashPackage, error) {
	if list, ok := db.cache.Get(key); ok {
		return list, nil
	}

	u := db.hashdbURL(p)
	buf, code, err := db.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var list []*HashPackage
	switch code {
	case http.StatusOK:
		list, err = decodePackages(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "GET %v", u)
		}
	case http.StatusNotFound:
	default:
		return nil, &RemoteStatusError{Method: http.MethodGet, URL: u.String(), Code: code}
	}

	db.cache.Add(key, list)
	return list, nil
}

// Hash2Packages returns the packages the server knows for hash d. An empty
// result means the hash is unknown.
func (db *RemoteDB) Hash2Packages(ctx context.Context, d digest.Digest) ([]*HashPackage, error) {
	if err := d.Validate(); err != nil {
		return nil, errors.Wrapf(err, "hash %q", d)
	}
	return db.lookup(ctx, "a:"+d.String(), AnchorPath(d))
}

// Signature2Package looks up a package by signature. ErrNotFound is
// returned if the server does not know it.
func (db *RemoteDB) Signature2Package(ctx context.Context, sigtype, sig string) (*HashPackage, error) {
	p, err := SignaturePath(sigtype, sig)
	if err != nil {
		return nil, err
	}
	list, err := db.lookup(ctx, "sig:"+sigtype+":"+sig, p)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// SigPresent checks with a HEAD request whether the server knows the
// signature.
func (db *RemoteDB) SigPresent(ctx context.Context, sigtype, sig string) (bool, error) {
	key := "sig:" + sigtype + ":" + sig
	if list, ok := db.cache.Get(key); ok {
		return len(list) > 0, nil
	}

	p, err := SignaturePath(sigtype, sig)
	if err != nil {
		return false, err
	}
	u := db.hashdbURL(p)
	code, err := db.head(ctx, u)
	if err != nil {
		return false, err
	}
	switch code {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, &RemoteStatusError{Method: http.MethodHead, URL: u.String(), Code: code}
}

// Submit uploads a package file to the server. Nothing is sent if the server
// does not accept the URL or already has the package.
func (db *RemoteDB) Submit(ctx context.Context, pkgurl, filename string) (bool, error) {
	if !db.Accepts(pkgurl) {
		debug.Log("%v does not accept %v", db.base, pkgurl)
		return false, nil
	}

	present, err := db.SigPresent(ctx, SigURL, pkgurl)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}

	fi, err := os.Stat(filename)
	if err != nil {
		return false, errors.WithStack(err)
	}

	err = db.do(ctx, 0, func() error {
		f, err := os.Open(filename)
		if err != nil {
			return backoff.Permanent(errors.WithStack(err))
		}
		defer func() { _ = f.Close() }()

		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			err := writeSubmitForm(mw, pkgurl, fi.Size(), filepath.Base(filename), f)
			_ = pw.CloseWithError(err)
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, db.submit.String(), pr)
		if err != nil {
			_ = pr.Close()
			return backoff.Permanent(errors.WithStack(err))
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := db.client.Do(req)
		if err != nil {
			_ = pr.Close()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return errors.WithStack(err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(&RemoteStatusError{Method: http.MethodPost, URL: db.submit.String(), Code: resp.StatusCode})
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	db.cache.Remove("sig:" + SigURL + ":" + pkgurl)
	return true, nil
}

func writeSubmitForm(mw *multipart.Writer, pkgurl string, size int64, name string, rd io.Reader) error {
	if err := mw.WriteField("url", pkgurl); err != nil {
		return err
	}
	if err := mw.WriteField("size", strconv.FormatInt(size, 10)); err != nil {
		return err
	}
	w, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rd); err != nil {
		return err
	}
	return mw.Close()
}

func (db *RemoteDB) String() string {
	return fmt.Sprintf("remote %v", db.base)
}
