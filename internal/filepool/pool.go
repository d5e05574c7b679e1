// Package filepool implements stores of package files keyed by content
// hash, used to avoid downloading packages again during recovery.
package filepool

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashget/hashget/internal/errors"
	"github.com/opencontainers/go-digest"
)

// Pool is a store of package files.
type Pool interface {
	// Get returns a local file with content d. name is the URL or file
	// name of the package and is used to name downloaded files.
	Get(ctx context.Context, d digest.Digest, name string) (path string, ok bool, err error)

	// Append adds the file to the pool. It returns false if the pool did
	// not take it, for example because it already has the content.
	Append(ctx context.Context, path string) (bool, error)

	// Cleanup removes temporary files.
	Cleanup() error

	String() string
}

// Options are used by Open.
type Options struct {
	Client *http.Client
	TmpDir string
}

// Open returns the pool for spec: an http:// or https:// URL, an S3
// location (s3://host/bucket/prefix or s3:http://host/bucket/prefix) or a
// local directory.
func Open(ctx context.Context, spec string, opts Options) (Pool, error) {
	switch {
	case spec == "":
		return nil, errors.New("empty pool location")
	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		return NewHTTPPool(spec, opts.Client, opts.TmpDir)
	case strings.HasPrefix(spec, "s3:"):
		cfg, err := ParseS3Config(spec)
		if err != nil {
			return nil, err
		}
		var rt http.RoundTripper
		if opts.Client != nil {
			rt = opts.Client.Transport
		}
		return NewS3Pool(ctx, cfg, rt, opts.TmpDir)
	}
	return NewDirPool(spec)
}

// OpenAll opens all pools in specs and combines them. If specs is empty, a
// Null pool is returned.
func OpenAll(ctx context.Context, specs []string, opts Options) (Pool, error) {
	if len(specs) == 0 {
		return Null{}, nil
	}

	m := &Multiplexer{}
	for _, spec := range specs {
		p, err := Open(ctx, spec, opts)
		if err != nil {
			_ = m.Cleanup()
			return nil, errors.Wrapf(err, "open pool %v", spec)
		}
		m.Add(p)
	}
	return m, nil
}

// Null is a pool which never has a file and accepts none.
type Null struct{}

// Get implements Pool.
func (Null) Get(context.Context, digest.Digest, string) (string, bool, error) {
	return "", false, nil
}

// Append implements Pool.
func (Null) Append(context.Context, string) (bool, error) {
	return false, nil
}

// Cleanup implements Pool.
func (Null) Cleanup() error {
	return nil
}

func (Null) String() string {
	return "null pool"
}

// Multiplexer combines several pools. Get returns the first hit, Append
// stores the file in the first pool which takes it.
type Multiplexer struct {
	pools []Pool
}

// Add appends p to the list of pools.
func (m *Multiplexer) Add(p Pool) {
	m.pools = append(m.pools, p)
}

// Pools returns the combined pools.
func (m *Multiplexer) Pools() []Pool {
	return m.pools
}

// Get implements Pool.
func (m *Multiplexer) Get(ctx context.Context, d digest.Digest, name string) (string, bool, error) {
	for _, p := range m.pools {
		path, ok, err := p.Get(ctx, d, name)
		if err != nil {
			return "", false, err
		}
		if ok {
			return path, true, nil
		}
	}
	return "", false, nil
}

// Append implements Pool.
func (m *Multiplexer) Append(ctx context.Context, path string) (bool, error) {
	for _, p := range m.pools {
		ok, err := p.Append(ctx, path)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Cleanup implements Pool.
func (m *Multiplexer) Cleanup() error {
	var errs []error
	for _, p := range m.pools {
		if err := p.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multiplexer) String() string {
	names := make([]string, 0, len(m.pools))
	for _, p := range m.pools {
		names = append(names, p.String())
	}
	return fmt.Sprintf("pools(%s)", strings.Join(names, ", "))
}
