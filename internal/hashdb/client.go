package hashdb

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/opencontainers/go-digest"
)

// Reserved project names.
const (
	ProjectCached    = "_cached"
	ProjectSubmitted = "_submitted"
	ProjectHints     = "_hints"
	ProjectTest      = "_test"
)

// PullResult tells callers of the Pull functions what happened.
type PullResult int

// Pull results.
const (
	PullNotFound PullResult = iota
	PullLocal
	PullPulled
)

func (r PullResult) String() string {
	switch r {
	case PullLocal:
		return "local"
	case PullPulled:
		return "pulled"
	}
	return "not found"
}

// Counter counts lookups of one kind.
type Counter struct {
	Queries int
	Hits    int
	Misses  int
}

func (c *Counter) count(hit bool) {
	c.Queries++
	if hit {
		c.Hits++
	} else {
		c.Misses++
	}
}

// Stats are the lookup counters of a Client.
type Stats struct {
	Hash   Counter
	Sig    Counter
	Remote Counter
	Pulled int
}

// Options configure a Client.
type Options struct {
	// Root is the directory holding one subdirectory per project.
	Root string

	// Projects lists the projects to load, all if empty.
	Projects []string

	// Remotes are the URLs of hash servers.
	Remotes []string

	HTTP *http.Client

	// Warn receives messages about skipped package files and unreachable
	// hash servers.
	Warn func(msg string, args ...interface{})
}

// Client queries local projects first and then the hash servers.
type Client struct {
	root     string
	projects map[string]*DirDB
	remotes  []*RemoteDB
	warn     func(msg string, args ...interface{})
	stats    Stats
}

// NewClient loads the projects below opts.Root and connects to the hash
// servers. Servers which cannot be reached are reported and left out.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	c := &Client{
		root:     opts.Root,
		projects: make(map[string]*DirDB),
		warn:     opts.Warn,
	}
	if c.warn == nil {
		c.warn = func(string, ...interface{}) {}
	}

	if err := fs.MkdirAll(opts.Root, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	names := opts.Projects
	if len(names) == 0 {
		entries, err := os.ReadDir(opts.Root)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				names = append(names, e.Name())
			}
		}
	}

	for _, name := range names {
		if err := checkProjectName(name); err != nil {
			return nil, err
		}
		db, err := OpenDirDB(filepath.Join(opts.Root, name), c.warn)
		if errors.Is(err, os.ErrNotExist) {
			debug.Log("project %v does not exist", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		c.projects[name] = db
	}

	for _, u := range opts.Remotes {
		r, err := NewRemoteDB(ctx, u, opts.HTTP)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.warn("hash server %v unavailable: %v", u, err)
			continue
		}
		c.remotes = append(c.remotes, r)
	}

	return c, nil
}

func checkProjectName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return errors.Fatalf("invalid project name %q", name)
	}
	return nil
}

// Root returns the directory of the local projects.
func (c *Client) Root() string {
	return c.root
}

// Remotes returns the reachable hash servers.
func (c *Client) Remotes() []*RemoteDB {
	return c.remotes
}

// Stats returns the lookup counters.
func (c *Client) Stats() Stats {
	return c.stats
}

// Projects returns the loaded projects ordered by name.
func (c *Client) Projects() []*DirDB {
	list := make([]*DirDB, 0, len(c.projects))
	for _, db := range c.projects {
		list = append(list, db)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

// Project returns a loaded project.
func (c *Client) Project(name string) (*DirDB, error) {
	db, ok := c.projects[name]
	if !ok {
		return nil, errors.Wrap(ErrProjectNotFound, name)
	}
	return db, nil
}

// CreateProject creates a new project. It is an error if the project
// directory exists.
func (c *Client) CreateProject(name string, opts ProjectOptions) (*DirDB, error) {
	if err := checkProjectName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(c.root, name)
	if _, err := fs.Stat(path); err == nil {
		return nil, errors.Fatalf("project %v already exists", name)
	}

	db, err := CreateDirDB(path, opts)
	if err != nil {
		return nil, err
	}
	db.Warn = c.warn
	c.projects[name] = db
	return db, nil
}

// EnsureProject returns the project, creating it with pkgtype if necessary.
// An existing project which is not loaded is opened.
func (c *Client) EnsureProject(name, pkgtype string) (*DirDB, error) {
	if db, ok := c.projects[name]; ok {
		return db, nil
	}
	if err := checkProjectName(name); err != nil {
		return nil, err
	}

	db, err := OpenDirDB(filepath.Join(c.root, name), c.warn)
	if errors.Is(err, os.ErrNotExist) {
		return c.CreateProject(name, ProjectOptions{PkgType: pkgtype})
	}
	if err != nil {
		return nil, err
	}
	c.projects[name] = db
	return db, nil
}

// RemoveProject deletes the project directory.
func (c *Client) RemoveProject(name string) error {
	if err := checkProjectName(name); err != nil {
		return err
	}
	path := filepath.Join(c.root, name)
	if _, err := fs.Stat(path); err != nil {
		return errors.Wrap(ErrProjectNotFound, name)
	}
	delete(c.projects, name)
	return errors.WithStack(fs.RemoveAll(path))
}

// Packages returns the packages of one project, or of all projects if name
// is empty.
func (c *Client) Packages(name string) ([]*HashPackage, error) {
	if name != "" {
		db, err := c.Project(name)
		if err != nil {
			return nil, err
		}
		return db.Packages(), nil
	}

	var list []*HashPackage
	for _, db := range c.Projects() {
		list = append(list, db.Packages()...)
	}
	return list, nil
}

// SubmitSave stores hp in the project, which is created if necessary.
func (c *Client) SubmitSave(hp *HashPackage, project, pkgtype string) error {
	db, err := c.EnsureProject(project, pkgtype)
	if err != nil {
		return err
	}
	return db.SubmitSave(hp)
}

// SubmitRemote uploads a package file to every hash server which accepts
// it and returns the number of servers it was sent to.
func (c *Client) SubmitRemote(ctx context.Context, pkgurl, filename string) (int, error) {
	n := 0
	for _, r := range c.remotes {
		ok, err := r.Submit(ctx, pkgurl, filename)
		if err != nil {
			return n, errors.Wrap(err, r.URL())
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (c *Client) localHash2Packages(d digest.Digest) []*HashPackage {
	var res []*HashPackage
	for _, db := range c.Projects() {
		res = append(res, db.Hash2Packages(d)...)
	}
	return res
}

// Hash2Packages returns the packages containing hash d. Local projects are
// asked first; the hash servers only if remote is set and no local package
// is known.
func (c *Client) Hash2Packages(ctx context.Context, d digest.Digest, remote bool) ([]*HashPackage, error) {
	res := c.localHash2Packages(d)
	if len(res) > 0 || !remote {
		c.stats.Hash.count(len(res) > 0)
		return res, nil
	}

	for _, r := range c.remotes {
		list, err := r.Hash2Packages(ctx, d)
		c.stats.Remote.count(err == nil && len(list) > 0)
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			c.stats.Hash.count(true)
			return list, nil
		}
	}
	c.stats.Hash.count(false)
	return nil, nil
}

func (c *Client) localSignature2Package(sigtype, sig string) (*HashPackage, error) {
	for _, db := range c.Projects() {
		hp, err := db.Signature2Package(sigtype, sig)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return hp, err
	}
	return nil, ErrNotFound
}

// Signature2Package looks up a package by signature, locally first.
func (c *Client) Signature2Package(ctx context.Context, sigtype, sig string, remote bool) (*HashPackage, error) {
	hp, err := c.localSignature2Package(sigtype, sig)
	if !errors.Is(err, ErrNotFound) || !remote {
		c.stats.Sig.count(err == nil)
		return hp, err
	}

	for _, r := range c.remotes {
		hp, err := r.Signature2Package(ctx, sigtype, sig)
		c.stats.Remote.count(err == nil)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		c.stats.Sig.count(err == nil)
		return hp, err
	}
	c.stats.Sig.count(false)
	return nil, ErrNotFound
}

// SigPresent reports whether a package with the signature is known.
func (c *Client) SigPresent(ctx context.Context, sigtype, sig string, remote bool) (bool, error) {
	for _, db := range c.Projects() {
		if db.SigPresent(sigtype, sig) {
			c.stats.Sig.count(true)
			return true, nil
		}
	}

	if remote {
		for _, r := range c.remotes {
			ok, err := r.SigPresent(ctx, sigtype, sig)
			c.stats.Remote.count(err == nil && ok)
			if err != nil {
				return false, err
			}
			if ok {
				c.stats.Sig.count(true)
				return true, nil
			}
		}
	}

	c.stats.Sig.count(false)
	return false, nil
}

func (c *Client) saveCached(list []*HashPackage) error {
	db, err := c.EnsureProject(ProjectCached, "")
	if err != nil {
		return err
	}
	for _, hp := range list {
		if err := db.SubmitSave(hp); err != nil {
			return err
		}
		c.stats.Pulled++
		debug.Log("pulled %v into %v", hp.URL, ProjectCached)
	}
	return nil
}

// PullByHash makes sure the packages containing hash d are available
// locally. Packages found on a hash server are saved into the _cached
// project before PullPulled is returned.
func (c *Client) PullByHash(ctx context.Context, d digest.Digest) (PullResult, error) {
	if len(c.localHash2Packages(d)) > 0 {
		return PullLocal, nil
	}

	for _, r := range c.remotes {
		list, err := r.Hash2Packages(ctx, d)
		c.stats.Remote.count(err == nil && len(list) > 0)
		if err != nil {
			return PullNotFound, err
		}
		if len(list) == 0 {
			continue
		}
		if err := c.saveCached(list); err != nil {
			return PullNotFound, err
		}
		return PullPulled, nil
	}
	return PullNotFound, nil
}

// PullBySignature is like PullByHash for a signature.
func (c *Client) PullBySignature(ctx context.Context, sigtype, sig string) (PullResult, error) {
	_, err := c.localSignature2Package(sigtype, sig)
	if err == nil {
		return PullLocal, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return PullNotFound, err
	}

	for _, r := range c.remotes {
		hp, err := r.Signature2Package(ctx, sigtype, sig)
		c.stats.Remote.count(err == nil)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return PullNotFound, err
		}
		if err := c.saveCached([]*HashPackage{hp}); err != nil {
			return PullNotFound, err
		}
		return PullPulled, nil
	}
	return PullNotFound, nil
}

func (c *Client) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "hashdb %v", c.root)
	for _, db := range c.Projects() {
		fmt.Fprintf(&sb, "\n  %v", db)
	}
	for _, r := range c.remotes {
		fmt.Fprintf(&sb, "\n  %v", r)
	}
	return sb.String()
}
