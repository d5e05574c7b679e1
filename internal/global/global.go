// Package global holds the options shared by all hashget commands and opens
// the index, the download cache and the file pools they describe.
package global

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashget/hashget/internal/anchor"
	"github.com/hashget/hashget/internal/archive"
	"github.com/hashget/hashget/internal/cacheget"
	"github.com/hashget/hashget/internal/config"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/dedup"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/filepool"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashcache"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/heuristic"
	"github.com/hashget/hashget/internal/heuristic/builtin"
	"github.com/hashget/hashget/internal/submit"
	"github.com/hashget/hashget/internal/transport"
	"github.com/hashget/hashget/internal/ui"
	"github.com/spf13/pflag"
)

var Version = "1.0.0-dev (compiled manually)"

// DefaultHashServer is used unless hash servers are configured.
const DefaultHashServer = "https://hashdb.hashget.io/"

// Directories used when running as root.
const (
	SystemHashDB   = "/var/cache/hashget/hashdb"
	SystemCacheDir = "/var/cache/hashget/cache"
)

// hashCacheFile is the name of the file hash database below the cache dir.
const hashCacheFile = "hashes.db"

// Options hold all global options for hashget.
type Options struct {
	HashDB      string
	CacheDir    string
	HashServers []string
	Offline     bool
	Pools       []string
	Projects    []string
	ConfigFile  string
	NoHashCache bool

	// User selects the per-user directories below ~/.hashget even for
	// root, and makes postunpack leave file ownership alone.
	User bool

	Quiet   bool
	Verbose int

	transport.Options

	Stdout io.Writer
	Stderr io.Writer

	// Verbosity is set as follows:
	//  0 means: don't print any messages except errors, this is used when --quiet is specified
	//  1 is the default: print essential messages
	//  2 means: print more messages, this is used when --verbose is specified
	//  3 means: print very detailed messages, this is used when --verbose=2 is specified
	Verbosity uint

	// Config is the configuration file content, empty if none was found.
	Config *config.Config

	// ConfigFilename is the file Config was read from.
	ConfigFilename string
}

var geteuid = os.Geteuid

// AddFlags registers the global flags on f and reads their defaults from the
// environment.
func (opts *Options) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&opts.HashDB, "hashdb", "", "local hash database `directory` (default: $HASHGET_HASHDB, "+SystemHashDB+" for root, ~/.hashget/hashdb otherwise)")
	f.StringVar(&opts.CacheDir, "cache-dir", "", "download cache `directory` (default: $HASHGET_CACHE_DIR, "+SystemCacheDir+" for root, ~/.hashget/cache otherwise)")
	f.StringArrayVar(&opts.HashServers, "hashserver", nil, "hash server `url` (can be specified multiple times, default: $HASHGET_HASHSERVER or "+DefaultHashServer+")")
	f.BoolVar(&opts.Offline, "offline", false, "do not contact any hash server")
	f.StringArrayVar(&opts.Pools, "pool", nil, "package pool `location`, a directory, http(s) URL or s3: location (can be specified multiple times, default: $HASHGET_POOL)")
	f.StringArrayVar(&opts.Projects, "project-filter", nil, "only load local `project` (can be specified multiple times, default: all)")
	f.StringVar(&opts.ConfigFile, "config", "", "read configuration from `file` (default: $HASHGET_CONFIG, ~/.hashget/config.yaml or /etc/hashget/config.yaml)")
	f.BoolVar(&opts.NoHashCache, "no-hash-cache", false, "do not remember file hashes between runs")
	f.BoolVar(&opts.User, "user", false, "user mode: use ~/.hashget and do not change file ownership")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "only print errors")
	// use empty parameter name as `-v, --verbose n` instead of the correct `--verbose=n` is confusing
	f.CountVarP(&opts.Verbose, "verbose", "v", "be verbose (specify multiple times or a level using --verbose=n``, max level/times is 2)")
	f.StringSliceVar(&opts.RootCertFilenames, "cacert", nil, "`file` to load root certificates from (default: use system certificates or $HASHGET_CACERT)")
	f.BoolVar(&opts.InsecureTLS, "insecure-tls", false, "skip TLS certificate verification when connecting to hash servers and pools (insecure)")
	f.StringVar(&opts.HTTPUserAgent, "http-user-agent", "", "set a http user agent for outgoing http requests (default: $HASHGET_HTTP_USER_AGENT)")
	f.IntVar(&opts.Limits.UploadKb, "limit-upload", 0, "limits uploads to a maximum `rate` in KiB/s. (default: unlimited)")
	f.IntVar(&opts.Limits.DownloadKb, "limit-download", 0, "limits downloads to a maximum `rate` in KiB/s. (default: unlimited)")

	opts.HashDB = os.Getenv("HASHGET_HASHDB")
	opts.CacheDir = os.Getenv("HASHGET_CACHE_DIR")
	opts.ConfigFile = os.Getenv("HASHGET_CONFIG")
	opts.HTTPUserAgent = os.Getenv("HASHGET_HTTP_USER_AGENT")
	if s := os.Getenv("HASHGET_HASHSERVER"); s != "" {
		opts.HashServers = strings.Split(s, ",")
	}
	if s := os.Getenv("HASHGET_POOL"); s != "" {
		opts.Pools = strings.Split(s, ",")
	}
	if s := os.Getenv("HASHGET_CACERT"); s != "" {
		opts.RootCertFilenames = strings.Split(s, ",")
	}
}

// PreRun sets the verbosity, loads the configuration file and fills in all
// values which were neither given as flags nor in the configuration.
func (opts *Options) PreRun() error {
	// set verbosity, default is one
	opts.Verbosity = 1
	if opts.Quiet && opts.Verbose > 0 {
		return errors.Fatal("--quiet and --verbose cannot be specified at the same time")
	}

	switch {
	case opts.Verbose >= 2:
		opts.Verbosity = 3
	case opts.Verbose > 0:
		opts.Verbosity = 2
	case opts.Quiet:
		opts.Verbosity = 0
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	var err error
	if opts.ConfigFile != "" {
		opts.Config, err = config.Load(opts.ConfigFile)
		opts.ConfigFilename = opts.ConfigFile
	} else {
		opts.Config, opts.ConfigFilename, err = config.Find(config.DefaultFiles())
	}
	if err != nil {
		return err
	}
	if opts.ConfigFilename != "" {
		debug.Log("using configuration file %v", opts.ConfigFilename)
	}

	return opts.applyDefaults()
}

func (opts *Options) applyDefaults() error {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
		opts.Config = cfg
	}

	if opts.HashDB == "" {
		opts.HashDB = cfg.HashDB
	}
	if opts.CacheDir == "" {
		opts.CacheDir = cfg.CacheDir
	}
	if len(opts.Pools) == 0 {
		opts.Pools = cfg.Pools
	}
	if len(opts.Projects) == 0 {
		opts.Projects = cfg.Projects
	}

	if len(opts.HashServers) == 0 {
		opts.HashServers = cfg.HashServers
	}
	if len(opts.HashServers) == 0 {
		opts.HashServers = []string{DefaultHashServer}
	}
	if opts.Offline {
		opts.HashServers = nil
	}
	var servers []string
	for _, s := range opts.HashServers {
		if s != "" {
			servers = append(servers, s)
		}
	}
	opts.HashServers = servers

	if opts.HashDB != "" && opts.CacheDir != "" {
		return nil
	}

	hashDB, cacheDir, err := DefaultDirs(opts.User)
	if err != nil {
		return err
	}
	if opts.HashDB == "" {
		opts.HashDB = hashDB
	}
	if opts.CacheDir == "" {
		opts.CacheDir = cacheDir
	}
	return nil
}

// DefaultDirs returns the default index and cache directories: the system
// wide ones for root, those below ~/.hashget for everybody else and in user
// mode.
func DefaultDirs(user bool) (hashDB, cacheDir string, err error) {
	if geteuid() == 0 && !user {
		return SystemHashDB, SystemCacheDir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", errors.Fatalf("unable to locate home directory: %v", err)
	}
	base := filepath.Join(home, ".hashget")
	return filepath.Join(base, "hashdb"), filepath.Join(base, "cache"), nil
}

func (opts Options) config() *config.Config {
	if opts.Config == nil {
		return &config.Config{}
	}
	return opts.Config
}

// Printer returns the message printer for the configured verbosity.
func (opts Options) Printer() *ui.Message {
	return ui.NewMessage(opts.Stdout, opts.Stderr, opts.Verbosity)
}

// Anchors returns the anchor list configured by the flags, falling back to
// the configuration file.
func (opts Options) Anchors(minSize int64, forced []string) (*anchor.List, error) {
	cfg := opts.config()
	if minSize == 0 {
		minSize = int64(cfg.AnchorMinSize)
	}
	if minSize == 0 {
		minSize = anchor.DefaultMinSize
	}
	forced = append(append([]string(nil), cfg.ForcedAnchors...), forced...)
	l, err := anchor.New(minSize, forced...)
	if err != nil {
		return nil, errors.Fatal(err.Error())
	}
	return l, nil
}

// MinSize returns size, or the configured minimal size of indexed files.
func (opts Options) MinSize(size int64) int64 {
	if size != 0 {
		return size
	}
	if cfg := opts.config(); cfg.MinSize != 0 {
		return int64(cfg.MinSize)
	}
	return submit.DefaultMinSize
}

// OpenOptions select what OpenEnv connects to.
type OpenOptions struct {
	// Remote connects to the hash servers.
	Remote bool

	// Pools opens the package pools.
	Pools bool
}

// Env is a dedup.Env together with the resources it owns.
type Env struct {
	*dedup.Env

	HTTP   *http.Client
	Getter *cacheget.Getter

	opts    Options
	cleanup []func() error
}

// OpenEnv opens the local index and everything else the commands need.
// Close must be called to release the hash cache and remove temporary
// files.
func OpenEnv(ctx context.Context, opts Options, printer ui.Printer, oo OpenOptions) (*Env, error) {
	if opts.Config == nil {
		if err := opts.applyDefaults(); err != nil {
			return nil, err
		}
	}

	client, err := transport.Client(opts.Options)
	if err != nil {
		return nil, errors.Fatalf("http transport: %v", err)
	}

	e := &Env{
		Env: &dedup.Env{
			Extractor: archive.Builtin{},
			Printer:   printer,
		},
		HTTP: client,
		opts: opts,
	}

	tmpdir, err := os.MkdirTemp("", "hashget-")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.TmpDir = tmpdir
	e.cleanup = append(e.cleanup, func() error { return fs.RemoveAll(tmpdir) })

	fail := func(err error) (*Env, error) {
		_ = e.Close()
		return nil, err
	}

	e.Getter, err = cacheget.New(cacheget.Options{
		CacheDir: opts.CacheDir,
		Client:   client,
		Report: func(url string, err error, d time.Duration) {
			printer.E("download %v failed: %v, retrying in %v", url, err, d)
		},
	})
	if err != nil {
		return fail(err)
	}
	e.Env.Getter = e.Getter

	var remotes []string
	if oo.Remote {
		remotes = opts.HashServers
	}
	e.Client, err = hashdb.NewClient(ctx, hashdb.Options{
		Root:     opts.HashDB,
		Projects: opts.Projects,
		Remotes:  remotes,
		HTTP:     client,
		Warn:     printer.E,
	})
	if err != nil {
		return fail(err)
	}
	debug.Log("opened %v", e.Client)

	if !opts.NoHashCache {
		cache, err := hashcache.Open(filepath.Join(opts.CacheDir, hashCacheFile))
		if err != nil {
			// another hashget may hold the lock, continue without
			printer.E("hash cache unavailable: %v", err)
		} else {
			e.Cache = cache
			e.cleanup = append(e.cleanup, cache.Close)
		}
	}

	if oo.Pools {
		pool, err := filepool.OpenAll(ctx, opts.Pools, filepool.Options{Client: client, TmpDir: tmpdir})
		if err != nil {
			return fail(errors.Fatal(err.Error()))
		}
		e.Pool = pool
		e.cleanup = append(e.cleanup, pool.Cleanup)
	}

	return e, nil
}

// Heuristics returns the named heuristics. Without names the configured
// ones are used, and all heuristics if none are configured.
func (e *Env) Heuristics(names []string) (heuristic.Set, error) {
	if len(names) == 0 {
		names = e.opts.config().Heuristics
	}
	if len(names) == 0 {
		names = builtin.DefaultHeuristics
	}
	return builtin.Registry().Select(names, heuristic.Options{HTTP: e.HTTP})
}

// Close releases the resources in reverse order of acquisition.
func (e *Env) Close() error {
	var errs []error
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		if err := e.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.cleanup = nil
	return errors.Join(errs...)
}
