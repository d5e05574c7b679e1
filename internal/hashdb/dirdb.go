package hashdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/hashget/hashget/internal/textfile"
	"github.com/opencontainers/go-digest"
)

// Storage layouts of package files below <project>/p.
const (
	StorageBasename = "basename"
	StorageHash2    = "hash2"
	StorageHash3    = "hash3"
)

const optionsFile = ".options.json"

// ProjectOptions are stored in <project>/.options.json.
type ProjectOptions struct {
	Storage string `json:"storage"`
	PkgType string `json:"pkgtype"`
}

func (o *ProjectOptions) fill() error {
	if o.Storage == "" {
		o.Storage = StorageBasename
	}
	if o.PkgType == "" {
		o.PkgType = "generic"
	}
	switch o.Storage {
	case StorageBasename, StorageHash2, StorageHash3:
	default:
		return errors.Errorf("unknown storage layout %q", o.Storage)
	}
	_, err := LookupPackageType(o.PkgType)
	return err
}

// DirDB is one project: a directory of package JSON files and the in-memory
// index built from them. It assumes to be the only writer of the directory.
type DirDB struct {
	name    string
	path    string
	opts    ProjectOptions
	pkgtype *PackageType

	packages map[digest.Digest]*HashPackage
	byHash   map[digest.Digest][]*HashPackage
	bySig    map[string]map[string]digest.Digest

	// package files skipped by Load because they expired
	expired []string

	// Warn is called for package files skipped during Load.
	Warn func(msg string, args ...interface{})

	now func() time.Time
}

func newDirDB(path string, opts ProjectOptions) *DirDB {
	pt, _ := LookupPackageType(opts.PkgType)
	return &DirDB{
		name:     filepath.Base(path),
		path:     path,
		opts:     opts,
		pkgtype:  pt,
		packages: make(map[digest.Digest]*HashPackage),
		byHash:   make(map[digest.Digest][]*HashPackage),
		bySig:    make(map[string]map[string]digest.Digest),
		Warn:     func(string, ...interface{}) {},
		now:      time.Now,
	}
}

// OpenDirDB opens the project at path and loads all packages. Missing
// options default to basename storage and the generic package type.
func OpenDirDB(path string, warn func(msg string, args ...interface{})) (*DirDB, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("%v is not a directory", path)
	}

	var opts ProjectOptions
	err = textfile.ReadJSON(filepath.Join(path, optionsFile), &opts)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "project %v", filepath.Base(path))
	}
	if err := opts.fill(); err != nil {
		return nil, errors.Wrapf(err, "project %v", filepath.Base(path))
	}

	db := newDirDB(path, opts)
	if warn != nil {
		db.Warn = warn
	}
	if err := db.Load(); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateDirDB creates an empty project at path.
func CreateDirDB(path string, opts ProjectOptions) (*DirDB, error) {
	if err := opts.fill(); err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(filepath.Join(path, "p"), 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	db := newDirDB(path, opts)
	if err := db.writeOptions(); err != nil {
		return nil, err
	}
	return db, nil
}

// Name returns the project name.
func (db *DirDB) Name() string {
	return db.name
}

// Path returns the project directory.
func (db *DirDB) Path() string {
	return db.path
}

// Options returns the project options.
func (db *DirDB) Options() ProjectOptions {
	return db.opts
}

// PackageType returns the package type of the project.
func (db *DirDB) PackageType() *PackageType {
	return db.pkgtype
}

// Load reads all package files. Files that cannot be decoded and packages
// that have expired are skipped.
func (db *DirDB) Load() error {
	root := filepath.Join(db.path, "p")
	if _, err := fs.Stat(root); os.IsNotExist(err) {
		return nil
	}

	now := db.now()
	return fs.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fs.IsRegularFile(fi) {
			return nil
		}

		hp, err := LoadHashPackage(path)
		if err == nil {
			err = hp.Validate()
		}
		if err != nil {
			debug.Log("skip %v: %v", path, err)
			db.Warn("project %v: skip broken package file %v: %v", db.name, path, err)
			return nil
		}

		if hp.Expired(now) {
			debug.Log("skip expired %v (%v)", path, hp.Expires)
			db.expired = append(db.expired, path)
			return nil
		}

		if conflict := db.conflict(hp); conflict != nil {
			db.Warn("project %v: %v duplicates %v, skipped", db.name, path, conflict.Path())
			return nil
		}

		db.register(hp)
		return nil
	})
}

// conflict returns a registered package with the same primary hash or one
// of the signatures of hp.
func (db *DirDB) conflict(hp *HashPackage) *HashPackage {
	if old, ok := db.packages[hp.Hashspec()]; ok {
		return old
	}
	for sigtype, sig := range hp.Signatures {
		if h, ok := db.bySig[sigtype][sig]; ok {
			return db.packages[h]
		}
	}
	return nil
}

func (db *DirDB) register(hp *HashPackage) {
	primary := hp.Hashspec()
	db.packages[primary] = hp

	for _, h := range hp.AllHashes() {
		db.byHash[h] = append(db.byHash[h], hp)
	}

	for sigtype, sig := range hp.Signatures {
		if !db.pkgtype.AcceptsSignature(sigtype) {
			continue
		}
		m, ok := db.bySig[sigtype]
		if !ok {
			m = make(map[string]digest.Digest)
			db.bySig[sigtype] = m
		}
		m[sig] = primary
	}
}

func (db *DirDB) unregister(hp *HashPackage) {
	primary := hp.Hashspec()
	if db.packages[primary] == hp {
		delete(db.packages, primary)
	}

	for _, h := range hp.AllHashes() {
		list := db.byHash[h]
		res := list[:0]
		for _, other := range list {
			if other != hp {
				res = append(res, other)
			}
		}
		if len(res) == 0 {
			delete(db.byHash, h)
		} else {
			db.byHash[h] = res
		}
	}

	for sigtype, sig := range hp.Signatures {
		if db.bySig[sigtype][sig] == primary {
			delete(db.bySig[sigtype], sig)
		}
	}
}

// Submit adds hp to the in-memory index. A package with the same primary
// hash or any of the same signatures is deleted first.
func (db *DirDB) Submit(hp *HashPackage) error {
	hp.normalize()
	if err := hp.Validate(); err != nil {
		return err
	}

	for {
		old := db.conflict(hp)
		if old == nil || old == hp {
			break
		}
		debug.Log("project %v: %v supersedes %v", db.name, hp.URL, old.URL)
		if err := db.Delete(old); err != nil {
			return err
		}
	}

	if db.packages[hp.Hashspec()] != hp {
		db.register(hp)
	}
	return db.SelfCheck()
}

// SubmitSave submits hp and writes its package file.
func (db *DirDB) SubmitSave(hp *HashPackage) error {
	if err := db.Submit(hp); err != nil {
		return err
	}
	return hp.Save(db.packagePath(hp))
}

// packagePath returns the file for hp. A package keeps the file it was
// loaded from, a new one gets a numeric suffix when another package of the
// project already uses the name.
func (db *DirDB) packagePath(hp *HashPackage) string {
	if hp.path != "" && strings.HasPrefix(hp.path, db.path+string(filepath.Separator)) {
		return hp.path
	}

	path := db.layoutPath(hp)
	if db.pathTaken(path, hp) {
		name := path
		for i := 1; db.pathTaken(name, hp); i++ {
			name = fmt.Sprintf("%s.%d", path, i)
		}
		db.Warn("project %v: %v is in use, saving %v as %v", db.name, path, hp.URL, name)
		path = name
	}
	return path
}

func (db *DirDB) pathTaken(path string, hp *HashPackage) bool {
	for _, other := range db.packages {
		if other != hp && other.path == path {
			return true
		}
	}
	return slices.Contains(db.expired, path)
}

func (db *DirDB) layoutPath(hp *HashPackage) string {
	base := hp.Basename()
	if base == "" || base == "." || base == "/" {
		base = "package"
	}
	_, enc := hashspec.Split(hp.Hashspec())

	switch db.opts.Storage {
	case StorageHash2:
		return filepath.Join(db.path, "p", enc[0:2], enc[2:4], base)
	case StorageHash3:
		return filepath.Join(db.path, "p", enc[0:2], enc[2:4], enc[4:6], base)
	}
	return filepath.Join(db.path, "p", base)
}

// Hash2Packages returns all packages containing a file or package with hash
// d. An empty result means no such package is known.
func (db *DirDB) Hash2Packages(d digest.Digest) []*HashPackage {
	return append([]*HashPackage(nil), db.byHash[d]...)
}

// HashPackage returns the package with primary hash d.
func (db *DirDB) HashPackage(d digest.Digest) (*HashPackage, error) {
	hp, ok := db.packages[d]
	if !ok {
		return nil, ErrNotFound
	}
	return hp, nil
}

// Signature2Package returns the package with the given signature.
func (db *DirDB) Signature2Package(sigtype, sig string) (*HashPackage, error) {
	h, ok := db.bySig[sigtype][sig]
	if !ok {
		return nil, ErrNotFound
	}
	hp, ok := db.packages[h]
	if !ok {
		return nil, errors.Errorf("project %v: signature %v %q points to missing package %v", db.name, sigtype, sig, h)
	}
	return hp, nil
}

// SigPresent reports whether a package with the signature is known.
func (db *DirDB) SigPresent(sigtype, sig string) bool {
	_, ok := db.bySig[sigtype][sig]
	return ok
}

func (db *DirDB) writeOptions() error {
	buf, err := json.MarshalIndent(db.opts, "", "    ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(renameio.WriteFile(filepath.Join(db.path, optionsFile), buf, 0644))
}

// Write saves all packages and the project options.
func (db *DirDB) Write() error {
	if err := fs.MkdirAll(db.path, 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := db.writeOptions(); err != nil {
		return err
	}
	for _, hp := range db.Packages() {
		if err := hp.Save(db.packagePath(hp)); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes hp from the index and deletes its package file.
func (db *DirDB) Delete(hp *HashPackage) error {
	db.unregister(hp)
	if hp.path == "" {
		return nil
	}
	if err := fs.RemoveIfExists(hp.path); err != nil {
		return errors.WithStack(err)
	}
	hp.path = ""
	return nil
}

// Truncate deletes all packages.
func (db *DirDB) Truncate() error {
	for _, hp := range db.Packages() {
		if err := db.Delete(hp); err != nil {
			return err
		}
	}
	return nil
}

// Prune deletes the package files which expired before now, both those
// skipped by Load and loaded packages which expired since.
func (db *DirDB) Prune(now time.Time) (int, error) {
	removed := 0
	for len(db.expired) > 0 {
		if err := fs.RemoveIfExists(db.expired[0]); err != nil {
			return removed, errors.WithStack(err)
		}
		db.expired = db.expired[1:]
		removed++
	}
	for _, hp := range db.Packages() {
		if !hp.Expired(now) {
			continue
		}
		if err := db.Delete(hp); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Packages returns all packages ordered by URL.
func (db *DirDB) Packages() []*HashPackage {
	list := make([]*HashPackage, 0, len(db.packages))
	for _, hp := range db.packages {
		list = append(list, hp)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].URL != list[j].URL {
			return list[i].URL < list[j].URL
		}
		return list[i].Hashspec() < list[j].Hashspec()
	})
	return list
}

// Len returns the number of packages.
func (db *DirDB) Len() int {
	return len(db.packages)
}

// SelfCheck verifies that no hash refers to the same package twice and that
// every indexed package is registered under its primary hash.
func (db *DirDB) SelfCheck() error {
	for h, list := range db.byHash {
		seen := make(map[digest.Digest]struct{}, len(list))
		for _, hp := range list {
			primary := hp.Hashspec()
			if _, ok := seen[primary]; ok {
				return errors.Errorf("project %v: hash %v refers to package %v twice", db.name, h, primary)
			}
			seen[primary] = struct{}{}
			if db.packages[primary] != hp {
				return errors.Errorf("project %v: hash %v refers to stale package %v", db.name, h, hp.URL)
			}
		}
	}
	for sigtype, m := range db.bySig {
		for sig, primary := range m {
			if _, ok := db.packages[primary]; !ok {
				return errors.Errorf("project %v: signature %v %q refers to missing package", db.name, sigtype, sig)
			}
		}
	}
	return nil
}

// DirSize returns the total size of the package files.
func (db *DirDB) DirSize() (int64, error) {
	return fs.DirSize(filepath.Join(db.path, "p"))
}

func (db *DirDB) String() string {
	return fmt.Sprintf("%v (%v/%v): %d packages", db.name, db.opts.PkgType, db.opts.Storage, len(db.packages))
}
