// Package restorefile implements the manifest embedded in packed archives.
// It lists the files left out of the archive and the packages they are
// recovered from.
package restorefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/hashget/hashget/internal/textfile"
	"github.com/hashget/hashget/internal/ui"
	"github.com/opencontainers/go-digest"
)

// Filename is the name of the manifest in the root of a packed tree.
const Filename = ".hashget-restore.json"

// File is one file excluded from the archive. SHA256 holds the bare hex
// digest, times are unix seconds.
type File struct {
	Path      string `json:"file"`
	SHA256    string `json:"sha256"`
	Size      int64  `json:"size"`
	Mode      uint32 `json:"mode"`
	UID       int    `json:"uid"`
	GID       int    `json:"gid"`
	ATime     int64  `json:"atime"`
	CTime     int64  `json:"ctime"`
	MTime     int64  `json:"mtime"`
	Processed bool   `json:"processed"`
}

// NewFile builds the entry for a hashed tree file.
func NewFile(f hashspec.File, fi os.FileInfo) *File {
	m := fs.ExtendedStat(fi)
	_, enc := hashspec.Split(f.Hashes.SHA256)
	return &File{
		Path:   filepath.ToSlash(f.RelPath),
		SHA256: enc,
		Size:   f.Size,
		Mode:   uint32(m.Mode.Perm()),
		UID:    m.UID,
		GID:    m.GID,
		ATime:  m.ATime.Unix(),
		CTime:  m.CTime.Unix(),
		MTime:  m.MTime.Unix(),
	}
}

// Hashspec returns the sha256 hashspec of the file.
func (f *File) Hashspec() digest.Digest {
	return digest.NewDigestFromEncoded(hashspec.SHA256, f.SHA256)
}

// Filename returns the location of the file below root.
func (f *File) Filename(root string) string {
	return filepath.Join(root, filepath.FromSlash(f.Path))
}

// Recover copies src to the file's location below root and restores its
// mode and timestamps. Ownership is restored unless userMode is set.
func (f *File) Recover(root, src string, userMode bool) error {
	dst := f.Filename(root)
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := fs.CopyFile(dst, src); err != nil {
		return errors.Wrap(err, f.Path)
	}
	m := fs.Metadata{
		Mode:  os.FileMode(f.Mode).Perm(),
		UID:   f.UID,
		GID:   f.GID,
		ATime: time.Unix(f.ATime, 0),
		MTime: time.Unix(f.MTime, 0),
	}
	return errors.Wrap(fs.RestoreMetadata(dst, m, userMode), f.Path)
}

// Package is a package needed for recovery.
type Package struct {
	URL  string        `json:"url"`
	Hash digest.Digest `json:"hash"`
	Size *int64        `json:"size,omitempty"`
}

// RestoreFile is the manifest.
type RestoreFile struct {
	Files    []*File    `json:"files"`
	Packages []*Package `json:"packages"`

	// PackageSize is the sum of the known package sizes. It is exact only
	// if the sizes of all packages were known.
	PackageSize      int64 `json:"packagesize"`
	PackageSizeExact bool  `json:"packagesize_exact"`

	Expires *hashdb.Date `json:"expires,omitempty"`

	byHash map[string][]*File
}

// New returns an empty manifest.
func New() *RestoreFile {
	return &RestoreFile{
		Files:            []*File{},
		Packages:         []*Package{},
		PackageSizeExact: true,
		byHash:           make(map[string][]*File),
	}
}

// Load reads a manifest.
func Load(filename string) (*RestoreFile, error) {
	rf := New()
	if err := textfile.ReadJSON(filename, rf); err != nil {
		return nil, errors.Wrap(err, "load restore file")
	}
	if rf.Files == nil {
		rf.Files = []*File{}
	}
	if rf.Packages == nil {
		rf.Packages = []*Package{}
	}
	rf.reindex()
	return rf, nil
}

func (rf *RestoreFile) reindex() {
	rf.byHash = make(map[string][]*File, len(rf.Files))
	for _, f := range rf.Files {
		rf.byHash[f.SHA256] = append(rf.byHash[f.SHA256], f)
	}
}

// Save writes the manifest atomically.
func (rf *RestoreFile) Save(filename string) error {
	buf, err := json.MarshalIndent(rf, "", "    ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(renameio.WriteFile(filename, append(buf, '\n'), 0644))
}

// AddFile appends a file entry.
func (rf *RestoreFile) AddFile(f *File) {
	rf.Files = append(rf.Files, f)
	rf.byHash[f.SHA256] = append(rf.byHash[f.SHA256], f)
}

// AddPackage appends a package. size is nil if the package size is not
// known, which makes PackageSize inexact.
func (rf *RestoreFile) AddPackage(url string, hash digest.Digest, size *int64) {
	rf.Packages = append(rf.Packages, &Package{URL: url, Hash: hash, Size: size})
	if size == nil {
		rf.PackageSizeExact = false
		return
	}
	rf.PackageSize += *size
}

func encoded(d digest.Digest) (string, bool) {
	algo, enc := hashspec.Split(d)
	return enc, algo == string(hashspec.SHA256)
}

// FilesByHash returns all entries with content d.
func (rf *RestoreFile) FilesByHash(d digest.Digest) []*File {
	enc, ok := encoded(d)
	if !ok {
		return nil
	}
	return rf.byHash[enc]
}

// ShouldProcess reports whether an entry with content d still needs to be
// recovered.
func (rf *RestoreFile) ShouldProcess(d digest.Digest) bool {
	for _, f := range rf.FilesByHash(d) {
		if !f.Processed {
			return true
		}
	}
	return false
}

// SetProcessed marks all entries with content d as recovered. It returns
// false if no entry has content d.
func (rf *RestoreFile) SetProcessed(d digest.Digest) bool {
	files := rf.FilesByHash(d)
	for _, f := range files {
		f.Processed = true
	}
	return len(files) > 0
}

// PreIteration resets the processed flags.
func (rf *RestoreFile) PreIteration() {
	for _, f := range rf.Files {
		f.Processed = false
	}
}

// Unprocessed returns the entries not recovered.
func (rf *RestoreFile) Unprocessed() []*File {
	var res []*File
	for _, f := range rf.Files {
		if !f.Processed {
			res = append(res, f)
		}
	}
	return res
}

// SumSize returns the total size of all file entries.
func (rf *RestoreFile) SumSize() int64 {
	var sum int64
	for _, f := range rf.Files {
		sum += f.Size
	}
	return sum
}

func (rf *RestoreFile) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d files, %d pkgs, size: %v", len(rf.Files), len(rf.Packages), ui.FormatBytes(uint64(rf.SumSize())))
	if rf.PackageSizeExact {
		fmt.Fprintf(&sb, ", packages: %v", ui.FormatBytes(uint64(rf.PackageSize)))
	} else {
		fmt.Fprintf(&sb, ", packages: >%v", ui.FormatBytes(uint64(rf.PackageSize)))
	}
	if rf.Expires != nil {
		fmt.Fprintf(&sb, ", expires %v", rf.Expires)
	}
	return sb.String()
}
