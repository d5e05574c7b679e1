// Package kernel recognizes Linux kernel sources, either by the released
// tarball itself or by the top-level Makefile of an unpacked tree.
package kernel

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/heuristic"
)

// Project is the project kernel sources are indexed in.
const Project = "kernel.org"

// BaseURL is where kernel.org publishes releases.
const BaseURL = "https://cdn.kernel.org/pub/linux/kernel/"

// DefaultExtension is used for trees found by their Makefile.
const DefaultExtension = "tar.xz"

// Version identifies one kernel release.
type Version struct {
	Version    int
	PatchLevel int
	// SubLevel is negative if the release has none.
	SubLevel int
}

func (v Version) String() string {
	if v.SubLevel < 0 {
		return fmt.Sprintf("%d.%d", v.Version, v.PatchLevel)
	}
	return fmt.Sprintf("%d.%d.%d", v.Version, v.PatchLevel, v.SubLevel)
}

func (v Version) subdir() string {
	if v.Version < 3 {
		return fmt.Sprintf("v%d.%d", v.Version, v.PatchLevel)
	}
	return fmt.Sprintf("v%d.x", v.Version)
}

// URL returns the download URL of the release archive with extension ext.
func (v Version) URL(ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return BaseURL + v.subdir() + "/linux-" + v.String() + "." + ext
}

var archiveName = regexp.MustCompile(`^linux-(\d+)\.(\d+)(\.(\d+))?\.(tar\.gz|tar\.xz|tar\.bz2)`)

// ParseArchiveName extracts the version and extension from the basename of
// a release archive.
func ParseArchiveName(name string) (v Version, ext string, ok bool) {
	m := archiveName.FindStringSubmatch(name)
	if m == nil {
		return Version{}, "", false
	}
	v.Version, _ = strconv.Atoi(m[1])
	v.PatchLevel, _ = strconv.Atoi(m[2])
	v.SubLevel = -1
	if m[4] != "" {
		v.SubLevel, _ = strconv.Atoi(m[4])
	}
	return v, m[5], true
}

func request(v Version, ext string) *heuristic.SubmitRequest {
	return &heuristic.SubmitRequest{
		URL:     v.URL(ext),
		Project: Project,
		PkgType: "kernel",
	}
}

type archive struct{}

// New returns the heuristic matching release archives.
func New(heuristic.Options) heuristic.Heuristic {
	return archive{}
}

func (archive) Name() string {
	return "kernel"
}

func (archive) Check(path string) ([]*heuristic.SubmitRequest, error) {
	v, ext, ok := ParseArchiveName(filepath.Base(path))
	if !ok {
		return nil, nil
	}
	return []*heuristic.SubmitRequest{request(v, ext)}, nil
}

// checkFiles must all exist next to a kernel Makefile.
var checkFiles = []string{
	"drivers/block/floppy.c",
	"drivers/scsi/scsi.c",
	"fs/ext2/file.c",
	"fs/proc/inode.c",
	"include/linux/kernel.h",
	"kernel/panic.c",
	"mm/vmalloc.c",
	"net/socket.c",
}

const maxMakefileSize = 200 * 1024 * 1024

type makefile struct{}

// NewMakefile returns the heuristic matching the Makefile of a source tree.
func NewMakefile(heuristic.Options) heuristic.Heuristic {
	return makefile{}
}

func (makefile) Name() string {
	return "kernelmake"
}

func makeVar(buf []byte, name string) (int, bool) {
	re := regexp.MustCompile(`(?m)^` + name + ` *= *(\d+)`)
	m := re.FindSubmatch(buf)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	return n, err == nil
}

// ParseMakefile reads the release version from a kernel Makefile.
func ParseMakefile(buf []byte) (Version, error) {
	var v Version
	var ok bool
	if v.Version, ok = makeVar(buf, "VERSION"); !ok {
		return v, errors.New("no VERSION in Makefile")
	}
	if v.PatchLevel, ok = makeVar(buf, "PATCHLEVEL"); !ok {
		return v, errors.New("no PATCHLEVEL in Makefile")
	}
	if v.SubLevel, ok = makeVar(buf, "SUBLEVEL"); !ok {
		v.SubLevel = -1
	}
	return v, nil
}

func (makefile) Check(path string) ([]*heuristic.SubmitRequest, error) {
	if filepath.Base(path) != "Makefile" {
		return nil, nil
	}

	dir := filepath.Dir(path)
	for _, f := range checkFiles {
		if _, err := os.Lstat(filepath.Join(dir, filepath.FromSlash(f))); err != nil {
			return nil, nil
		}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if fi.Size() > maxMakefileSize {
		return nil, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	v, err := ParseMakefile(buf)
	if err != nil {
		debug.Log("%v: %v", path, err)
		return nil, nil
	}
	return []*heuristic.SubmitRequest{request(v, DefaultExtension)}, nil
}
