// Package debian recognizes Debian root filesystems by their dpkg status
// file and locates the installed packages in the Debian snapshot archive.
package debian

import (
	"io"
	"os"

	"pault.ag/go/debian/control"
	"pault.ag/go/debian/version"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashdb"
)

// Package is one paragraph of the dpkg status file.
type Package struct {
	Name    string
	Version string
	Arch    string
	Section string
	Status  string
}

// Installed reports whether dpkg considers the package installed.
func (p Package) Installed() bool {
	return p.Status == "install ok installed"
}

// Signature returns the deb signature "name version arch".
func (p Package) Signature() string {
	return hashdb.DebSignature(p.Name, p.Version, p.Arch)
}

func (p Package) String() string {
	return p.Signature()
}

// ParseStatus reads the paragraphs of a dpkg status file.
func ParseStatus(rd io.Reader) ([]Package, error) {
	pr, err := control.NewParagraphReader(rd, nil)
	if err != nil {
		return nil, errors.Wrap(err, "read dpkg status")
	}

	var list []Package
	for {
		para, err := pr.Next()
		if err == io.EOF {
			return list, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read dpkg status")
		}
		if len(para.Values) == 0 {
			continue
		}
		list = append(list, Package{
			Name:    para.Values["Package"],
			Version: para.Values["Version"],
			Arch:    para.Values["Architecture"],
			Section: para.Values["Section"],
			Status:  para.Values["Status"],
		})
	}
}

// LoadStatus reads the installed packages from the status file.
func LoadStatus(filename string) ([]Package, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() { _ = f.Close() }()

	all, err := ParseStatus(f)
	if err != nil {
		return nil, errors.Wrap(err, filename)
	}

	var installed []Package
	for _, p := range all {
		if !p.Installed() || p.Name == "" || p.Arch == "" {
			continue
		}
		if _, err := version.Parse(p.Version); err != nil {
			debug.Log("skip %v: %v", p.Name, err)
			continue
		}
		installed = append(installed, p)
	}
	return installed, nil
}
