package debian

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/heuristic"
)

// Project is the project Debian packages are indexed in.
const Project = "debsnap"

// StatusFile is the location of the dpkg status file in a root filesystem.
const StatusFile = "var/lib/dpkg/status"

// Heuristic emits one request per installed package of a Debian root
// filesystem.
type Heuristic struct {
	snapshot *Snapshot
	err      error
}

// New returns the heuristic.
func New(opts heuristic.Options) heuristic.Heuristic {
	s, err := NewSnapshot(opts.SnapshotURL, opts.HTTP)
	return &Heuristic{snapshot: s, err: err}
}

// Name implements heuristic.Heuristic.
func (h *Heuristic) Name() string {
	return "debian"
}

// Check implements heuristic.Heuristic.
func (h *Heuristic) Check(path string) ([]*heuristic.SubmitRequest, error) {
	if !strings.HasSuffix(filepath.ToSlash(path), "/"+StatusFile) {
		return nil, nil
	}
	if h.err != nil {
		return nil, h.err
	}

	packages, err := LoadStatus(path)
	if err != nil {
		return nil, err
	}
	debug.Log("%v: %d installed packages", path, len(packages))

	list := make([]*heuristic.SubmitRequest, 0, len(packages))
	for _, p := range packages {
		p := p
		list = append(list, &heuristic.SubmitRequest{
			URLFunc: func(ctx context.Context) (string, error) {
				return h.snapshot.URL(ctx, p.Name, p.Version, p.Arch)
			},
			Signatures: map[string]string{hashdb.SigDeb: p.Signature()},
			Project:    Project,
			PkgType:    "debian",
		})
	}
	return list, nil
}
