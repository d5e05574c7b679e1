package fs

import (
	"os"
	"time"

	"github.com/hashget/hashget/internal/errors"
)

// Metadata describes the attributes restored for a file.
type Metadata struct {
	Mode  os.FileMode
	UID   int
	GID   int
	ATime time.Time
	CTime time.Time
	MTime time.Time
}

// ExtendedStat returns the metadata for fi.
func ExtendedStat(fi os.FileInfo) Metadata {
	m := Metadata{
		Mode:  fi.Mode().Perm(),
		ATime: fi.ModTime(),
		CTime: fi.ModTime(),
		MTime: fi.ModTime(),
	}
	fillStat(&m, fi)
	return m
}

// RestoreMetadata applies mode, ownership and timestamps to path. Ownership
// is left untouched when userMode is set.
func RestoreMetadata(path string, m Metadata, userMode bool) error {
	if err := os.Chmod(path, m.Mode); err != nil {
		return errors.Wrap(err, "Chmod")
	}

	if !userMode {
		if err := os.Lchown(path, m.UID, m.GID); err != nil {
			return errors.Wrap(err, "Lchown")
		}
	}

	return errors.Wrap(Chtimes(path, m.ATime, m.MTime), "Chtimes")
}
