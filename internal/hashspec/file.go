package hashspec

import (
	"path/filepath"

	"github.com/hashget/hashget/internal/errors"
	"github.com/opencontainers/go-digest"
)

// File is a hashed regular file below some root directory.
type File struct {
	Path    string
	RelPath string
	Size    int64
	Hashes  Hashes
}

// Hashspec returns the sha256 digest of the file.
func (f File) Hashspec() digest.Digest {
	return f.Hashes.SHA256
}

// ReadFile hashes path and records its location relative to root.
func ReadFile(path, root string, withMD5 bool) (File, error) {
	h, size, err := Sum(path, withMD5)
	if err != nil {
		return File{}, err
	}

	rel := path
	if root != "" {
		rel, err = filepath.Rel(root, path)
		if err != nil {
			return File{}, errors.WithStack(err)
		}
	}

	return File{
		Path:    path,
		RelPath: rel,
		Size:    size,
		Hashes:  h,
	}, nil
}
