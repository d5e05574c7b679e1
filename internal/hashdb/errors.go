package hashdb

import "github.com/hashget/hashget/internal/errors"

// ErrNotFound is returned by signature lookups which did not find a package.
var ErrNotFound = errors.New("package not found")

// ErrProjectNotFound is returned for unknown project names.
var ErrProjectNotFound = errors.New("project not found")
