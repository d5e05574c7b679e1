//go:build !linux

package fs

import (
	"errors"
	"os"
	"time"
)

// utimesNano follows symlinks.
func utimesNano(path string, atime, mtime int64) error {
	err := os.Chtimes(path, time.Unix(0, atime), time.Unix(0, mtime))
	var perr *os.PathError
	if errors.As(err, &perr) {
		return perr.Err
	}
	return err
}
