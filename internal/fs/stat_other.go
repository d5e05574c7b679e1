//go:build !linux && !freebsd && !darwin && !netbsd

package fs

import "os"

// fillStat keeps the defaults derived from the modification time on
// platforms without a known stat layout.
func fillStat(_ *Metadata, _ os.FileInfo) {}
