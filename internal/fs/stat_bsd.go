//go:build freebsd || darwin || netbsd

package fs

import (
	"os"
	"syscall"
	"time"
)

func fillStat(m *Metadata, fi os.FileInfo) {
	s, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}

	m.UID = int(s.Uid)
	m.GID = int(s.Gid)
	m.ATime = time.Unix(s.Atimespec.Unix())
	m.CTime = time.Unix(s.Ctimespec.Unix())
}
