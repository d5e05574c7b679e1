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
	m.ATime = time.Unix(s.Atim.Unix())
	m.CTime = time.Unix(s.Ctim.Unix())
}
