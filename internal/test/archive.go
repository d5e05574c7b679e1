package test

import (
	"archive/tar"
	"bytes"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// TarGz returns a gzip compressed tar archive holding files, in name order.
func TarGz(t testing.TB, files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, name := range names {
		data := files[name]
		OK(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(data)
		OK(t, err)
	}
	OK(t, tw.Close())
	OK(t, zw.Close())
	return buf.Bytes()
}
