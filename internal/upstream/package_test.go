package upstream

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/hashget/hashget/internal/cacheget"
	"github.com/hashget/hashget/internal/hashspec"
	rtest "github.com/hashget/hashget/internal/test"
	"github.com/klauspost/compress/gzip"
)

func targz(t testing.TB, files map[string][]byte) []byte {
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
		rtest.OK(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(data)
		rtest.OK(t, err)
	}
	rtest.OK(t, tw.WriteHeader(&tar.Header{Name: "link", Linkname: "/etc/passwd", Typeflag: tar.TypeSymlink}))
	rtest.OK(t, tw.Close())
	rtest.OK(t, zw.Close())
	return buf.Bytes()
}

func relPaths(files []hashspec.File) []string {
	var res []string
	for _, f := range files {
		res = append(res, filepath.ToSlash(f.RelPath))
	}
	sort.Strings(res)
	return res
}

func TestLocalPackage(t *testing.T) {
	dir := rtest.TempDir(t)
	inner := targz(t, map[string][]byte{"inner/data.bin": rtest.Random(5, 3000)})
	outer := targz(t, map[string][]byte{
		"pkg/README":        []byte("readme"),
		"pkg/bin/tool":      rtest.Random(6, 2000),
		"pkg/src/inner.tgz": inner,
	})
	fn := filepath.Join(dir, "pkg-1.0.tar.gz")
	rtest.WriteFile(t, fn, outer)

	ctx := context.Background()
	p, err := New(Options{Path: fn, TmpDir: dir})
	rtest.OK(t, err)
	rtest.Equals(t, "pkg-1.0.tar.gz", p.Basename())

	rtest.OK(t, p.Download(ctx))
	rtest.Equals(t, int64(len(outer)), p.Size)
	rtest.Equals(t, 2, len(p.Hashes.List()))
	rtest.Equals(t, int64(0), p.Downloaded)

	files, err := p.ReadFiles(ctx)
	rtest.OK(t, err)
	rtest.Equals(t, []string{"pkg/README", "pkg/bin/tool", "pkg/src/inner.tgz"}, relPaths(files))
	rtest.Equals(t, int64(6+2000+len(inner)), p.SumSize())

	_, err = os.Lstat(filepath.Join(p.Dir(), "link"))
	rtest.Assert(t, os.IsNotExist(err), "symlink survived unpacking")

	// idempotent
	again, err := p.ReadFiles(ctx)
	rtest.OK(t, err)
	rtest.Equals(t, len(files), len(again))

	unpacked := p.Dir()
	rtest.OK(t, p.Cleanup())
	_, err = os.Stat(unpacked)
	rtest.Assert(t, os.IsNotExist(err), "unpack dir not removed")
}

func TestRecursiveUnpack(t *testing.T) {
	dir := rtest.TempDir(t)
	inner := targz(t, map[string][]byte{"inner/data.bin": rtest.Random(5, 3000)})
	fn := filepath.Join(dir, "outer.tar.gz")
	rtest.WriteFile(t, fn, targz(t, map[string][]byte{"src/inner.tgz": inner}))

	p, err := New(Options{Path: fn, TmpDir: dir, Recursive: true})
	rtest.OK(t, err)
	defer func() { _ = p.Cleanup() }()

	files, err := p.ReadFiles(context.Background())
	rtest.OK(t, err)
	rtest.Equals(t, []string{"src/inner.tgz", "src/inner.tgz.unpacked/inner/data.bin"}, relPaths(files))
}

func TestDownloadedPackage(t *testing.T) {
	data := targz(t, map[string][]byte{"a/file": []byte("content")})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	dir := rtest.TempDir(t)
	getter, err := cacheget.New(cacheget.Options{CacheDir: filepath.Join(dir, "cache")})
	rtest.OK(t, err)

	p, err := New(Options{URL: srv.URL + "/dist/a-1.tar.gz", Getter: getter, TmpDir: dir})
	rtest.OK(t, err)
	rtest.Equals(t, "a-1.tar.gz", p.Basename())

	files, err := p.ReadFiles(context.Background())
	rtest.OK(t, err)
	rtest.Equals(t, int64(len(data)), p.Downloaded)
	rtest.Equals(t, 1, len(files))
	rtest.Equals(t, hashspec.String("content"), files[0].Hashspec())
	rtest.OK(t, p.Cleanup())
}

func TestNewWithoutSource(t *testing.T) {
	_, err := New(Options{})
	rtest.Assert(t, err != nil, "expected error")
}
