package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashget/hashget/internal/global"
	rtest "github.com/hashget/hashget/internal/test"
)

type testEnvironment struct {
	base, hashdb, cache, pool, testdata string
	stdout                              *bytes.Buffer
	gopts                               global.Options
}

func withTestEnvironment(t testing.TB) *testEnvironment {
	if !rtest.RunIntegrationTest {
		t.Skip("integration tests disabled")
	}

	tempdir := rtest.TempDir(t)
	env := &testEnvironment{
		base:     tempdir,
		hashdb:   filepath.Join(tempdir, "hashdb"),
		cache:    filepath.Join(tempdir, "cache"),
		pool:     filepath.Join(tempdir, "pool"),
		testdata: filepath.Join(tempdir, "testdata"),
		stdout:   bytes.NewBuffer(nil),
	}
	rtest.OK(t, os.MkdirAll(env.testdata, 0700))

	cfgfile := filepath.Join(tempdir, "config.yaml")
	rtest.WriteFile(t, cfgfile, nil)

	env.gopts = global.Options{
		HashDB:     env.hashdb,
		CacheDir:   env.cache,
		Pools:      []string{env.pool},
		Offline:    true,
		User:       true,
		ConfigFile: cfgfile,
		Stdout:     env.stdout,
		Stderr:     os.Stderr,
	}
	rtest.OK(t, env.gopts.PreRun())
	return env
}

// packageFiles are the contents of the test package.
type packageFiles struct {
	big, medium []byte
}

func newPackageFiles() packageFiles {
	return packageFiles{
		big:    rtest.Random(23, 200*1024),
		medium: rtest.Random(42, 5000),
	}
}

// writePackage creates a tar.gz package and returns its filename.
func (env *testEnvironment) writePackage(t testing.TB, files packageFiles) string {
	fn := filepath.Join(env.base, "tool-1.0.tar.gz")
	rtest.WriteFile(t, fn, rtest.TarGz(t, map[string][]byte{
		"tool-1.0/bin/tool":         files.big,
		"tool-1.0/share/tool/data":  files.medium,
		"tool-1.0/share/tool/small": []byte("small"),
	}))
	return fn
}

// writeTree creates a tree containing the package files and a file of its
// own.
func (env *testEnvironment) writeTree(t testing.TB, files packageFiles) (root string, own []byte) {
	root = filepath.Join(env.testdata, "tree")
	own = rtest.Random(7, 3000)
	rtest.WriteFile(t, filepath.Join(root, "usr", "bin", "tool"), files.big)
	rtest.WriteFile(t, filepath.Join(root, "usr", "share", "data"), files.medium)
	rtest.WriteFile(t, filepath.Join(root, "home", "own.bin"), own)
	return root, own
}

func readFile(t testing.TB, filename string) []byte {
	buf, err := os.ReadFile(filename)
	rtest.OK(t, err)
	return buf
}
