package filter_test

import (
	"path/filepath"
	"testing"

	"github.com/hashget/hashget/internal/filter"
	rtest "github.com/hashget/hashget/internal/test"
)

var matchTests = []struct {
	pattern string
	path    string
	match   bool
}{
	{"", "", true},
	{"", "foo", true},
	{"*.go", "/foo/bar/test.go", true},
	{"*.c", "/foo/bar/test.go", false},
	{"/usr/share", "/usr/share/doc", true},
	{"/usr/share", "/usr/share", true},
	{"/usr/share", "/usr/lib", false},
	{"share/doc", "/usr/share/doc", true},
	{"/usr/**/doc", "/usr/local/share/doc", true},
	{"/usr/**/doc", "/usr/doc", true},
	{"/usr/**/doc", "/var/doc", false},
	{"**/*.deb", "/var/cache/apt/archives/bash_5.1_amd64.deb", true},
}

func TestMatch(t *testing.T) {
	for i, test := range matchTests {
		if test.path == "" && test.pattern == "" {
			continue
		}
		match, err := filter.Match(test.pattern, test.path)
		if err != nil {
			t.Errorf("test %d failed: expected no error for pattern %q, but error returned: %v",
				i, test.pattern, err)
			continue
		}

		if match != test.match {
			t.Errorf("test %d: filter.Match(%q, %q): expected %v, got %v",
				i, test.pattern, test.path, test.match, match)
		}
	}
}

func TestMatchEmptyString(t *testing.T) {
	_, err := filter.Match("*", "")
	rtest.Equals(t, filter.ErrBadString, err)
}

func TestValidatePatterns(t *testing.T) {
	err := filter.ValidatePatterns([]string{"*.foo", "*[._]log[.-][0-9]"})
	rtest.Assert(t, err != nil, "expected invalid pattern to be detected")

	ip, ok := err.(*filter.InvalidPatternError)
	rtest.Assert(t, ok, "wrong error type %T", err)
	rtest.Equals(t, []string{"*[._]log[.-][0-9]"}, ip.InvalidPatterns)

	rtest.OK(t, filter.ValidatePatterns([]string{"var/log", "home/*/.cache"}))
}

func TestSkipList(t *testing.T) {
	root := "/srv/rootfs"
	sl, err := filter.NewSkipList(root, []string{"var/log/", "/home/*/.cache", "tmp"}, nil)
	rtest.OK(t, err)
	rtest.Equals(t, 3, sl.Len())

	var tests = []struct {
		path string
		skip bool
	}{
		{"var/log", true},
		{"var/lib/dpkg/status", false},
		{"home/user/.cache", true},
		{"home/user/.config", false},
		{"tmp", true},
		{"srv/tmp", false},
	}

	for _, tc := range tests {
		got := sl.Skip(filepath.Join(root, tc.path))
		if got != tc.skip {
			t.Errorf("Skip(%q): want %v, got %v", tc.path, tc.skip, got)
		}
	}

	rtest.Assert(t, !sl.Skip(root), "root must never be skipped")
	rtest.Assert(t, !sl.Skip("/elsewhere/tmp"), "paths outside the root must never be skipped")

	var nilList *filter.SkipList
	rtest.Assert(t, !nilList.Skip("/srv/rootfs/tmp"), "nil list skips nothing")
}

func TestReadPatternsFromFiles(t *testing.T) {
	dir := rtest.TempDir(t)
	fn := filepath.Join(dir, "skip.txt")
	rtest.WriteFile(t, fn, []byte("# comment\nvar/log\n\n  tmp  \n"))

	patterns, err := filter.ReadPatternsFromFiles([]string{fn})
	rtest.OK(t, err)
	rtest.Equals(t, []string{"var/log", "tmp"}, patterns)

	opts := filter.SkipOptions{Skip: []string{"opt"}, SkipFiles: []string{fn}}
	patterns, err = opts.Patterns()
	rtest.OK(t, err)
	rtest.Equals(t, []string{"opt", "var/log", "tmp"}, patterns)
}
