package textfile

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	rtest "github.com/hashget/hashget/internal/test"
)

func dec(s string) []byte {
	data, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return data
}

func TestRead(t *testing.T) {
	var tests = []struct {
		data []byte
		want []byte
	}{
		{data: []byte("Package: sed")},
		{data: []byte("\xef\xbb\xbfPackage: sed"), want: []byte("Package: sed")},
		{data: dec("feff006600f600f6006200e40072"), want: []byte("fööbär")},
		{data: dec("fffe6600f600f6006200e4007200"), want: []byte("fööbär")},
	}

	dir := rtest.TempDir(t)
	for i, test := range tests {
		want := test.want
		if want == nil {
			want = test.data
		}

		name := filepath.Join(dir, hex.EncodeToString([]byte{byte(i)}))
		rtest.WriteFile(t, name, test.data)

		data, err := Read(name)
		rtest.OK(t, err)
		rtest.Equals(t, string(want), string(data))
	}
}

func TestReadJSON(t *testing.T) {
	dir := rtest.TempDir(t)
	name := filepath.Join(dir, "hashget-hint.json")
	rtest.WriteFile(t, name, []byte("\xef\xbb\xbf{\"url\": \"https://example.org/a.tar.gz\"}"))

	var hint struct {
		URL string `json:"url"`
	}
	rtest.OK(t, ReadJSON(name, &hint))
	rtest.Equals(t, "https://example.org/a.tar.gz", hint.URL)

	rtest.WriteFile(t, name, []byte("{broken"))
	rtest.Assert(t, ReadJSON(name, &hint) != nil, "expected parse error")
}
