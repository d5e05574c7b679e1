package archive

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"pault.ag/go/debian/deb"

	"github.com/hashget/hashget/internal/errors"
)

var debDataFormats = map[string]Format{
	"data.tar":     Tar,
	"data.tar.gz":  Gzip,
	"data.tar.xz":  XZ,
	"data.tar.bz2": Bzip2,
	"data.tar.zst": Zstd,
}

// extractDeb unpacks the data member of a Debian package, which holds the
// files installed by it.
func extractDeb(ctx context.Context, f *os.File, dir string) error {
	ar, err := deb.LoadAr(f)
	if err != nil {
		return errors.Wrap(err, "deb")
	}

	for {
		member, err := ar.Next()
		if err == io.EOF {
			return errors.New("deb: no data member")
		}
		if err != nil {
			return errors.Wrap(err, "deb")
		}

		name := strings.TrimSuffix(member.Name, "/")
		format, ok := debDataFormats[name]
		if !ok {
			continue
		}
		return extractStream(ctx, bufio.NewReader(member.Data), format, name, dir)
	}
}
