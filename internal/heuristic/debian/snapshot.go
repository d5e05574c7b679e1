package debian

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
)

// DefaultSnapshotURL is the Debian snapshot archive.
const DefaultSnapshotURL = "http://snapshot.debian.org/"

// Snapshot is a client for the machine-readable interface of the snapshot
// archive.
type Snapshot struct {
	base   *url.URL
	client *http.Client

	// MaxElapsedTime bounds the retries of one request.
	MaxElapsedTime time.Duration
}

// NewSnapshot returns a client for the archive at rawurl.
func NewSnapshot(rawurl string, client *http.Client) (*Snapshot, error) {
	if rawurl == "" {
		rawurl = DefaultSnapshotURL
	}
	if !strings.HasSuffix(rawurl, "/") {
		rawurl += "/"
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrap(err, "parse snapshot URL")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Snapshot{base: u, client: client, MaxElapsedTime: 5 * time.Minute}, nil
}

var errNotFound = errors.New("not found in snapshot archive")

// getJSON fetches p below the archive and decodes it into v. Server errors
// and connection problems are retried.
func (s *Snapshot) getJSON(ctx context.Context, p string, v interface{}) error {
	u := s.base.ResolveReference(&url.URL{Path: p})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.MaxElapsedTime

	return backoff.RetryNotify(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(errors.WithStack(err))
		}
		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return errors.WithStack(err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errNotFound)
		case resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, resp.Body)
			return errors.Errorf("GET %v: %v", u, resp.Status)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(errors.Errorf("GET %v: %v", u, resp.Status))
		}

		return backoff.Permanent(errors.Wrapf(json.NewDecoder(resp.Body).Decode(v), "decode %v", u))
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		debug.Log("snapshot: %v, retrying in %v", err, d)
	})
}

type binfilesResponse struct {
	Result []struct {
		Architecture string `json:"architecture"`
		Hash         string `json:"hash"`
	} `json:"result"`
}

type fileInfoResponse struct {
	Result []struct {
		ArchiveName string `json:"archive_name"`
		FirstSeen   string `json:"first_seen"`
		Name        string `json:"name"`
		Path        string `json:"path"`
		Size        int64  `json:"size"`
	} `json:"result"`
}

// URL returns the permanent archive URL of a binary package, or "" if the
// archive does not have it.
func (s *Snapshot) URL(ctx context.Context, name, version, arch string) (string, error) {
	var bin binfilesResponse
	p := "mr/binary/" + url.PathEscape(name) + "/" + url.PathEscape(version) + "/binfiles"
	err := s.getJSON(ctx, p, &bin)
	if errors.Is(err, errNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var hash string
	for _, r := range bin.Result {
		if r.Architecture == arch {
			hash = r.Hash
		}
	}
	if hash == "" {
		debug.Log("snapshot: no %v binary of %v %v", arch, name, version)
		return "", nil
	}

	var info fileInfoResponse
	err = s.getJSON(ctx, "mr/file/"+url.PathEscape(hash)+"/info", &info)
	if errors.Is(err, errNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(info.Result) == 0 {
		return "", nil
	}

	r := info.Result[0]
	segments := []string{"archive", r.ArchiveName, r.FirstSeen, strings.Trim(r.Path, "/"), r.Name}
	return s.base.ResolveReference(&url.URL{Path: joinNonEmpty(segments)}).String(), nil
}

func joinNonEmpty(segments []string) string {
	var res []string
	for _, s := range segments {
		if s != "" {
			res = append(res, s)
		}
	}
	return strings.Join(res, "/")
}
