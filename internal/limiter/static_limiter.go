package limiter

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// Limits represents static upload and download limits in KiB/s.
type Limits struct {
	UploadKb   int
	DownloadKb int
}

type staticLimiter struct {
	upstream   *rate.Limiter
	downstream *rate.Limiter
}

// NewStaticLimiter constructs a Limiter with a fixed (static) upload and
// download rate cap. A zero limit means unlimited.
func NewStaticLimiter(l Limits) Limiter {
	var (
		upstreamBucket   *rate.Limiter
		downstreamBucket *rate.Limiter
	)

	if l.UploadKb > 0 {
		upstreamBucket = rate.NewLimiter(rate.Limit(toByteRate(l.UploadKb)), int(toByteRate(l.UploadKb)))
	}

	if l.DownloadKb > 0 {
		downstreamBucket = rate.NewLimiter(rate.Limit(toByteRate(l.DownloadKb)), int(toByteRate(l.DownloadKb)))
	}

	return staticLimiter{
		upstream:   upstreamBucket,
		downstream: downstreamBucket,
	}
}

func (l staticLimiter) Upstream(r io.Reader) io.Reader {
	return l.limitReader(r, l.upstream)
}

func (l staticLimiter) Downstream(r io.Reader) io.Reader {
	return l.limitReader(r, l.downstream)
}

type roundTripper func(*http.Request) (*http.Response, error)

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req)
}

func (l staticLimiter) Transport(rt http.RoundTripper) http.RoundTripper {
	if l.downstream == nil {
		return rt
	}

	return roundTripper(func(req *http.Request) (*http.Response, error) {
		res, err := rt.RoundTrip(req)
		if res != nil && res.Body != nil {
			res.Body = limitedReadCloser{
				original: res.Body,
				limited:  l.Downstream(res.Body),
			}
		}
		return res, err
	})
}

type limitedReadCloser struct {
	original io.ReadCloser
	limited  io.Reader
}

func (l limitedReadCloser) Read(b []byte) (n int, err error) {
	return l.limited.Read(b)
}

func (l limitedReadCloser) Close() error {
	return l.original.Close()
}

func (l staticLimiter) limitReader(r io.Reader, b *rate.Limiter) io.Reader {
	if b == nil {
		return r
	}
	return &rateLimitedReader{r, b}
}

type rateLimitedReader struct {
	reader  io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(buf []byte) (int, error) {
	n, err := r.reader.Read(buf)
	if werr := consumeTokens(n, r.limiter); werr != nil {
		return n, werr
	}
	return n, err
}

// consumeTokens waits for tokens in chunks of at most the burst size, as
// WaitN fails for larger requests.
func consumeTokens(tokens int, limiter *rate.Limiter) error {
	burst := limiter.Burst()
	for tokens > 0 {
		n := tokens
		if n > burst {
			n = burst
		}
		if err := limiter.WaitN(context.Background(), n); err != nil {
			return err
		}
		tokens -= n
	}
	return nil
}

func toByteRate(val int) float64 {
	return float64(val) * 1024.
}
