// Package transport builds the HTTP client used for hash servers, package
// downloads and file pools.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/limiter"
	"github.com/peterbourgon/unixtransport"
)

// DefaultUserAgent is sent unless configured otherwise.
const DefaultUserAgent = "hashget"

// Options collect the settings for outgoing HTTP requests.
type Options struct {
	// RootCertFilenames are PEM files with additional root certificates.
	RootCertFilenames []string

	InsecureTLS   bool
	HTTPUserAgent string

	limiter.Limits
}

// Transport returns a new http.RoundTripper with default settings applied.
// URLs with the schemes http+unix and https+unix are served over unix
// domain sockets.
func Transport(opts Options) (http.RoundTripper, error) {
	// copied from net/http
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{},
	}
	unixtransport.Register(tr)

	if opts.InsecureTLS {
		tr.TLSClientConfig.InsecureSkipVerify = true
	}

	if len(opts.RootCertFilenames) > 0 {
		p := x509.NewCertPool()
		for _, filename := range opts.RootCertFilenames {
			if filename == "" {
				return nil, errors.New("empty filename for root certificate supplied")
			}
			b, err := os.ReadFile(filename)
			if err != nil {
				return nil, errors.Errorf("unable to read root certificate: %v", err)
			}
			if ok := p.AppendCertsFromPEM(b); !ok {
				return nil, errors.Errorf("cannot parse root certificate from %q", filename)
			}
		}
		tr.TLSClientConfig.RootCAs = p
	}

	var rt http.RoundTripper = tr
	rt = limiter.NewStaticLimiter(opts.Limits).Transport(rt)

	userAgent := opts.HTTPUserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	rt = newUserAgentRoundTripper(rt, userAgent)

	// wrap in the debug round tripper
	return debug.RoundTripper(rt), nil
}

// Client returns an http.Client using Transport(opts).
func Client(opts Options) (*http.Client, error) {
	rt, err := Transport(opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: rt}, nil
}
