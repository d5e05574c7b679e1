package transport

import "net/http"

// userAgentRoundTripper sets the User-Agent header of outgoing requests.
type userAgentRoundTripper struct {
	userAgent string
	rt        http.RoundTripper
}

func newUserAgentRoundTripper(rt http.RoundTripper, userAgent string) *userAgentRoundTripper {
	return &userAgentRoundTripper{
		rt:        rt,
		userAgent: userAgent,
	}
}

func (c *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", c.userAgent)
	return c.rt.RoundTrip(req)
}
