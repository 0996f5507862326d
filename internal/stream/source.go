package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Opener opens the byte stream behind a stream URL.
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPOpener opens camera streams with a plain GET.
// The timeout bounds dialing and waiting for response headers only, never the body.
type HTTPOpener struct {
	client *http.Client
}

func NewHTTPOpener(connectTimeout time.Duration) *HTTPOpener {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: connectTimeout,
	}
	return &HTTPOpener{client: &http.Client{Transport: transport}}
}

// Open issues the request and returns the response body.
func (o *HTTPOpener) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) (io.ReadCloser, error)

func (f OpenerFunc) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	return f(ctx, url)
}
