// Package directory fetches the camera listing published by the camera server.
package directory

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"camviewer/internal/model"
)

// ErrListing marks a listing that could not be fetched or understood.
var ErrListing = errors.New("camera listing unavailable")

type configuration struct {
	XMLName  xml.Name
	Channels *struct {
		Items []model.Camera `xml:",any"`
	} `xml:"Channels"`
}

// Client talks to the configuration endpoint of the camera server.
type Client struct {
	host   string
	login  string
	client *http.Client
}

func NewClient(host, login string, timeout time.Duration) *Client {
	return &Client{
		host:   strings.TrimSuffix(host, "/"),
		login:  login,
		client: &http.Client{Timeout: timeout},
	}
}

// ListingURL returns the address of the configuration document.
func (c *Client) ListingURL() string {
	return fmt.Sprintf("%s/configex?login=%s", c.host, url.QueryEscape(c.login))
}

// FetchCameras downloads and parses the camera listing.
func (c *Client) FetchCameras(ctx context.Context) ([]model.Camera, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ListingURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListing, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListing, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrListing, resp.Status)
	}

	return ParseCameras(resp.Body)
}

// ParseCameras reads every child of the root's Channels element as a camera.
func ParseCameras(r io.Reader) ([]model.Camera, error) {
	var doc configuration
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListing, err)
	}
	if doc.Channels == nil {
		return nil, fmt.Errorf("%w: no Channels element in <%s>", ErrListing, doc.XMLName.Local)
	}

	cameras := make([]model.Camera, 0, len(doc.Channels.Items))
	for _, camera := range doc.Channels.Items {
		if camera.ID == "" {
			return nil, fmt.Errorf("%w: channel without Id", ErrListing)
		}
		cameras = append(cameras, camera)
	}
	return cameras, nil
}

// FetchUntilSuccess retries FetchCameras every interval until it succeeds or ctx is done.
// Every failed attempt is passed to onError.
func (c *Client) FetchUntilSuccess(ctx context.Context, interval time.Duration, onError func(attempt int, err error)) ([]model.Camera, error) {
	for attempt := 1; ; attempt++ {
		cameras, err := c.FetchCameras(ctx)
		if err == nil {
			return cameras, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if onError != nil {
			onError(attempt, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
