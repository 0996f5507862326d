package stream

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 25

	DefaultChunkSize      = 5000
	DefaultBufferCapacity = 1024 * 1024
	DefaultConnectTimeout = 10 * time.Second
	DefaultStopTimeout    = 3 * time.Second

	minBufferCapacity = 4 * (len(Boundary) + len(Separator))
)

// Params are the per-session request parameters.
type Params struct {
	Width  int `json:"resolutionX"`
	Height int `json:"resolutionY"`
	FPS    int `json:"fps"`
}

func DefaultParams() Params {
	return Params{Width: DefaultWidth, Height: DefaultHeight, FPS: DefaultFPS}
}

// Validate checks that every parameter is a positive integer.
func (p Params) Validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return fmt.Errorf("%w: %dx%d@%d", ErrInvalidParams, p.Width, p.Height, p.FPS)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("%dx%d@%dfps", p.Width, p.Height, p.FPS)
}

// StreamURL builds the live stream request for one camera.
func StreamURL(host, login, cameraID string, p Params) string {
	return fmt.Sprintf("%s/mobile?login=%s&channelid=%s&resolutionX=%d&resolutionY=%d&fps=%d",
		strings.TrimSuffix(host, "/"), url.QueryEscape(login), url.QueryEscape(cameraID), p.Width, p.Height, p.FPS)
}

// Config holds the process-wide tunables shared by every session.
type Config struct {
	Host           string
	Login          string
	ChunkSize      int
	BufferCapacity int
	ConnectTimeout time.Duration
	StopTimeout    time.Duration
}

// withDefaults fills zero values and enforces a buffer large enough to hold the markers.
func (c Config) withDefaults() Config {
	if c.Login == "" {
		c.Login = "root"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.BufferCapacity < minBufferCapacity {
		c.BufferCapacity = minBufferCapacity
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}
