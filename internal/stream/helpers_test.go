package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ========================================
// Stream builders
// ========================================

func part(payload []byte) []byte {
	var b bytes.Buffer
	b.WriteString(Boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n")
	b.Write(payload)
	return b.Bytes()
}

// multipartOf renders payloads as parts followed by a closing boundary.
func multipartOf(payloads ...[]byte) []byte {
	var b bytes.Buffer
	for _, p := range payloads {
		b.Write(part(p))
	}
	b.WriteString(Boundary)
	return b.Bytes()
}

func testJPEG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode test JPEG: %v", err)
	}
	return buf.Bytes()
}

func chunks(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

// ========================================
// Observer
// ========================================

type recorder struct {
	mu     sync.Mutex
	frames []Frame
	errs   []error
	states []State
}

func (r *recorder) OnFrame(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *recorder) OnError(cameraID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnStateChange(sessionID, cameraID string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) snapshot() ([]Frame, []error, []State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...), append([]error(nil), r.errs...), append([]State(nil), r.states...)
}

func (r *recorder) countErrors(target error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, err := range r.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

// ========================================
// Byte sources
// ========================================

// scriptedSource returns the given chunks, one per Read, then finalErr.
type scriptedSource struct {
	chunks   [][]byte
	pending  []byte
	finalErr error
	closed   atomic.Int32
}

func (s *scriptedSource) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		if len(s.chunks) == 0 {
			return 0, s.finalErr
		}
		s.pending, s.chunks = s.chunks[0], s.chunks[1:]
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *scriptedSource) Close() error {
	s.closed.Add(1)
	return nil
}

// blockingSource hands out whatever is fed to it and blocks in between; Close unblocks it.
type blockingSource struct {
	feed      chan []byte
	closedCh  chan struct{}
	closeOnce sync.Once
	closed    atomic.Int32
	pending   []byte
}

func newBlockingSource() *blockingSource {
	return &blockingSource{feed: make(chan []byte, 16), closedCh: make(chan struct{})}
}

func (s *blockingSource) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case chunk, ok := <-s.feed:
			if !ok {
				return 0, io.EOF
			}
			s.pending = chunk
		case <-s.closedCh:
			return 0, errors.New("use of closed connection")
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *blockingSource) Close() error {
	s.closed.Add(1)
	s.closeOnce.Do(func() { close(s.closedCh) })
	return nil
}

// countingOpener hands out sources built by next and remembers them.
type countingOpener struct {
	mu      sync.Mutex
	next    func() io.ReadCloser
	sources []io.ReadCloser
	urls    []string
}

func (o *countingOpener) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	src := o.next()
	o.sources = append(o.sources, src)
	o.urls = append(o.urls, url)
	return src, nil
}

func (o *countingOpener) opened() []io.ReadCloser {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]io.ReadCloser(nil), o.sources...)
}

func staticOpener(src io.ReadCloser) Opener {
	return OpenerFunc(func(ctx context.Context, url string) (io.ReadCloser, error) {
		return src, nil
	})
}

// rawDecoder accepts any payload, returning a 1x1 image.
var rawDecoder = DecoderFunc(func(data []byte) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
})
