package stream

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// extractAll feeds data in chunks of size and collects every frame in order.
func extractAll(t *testing.T, ex *Extractor, data []byte, size int) ([][]byte, []error) {
	t.Helper()
	var frames [][]byte
	var errs []error
	buf := ex.Buffer()

	for _, chunk := range chunks(data, size) {
		if _, err := buf.Write(chunk); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		for {
			frame, err := ex.Next()
			if buf.Len() < 0 || buf.Len() > buf.Cap() {
				t.Fatalf("Fill length %d out of [0, %d]", buf.Len(), buf.Cap())
			}
			if errors.Is(err, ErrIncomplete) {
				break
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			frames = append(frames, frame)
		}
	}
	return frames, errs
}

func TestExtractor_TwoFramesInOneChunk(t *testing.T) {
	input := []byte("--myboundary\r\nheader\r\n\r\n\xff\xd8\x01\x02\x03--myboundary\r\nheader\r\n\r\n\xff\xd8\x04--myboundary")
	buf := NewBuffer(1024)
	ex := NewExtractor(buf)

	frames, errs := extractAll(t, ex, input, len(input))

	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if len(frames[0]) != 5 || len(frames[1]) != 3 {
		t.Errorf("Expected frame lengths 5 and 3, got %d and %d", len(frames[0]), len(frames[1]))
	}
	if !bytes.Equal(frames[0], []byte("\xff\xd8\x01\x02\x03")) {
		t.Errorf("Unexpected first frame %x", frames[0])
	}
	if buf.Len() != 12 || string(buf.Bytes()) != "--myboundary" {
		t.Errorf("Expected residual --myboundary, got %q", buf.Bytes())
	}
}

func TestExtractor_AnyChunking(t *testing.T) {
	payload := []byte("\xff\xd8 binary \r\n\x00 payload with -- dashes \xff\xd9")
	input := multipartOf(payload)

	for size := 1; size <= len(input); size++ {
		t.Run(fmt.Sprintf("chunk_%d", size), func(t *testing.T) {
			ex := NewExtractor(NewBuffer(4096))
			frames, errs := extractAll(t, ex, input, size)

			if len(errs) != 0 {
				t.Fatalf("Unexpected errors: %v", errs)
			}
			if len(frames) != 1 {
				t.Fatalf("Expected 1 frame, got %d", len(frames))
			}
			if !bytes.Equal(frames[0], payload) {
				t.Errorf("Payload mismatch: %q", frames[0])
			}
		})
	}
}

func TestExtractor_ManyFramesInOrder(t *testing.T) {
	const k = 25
	payloads := make([][]byte, k)
	for i := range payloads {
		payloads[i] = bytes.Repeat([]byte{byte(i)}, 10+i*7)
	}
	input := multipartOf(payloads...)

	for _, size := range []int{1, 5, 64, 5000} {
		ex := NewExtractor(NewBuffer(8192))
		frames, errs := extractAll(t, ex, input, size)

		if len(errs) != 0 {
			t.Fatalf("chunk %d: unexpected errors: %v", size, errs)
		}
		if len(frames) != k {
			t.Fatalf("chunk %d: expected %d frames, got %d", size, k, len(frames))
		}
		for i := range frames {
			if !bytes.Equal(frames[i], payloads[i]) {
				t.Errorf("chunk %d: frame %d out of order or corrupted", size, i)
			}
		}
	}
}

func TestExtractor_IncompleteIsIdempotent(t *testing.T) {
	buf := NewBuffer(256)
	ex := NewExtractor(buf)
	if _, err := buf.Write([]byte("junk--myboundary\r\nheader\r\n\r\npartial")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if _, err := ex.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Expected ErrIncomplete, got %v", err)
	}
	before := append([]byte(nil), buf.Bytes()...)
	if !bytes.HasPrefix(before, []byte(Boundary)) {
		t.Errorf("Leading junk should be discarded, got %q", before)
	}

	for i := 0; i < 3; i++ {
		frame, err := ex.Next()
		if !errors.Is(err, ErrIncomplete) || frame != nil {
			t.Fatalf("Call %d: expected ErrIncomplete, got frame=%q err=%v", i, frame, err)
		}
		if !bytes.Equal(buf.Bytes(), before) {
			t.Fatalf("Call %d: buffer changed to %q", i, buf.Bytes())
		}
	}
}

func TestExtractor_NoBoundaryKeepsData(t *testing.T) {
	buf := NewBuffer(256)
	ex := NewExtractor(buf)
	if _, err := buf.Write([]byte("--mybou")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if _, err := ex.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Expected ErrIncomplete, got %v", err)
	}
	if string(buf.Bytes()) != "--mybou" {
		t.Errorf("Split boundary must be kept, got %q", buf.Bytes())
	}
}

func TestExtractor_BackToBackBoundaries(t *testing.T) {
	input := []byte("--myboundary--myboundary\r\nh\r\n\r\nABC--myboundary")
	ex := NewExtractor(NewBuffer(256))

	frames, errs := extractAll(t, ex, input, len(input))

	if len(errs) != 1 || !errors.Is(errs[0], ErrMalformedFrame) {
		t.Fatalf("Expected one ErrMalformedFrame, got %v", errs)
	}
	if len(frames) != 1 || string(frames[0]) != "ABC" {
		t.Errorf("Expected frame ABC after the malformed segment, got %q", frames)
	}
}

func TestExtractor_SeparatorSearchBoundedToSegment(t *testing.T) {
	input := []byte("--myboundary\r\nh\r\n\r\nAAA--myboundaryXYZ--myboundary\r\nh\r\n\r\nBB--myboundary")
	ex := NewExtractor(NewBuffer(256))

	frames, errs := extractAll(t, ex, input, len(input))

	if len(errs) != 1 || !errors.Is(errs[0], ErrMalformedFrame) {
		t.Fatalf("Expected one ErrMalformedFrame, got %v", errs)
	}
	if len(frames) != 2 || string(frames[0]) != "AAA" || string(frames[1]) != "BB" {
		t.Errorf("Expected frames AAA and BB, got %q", frames)
	}
}

func TestExtractor_EmptyPayloadIsMalformed(t *testing.T) {
	input := []byte("--myboundary\r\nh\r\n\r\n--myboundary\r\nh\r\n\r\nOK--myboundary")
	ex := NewExtractor(NewBuffer(256))

	frames, errs := extractAll(t, ex, input, len(input))

	if len(errs) != 1 || !errors.Is(errs[0], ErrMalformedFrame) {
		t.Fatalf("Expected one ErrMalformedFrame, got %v", errs)
	}
	if len(frames) != 1 || string(frames[0]) != "OK" {
		t.Errorf("Expected frame OK, got %q", frames)
	}
}

func TestExtractor_FrameLargerThanBuffer(t *testing.T) {
	buf := NewBuffer(128)
	ex := NewExtractor(buf)

	oversized := append(part(bytes.Repeat([]byte{0xAB}, 500)), multipartOf([]byte("small"))...)
	var frames [][]byte
	var errs []error

	for len(oversized) > 0 {
		n := copy(buf.Tail(len(oversized)), oversized)
		buf.Advance(n)
		oversized = oversized[n:]
		for {
			frame, err := ex.Next()
			if errors.Is(err, ErrIncomplete) {
				break
			}
			if err != nil {
				errs = append(errs, err)
				if errors.Is(err, ErrFrameTooLarge) && buf.Len() != len(Boundary)-1 {
					t.Errorf("Expected %d bytes kept after overflow, got %d", len(Boundary)-1, buf.Len())
				}
				continue
			}
			frames = append(frames, frame)
		}
	}

	if len(errs) == 0 || !errors.Is(errs[0], ErrFrameTooLarge) {
		t.Fatalf("Expected ErrFrameTooLarge, got %v", errs)
	}
	if len(frames) != 1 || string(frames[0]) != "small" {
		t.Errorf("Expected the following frame to survive, got %q", frames)
	}
}

func TestExtractor_FrameIsACopy(t *testing.T) {
	buf := NewBuffer(256)
	ex := NewExtractor(buf)
	if _, err := buf.Write(multipartOf([]byte("first"), []byte("other"))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	frame, err := ex.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	// Overwrite the whole backing array.
	buf.Reset()
	copy(buf.Tail(buf.Cap()), bytes.Repeat([]byte{'x'}, buf.Cap()))

	if string(frame) != "first" {
		t.Errorf("Frame must not alias the buffer, got %q", frame)
	}
}

func TestIsMalformed(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{fmt.Errorf("%w: x", ErrMalformedFrame), true},
		{fmt.Errorf("%w: x", ErrFrameTooLarge), true},
		{fmt.Errorf("%w: x", ErrDecode), true},
		{fmt.Errorf("%w: x", ErrRead), false},
		{ErrConnect, false},
	}
	for _, tt := range tests {
		if got := IsMalformed(tt.err); got != tt.expected {
			t.Errorf("IsMalformed(%v) = %v, expected %v", tt.err, got, tt.expected)
		}
	}
}
