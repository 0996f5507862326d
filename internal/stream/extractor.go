package stream

import (
	"bytes"
	"fmt"
)

const (
	// Boundary is the part delimiter agreed with the camera server.
	Boundary = "--myboundary"
	// Separator ends the header block of every part.
	Separator = "\r\n\r\n"
)

var (
	boundaryBytes  = []byte(Boundary)
	separatorBytes = []byte(Separator)
)

// Extractor cuts complete frames out of a Buffer.
//
// A frame is the payload between the header separator of one part and the boundary of the
// next part. The boundary that ends a frame is left in the buffer because it starts the
// following part.
type Extractor struct {
	buf *Buffer
}

func NewExtractor(buf *Buffer) *Extractor {
	return &Extractor{buf: buf}
}

// Buffer returns the working buffer the extractor consumes.
func (e *Extractor) Buffer() *Buffer {
	return e.buf
}

// Next removes one frame from the buffer and returns a copy of its payload.
//
// It returns ErrIncomplete when no frame is complete yet; calling it again without new data
// keeps returning ErrIncomplete. A segment without a header separator, or with an empty
// payload, is dropped and reported as ErrMalformedFrame. When the buffer is full and still
// holds no complete frame, everything except a possible partial boundary is dropped and
// ErrFrameTooLarge is returned.
func (e *Extractor) Next() ([]byte, error) {
	data := e.buf.Bytes()

	segmentStart := indexOf(data, boundaryBytes, 0, len(data))
	if segmentStart < 0 {
		segmentStart = 0
	}

	segmentEnd := indexOf(data, boundaryBytes, segmentStart+1, len(data))
	if segmentEnd < 0 {
		e.buf.Discard(segmentStart)
		if e.buf.Full() {
			return nil, e.overflow()
		}
		return nil, ErrIncomplete
	}

	sep := indexOf(data, separatorBytes, segmentStart, segmentEnd)
	if sep < 0 {
		e.buf.Discard(segmentEnd)
		return nil, fmt.Errorf("%w: no header separator in %d byte segment", ErrMalformedFrame, segmentEnd-segmentStart)
	}

	pictureStart := sep + len(separatorBytes)
	if pictureStart >= segmentEnd {
		e.buf.Discard(segmentEnd)
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}

	frame := make([]byte, segmentEnd-pictureStart)
	copy(frame, data[pictureStart:segmentEnd])

	e.buf.Discard(segmentEnd)
	return frame, nil
}

// overflow keeps only the bytes that may still be the beginning of a split boundary.
func (e *Extractor) overflow() error {
	dropped := e.buf.Len() - (len(boundaryBytes) - 1)
	e.buf.Discard(dropped)
	return fmt.Errorf("%w: dropped %d bytes", ErrFrameTooLarge, dropped)
}

// indexOf returns the position of the first target within data[start:end], or -1.
func indexOf(data, target []byte, start, end int) int {
	if start < 0 {
		start = 0
	}
	if end > len(data) {
		end = len(data)
	}
	if end-start < len(target) {
		return -1
	}
	i := bytes.Index(data[start:end], target)
	if i < 0 {
		return -1
	}
	return start + i
}
