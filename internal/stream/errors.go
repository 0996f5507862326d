package stream

import "errors"

var (
	// ErrIncomplete is returned by Extractor.Next when the buffer does not hold a whole frame yet.
	ErrIncomplete = errors.New("no complete frame buffered")
	// ErrMalformedFrame marks a segment between two boundaries that carries no usable payload.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge marks a segment that cannot fit into the working buffer.
	ErrFrameTooLarge = errors.New("frame exceeds buffer capacity")
	// ErrDecode marks an extracted payload that is not a decodable image.
	ErrDecode = errors.New("frame decode failed")

	ErrConnect       = errors.New("connect failed")
	ErrRead          = errors.New("stream read failed")
	ErrEndOfStream   = errors.New("stream ended")
	ErrInvalidParams = errors.New("invalid stream parameters")
	ErrAlreadyRun    = errors.New("session already started")
	ErrPanic         = errors.New("session loop panicked")
)

// IsMalformed reports whether err belongs to the per-frame error class that never ends a session.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedFrame) || errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrDecode)
}
