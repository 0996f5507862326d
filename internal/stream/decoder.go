package stream

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"
)

// Frame is one decoded picture together with the bytes it was decoded from.
type Frame struct {
	Seq       uint64
	CameraID  string
	SessionID string
	Data      []byte
	Image     image.Image
	Timestamp time.Time
}

// Decoder turns an extracted payload into an image.
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// JPEGDecoder decodes with the registered image formats (JPEG, PNG).
type JPEGDecoder struct{}

func (JPEGDecoder) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte) (image.Image, error)

func (f DecoderFunc) Decode(data []byte) (image.Image, error) { return f(data) }

// Observer receives the notifications of one session. Calls come from the session goroutine.
type Observer interface {
	OnFrame(frame Frame)
	OnError(cameraID string, err error)
}

// StateObserver is optionally implemented by an Observer to follow session state changes.
type StateObserver interface {
	OnStateChange(sessionID, cameraID string, state State)
}

// Sink decodes payloads and hands them to the observer, remembering only the latest frame.
type Sink struct {
	decoder  Decoder
	observer Observer
	cameraID string
	session  string

	mu     sync.RWMutex
	latest *Frame
	seq    uint64
}

func NewSink(decoder Decoder, observer Observer, cameraID, sessionID string) *Sink {
	if decoder == nil {
		decoder = JPEGDecoder{}
	}
	return &Sink{decoder: decoder, observer: observer, cameraID: cameraID, session: sessionID}
}

// Deliver decodes data and notifies the observer. A decode failure is reported to the
// observer as ErrDecode and returned; it never affects later frames.
func (s *Sink) Deliver(data []byte) error {
	img, err := s.decoder.Decode(data)
	if err != nil {
		err = fmt.Errorf("%w: %d bytes: %v", ErrDecode, len(data), err)
		s.Report(err)
		return err
	}

	s.mu.Lock()
	s.seq++
	frame := Frame{
		Seq:       s.seq,
		CameraID:  s.cameraID,
		SessionID: s.session,
		Data:      data,
		Image:     img,
		Timestamp: time.Now(),
	}
	s.latest = &frame
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.OnFrame(frame)
	}
	return nil
}

// Report forwards err to the observer.
func (s *Sink) Report(err error) {
	if s.observer != nil {
		s.observer.OnError(s.cameraID, err)
	}
}

// Latest returns the most recently decoded frame.
func (s *Sink) Latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Frame{}, false
	}
	return *s.latest, true
}

// Count returns how many frames were delivered.
func (s *Sink) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}
