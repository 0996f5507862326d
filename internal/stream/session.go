package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"camviewer/internal/model"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether the session can no longer change state.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Session reads one camera stream and turns it into frames.
//
// The loop checks for cancellation once per read; a read that is already blocked is not
// interrupted by Stop, only by Abort.
type Session struct {
	id     string
	camera model.Camera
	params Params
	url    string
	cfg    Config
	opener Opener
	sink   *Sink

	state atomic.Int32
	done  chan struct{}

	mu         sync.Mutex
	cancel     context.CancelFunc
	connCancel context.CancelFunc
	aborted    bool
	source     io.ReadCloser
	closeOnce  sync.Once
	err        error
	bytesRead  atomic.Uint64
}

// NewSession prepares a session; nothing is opened until Start or Run.
func NewSession(cfg Config, opener Opener, decoder Decoder, camera model.Camera, params Params, observer Observer) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:     id,
		camera: camera,
		params: params,
		url:    StreamURL(cfg.Host, cfg.Login, camera.ID, params),
		cfg:    cfg,
		opener: opener,
		sink:   NewSink(decoder, observer, camera.ID, id),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Camera() model.Camera { return s.camera }
func (s *Session) Params() Params       { return s.params }
func (s *Session) URL() string          { return s.url }
func (s *Session) State() State         { return State(s.state.Load()) }
func (s *Session) BytesRead() uint64    { return s.bytesRead.Load() }
func (s *Session) Frames() uint64       { return s.sink.Count() }

// Latest returns the most recent frame of the session.
func (s *Session) Latest() (Frame, bool) { return s.sink.Latest() }

// Done is closed once the loop has exited and the stream is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that failed the session, nil while running or after a clean stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start runs the session on its own goroutine and returns immediately. A session starts
// at most once; later calls return ErrAlreadyRun and leave the running loop untouched.
func (s *Session) Start(ctx context.Context) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		_ = s.run(ctx)
	}()
	return nil
}

// Stop requests cancellation. It is safe to call from any goroutine, any number of times.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Abort stops the session, cancels a connect in progress and closes the stream underneath
// a blocked read.
func (s *Session) Abort() {
	s.Stop()
	s.mu.Lock()
	s.aborted = true
	connCancel := s.connCancel
	src := s.source
	s.mu.Unlock()
	if connCancel != nil {
		connCancel()
	}
	if src != nil {
		s.closeSource(src)
	}
}

func (s *Session) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Wait blocks until the loop exits or timeout elapses and reports whether it exited.
func (s *Session) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// Run executes the session on the calling goroutine until ctx is cancelled or the stream
// fails. Failures are reported to the observer once and returned; a cancelled session
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return s.run(ctx)
}

// begin claims the session and installs the cancel func Stop uses.
func (s *Session) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return nil, ErrAlreadyRun
	}
	ctx, s.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (s *Session) run(ctx context.Context) (err error) {
	s.notifyState(StateConnecting)

	// The request and its body outlive ctx so that cancellation stays cooperative once
	// streaming; only Abort cancels them.
	connCtx, connCancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.connCancel = connCancel
	if s.aborted {
		connCancel()
	}
	cancel := s.cancel
	s.mu.Unlock()

	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			err = s.fail(fmt.Errorf("%w: %v", ErrPanic, r))
		}
		s.mu.Lock()
		src := s.source
		s.mu.Unlock()
		if src != nil {
			s.closeSource(src)
		}
		connCancel()
		cancel()
	}()

	if ctx.Err() != nil {
		s.setState(StateStopped)
		return nil
	}

	src, err := s.opener.Open(connCtx, s.url)
	if err != nil {
		if ctx.Err() != nil || s.isAborted() {
			s.setState(StateStopped)
			return nil
		}
		return s.fail(fmt.Errorf("%w: camera %s: %v", ErrConnect, s.camera.ID, err))
	}
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()

	// Stopped while connecting: the stream is closed by the deferred cleanup.
	if ctx.Err() != nil || s.isAborted() {
		s.setState(StateStopped)
		return nil
	}

	s.setState(StateStreaming)
	return s.stream(ctx, src)
}

func (s *Session) stream(ctx context.Context, src io.Reader) error {
	extractor := NewExtractor(NewBuffer(s.cfg.BufferCapacity))
	buf := extractor.Buffer()

	for {
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}

		n, rerr := src.Read(buf.Tail(s.cfg.ChunkSize))
		if n > 0 {
			buf.Advance(n)
			s.bytesRead.Add(uint64(n))
			s.drain(ctx, extractor)
		}

		if rerr != nil {
			if ctx.Err() != nil {
				s.setState(StateStopped)
				return nil
			}
			if errors.Is(rerr, io.EOF) {
				return s.fail(fmt.Errorf("%w: camera %s", ErrEndOfStream, s.camera.ID))
			}
			return s.fail(fmt.Errorf("%w: camera %s: %v", ErrRead, s.camera.ID, rerr))
		}
	}
}

// drain delivers every complete frame in order. Nothing is delivered once ctx is cancelled.
func (s *Session) drain(ctx context.Context, extractor *Extractor) {
	for ctx.Err() == nil {
		payload, err := extractor.Next()
		if errors.Is(err, ErrIncomplete) {
			return
		}
		if err != nil {
			s.sink.Report(err)
			continue
		}
		_ = s.sink.Deliver(payload)
	}
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setState(StateFailed)
	s.sink.Report(err)
	return err
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	s.notifyState(state)
}

func (s *Session) notifyState(state State) {
	if so, ok := s.sink.observer.(StateObserver); ok {
		so.OnStateChange(s.id, s.camera.ID, state)
	}
}

func (s *Session) closeSource(src io.Closer) {
	s.closeOnce.Do(func() {
		_ = src.Close()
	})
}
