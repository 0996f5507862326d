package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"camviewer/internal/model"
)

var testCamera = model.Camera{ID: "cam1", Name: "Entrance", AllowedRealtime: true}

func testConfig() Config {
	return Config{
		Host:           "http://camera.local:8080/",
		Login:          "root",
		ChunkSize:      7,
		BufferCapacity: 64 * 1024,
		ConnectTimeout: time.Second,
		StopTimeout:    100 * time.Millisecond,
	}
}

func TestStreamURL(t *testing.T) {
	got := StreamURL("http://demo.macroscop.com:8080/", "root", "2016897c-8be5-4a80-b1a3-7f79a9d7a7c5", DefaultParams())
	expected := "http://demo.macroscop.com:8080/mobile?login=root&channelid=2016897c-8be5-4a80-b1a3-7f79a9d7a7c5&resolutionX=640&resolutionY=480&fps=25"
	if got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		params Params
		valid  bool
	}{
		{DefaultParams(), true},
		{Params{Width: 1, Height: 1, FPS: 1}, true},
		{Params{Width: 0, Height: 480, FPS: 25}, false},
		{Params{Width: 640, Height: -1, FPS: 25}, false},
		{Params{Width: 640, Height: 480, FPS: 0}, false},
	}
	for _, tt := range tests {
		err := tt.params.Validate()
		if (err == nil) != tt.valid {
			t.Errorf("Validate(%v) = %v, expected valid=%v", tt.params, err, tt.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidParams) {
			t.Errorf("Expected ErrInvalidParams, got %v", err)
		}
	}
}

func TestSession_DeliversFramesInOrder(t *testing.T) {
	payloads := [][]byte{testJPEG(t, 16, 8, 10), testJPEG(t, 8, 16, 100), testJPEG(t, 4, 4, 200)}
	src := &scriptedSource{chunks: chunks(multipartOf(payloads...), 13), finalErr: io.EOF}
	rec := &recorder{}

	session := NewSession(testConfig(), staticOpener(src), JPEGDecoder{}, testCamera, DefaultParams(), rec)
	err := session.Run(context.Background())

	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("Expected ErrEndOfStream, got %v", err)
	}
	frames, errs, states := rec.snapshot()
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for i, frame := range frames {
		if frame.Seq != uint64(i+1) {
			t.Errorf("Frame %d has seq %d", i, frame.Seq)
		}
		if string(frame.Data) != string(payloads[i]) {
			t.Errorf("Frame %d payload mismatch", i)
		}
		if frame.CameraID != "cam1" || frame.SessionID != session.ID() {
			t.Errorf("Frame %d has wrong origin %s/%s", i, frame.CameraID, frame.SessionID)
		}
	}
	if b := frames[1].Image.Bounds(); b.Dx() != 8 || b.Dy() != 16 {
		t.Errorf("Expected 8x16 image, got %v", b)
	}
	if len(errs) != 1 {
		t.Errorf("Expected exactly one reported error, got %v", errs)
	}
	if session.State() != StateFailed {
		t.Errorf("Expected failed state, got %s", session.State())
	}
	if src.closed.Load() != 1 {
		t.Errorf("Expected source closed once, got %d", src.closed.Load())
	}
	expectedStates := []State{StateConnecting, StateStreaming, StateFailed}
	if len(states) != len(expectedStates) {
		t.Fatalf("Expected states %v, got %v", expectedStates, states)
	}
	for i := range states {
		if states[i] != expectedStates[i] {
			t.Errorf("Expected states %v, got %v", expectedStates, states)
		}
	}
	latest, ok := session.Latest()
	if !ok || latest.Seq != 3 {
		t.Errorf("Expected latest frame seq 3, got %d (%v)", latest.Seq, ok)
	}
}

func TestSession_BadFrameDoesNotStopSession(t *testing.T) {
	good := testJPEG(t, 8, 8, 50)
	input := multipartOf(good, []byte("definitely not a jpeg"), good)
	input = append(input, []byte("\r\nh\r\n\r\n")...)
	input = append(input, multipartOf(good)...)
	src := &scriptedSource{chunks: chunks(input, 5000), finalErr: io.EOF}
	rec := &recorder{}

	session := NewSession(testConfig(), staticOpener(src), nil, testCamera, DefaultParams(), rec)
	_ = session.Run(context.Background())

	if rec.frameCount() != 3 {
		t.Errorf("Expected 3 good frames, got %d", rec.frameCount())
	}
	if rec.countErrors(ErrDecode) != 1 {
		t.Errorf("Expected one decode error")
	}
	if rec.countErrors(ErrMalformedFrame) != 1 {
		t.Errorf("Expected one malformed frame error")
	}
	if rec.countErrors(ErrEndOfStream) != 1 {
		t.Errorf("Expected end of stream reported once")
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	rec := &recorder{}
	opener := OpenerFunc(func(ctx context.Context, url string) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	})

	session := NewSession(testConfig(), opener, nil, testCamera, DefaultParams(), rec)
	err := session.Run(context.Background())

	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Expected ErrConnect, got %v", err)
	}
	if session.State() != StateFailed {
		t.Errorf("Expected failed state, got %s", session.State())
	}
	if !errors.Is(session.Err(), ErrConnect) {
		t.Errorf("Expected Err() to keep the connect error, got %v", session.Err())
	}
	_, errs, _ := rec.snapshot()
	if len(errs) != 1 {
		t.Errorf("Expected one reported error, got %v", errs)
	}
}

func TestSession_ReadFailure(t *testing.T) {
	src := &scriptedSource{chunks: chunks(multipartOf([]byte("x")), 5000), finalErr: errors.New("connection reset by peer")}
	rec := &recorder{}

	session := NewSession(testConfig(), staticOpener(src), rawDecoder, testCamera, DefaultParams(), rec)
	err := session.Run(context.Background())

	if !errors.Is(err, ErrRead) {
		t.Fatalf("Expected ErrRead, got %v", err)
	}
	if rec.frameCount() != 1 {
		t.Errorf("Expected the frame before the failure, got %d", rec.frameCount())
	}
	if rec.countErrors(ErrRead) != 1 {
		t.Errorf("Expected read error reported once")
	}
	if src.closed.Load() != 1 {
		t.Errorf("Expected source closed once, got %d", src.closed.Load())
	}
}

func TestSession_RunOnlyOnce(t *testing.T) {
	src := &scriptedSource{finalErr: io.EOF}
	session := NewSession(testConfig(), staticOpener(src), nil, testCamera, DefaultParams(), &recorder{})
	_ = session.Run(context.Background())

	if err := session.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("Expected ErrAlreadyRun, got %v", err)
	}
}

func TestSession_CancelledBeforeConnect(t *testing.T) {
	opened := false
	opener := OpenerFunc(func(ctx context.Context, url string) (io.ReadCloser, error) {
		opened = true
		return nil, errors.New("unexpected")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := NewSession(testConfig(), opener, nil, testCamera, DefaultParams(), &recorder{})
	if err := session.Run(ctx); err != nil {
		t.Fatalf("Expected clean stop, got %v", err)
	}
	if opened {
		t.Error("Cancelled session must not connect")
	}
	if session.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", session.State())
	}
}

func TestSession_StopIsCooperative(t *testing.T) {
	src := newBlockingSource()
	rec := &recorder{}
	session := NewSession(testConfig(), staticOpener(src), rawDecoder, testCamera, DefaultParams(), rec)

	session.Start(context.Background())
	src.feed <- multipartOf([]byte("first"))
	waitFor(t, time.Second, func() bool { return rec.frameCount() == 1 })

	session.Stop()
	select {
	case <-session.Done():
		t.Fatal("Stop must not interrupt a blocked read")
	case <-time.After(50 * time.Millisecond):
	}

	// The read in flight completes with a whole frame; it must not be delivered.
	src.feed <- part([]byte("second"))
	src.feed <- []byte(Boundary)
	if !session.Wait(time.Second) {
		t.Fatal("Session did not exit after the read returned")
	}

	if rec.frameCount() != 1 {
		t.Errorf("Expected no frame after cancellation, got %d", rec.frameCount())
	}
	if session.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", session.State())
	}
	if session.Err() != nil {
		t.Errorf("Expected nil error after stop, got %v", session.Err())
	}
	if src.closed.Load() != 1 {
		t.Errorf("Expected source closed once, got %d", src.closed.Load())
	}
	_, errs, _ := rec.snapshot()
	if len(errs) != 0 {
		t.Errorf("Stop must not report errors, got %v", errs)
	}
}

func TestSession_AbortUnblocksRead(t *testing.T) {
	src := newBlockingSource()
	rec := &recorder{}
	session := NewSession(testConfig(), staticOpener(src), rawDecoder, testCamera, DefaultParams(), rec)

	session.Start(context.Background())
	waitFor(t, time.Second, func() bool { return session.State() == StateStreaming })

	session.Abort()
	if !session.Wait(time.Second) {
		t.Fatal("Abort did not end the session")
	}
	if session.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", session.State())
	}
	if src.closed.Load() != 1 {
		t.Errorf("Expected source closed once, got %d", src.closed.Load())
	}
}

func TestSession_SecondStartKeepsStopWorking(t *testing.T) {
	src := newBlockingSource()
	session := NewSession(testConfig(), staticOpener(src), rawDecoder, testCamera, DefaultParams(), &recorder{})

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return session.State() == StateStreaming })

	if err := session.Start(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("Expected ErrAlreadyRun, got %v", err)
	}
	if err := session.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("Expected ErrAlreadyRun from Run, got %v", err)
	}

	session.Stop()
	src.feed <- []byte("x")
	if !session.Wait(time.Second) {
		t.Fatalf("Session did not exit after Stop, state=%s", session.State())
	}
	if session.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", session.State())
	}
}

func TestSession_ConnectTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Host = server.URL + "/"
	rec := &recorder{}
	session := NewSession(cfg, NewHTTPOpener(200*time.Millisecond), nil, testCamera, DefaultParams(), rec)

	begin := time.Now()
	err := session.Run(context.Background())
	elapsed := time.Since(begin)

	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Expected ErrConnect, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Connect timeout took %v", elapsed)
	}
	if session.State() != StateFailed {
		t.Errorf("Expected failed, got %s", session.State())
	}
	_, errs, states := rec.snapshot()
	if len(errs) != 1 || rec.countErrors(ErrConnect) != 1 {
		t.Errorf("Expected exactly one connect error, got %v", errs)
	}
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateFailed {
		t.Errorf("Expected connecting then failed, got %v", states)
	}
}

func TestSession_AbortWhileConnecting(t *testing.T) {
	connecting := make(chan struct{})
	opener := OpenerFunc(func(ctx context.Context, url string) (io.ReadCloser, error) {
		close(connecting)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rec := &recorder{}
	session := NewSession(testConfig(), opener, nil, testCamera, DefaultParams(), rec)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-connecting

	session.Stop()
	if session.Wait(50 * time.Millisecond) {
		t.Fatal("Stop must not cancel the connect")
	}
	session.Abort()
	if !session.Wait(time.Second) {
		t.Fatal("Abort did not cancel the connect")
	}
	if session.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", session.State())
	}
	_, errs, _ := rec.snapshot()
	if len(errs) != 0 {
		t.Errorf("Abort must not report errors, got %v", errs)
	}
}

func TestSession_HTTPStream(t *testing.T) {
	payload := testJPEG(t, 32, 24, 77)
	queries := make(chan url.Values, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mobile" {
			http.NotFound(w, r)
			return
		}
		queries <- r.URL.Query()
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=myboundary")
		for i := 0; i < 2; i++ {
			w.Write(part(payload))
			w.(http.Flusher).Flush()
		}
		w.Write([]byte(Boundary))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Host = server.URL + "/"
	cfg.ChunkSize = DefaultChunkSize
	rec := &recorder{}

	session := NewSession(cfg, NewHTTPOpener(time.Second), nil, testCamera, Params{Width: 320, Height: 240, FPS: 5}, rec)
	err := session.Run(context.Background())

	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("Expected ErrEndOfStream, got %v", err)
	}
	if rec.frameCount() != 2 {
		t.Errorf("Expected 2 frames, got %d", rec.frameCount())
	}
	query := <-queries
	expected := map[string]string{"login": "root", "channelid": "cam1", "resolutionX": "320", "resolutionY": "240", "fps": "5"}
	for key, value := range expected {
		if query.Get(key) != value {
			t.Errorf("Expected %s=%s, got %q", key, value, query.Get(key))
		}
	}
	if session.BytesRead() == 0 {
		t.Error("Expected bytes read to be counted")
	}
}

func TestSession_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Host = server.URL
	session := NewSession(cfg, NewHTTPOpener(time.Second), nil, testCamera, DefaultParams(), &recorder{})

	if err := session.Run(context.Background()); !errors.Is(err, ErrConnect) {
		t.Errorf("Expected ErrConnect, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateStreaming:  "streaming",
		StateStopped:    "stopped",
		StateFailed:     "failed",
	}
	for state, expected := range tests {
		if state.String() != expected {
			t.Errorf("Expected %s, got %s", expected, state.String())
		}
	}
	if !StateStopped.Terminal() || !StateFailed.Terminal() || StateStreaming.Terminal() {
		t.Error("Unexpected Terminal() result")
	}
}
