package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"camviewer/internal/config"
	"camviewer/internal/logger"
	"camviewer/internal/model"
	"camviewer/internal/repository"
	"camviewer/internal/service/events"
	"camviewer/internal/service/websocket"
	"camviewer/internal/stream"

	"github.com/mattn/go-mjpeg"
)

var (
	ErrUnknownCamera = errors.New("unknown camera")
	ErrNotStreamable = errors.New("camera does not allow live view")
	ErrNotWatching   = errors.New("no camera is being watched")
	ErrShutdown      = errors.New("manager is shut down")
)

// MotionDetector compares consecutive frames of a camera.
type MotionDetector interface {
	DetectMotion(imageBytes []byte, cameraID string) (int, bool, error)
	Reset(cameraID string)
}

// SnapshotBuffer keeps frames with motion until they are flushed to disk.
type SnapshotBuffer interface {
	AddImage(imageData []byte, cameraID string, motionPixels int) bool
}

// CameraDirectory fetches the camera listing from the camera server.
type CameraDirectory interface {
	FetchUntilSuccess(ctx context.Context, interval time.Duration, onError func(attempt int, err error)) ([]model.Camera, error)
}

// Dependencies are the collaborators of a Manager. Nil optional fields disable the feature.
type Dependencies struct {
	Controller *stream.Controller
	Directory  CameraDirectory
	Cameras    repository.CameraRepository // optional listing cache
	Detector   MotionDetector              // optional
	Snapshots  SnapshotBuffer              // optional
	Hub        *websocket.HubService
	MJPEG      *mjpeg.Stream // optional
	Emitter    events.Emitter
}

type ImageProcessingTask struct {
	Image  []byte
	Camera string
}

// Status describes the watched camera for the API.
type Status struct {
	Camera    string        `json:"camera,omitempty"`
	Name      string        `json:"name,omitempty"`
	SessionID string        `json:"session,omitempty"`
	State     string        `json:"state"`
	Params    stream.Params `json:"params"`
	Frames    uint64        `json:"frames"`
	BytesRead uint64        `json:"bytesRead"`
	Viewers   int           `json:"viewers"`
	LastError string        `json:"lastError,omitempty"`
}

// Manager owns the camera listing and the watched camera, and fans out the frames of the
// watched camera to viewers, the MJPEG re-stream, motion detection and event publishing.
type Manager struct {
	config      *config.Config
	logger      *logger.Logger
	controller  *stream.Controller
	directory   CameraDirectory
	cameraRepo  repository.CameraRepository
	detector    MotionDetector
	snapshots   SnapshotBuffer
	hub         *websocket.HubService
	mjpegStream *mjpeg.Stream
	emitter     events.Emitter

	processingQueue chan ImageProcessingTask
	eventQueue      chan events.Event
	processEveryNth int
	wg              sync.WaitGroup

	watchMu sync.Mutex // serializes Watch and StopWatching

	mu           sync.RWMutex
	cameras      []model.Camera
	current      string
	frameCounter int
	lastError    string
	stopping     bool // no new live view once set
	closed       bool // queues closed
}

func NewManager(cfg *config.Config, logger *logger.Logger, deps Dependencies) *Manager {
	every := cfg.ProcessingInterval
	if every <= 0 {
		every = 1
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	manager := &Manager{
		config:          cfg,
		logger:          logger,
		controller:      deps.Controller,
		directory:       deps.Directory,
		cameraRepo:      deps.Cameras,
		detector:        deps.Detector,
		snapshots:       deps.Snapshots,
		hub:             deps.Hub,
		mjpegStream:     deps.MJPEG,
		emitter:         emitter,
		processingQueue: make(chan ImageProcessingTask, 100),
		eventQueue:      make(chan events.Event, 64),
		processEveryNth: every,
	}

	manager.wg.Add(2)
	go manager.processingWorker()
	go manager.publishWorker()

	manager.logger.Info("Manager started - checking every %d frame(s) for motion", manager.processEveryNth)
	return manager
}

// LoadCameras serves the cached listing right away, then fetches the listing until it
// succeeds, caches it and starts watching the default camera.
func (m *Manager) LoadCameras(ctx context.Context) ([]model.Camera, error) {
	if m.cameraRepo != nil {
		cached, err := m.cameraRepo.GetAll()
		if err != nil {
			m.logger.Warning("Could not read cached cameras: %v", err)
		} else if len(cached) > 0 {
			m.setCameras(cached)
			m.logger.Info("Loaded %d cached cameras", len(cached))
		}
	}

	cameras, err := m.directory.FetchUntilSuccess(ctx, m.config.ListingRetryInterval, func(attempt int, err error) {
		m.logger.Warning("Camera listing attempt %d failed: %v", attempt, err)
	})
	if err != nil {
		return nil, err
	}

	m.setCameras(cameras)
	m.logger.Info("Received %d cameras from %s", len(cameras), m.config.CameraHost)

	if m.cameraRepo != nil {
		if err := m.cameraRepo.ReplaceAll(cameras); err != nil {
			m.logger.Error("Error caching cameras: %v", err)
		}
	}

	m.autoWatch(ctx)
	return cameras, nil
}

// autoWatch starts the configured default camera, or the first one that allows live view,
// unless a camera is already being watched.
func (m *Manager) autoWatch(ctx context.Context) {
	if m.CurrentCamera() != "" {
		return
	}

	target := ""
	for _, camera := range m.Cameras() {
		if !camera.Streamable() {
			continue
		}
		if camera.ID == m.config.DefaultCamera {
			target = camera.ID
			break
		}
		if target == "" && m.config.DefaultCamera == "" {
			target = camera.ID
		}
	}
	if target == "" {
		m.logger.Warning("No camera available for live view")
		return
	}

	if _, err := m.Watch(ctx, target, m.DefaultParams()); err != nil {
		m.logger.Error("Error watching camera %s: %v", target, err)
	}
}

func (m *Manager) setCameras(cameras []model.Camera) {
	m.mu.Lock()
	m.cameras = append([]model.Camera(nil), cameras...)
	m.mu.Unlock()
}

// Cameras returns a copy of the known cameras in listing order.
func (m *Manager) Cameras() []model.Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Camera(nil), m.cameras...)
}

// Camera looks a camera up in the listing, then in the cache.
func (m *Manager) Camera(id string) (model.Camera, bool) {
	m.mu.RLock()
	for _, camera := range m.cameras {
		if camera.ID == id {
			m.mu.RUnlock()
			return camera, true
		}
	}
	m.mu.RUnlock()

	if m.cameraRepo != nil {
		camera, err := m.cameraRepo.GetByID(id)
		if err != nil {
			m.logger.Error("Error reading camera %s from cache: %v", id, err)
		} else if camera != nil {
			return *camera, true
		}
	}
	return model.Camera{}, false
}

// DefaultParams returns the configured resolution and frame rate.
func (m *Manager) DefaultParams() stream.Params {
	return stream.Params{
		Width:  m.config.ResolutionX,
		Height: m.config.ResolutionY,
		FPS:    m.config.FPS,
	}
}

// CurrentCamera returns the id of the watched camera, empty when none.
func (m *Manager) CurrentCamera() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Watch switches the live view to the camera. The previous camera's session is stopped
// before the new one is started.
func (m *Manager) Watch(ctx context.Context, id string, params stream.Params) (*stream.Session, error) {
	camera, ok := m.Camera(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, id)
	}
	if !camera.Streamable() {
		return nil, fmt.Errorf("%w: %s", ErrNotStreamable, camera)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	previous := m.current
	m.current = ""
	m.mu.Unlock()

	if previous != "" && previous != id {
		m.controller.Stop(previous)
		m.resetDetector(previous)
		m.logger.Info("Stopped watching camera %s", previous)
	}

	m.mu.Lock()
	m.current = id
	m.frameCounter = 0
	m.lastError = ""
	m.mu.Unlock()

	session, err := m.controller.Start(ctx, camera, params, m)
	if err != nil {
		m.mu.Lock()
		m.current = ""
		m.mu.Unlock()
		return nil, err
	}

	m.logger.Info("Watching camera %s (%s) at %s, session %s", camera.ID, camera, params, session.ID())
	return session, nil
}

// StopWatching stops the live view.
func (m *Manager) StopWatching() error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	m.mu.Lock()
	current := m.current
	m.current = ""
	m.mu.Unlock()

	if current == "" {
		return ErrNotWatching
	}

	m.controller.Stop(current)
	m.resetDetector(current)
	m.logger.Info("Stopped watching camera %s", current)
	return nil
}

func (m *Manager) resetDetector(cameraID string) {
	if m.detector != nil {
		m.detector.Reset(cameraID)
	}
}

// Status reports the watched camera and its session.
func (m *Manager) Status() Status {
	m.mu.RLock()
	status := Status{
		Camera:    m.current,
		State:     stream.StateIdle.String(),
		LastError: m.lastError,
	}
	m.mu.RUnlock()

	if m.hub != nil {
		status.Viewers = m.hub.GetClientCount()
	}
	if status.Camera == "" {
		return status
	}

	if camera, ok := m.Camera(status.Camera); ok {
		status.Name = camera.Name
	}
	if session, ok := m.controller.Session(status.Camera); ok {
		status.SessionID = session.ID()
		status.State = session.State().String()
		status.Params = session.Params()
		status.Frames = session.Frames()
		status.BytesRead = session.BytesRead()
	} else {
		// The session ended on its own; a failed stream is reported through LastError.
		status.State = stream.StateStopped.String()
		if status.LastError != "" {
			status.State = stream.StateFailed.String()
		}
	}
	return status
}

// LatestFrame returns the most recent frame of the watched camera.
func (m *Manager) LatestFrame() (stream.Frame, bool) {
	current := m.CurrentCamera()
	if current == "" {
		return stream.Frame{}, false
	}
	session, ok := m.controller.Session(current)
	if !ok {
		return stream.Frame{}, false
	}
	return session.Latest()
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.hub
}

func (m *Manager) GetMJPEGStream() *mjpeg.Stream {
	return m.mjpegStream
}

// OnFrame is called from the session goroutine for every decoded frame.
func (m *Manager) OnFrame(frame stream.Frame) {
	m.mu.Lock()
	if frame.CameraID != m.current || m.closed {
		m.mu.Unlock()
		return
	}
	m.frameCounter++
	check := m.frameCounter%m.processEveryNth == 0
	if check {
		m.frameCounter = 0
	}
	m.mu.Unlock()

	if m.hub != nil {
		m.hub.BroadcastFrame(frame.CameraID, frame.Data)
	}
	if m.mjpegStream != nil {
		if err := m.mjpegStream.Update(frame.Data); err != nil {
			m.logger.Warning("MJPEG update failed: %v", err)
		}
	}

	if check && m.detector != nil {
		m.enqueue(ImageProcessingTask{Image: frame.Data, Camera: frame.CameraID})
	}
}

func (m *Manager) enqueue(task ImageProcessingTask) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.processingQueue <- task:
	default:
		m.logger.Warning("Processing queue full for camera %s - skipping motion detection", task.Camera)
	}
}

// OnError is called from the session goroutine. Malformed frames are only logged; every
// other error ends the session and is pushed to viewers and subscribers.
func (m *Manager) OnError(cameraID string, err error) {
	if stream.IsMalformed(err) {
		m.logger.Warning("Camera %s: %v", cameraID, err)
		return
	}

	m.logger.Error("Camera %s: %v", cameraID, err)

	m.mu.Lock()
	if cameraID == m.current {
		m.lastError = err.Error()
	}
	m.mu.Unlock()

	if m.hub != nil {
		m.hub.BroadcastError(cameraID, err)
	}
	m.emit(events.Event{Type: events.TypeError, Camera: cameraID, Message: err.Error()})
}

// OnStateChange is called from the session goroutine on every state transition.
func (m *Manager) OnStateChange(sessionID, cameraID string, state stream.State) {
	m.logger.Info("Camera %s session %s: %s", cameraID, sessionID, state)

	if m.hub != nil {
		m.hub.BroadcastState(cameraID, state.String())
	}
	m.emit(events.Event{Type: events.TypeState, Camera: cameraID, Session: sessionID, State: state.String()})
}

func (m *Manager) emit(event events.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.eventQueue <- event:
	default:
		m.logger.Warning("Event queue full - dropping %s event for camera %s", event.Type, event.Camera)
	}
}

// processingWorker runs motion detection off the session goroutine.
func (m *Manager) processingWorker() {
	defer m.wg.Done()

	for task := range m.processingQueue {
		pixels, motion, err := m.detector.DetectMotion(task.Image, task.Camera)
		if err != nil {
			m.logger.Error("Error detecting motion: %v", err)
			continue
		}
		if !motion {
			continue
		}

		m.logger.Info("Motion on camera %s: %d pixels changed", task.Camera, pixels)
		if m.snapshots != nil {
			m.snapshots.AddImage(task.Image, task.Camera, pixels)
		}
		m.emit(events.Event{Type: events.TypeMotion, Camera: task.Camera, MotionPixels: pixels})
	}
}

func (m *Manager) publishWorker() {
	defer m.wg.Done()

	for event := range m.eventQueue {
		if err := m.emitter.Publish(event); err != nil {
			m.logger.Warning("Error publishing %s event: %v", event.Type, err)
		}
	}
}

// Shutdown stops every session and waits for the workers to drain.
func (m *Manager) Shutdown() {
	m.watchMu.Lock()
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		m.watchMu.Unlock()
		return
	}
	m.stopping = true
	m.current = ""
	m.mu.Unlock()
	m.controller.StopAll()
	m.watchMu.Unlock()

	m.mu.Lock()
	m.closed = true
	close(m.processingQueue)
	close(m.eventQueue)
	m.mu.Unlock()

	m.wg.Wait()

	if err := m.emitter.Disconnect(); err != nil {
		m.logger.Error("Error disconnecting emitter: %v", err)
	}
	m.logger.Info("All processing workers stopped")
}
