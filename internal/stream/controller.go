package stream

import (
	"context"
	"sort"
	"sync"

	"camviewer/internal/model"
)

// Controller keeps at most one session per camera.
type Controller struct {
	cfg     Config
	opener  Opener
	decoder Decoder

	mu       sync.Mutex
	sessions map[string]*Session
	// turns serializes Start and Stop per camera so halting never holds mu.
	turns map[string]*sync.Mutex
}

func NewController(cfg Config, opener Opener, decoder Decoder) *Controller {
	cfg = cfg.withDefaults()
	if opener == nil {
		opener = NewHTTPOpener(cfg.ConnectTimeout)
	}
	if decoder == nil {
		decoder = JPEGDecoder{}
	}
	return &Controller{
		cfg:      cfg,
		opener:   opener,
		decoder:  decoder,
		sessions: make(map[string]*Session),
		turns:    make(map[string]*sync.Mutex),
	}
}

// Start stops the camera's current session, if any, and starts a new one in the background.
// The previous session gets StopTimeout to leave its read; after that its stream is closed
// under it and Start waits for it to exit.
func (c *Controller) Start(ctx context.Context, camera model.Camera, params Params, observer Observer) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	turn := c.turn(camera.ID)
	turn.Lock()
	defer turn.Unlock()

	if prev, ok := c.take(camera.ID); ok {
		c.halt(prev)
	}

	session := NewSession(c.cfg, c.opener, c.decoder, camera, params, observer)
	c.mu.Lock()
	c.sessions[camera.ID] = session
	c.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		c.take(camera.ID)
		return nil, err
	}

	go func() {
		<-session.Done()
		c.mu.Lock()
		if c.sessions[camera.ID] == session {
			delete(c.sessions, camera.ID)
		}
		c.mu.Unlock()
	}()

	return session, nil
}

// Stop ends the camera's session and reports whether one was running.
func (c *Controller) Stop(cameraID string) bool {
	turn := c.turn(cameraID)
	turn.Lock()
	defer turn.Unlock()

	session, ok := c.take(cameraID)
	if !ok {
		return false
	}
	c.halt(session)
	return true
}

// StopAll ends every session and waits for them to exit.
func (c *Controller) StopAll() {
	c.mu.Lock()
	stopping := make([]*Session, 0, len(c.sessions))
	for id, session := range c.sessions {
		session.Stop()
		stopping = append(stopping, session)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	for _, session := range stopping {
		c.wait(session)
	}
}

// Session returns the running session of a camera.
func (c *Controller) Session(cameraID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[cameraID]
	return session, ok
}

// Sessions returns the running sessions ordered by camera id.
func (c *Controller) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := make([]*Session, 0, len(c.sessions))
	for _, session := range c.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Camera().ID < sessions[j].Camera().ID
	})
	return sessions
}

func (c *Controller) turn(cameraID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	turn, ok := c.turns[cameraID]
	if !ok {
		turn = &sync.Mutex{}
		c.turns[cameraID] = turn
	}
	return turn
}

// take removes and returns the camera's session.
func (c *Controller) take(cameraID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[cameraID]
	if ok {
		delete(c.sessions, cameraID)
	}
	return session, ok
}

func (c *Controller) halt(session *Session) {
	session.Stop()
	c.wait(session)
}

// wait gives the session StopTimeout to leave cooperatively, then aborts it and waits
// until it has exited.
func (c *Controller) wait(session *Session) {
	if !session.Wait(c.cfg.StopTimeout) {
		session.Abort()
		<-session.Done()
	}
}
