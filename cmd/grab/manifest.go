package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"camviewer/internal/model"
	"camviewer/internal/stream"

	"gopkg.in/yaml.v3"
)

// Manifest records how a set of frames was grabbed, next to the frames themselves.
type Manifest struct {
	Camera struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"camera"`

	Request struct {
		URL         string `yaml:"url"`
		ResolutionX int    `yaml:"resolution_x"`
		ResolutionY int    `yaml:"resolution_y"`
		FPS         int    `yaml:"fps"`
	} `yaml:"request"`

	Result struct {
		Started   time.Time `yaml:"started"`
		Duration  string    `yaml:"duration"`
		Requested int       `yaml:"frames_requested"`
		Saved     int       `yaml:"frames_saved"`
		Errors    int       `yaml:"errors"`
		BytesRead uint64    `yaml:"bytes_read"`
		State     string    `yaml:"state"`
	} `yaml:"result"`
}

func newManifest(camera model.Camera, session *stream.Session, started time.Time) *Manifest {
	m := &Manifest{}
	m.Camera.ID = camera.ID
	m.Camera.Name = camera.Name
	m.Request.URL = session.URL()
	m.Request.ResolutionX = session.Params().Width
	m.Request.ResolutionY = session.Params().Height
	m.Request.FPS = session.Params().FPS
	m.Result.Started = started
	return m
}

func (m *Manifest) write(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "manifest.yaml"), data, 0644)
}
