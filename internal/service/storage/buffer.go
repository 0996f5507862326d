package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"camviewer/internal/config"
	"camviewer/internal/logger"
	"camviewer/internal/model"
	"camviewer/internal/repository"
)

const (
	// ImageBufferLimit limits how many snapshots per camera are buffered between flushes.
	ImageBufferLimit = 10
	// ImageBufferFlushInterval defines how often (seconds) buffered snapshots are flushed to disk.
	ImageBufferFlushInterval = 30

	timestampLayout = "2006-01-02_15-04-05.000"
)

// BufferedImage holds a snapshot before it is written to disk.
type BufferedImage struct {
	Timestamp    time.Time
	Camera       string
	MotionPixels int
	Data         []byte
}

// BufferService buffers snapshots in memory and periodically flushes them to disk.
type BufferService struct {
	imagesDir     string
	limit         int
	flushInterval time.Duration
	images        []BufferedImage
	bufferCount   map[string]int
	mu            sync.Mutex
	logger        *logger.Logger
	imageRepo     repository.ImageRepository
	now           func() time.Time
}

// NewBufferService creates a new BufferService with the target directory and logger.
func NewBufferService(config *config.Config, logger *logger.Logger, imageRepo repository.ImageRepository) *BufferService {
	limit := config.ImageBufferLimit
	if limit <= 0 {
		limit = ImageBufferLimit
	}
	interval := config.ImageBufferFlushInterval
	if interval <= 0 {
		interval = ImageBufferFlushInterval
	}

	return &BufferService{
		imagesDir:     config.ImageDirectory,
		limit:         limit,
		flushInterval: time.Duration(interval) * time.Second,
		images:        make([]BufferedImage, 0),
		bufferCount:   make(map[string]int),
		logger:        logger,
		imageRepo:     imageRepo,
		now:           time.Now,
	}
}

// Run flushes on every tick until ctx is cancelled, then flushes once more.
func (s *BufferService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.FlushImages()
		case <-ctx.Done():
			s.FlushImages()
			return
		}
	}
}

// AddImage buffers a snapshot unless the camera already reached its limit for this
// flush period. It reports whether the snapshot was kept.
func (s *BufferService) AddImage(imageData []byte, cameraID string, motionPixels int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufferCount[cameraID] >= s.limit {
		return false
	}

	s.images = append(s.images, BufferedImage{
		Timestamp:    s.now(),
		Camera:       cameraID,
		MotionPixels: motionPixels,
		Data:         imageData,
	})
	s.bufferCount[cameraID]++
	s.logger.Info("Buffer size for camera %s: %d/%d", cameraID, s.bufferCount[cameraID], s.limit)
	return true
}

// Pending returns the number of buffered snapshots.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// FlushImages writes buffered snapshots to disk, records them in the repository and
// resets the buffer and per-camera counters. It returns how many were saved.
func (s *BufferService) FlushImages() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	savedCount := 0
	for _, image := range s.images {
		filename := Filename(image.Timestamp, image.Camera)
		fullpath := filepath.Join(s.imagesDir, filename)

		if err := os.WriteFile(fullpath, image.Data, 0644); err != nil {
			s.logger.Error("Error saving image %s: %v", filename, err)
			continue
		}

		if s.imageRepo != nil {
			dbImage := &model.Image{
				Filename:     filename,
				Camera:       image.Camera,
				Timestamp:    image.Timestamp,
				FilePath:     fullpath,
				FileSize:     int64(len(image.Data)),
				MotionPixels: image.MotionPixels,
			}

			if _, err := s.imageRepo.Insert(dbImage); err != nil {
				s.logger.Error("Error saving image to database %s: %v", filename, err)
				continue
			}
		}

		savedCount++
	}

	s.logger.Info("Flushed %d images to disk", savedCount)
	s.images = s.images[:0]
	s.bufferCount = make(map[string]int)
	return savedCount
}

// Filename names a snapshot file: <timestamp>_<camera>.jpg.
func Filename(ts time.Time, cameraID string) string {
	return fmt.Sprintf("%s_%s.jpg", ts.Format(timestampLayout), safeName(cameraID))
}

// ParseFilename recovers the timestamp and camera from a snapshot file name.
// The camera is returned in its file-safe form.
func ParseFilename(name string) (time.Time, string, error) {
	base := strings.TrimSuffix(name, ".jpg")
	if base == name || len(base) < len(timestampLayout)+2 || base[len(timestampLayout)] != '_' {
		return time.Time{}, "", fmt.Errorf("invalid snapshot file name: %s", name)
	}

	ts, err := time.ParseInLocation(timestampLayout, base[:len(timestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid timestamp in %s: %w", name, err)
	}
	return ts, base[len(timestampLayout)+1:], nil
}

// safeName keeps camera ids usable as part of a file name.
func safeName(id string) string {
	out := []byte(id)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
