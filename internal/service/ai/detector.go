package ai

import (
	"fmt"
	"sync"

	"camviewer/internal/config"
	"camviewer/internal/logger"

	"gocv.io/x/gocv"
)

const (
	// MotionThreshold is the default number of changed pixels that counts as motion.
	MotionThreshold = 500
	// pixelDelta is the per-pixel grey level change that marks a pixel as changed.
	pixelDelta = 30
)

// CameraState holds motion detection state for a single camera.
type CameraState struct {
	previousMat gocv.Mat
	hasPrevious bool
	mutex       sync.Mutex
}

// DetectorService compares consecutive frames of each camera.
type DetectorService struct {
	cameraStates map[string]*CameraState
	statesMutex  sync.RWMutex
	threshold    int
	logger       *logger.Logger
}

// NewDetectorService creates a motion detector using the configured threshold.
func NewDetectorService(config *config.Config, logger *logger.Logger) *DetectorService {
	threshold := config.MotionThreshold
	if threshold <= 0 {
		threshold = MotionThreshold
	}
	return &DetectorService{
		cameraStates: make(map[string]*CameraState),
		threshold:    threshold,
		logger:       logger,
	}
}

// DetectMotion diffs the JPEG frame against the previous frame of the camera and
// returns the number of changed pixels and whether it exceeds the threshold.
// The first frame of a camera only primes the state.
func (s *DetectorService) DetectMotion(imageBytes []byte, cameraID string) (int, bool, error) {
	state := s.getCameraState(cameraID)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	mat, err := gocv.IMDecode(imageBytes, gocv.IMReadGrayScale)
	if err != nil {
		return 0, false, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return 0, false, fmt.Errorf("decoded image is empty")
	}

	if !state.hasPrevious || state.previousMat.Rows() != mat.Rows() || state.previousMat.Cols() != mat.Cols() {
		if state.hasPrevious {
			state.previousMat.Close()
		}
		state.previousMat = mat.Clone()
		state.hasPrevious = true
		s.logger.Info("Initialized motion detection for camera: %s", cameraID)
		return 0, false, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(state.previousMat, mat, &diff); err != nil {
		return 0, false, fmt.Errorf("failed to compute absolute difference: %w", err)
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, pixelDelta, 255, gocv.ThresholdBinary)

	changed := gocv.CountNonZero(thresh)

	state.previousMat.Close()
	state.previousMat = mat.Clone()

	return changed, changed > s.threshold, nil
}

// Reset forgets the previous frame of a camera, e.g. after its stream restarted
// with different parameters.
func (s *DetectorService) Reset(cameraID string) {
	s.statesMutex.Lock()
	state, ok := s.cameraStates[cameraID]
	delete(s.cameraStates, cameraID)
	s.statesMutex.Unlock()

	if ok {
		state.mutex.Lock()
		if state.hasPrevious {
			state.previousMat.Close()
			state.hasPrevious = false
		}
		state.mutex.Unlock()
	}
}

// Close releases every stored frame.
func (s *DetectorService) Close() {
	s.statesMutex.Lock()
	defer s.statesMutex.Unlock()
	for id, state := range s.cameraStates {
		state.mutex.Lock()
		if state.hasPrevious {
			state.previousMat.Close()
		}
		state.mutex.Unlock()
		delete(s.cameraStates, id)
	}
}

// getCameraState returns the per-camera state, creating it when absent.
func (s *DetectorService) getCameraState(cameraID string) *CameraState {
	s.statesMutex.RLock()
	state, exists := s.cameraStates[cameraID]
	s.statesMutex.RUnlock()

	if exists {
		return state
	}

	s.statesMutex.Lock()
	defer s.statesMutex.Unlock()
	// Double-check (may have been created by another goroutine)
	if state, exists := s.cameraStates[cameraID]; exists {
		return state
	}

	state = &CameraState{}
	s.cameraStates[cameraID] = state
	return state
}
