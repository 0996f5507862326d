package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"camviewer/internal/dto"
	"camviewer/internal/logger"
	"camviewer/internal/model"
	"camviewer/internal/service"
	"camviewer/internal/stream"
)

// GetCamerasHandler returns the known cameras and the one being watched.
func GetCamerasHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		cameras := manager.Cameras()
		if cameras == nil {
			cameras = []model.Camera{}
		}
		writeJSON(w, http.StatusOK, dto.CameraList{Cameras: cameras, Current: manager.CurrentCamera()}, logger)
	}
}

// WatchCameraHandler handles POST /api/cameras/watch?id=&resolutionX=&resolutionY=&fps=.
// Missing parameters fall back to the configured defaults.
func WatchCameraHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		id := q.Get("id")
		if id == "" {
			http.Error(w, "Camera id required", http.StatusBadRequest)
			return
		}

		params, err := parseParams(q.Get("resolutionX"), q.Get("resolutionY"), q.Get("fps"), manager.DefaultParams())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// The session outlives the request.
		ctx := context.WithoutCancel(r.Context())
		if _, err := manager.Watch(ctx, id, params); err != nil {
			logger.Warning("Watch camera %s rejected: %v", id, err)
			http.Error(w, err.Error(), watchErrorStatus(err))
			return
		}

		writeJSON(w, http.StatusOK, manager.Status(), logger)
	}
}

func watchErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownCamera):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotStreamable):
		return http.StatusConflict
	case errors.Is(err, stream.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseParams reads optional positive integers, keeping defaults for empty values.
func parseParams(x, y, fps string, defaults stream.Params) (stream.Params, error) {
	params := defaults
	for _, field := range []struct {
		name  string
		value string
		dst   *int
	}{
		{"resolutionX", x, &params.Width},
		{"resolutionY", y, &params.Height},
		{"fps", fps, &params.FPS},
	} {
		if field.value == "" {
			continue
		}
		v, err := strconv.Atoi(field.value)
		if err != nil || v <= 0 {
			return params, fmt.Errorf("%s must be a positive integer", field.name)
		}
		*field.dst = v
	}
	return params, nil
}

// StopCameraHandler stops the live view.
func StopCameraHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := manager.StopWatching(); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, manager.Status(), logger)
	}
}

// StatusHandler reports the watched camera and its session state.
func StatusHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.Status(), logger)
	}
}

// FrameHandler serves the latest frame of the watched camera as a JPEG.
func FrameHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frame, ok := manager.LatestFrame()
		if !ok {
			http.Error(w, "No frame available", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Camera-Id", frame.CameraID)
		w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
		w.Write(frame.Data)
	}
}

// MJPEGHandler re-streams the watched camera as multipart/x-mixed-replace.
func MJPEGHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mjpegStream := manager.GetMJPEGStream()
		if mjpegStream == nil {
			http.NotFound(w, r)
			return
		}
		mjpegStream.ServeHTTP(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
