package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"camviewer/internal/config"
	"camviewer/internal/dto"
	"camviewer/internal/logger"
	"camviewer/internal/model"
	"camviewer/internal/repository"
)

const (
	// MaxImageDirectorySize defines the maximum size of the image directory in GB.
	MaxImageDirectorySize = 2
)

// GetPicturesFromDBHandler returns a filtered, paginated list of motion snapshots.
func GetPicturesFromDBHandler(cfg *config.Config, logger *logger.Logger, imageRepo repository.ImageRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.ImageFilter{
			Camera:    q.Get("camera"),
			StartDate: parseDate(q.Get("dateAfter")),
			EndDate:   endOfDay(parseDate(q.Get("dateBefore"))),
		}

		totalCount, err := imageRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting images: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		filter.Limit = limit
		filter.Offset = (page - 1) * limit
		images, err := imageRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying images from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalSize, err := imageRepo.GetTotalSize()
		if err != nil {
			logger.Error("Error getting image directory size: %v", err)
			totalSize = 0
		}

		pictures := make([]dto.ImageInfo, 0, len(images))
		for _, img := range images {
			pictures = append(pictures, dto.ImageInfo{
				Name:         img.Filename,
				Date:         img.Timestamp,
				TimeOfDay:    img.Timestamp,
				Camera:       img.Camera,
				MotionPixels: img.MotionPixels,
				Size:         img.FileSize,
			})
		}

		data := dto.ImagesData{
			Images:      pictures,
			ImagesDir:   cfg.ImageDirectory,
			Size:        totalSize,
			MaxSize:     MaxImageDirectorySize,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

// DeletePictureHandler removes a snapshot from disk and database.
func DeletePictureHandler(cfg *config.Config, logger *logger.Logger, imageRepo repository.ImageRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		filename := r.URL.Query().Get("filename")
		if !validFilename(filename) {
			http.Error(w, "Filename required", http.StatusBadRequest)
			return
		}

		filePath := filepath.Join(cfg.ImageDirectory, filename)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete file %s: %v", filePath, err)
		}

		if err := imageRepo.DeleteByFilename(filename); err != nil {
			logger.Error("Failed to delete from database: %v", err)
		}

		logger.Info("Deleted picture: %s", filename)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "filename": filename})
	}
}

// ClearPicturesWithDBHandler deletes all files from the image directory and clears the database.
func ClearPicturesWithDBHandler(cfg *config.Config, logger *logger.Logger, imageRepo repository.ImageRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		files, err := os.ReadDir(cfg.ImageDirectory)
		if err != nil && !os.IsNotExist(err) {
			logger.Error("Error reading pictures directory: %v", err)
			http.Error(w, "Unable to read pictures directory", http.StatusInternalServerError)
			return
		}

		for _, file := range files {
			if !file.IsDir() {
				if err := os.Remove(filepath.Join(cfg.ImageDirectory, file.Name())); err != nil {
					logger.Error("Error deleting file %s: %v", file.Name(), err)
				}
			}
		}

		if err := imageRepo.DeleteAll(); err != nil {
			logger.Error("Error clearing database: %v", err)
		}

		logger.Info("All pictures cleared from directory: %s", cfg.ImageDirectory)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ViewPictureHandler serves a single image file specified via the "image" query parameter.
func ViewPictureHandler(config *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		image := r.URL.Query().Get("image")
		if !validFilename(image) {
			http.Error(w, "Image parameter is required", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(config.ImageDirectory, image))
	}
}

// validFilename accepts plain file names only, nothing that walks out of the image directory.
func validFilename(name string) bool {
	return name != "" && name != "." && name != ".." && filepath.Base(name) == name
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// endOfDay turns an inclusive "before" date into the last instant of that day.
func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.AddDate(0, 0, 1).Add(-time.Nanosecond)
}
