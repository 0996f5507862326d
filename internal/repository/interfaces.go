package repository

import (
	"camviewer/internal/model"
)

// ImageRepository defines the interface for snapshot records.
type ImageRepository interface {
	// Create operations
	Insert(img *model.Image) (int64, error)

	// Read operations
	GetByFilename(filename string) (*model.Image, error)
	GetAll(filter *model.ImageFilter) ([]model.Image, error)
	GetTotalCount(filter *model.ImageFilter) (int, error)
	GetTotalSize() (int64, error)

	// Delete operations
	DeleteByFilename(filename string) error
	DeleteAll() error
}

// CameraRepository caches the last camera listing received from the server.
type CameraRepository interface {
	ReplaceAll(cameras []model.Camera) error
	GetAll() ([]model.Camera, error)
	GetByID(id string) (*model.Camera, error)
}
