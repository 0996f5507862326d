package sqlite

import (
	"database/sql"
	"fmt"

	"camviewer/internal/model"
)

// ImageRepository implements repository.ImageRepository for SQLite.
type ImageRepository struct {
	db *DB
}

// NewImageRepository creates a new SQLite image repository.
func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Insert adds a new image record to the database.
func (r *ImageRepository) Insert(img *model.Image) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO images (filename, camera, timestamp, filepath, filesize, motion_pixels)
		VALUES (?, ?, ?, ?, ?, ?)
	`, img.Filename, img.Camera, img.Timestamp, img.FilePath, img.FileSize, img.MotionPixels)
	if err != nil {
		return 0, fmt.Errorf("failed to insert image: %w", err)
	}

	return result.LastInsertId()
}

// GetByFilename retrieves an image by its filename.
func (r *ImageRepository) GetByFilename(filename string) (*model.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var img model.Image
	err := r.db.Conn().QueryRow(`
		SELECT id, filename, camera, timestamp, filepath, filesize, motion_pixels
		FROM images WHERE filename = ?
	`, filename).Scan(&img.ID, &img.Filename, &img.Camera, &img.Timestamp, &img.FilePath, &img.FileSize, &img.MotionPixels)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &img, nil
}

// whereClause renders the filter conditions shared by GetAll and GetTotalCount.
func whereClause(filter *model.ImageFilter) (string, []interface{}) {
	query := " WHERE 1=1"
	args := []interface{}{}
	if filter == nil {
		return query, args
	}

	if filter.Camera != "" {
		query += " AND camera = ?"
		args = append(args, filter.Camera)
	}

	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}

	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}

	return query, args
}

// GetAll retrieves images based on filter criteria, newest first.
func (r *ImageRepository) GetAll(filter *model.ImageFilter) ([]model.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `SELECT id, filename, camera, timestamp, filepath, filesize, motion_pixels FROM images` +
		where + " ORDER BY timestamp DESC, id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []model.Image
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(&img.ID, &img.Filename, &img.Camera, &img.Timestamp, &img.FilePath, &img.FileSize, &img.MotionPixels); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}

	return images, rows.Err()
}

// GetTotalCount returns the total count of images matching the filter.
func (r *ImageRepository) GetTotalCount(filter *model.ImageFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM images`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}

	return count, nil
}

// GetTotalSize returns the summed file size of all stored images.
func (r *ImageRepository) GetTotalSize() (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var size int64
	if err := r.db.Conn().QueryRow(`SELECT COALESCE(SUM(filesize), 0) FROM images`).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to sum image sizes: %w", err)
	}
	return size, nil
}

// DeleteByFilename removes an image by its filename.
func (r *ImageRepository) DeleteByFilename(filename string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM images WHERE filename = ?`, filename); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// DeleteAll removes all images.
func (r *ImageRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM images`); err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}

	return nil
}
