package sqlite

import (
	"database/sql"
	"fmt"

	"camviewer/internal/model"
)

const cameraColumns = `id, name, description, device_info, attached_to_server, is_disabled, is_sound_on,
	is_archiving_enabled, is_sound_archiving_enabled, allowed_realtime, allowed_archive,
	is_transmit_sound_on, archive_mode, archive_stream_type, is_face_analyst_enabled`

// CameraRepository implements repository.CameraRepository for SQLite.
type CameraRepository struct {
	db *DB
}

// NewCameraRepository creates a new SQLite camera repository.
func NewCameraRepository(db *DB) *CameraRepository {
	return &CameraRepository{db: db}
}

// ReplaceAll swaps the cached listing for cameras in a single transaction, keeping their order.
func (r *CameraRepository) ReplaceAll(cameras []model.Camera) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cameras`); err != nil {
		return fmt.Errorf("failed to clear cameras: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO cameras (position, ` + cameraColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, c := range cameras {
		if _, err := stmt.Exec(i, c.ID, c.Name, c.Description, c.DeviceInfo, c.AttachedToServer,
			c.IsDisabled, c.IsSoundOn, c.IsArchivingEnabled, c.IsSoundArchivingEnabled, c.AllowedRealtime,
			c.AllowedArchive, c.IsTransmitSoundOn, c.ArchiveMode, c.ArchiveStreamType, c.IsFaceAnalystEnabled); err != nil {
			return fmt.Errorf("failed to insert camera %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetAll returns the cached listing in its original order.
func (r *CameraRepository) GetAll() ([]model.Camera, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT ` + cameraColumns + ` FROM cameras ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cameras: %w", err)
	}
	defer rows.Close()

	var cameras []model.Camera
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, *c)
	}
	return cameras, rows.Err()
}

// GetByID returns one cached camera, or nil when unknown.
func (r *CameraRepository) GetByID(id string) (*model.Camera, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	c, err := scanCamera(r.db.Conn().QueryRow(`SELECT `+cameraColumns+` FROM cameras WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row scanner) (*model.Camera, error) {
	var c model.Camera
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.DeviceInfo, &c.AttachedToServer,
		&c.IsDisabled, &c.IsSoundOn, &c.IsArchivingEnabled, &c.IsSoundArchivingEnabled, &c.AllowedRealtime,
		&c.AllowedArchive, &c.IsTransmitSoundOn, &c.ArchiveMode, &c.ArchiveStreamType, &c.IsFaceAnalystEnabled)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan camera: %w", err)
	}
	return &c, nil
}
