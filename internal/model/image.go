package model

import "time"

// Image represents a stored snapshot record.
type Image struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	Camera       string    `json:"camera"`
	Timestamp    time.Time `json:"timestamp"`
	FilePath     string    `json:"filepath"`
	FileSize     int64     `json:"filesize"`
	MotionPixels int       `json:"motionPixels"`
}

// ImageFilter contains filtering options for querying images.
type ImageFilter struct {
	Camera    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}
