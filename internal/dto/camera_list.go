package dto

import "camviewer/internal/model"

// CameraList is the payload of the camera listing endpoint.
type CameraList struct {
	Cameras []model.Camera `json:"cameras"`
	Current string         `json:"current,omitempty"`
}
