package types

import (
	"time"

	"marketchat/internal/models"
)

type HistoryPage struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
	HasMore    bool             `json:"hasMore"`
}

type RoomInfo struct {
	ID           string               `json:"id"`
	Participants []models.Participant `json:"participants"`
}

type PrepareUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size,omitempty"`
}

type PrepareUploadResponse struct {
	FileURL   string    `json:"fileUrl"`
	PublicURL string    `json:"publicUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
