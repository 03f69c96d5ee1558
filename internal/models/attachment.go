package models

import "time"

// FileAttachment is a file sent along with a user message.
type FileAttachment struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 payload
	Name     string `json:"name,omitempty"`
}

// UploadStatus tracks a staged upload before it is sent.
type UploadStatus string

const (
	UploadUploading UploadStatus = "uploading"
	UploadDone      UploadStatus = "done"
	UploadError     UploadStatus = "error"
)

// StagedUpload is an attachment waiting in the composer.
type StagedUpload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	MimeType  string          `json:"mime_type"`
	Size      int64           `json:"size"`
	Progress  int             `json:"progress"`
	Status    UploadStatus    `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	File      *FileAttachment `json:"-"`
}
