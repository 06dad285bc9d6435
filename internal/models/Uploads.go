package models

type UploadStatus string

const (
	UploadPreparing  UploadStatus = "preparing"
	UploadUploading  UploadStatus = "uploading"
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

func (s UploadStatus) Terminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// PendingUpload tracks an attachment until its message is emitted. It is
// never part of a Message.
type PendingUpload struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Size     int64        `json:"size"`
	Type     string       `json:"type"`
	Progress int          `json:"progress"`
	Status   UploadStatus `json:"status"`
	Err      string       `json:"error,omitempty"`
}

// Advance moves the progress percentage forward. Lower values are ignored.
func (u *PendingUpload) Advance(pct int) {
	if pct > 100 {
		pct = 100
	}
	if pct > u.Progress {
		u.Progress = pct
	}
}
