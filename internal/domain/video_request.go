// Package domain defines the persistence models of the video pipeline.
// These types are mapped with GORM and shared by the repository, service,
// and transport layers.
package domain

import "time"

// Attributes are the immutable intake fields of a request.
type Attributes struct {
	ActorID string
	Name    string
	City    string
	Phone   string
}

// VideoRequest is one personalized video order, from intake to delivery.
//
// Fields:
//   - ID: autoincrement primary key, assigned on insert.
//   - ActorID, Name, City, Phone: intake attributes, never updated.
//   - Status: lifecycle state; only moves along CanTransition edges.
//   - JobID: render engine job id; set once after submission.
//   - RenderRequest / RenderResponse: last payloads exchanged with the engine.
//   - VideoURL: final artifact location; set once on generated.
//   - NotificationResult: last delivery outcome (provider body or error).
//   - NotificationRef: provider message id used to correlate status callbacks.
type VideoRequest struct {
	ID                 uint64    `json:"id"         gorm:"primaryKey;autoIncrement"`
	ActorID            string    `json:"actor_id"   gorm:"type:varchar(64);not null"`
	Name               string    `json:"name"       gorm:"type:varchar(255);not null"`
	City               string    `json:"city"       gorm:"type:varchar(255);not null"`
	Phone              string    `json:"-"          gorm:"type:varchar(32);not null"`
	Status             Status    `json:"status"     gorm:"type:varchar(16);not null;default:'pending';index:idx_video_status;check:status IN ('pending','generating','generated','sent','failed','timeout')"`
	JobID              *string   `json:"job_id,omitempty"    gorm:"type:varchar(128);index:idx_video_job"`
	RenderRequest      Payload   `json:"-"`
	RenderResponse     Payload   `json:"-"`
	VideoURL           *string   `json:"video_url,omitempty" gorm:"type:text"`
	NotificationResult Payload   `json:"-"`
	NotificationRef    *string   `json:"-"          gorm:"type:varchar(128);index:idx_video_notification_ref"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName returns the database table name for VideoRequest.
func (VideoRequest) TableName() string { return "video_requests" }

// Job returns the render job id or "" when not submitted yet.
func (r *VideoRequest) Job() string {
	if r == nil || r.JobID == nil {
		return ""
	}
	return *r.JobID
}

// URL returns the artifact location or "" when not generated yet.
func (r *VideoRequest) URL() string {
	if r == nil || r.VideoURL == nil {
		return ""
	}
	return *r.VideoURL
}
