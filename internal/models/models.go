package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type VideoStatus string

const (
	VideoStatusQueued            VideoStatus = "queued"
	VideoStatusScriptGenerated   VideoStatus = "script_generated"
	VideoStatusAudioGenerated    VideoStatus = "audio_generated"
	VideoStatusCaptionsGenerated VideoStatus = "captions_generated"
	VideoStatusImagesGenerated   VideoStatus = "images_generated"
	VideoStatusReady             VideoStatus = "ready"
	VideoStatusFailed            VideoStatus = "failed"
)

type VisualStyle string

const (
	StyleRealistic  VisualStyle = "realistic"
	StyleCartoon    VisualStyle = "cartoon"
	StyleComic      VisualStyle = "comic"
	StyleWaterColor VisualStyle = "watercolor"
	StyleGTA        VisualStyle = "gta"
)

// ValidStyle reports whether s names one of the supported visual styles.
func ValidStyle(s VisualStyle) bool {
	switch s {
	case StyleRealistic, StyleCartoon, StyleComic, StyleWaterColor, StyleGTA:
		return true
	}
	return false
}

// DurationPreset is one of the three target-length choices offered at creation.
type DurationPreset string

const (
	Duration15 DurationPreset = "15 Seconds"
	Duration30 DurationPreset = "30 Seconds"
	Duration60 DurationPreset = "60 Seconds"
)

func ValidDuration(d DurationPreset) bool {
	switch d {
	case Duration15, Duration30, Duration60:
		return true
	}
	return false
}

// Seconds returns the numeric target length of the preset.
func (d DurationPreset) Seconds() int {
	switch d {
	case Duration15:
		return 15
	case Duration30:
		return 30
	case Duration60:
		return 60
	}
	return 0
}

type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "pending"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusReady      ExportStatus = "ready"
	ExportStatusDownloaded ExportStatus = "downloaded"
	ExportStatusExpired    ExportStatus = "expired"
	ExportStatusFailed     ExportStatus = "failed"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Credit ledger constants. A generation always costs the same fixed amount;
// monthly resets restore the tier floor.
const (
	GenerationCost           = 10
	FreeMonthlyCredits       = 30
	SubscriberMonthlyCredits = 100
)

// NeedsMonthlyReset reports whether a balance reset is due: the last reset's
// month or year differs from now, or no reset was ever recorded.
func NeedsMonthlyReset(lastReset *time.Time, now time.Time) bool {
	if lastReset == nil {
		return true
	}
	return lastReset.Year() != now.Year() || lastReset.Month() != now.Month()
}

// ScriptScene is one narration segment paired with the prompt for its image.
// The JSON field names are the wire contract with the script service.
type ScriptScene struct {
	ImagePrompt string `json:"imagePrompt"`
	ContentText string `json:"ContentText"`
}

// CaptionWord is a single transcribed token with millisecond timing.
type CaptionWord struct {
	Text    string `json:"text"`
	StartMs int    `json:"start"`
	EndMs   int    `json:"end"`
}

// SceneList stores the ordered script as a JSONB column.
type SceneList []ScriptScene

func (s SceneList) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SceneList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported scan type %T for SceneList", value)
	}
	return json.Unmarshal(bytes, s)
}

// CaptionList stores the ordered caption words as a JSONB column.
type CaptionList []CaptionWord

func (c CaptionList) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *CaptionList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported scan type %T for CaptionList", value)
	}
	return json.Unmarshal(bytes, c)
}

// Models

type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	AvatarURL       *string    `json:"avatar_url,omitempty"`
	Credits         int        `json:"credits"`
	Subscription    bool       `json:"subscription"`
	LastCreditReset *time.Time `json:"last_credit_reset,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Video is the asset bundle for one generation: script, narration audio,
// captions, and per-scene images. Asset fields are written together in one
// statement when the pipeline finishes; afterwards only the export-tracking
// counters change.
type Video struct {
	ID             uuid.UUID      `json:"id"`
	UserID         uuid.UUID      `json:"user_id"`
	Topic          string         `json:"topic"`
	Style          VisualStyle    `json:"style"`
	Duration       DurationPreset `json:"duration"`
	Status         VideoStatus    `json:"status"`
	Script         SceneList      `json:"script,omitempty"`
	AudioFileURL   *string        `json:"audio_file_url,omitempty"`
	Captions       CaptionList    `json:"captions,omitempty"`
	ImageURLs      []string       `json:"image_urls,omitempty"`
	ErrorCode      *string        `json:"error_code,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	ExportCount    int            `json:"export_count"`
	LastExportedAt *time.Time     `json:"last_exported_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type VideoExport struct {
	ID           uuid.UUID    `json:"id"`
	VideoID      uuid.UUID    `json:"video_id"`
	UserID       uuid.UUID    `json:"user_id"`
	Status       ExportStatus `json:"status"`
	StoragePath  *string      `json:"storage_path,omitempty"`
	DownloadURL  *string      `json:"download_url,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at"`
	CreditsUsed  int          `json:"credits_used"`
	CreatedAt    time.Time    `json:"created_at"`
	DownloadedAt *time.Time   `json:"downloaded_at,omitempty"`
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	VideoID      uuid.UUID  `json:"video_id"`
	Type         string     `json:"type"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DTOs for API responses

type CreateUserRequest struct {
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type CreateVideoRequest struct {
	UserID   uuid.UUID      `json:"user_id"`
	Topic    string         `json:"topic"`
	Style    VisualStyle    `json:"style"`
	Duration DurationPreset `json:"duration"`
}

type CreateVideoResponse struct {
	VideoID uuid.UUID   `json:"video_id"`
	Status  VideoStatus `json:"status"`
}

type ListVideosResponse struct {
	Videos []Video `json:"videos"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// TimelineResponse reports the offline compositor computation for a bundle,
// so a client can size its player without rendering a frame.
type TimelineResponse struct {
	VideoID          uuid.UUID     `json:"video_id"`
	FPS              int           `json:"fps"`
	DurationInFrames int           `json:"duration_in_frames"`
	Duration         string        `json:"duration"` // "MM:SS"
	ImageWindows     []ImageWindow `json:"image_windows"`
}

type ImageWindow struct {
	Index      int `json:"index"`
	StartFrame int `json:"start_frame"`
	EndFrame   int `json:"end_frame"` // exclusive
}

type CreateExportResponse struct {
	ExportID    uuid.UUID    `json:"export_id"`
	Status      ExportStatus `json:"status"`
	CreditsUsed int          `json:"credits_used"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

type CreditsResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Credits      int       `json:"credits"`
	Subscription bool      `json:"subscription"`
}

// BillingEventRequest is the narrow contract with the out-of-band billing
// source: activation and renewal both set the subscription flag and raise the
// balance to the subscriber floor, never lowering it.
type BillingEventRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"` // "subscription.activated" | "subscription.renewed"
}
