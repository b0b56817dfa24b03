package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reelforge/reelforge/internal/models"
)

// ErrVideoNotFound is returned when a video lookup matches no row.
var ErrVideoNotFound = errors.New("video not found")

func (db *DB) CreateVideo(ctx context.Context, video *models.Video) error {
	query := `
		INSERT INTO videos (id, user_id, topic, style, duration, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	if video.ID == uuid.Nil {
		video.ID = uuid.New()
	}
	if video.Status == "" {
		video.Status = models.VideoStatusQueued
	}

	return db.QueryRowContext(
		ctx, query,
		video.ID, video.UserID, video.Topic, video.Style, video.Duration, video.Status,
	).Scan(&video.CreatedAt, &video.UpdatedAt)
}

const videoColumns = `
	id, user_id, topic, style, duration, status,
	script, audio_file_url, captions, image_urls,
	error_code, error_message, export_count, last_exported_at,
	created_at, updated_at
`

func scanVideo(row interface{ Scan(...interface{}) error }) (*models.Video, error) {
	video := &models.Video{}
	err := row.Scan(
		&video.ID, &video.UserID, &video.Topic, &video.Style, &video.Duration, &video.Status,
		&video.Script, &video.AudioFileURL, &video.Captions, pq.Array(&video.ImageURLs),
		&video.ErrorCode, &video.ErrorMessage, &video.ExportCount, &video.LastExportedAt,
		&video.CreatedAt, &video.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return video, nil
}

func (db *DB) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video, err := scanVideo(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return video, nil
}

// ListVideos returns a user's videos ordered by creation date (newest first).
func (db *DB) ListVideos(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Video, error) {
	query := `SELECT ` + videoColumns + `
		FROM videos
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	videos := []models.Video{}
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, *video)
	}
	return videos, rows.Err()
}

func (db *DB) CountVideos(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count videos: %w", err)
	}
	return count, nil
}

// UpdateVideoStatus advances the generation state machine. Stage completions
// touch only the status column; asset fields stay untouched until the bundle
// is finalized in one statement.
func (db *DB) UpdateVideoStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error {
	result, err := db.ExecContext(ctx,
		`UPDATE videos SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// UpdateVideoError marks a video failed with a stage-tagged error.
func (db *DB) UpdateVideoError(ctx context.Context, id uuid.UUID, code, message string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE videos
		SET status = $2, error_code = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1`,
		id, models.VideoStatusFailed, code, message)
	if err != nil {
		return fmt.Errorf("failed to record video error: %w", err)
	}
	return nil
}

// FinalizeVideo writes the complete asset bundle and flips the video to ready
// in a single statement. There is no partial persistence: a video either has
// all of its assets or none.
func (db *DB) FinalizeVideo(ctx context.Context, id uuid.UUID, script models.SceneList, audioURL string, captions models.CaptionList, imageURLs []string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE videos
		SET script = $2,
			audio_file_url = $3,
			captions = $4,
			image_urls = $5,
			status = $6,
			error_code = NULL,
			error_message = NULL,
			updated_at = NOW()
		WHERE id = $1`,
		id, script, audioURL, captions, pq.Array(imageURLs), models.VideoStatusReady)
	if err != nil {
		return fmt.Errorf("failed to finalize video: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrVideoNotFound
	}
	return nil
}
