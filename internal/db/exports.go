package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/models"
)

// ErrExportNotFound is returned when an export lookup matches no row.
var ErrExportNotFound = errors.New("export not found")

// ErrVideoNotReady is returned when an export is requested for a video that
// has not finished generating.
var ErrVideoNotReady = errors.New("video is not ready for export")

const exportExpiry = time.Hour

// InitiateExport creates an export record for a ready video inside one
// transaction: subscribers export free, free users pay the generation cost
// with a conditional debit, the export row is inserted with a one-hour
// expiry, and the video's export counter is bumped. Any failure rolls the
// whole thing back.
func (db *DB) InitiateExport(ctx context.Context, videoID, userID uuid.UUID) (*models.VideoExport, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin export transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.VideoStatus
	var subscription bool
	err = tx.QueryRowContext(ctx, `
		SELECT v.status, u.subscription
		FROM videos v
		JOIN users u ON u.id = $2
		WHERE v.id = $1 AND v.user_id = $2`,
		videoID, userID).Scan(&status, &subscription)
	if err == sql.ErrNoRows {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load video for export: %w", err)
	}
	if status != models.VideoStatusReady {
		return nil, ErrVideoNotReady
	}

	creditsUsed := 0
	if !subscription {
		creditsUsed = models.GenerationCost
		result, err := tx.ExecContext(ctx, `
			UPDATE users
			SET credits = credits - $2, updated_at = NOW()
			WHERE id = $1 AND credits >= $2`,
			userID, creditsUsed)
		if err != nil {
			return nil, fmt.Errorf("failed to debit export credits: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("failed to debit export credits: %w", err)
		} else if n == 0 {
			return nil, ErrInsufficientCredits
		}
	}

	export := &models.VideoExport{
		ID:          uuid.New(),
		VideoID:     videoID,
		UserID:      userID,
		Status:      models.ExportStatusPending,
		CreditsUsed: creditsUsed,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO video_exports (id, video_id, user_id, status, credits_used, expires_at)
		VALUES ($1, $2, $3, $4, $5, NOW() + $6::interval)
		RETURNING expires_at, created_at`,
		export.ID, export.VideoID, export.UserID, export.Status,
		export.CreditsUsed, exportExpiry.String()).
		Scan(&export.ExpiresAt, &export.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert export: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE videos
		SET export_count = export_count + 1, last_exported_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to bump export count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit export transaction: %w", err)
	}

	return export, nil
}

func (db *DB) GetExport(ctx context.Context, id uuid.UUID) (*models.VideoExport, error) {
	query := `
		SELECT id, video_id, user_id, status, storage_path, download_url,
			expires_at, credits_used, created_at, downloaded_at
		FROM video_exports
		WHERE id = $1
	`

	export := &models.VideoExport{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&export.ID, &export.VideoID, &export.UserID, &export.Status,
		&export.StoragePath, &export.DownloadURL,
		&export.ExpiresAt, &export.CreditsUsed, &export.CreatedAt, &export.DownloadedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export: %w", err)
	}
	return export, nil
}

func (db *DB) MarkExportProcessing(ctx context.Context, id uuid.UUID) error {
	return db.setExportStatus(ctx, id, models.ExportStatusProcessing)
}

func (db *DB) MarkExportFailed(ctx context.Context, id uuid.UUID) error {
	return db.setExportStatus(ctx, id, models.ExportStatusFailed)
}

// MarkExportReady records the rendered file's location and download URL.
func (db *DB) MarkExportReady(ctx context.Context, id uuid.UUID, storagePath, downloadURL string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE video_exports
		SET status = $2, storage_path = $3, download_url = $4
		WHERE id = $1`,
		id, models.ExportStatusReady, storagePath, downloadURL)
	if err != nil {
		return fmt.Errorf("failed to mark export ready: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrExportNotFound
	}
	return nil
}

func (db *DB) MarkExportDownloaded(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `
		UPDATE video_exports
		SET status = $2, downloaded_at = NOW()
		WHERE id = $1`,
		id, models.ExportStatusDownloaded)
	if err != nil {
		return fmt.Errorf("failed to mark export downloaded: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrExportNotFound
	}
	return nil
}

func (db *DB) setExportStatus(ctx context.Context, id uuid.UUID, status models.ExportStatus) error {
	result, err := db.ExecContext(ctx,
		`UPDATE video_exports SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update export status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrExportNotFound
	}
	return nil
}
