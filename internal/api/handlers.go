package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/compositor"
	"github.com/reelforge/reelforge/internal/db"
	"github.com/reelforge/reelforge/internal/models"
	"github.com/reelforge/reelforge/internal/queue"
	"github.com/reelforge/reelforge/internal/storage"
)

// upgradeURL is returned alongside insufficient-credit rejections so clients
// can send the user to the plan page.
const upgradeURL = "/pricing"

type Handler struct {
	db      *db.DB
	queue   *queue.Queue
	storage *storage.Storage
}

func NewHandler(database *db.DB, q *queue.Queue, stor *storage.Storage) *Handler {
	return &Handler{
		db:      database,
		queue:   q,
		storage: stor,
	}
}

// CreateVideo handles POST /v1/videos: it validates the request, gates on the
// user's balance, and enqueues the generation job. Credits are only checked
// here — the debit happens when the pipeline finishes.
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		respondError(w, http.StatusBadRequest, "Topic is required")
		return
	}
	if !models.ValidStyle(req.Style) {
		respondError(w, http.StatusBadRequest, "Invalid style. Allowed: realistic, cartoon, comic, watercolor, gta")
		return
	}
	if !models.ValidDuration(req.Duration) {
		respondError(w, http.StatusBadRequest, "Invalid duration. Allowed: 15 Seconds, 30 Seconds, 60 Seconds")
		return
	}

	user, err := h.db.GetUser(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	if user.Credits < models.GenerationCost {
		respondJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":       "Insufficient credits",
			"credits":     user.Credits,
			"required":    models.GenerationCost,
			"upgrade_url": upgradeURL,
		})
		return
	}

	video := &models.Video{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Topic:    strings.TrimSpace(req.Topic),
		Style:    req.Style,
		Duration: req.Duration,
		Status:   models.VideoStatusQueued,
	}

	if err := h.db.CreateVideo(r.Context(), video); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create video")
		return
	}

	jobID := uuid.New()
	job := &models.Job{
		ID:      jobID,
		VideoID: video.ID,
		Type:    "generate_video",
		Status:  models.JobStatusQueued,
	}
	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueGenerateVideo(r.Context(), video.ID, jobID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateVideoResponse{
		VideoID: video.ID,
		Status:  video.Status,
	})
}

// ListVideos handles GET /v1/videos
// Query params:
//   - user_id: required, the owner whose videos to list
//   - limit:   max results per page (default 20, max 100)
//   - offset:  number of results to skip (default 0)
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.db.CountVideos(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count videos")
		return
	}

	videos, err := h.db.ListVideos(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list videos")
		return
	}

	respondJSON(w, http.StatusOK, models.ListVideosResponse{
		Videos: videos,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetVideo handles GET /v1/videos/{id}
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return
	}

	video, err := h.db.GetVideo(r.Context(), videoID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Video not found")
		return
	}

	respondJSON(w, http.StatusOK, video)
}

// GetVideoTimeline handles GET /v1/videos/{id}/timeline?fps=30.
// It reports the deterministic frame layout for a ready video so a client can
// size its player and scrubber without rendering a frame.
func (h *Handler) GetVideoTimeline(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return
	}

	fps := compositor.DefaultFPS
	if f := r.URL.Query().Get("fps"); f != "" {
		parsed, err := strconv.Atoi(f)
		if err != nil || parsed < 1 || parsed > 120 {
			respondError(w, http.StatusBadRequest, "fps must be between 1 and 120")
			return
		}
		fps = parsed
	}

	video, err := h.db.GetVideo(r.Context(), videoID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Video not found")
		return
	}
	if video.Status != models.VideoStatusReady {
		respondError(w, http.StatusConflict, "Video is not ready")
		return
	}

	tl := compositor.New(video.Captions, len(video.ImageURLs), fps)
	frames := tl.DurationInFrames()

	respondJSON(w, http.StatusOK, models.TimelineResponse{
		VideoID:          video.ID,
		FPS:              fps,
		DurationInFrames: frames,
		Duration:         compositor.FormatDuration(frames, fps),
		ImageWindows:     tl.ImageWindows(),
	})
}

// GetVideoJobs handles GET /v1/videos/{id}/debug/jobs
func (h *Handler) GetVideoJobs(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return
	}

	jobs, err := h.db.GetVideoJobs(r.Context(), videoID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get jobs")
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

// CreateExport handles POST /v1/videos/{id}/exports. The debit, export row,
// and counter bump happen in one transaction; a rendering job is enqueued
// only after it commits.
func (h *Handler) CreateExport(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return
	}

	var req struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	export, err := h.db.InitiateExport(r.Context(), videoID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrVideoNotFound):
			respondError(w, http.StatusNotFound, "Video not found")
		case errors.Is(err, db.ErrVideoNotReady):
			respondError(w, http.StatusConflict, "Video is not ready for export")
		case errors.Is(err, db.ErrInsufficientCredits):
			respondJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error":       "Insufficient credits",
				"required":    models.GenerationCost,
				"upgrade_url": upgradeURL,
			})
		default:
			respondError(w, http.StatusInternalServerError, "Failed to create export")
		}
		return
	}

	jobID := uuid.New()
	job := &models.Job{
		ID:      jobID,
		VideoID: videoID,
		Type:    "render_export",
		Status:  models.JobStatusQueued,
	}
	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create render job")
		return
	}
	if err := h.queue.EnqueueRenderExport(r.Context(), videoID, export.ID, jobID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateExportResponse{
		ExportID:    export.ID,
		Status:      export.Status,
		CreditsUsed: export.CreditsUsed,
		ExpiresAt:   export.ExpiresAt,
	})
}

// GetExport handles GET /v1/exports/{id}
func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	exportID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid export ID")
		return
	}

	export, err := h.db.GetExport(r.Context(), exportID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Export not found")
		return
	}

	respondJSON(w, http.StatusOK, export)
}

// DownloadExport handles GET /v1/exports/{id}/download: it redirects to a
// signed URL for the rendered file and records the download.
func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	exportID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid export ID")
		return
	}

	export, err := h.db.GetExport(r.Context(), exportID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Export not found")
		return
	}

	if time.Now().After(export.ExpiresAt) {
		respondError(w, http.StatusGone, "Export has expired")
		return
	}
	if export.Status != models.ExportStatusReady && export.Status != models.ExportStatusDownloaded {
		respondError(w, http.StatusConflict, "Export is not ready")
		return
	}
	if export.StoragePath == nil {
		respondError(w, http.StatusConflict, "Export has no rendered file")
		return
	}

	// Signed URL valid for 1 hour
	signedURL, err := h.storage.GetSignedURL(r.Context(), *export.StoragePath, 3600)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	if err := h.db.MarkExportDownloaded(r.Context(), exportID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record download")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

// CreateUser handles POST /v1/users: account provisioning for the backend
// callers. New accounts start on the free tier with the monthly grant.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	if _, err := h.db.GetUserByEmail(r.Context(), req.Email); err == nil {
		respondError(w, http.StatusConflict, "A user with this email already exists")
		return
	} else if !errors.Is(err, db.ErrUserNotFound) {
		respondError(w, http.StatusInternalServerError, "Failed to check existing users")
		return
	}

	user := &models.User{
		Email:     req.Email,
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
	}
	if err := h.db.CreateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// GetQueueDepths handles GET /v1/debug/queues: backlog of both worker queues.
func (h *Handler) GetQueueDepths(w http.ResponseWriter, r *http.Request) {
	depths := map[string]int64{}
	for _, name := range []string{queue.QueueGenerateVideo, queue.QueueRenderExport} {
		n, err := h.queue.GetQueueLength(r.Context(), name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to read queue depth")
			return
		}
		depths[name] = n
	}
	respondJSON(w, http.StatusOK, depths)
}

// GetCredits handles GET /v1/users/{id}/credits
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.db.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}

	respondJSON(w, http.StatusOK, models.CreditsResponse{
		UserID:       user.ID,
		Credits:      user.Credits,
		Subscription: user.Subscription,
	})
}

// RefreshCredits handles POST /v1/users/{id}/credits/refresh: a monthly reset
// to the tier floor. Calling it twice in a month is a no-op.
func (h *Handler) RefreshCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.db.RefreshMonthlyCredits(r.Context(), userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to refresh credits")
		return
	}

	respondJSON(w, http.StatusOK, models.CreditsResponse{
		UserID:       user.ID,
		Credits:      user.Credits,
		Subscription: user.Subscription,
	})
}

// BillingEvent handles POST /v1/billing/events: the narrow contract with the
// payment processor. Activation and renewal both set the subscription flag
// and raise the balance to the subscriber floor without ever lowering it.
func (h *Handler) BillingEvent(w http.ResponseWriter, r *http.Request) {
	var req models.BillingEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	switch req.Type {
	case "subscription.activated", "subscription.renewed":
	default:
		respondError(w, http.StatusBadRequest, "Unsupported event type")
		return
	}

	user, err := h.db.ApplySubscriptionCredit(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to apply billing event")
		return
	}

	respondJSON(w, http.StatusOK, models.CreditsResponse{
		UserID:       user.ID,
		Credits:      user.Credits,
		Subscription: user.Subscription,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
