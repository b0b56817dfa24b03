// Package pipeline runs the generation flow for a video: script, narration
// audio, captions, then per-scene images, strictly in that order. Each stage
// advances the status column only; the asset bundle is persisted in a single
// statement at the end, and credits are debited only after that succeeds.
// The same worker also renders export jobs from the finished bundles.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/models"
	"github.com/reelforge/reelforge/internal/queue"
	"github.com/reelforge/reelforge/internal/retry"
	"github.com/reelforge/reelforge/internal/services"
)

// Retry policies per stage. Script generation retries fast; audio and media
// stages wait longer between attempts because provider backpressure is the
// usual failure.
const (
	scriptRetryAttempts = 3
	scriptRetryDelay    = 2 * time.Second

	mediaRetryAttempts = 5
	mediaRetryDelay    = 3 * time.Second

	retryMultiplier = 2.0

	// Renders are ffmpeg-heavy; keep fewer of them in flight than generation
	// jobs.
	exportRenderWorkers = 2
)

// ScriptGenerator produces the scene list for a topic.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic string, style models.VisualStyle, duration models.DurationPreset) ([]models.ScriptScene, error)
}

// CaptionGenerator transcribes narration audio into word-level captions.
type CaptionGenerator interface {
	GenerateCaptions(ctx context.Context, audioURL string) ([]models.CaptionWord, error)
}

// ImageGenerator renders one scene still from its prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, style models.VisualStyle) ([]byte, error)
}

// ExportRenderer renders a finished asset bundle into MP4 bytes.
type ExportRenderer interface {
	RenderVideo(ctx context.Context, in services.RenderInput) ([]byte, error)
}

// AssetFetcher retrieves stored assets by their public URL.
type AssetFetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// BlobStore is the asset storage surface the pipeline needs.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	GetPublicURL(path string) string
	ObjectPathFromURL(assetURL string) (string, bool)
	GenerateStoragePath(videoID uuid.UUID, filename string) string
}

// Store is the database surface the pipeline needs.
type Store interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateVideoStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error
	UpdateVideoError(ctx context.Context, id uuid.UUID, code, message string) error
	FinalizeVideo(ctx context.Context, id uuid.UUID, script models.SceneList, audioURL string, captions models.CaptionList, imageURLs []string) error
	DebitCredits(ctx context.Context, userID uuid.UUID, cost int) (int, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateJobError(ctx context.Context, id uuid.UUID, errorMessage string) error
	GetExport(ctx context.Context, id uuid.UUID) (*models.VideoExport, error)
	MarkExportProcessing(ctx context.Context, id uuid.UUID) error
	MarkExportReady(ctx context.Context, id uuid.UUID, storagePath, downloadURL string) error
	MarkExportFailed(ctx context.Context, id uuid.UUID) error
}

type Pipeline struct {
	store    Store
	queue    *queue.Queue
	blobs    BlobStore
	script   ScriptGenerator
	tts      services.TTSService
	captions CaptionGenerator
	images   ImageGenerator
	renderer ExportRenderer
	fetcher  AssetFetcher

	scriptAttempts int
	scriptDelay    time.Duration
	mediaAttempts  int
	mediaDelay     time.Duration
}

func New(store Store, q *queue.Queue, blobs BlobStore, script ScriptGenerator, tts services.TTSService, captions CaptionGenerator, images ImageGenerator, renderer ExportRenderer, fetcher AssetFetcher) *Pipeline {
	return &Pipeline{
		store:    store,
		queue:    q,
		blobs:    blobs,
		script:   script,
		tts:      tts,
		captions: captions,
		images:   images,
		renderer: renderer,
		fetcher:  fetcher,

		scriptAttempts: scriptRetryAttempts,
		scriptDelay:    scriptRetryDelay,
		mediaAttempts:  mediaRetryAttempts,
		mediaDelay:     mediaRetryDelay,
	}
}

// Start consumes generation and export render jobs until the context is
// cancelled.
func (p *Pipeline) Start(ctx context.Context, concurrency int) {
	log.Printf("[Pipeline] Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go p.processQueue(ctx, queue.QueueGenerateVideo)
	}
	for i := 0; i < exportRenderWorkers; i++ {
		go p.processQueue(ctx, queue.QueueRenderExport)
	}

	<-ctx.Done()
	log.Println("[Pipeline] Worker shutting down...")
}

func (p *Pipeline) processQueue(ctx context.Context, queueName string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := p.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				log.Printf("[Pipeline] Error dequeuing from %s: %v", queueName, err)
				continue
			}
			if job == nil {
				continue // No job available, retry
			}

			log.Printf("[Pipeline] Processing job %s (type: %s, video: %s)", job.ID, job.Type, job.VideoID)

			if err := p.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
				log.Printf("[Pipeline] Failed to update job status: %v", err)
			}

			if err := p.runJob(ctx, job); err != nil {
				log.Printf("[Pipeline] Job %s failed: %v", job.ID, err)
				p.store.UpdateJobError(ctx, job.ID, err.Error())
			} else {
				log.Printf("[Pipeline] Job %s completed successfully", job.ID)
				p.store.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded)
			}
		}
	}
}

func (p *Pipeline) runJob(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case "render_export":
		if job.ExportID == nil {
			return fmt.Errorf("render_export job %s has no export id", job.ID)
		}
		return p.ProcessExport(ctx, *job.ExportID)
	default:
		return p.ProcessVideo(ctx, job.VideoID)
	}
}

// ProcessVideo runs the full generation flow for one video. The stages run
// strictly in order; a stage failure marks the video failed with a
// stage-tagged error and nothing is persisted. Credits are debited only after
// the finished bundle is stored — a debit failure leaves the video ready.
func (p *Pipeline) ProcessVideo(ctx context.Context, videoID uuid.UUID) error {
	video, err := p.store.GetVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("failed to get video: %w", err)
	}

	// Balance may have dropped between enqueue and pickup; re-check before
	// spending anything on provider calls.
	user, err := p.store.GetUser(ctx, video.UserID)
	if err != nil {
		return p.failVideo(ctx, videoID, "user_lookup_failed", err)
	}
	if user.Credits < models.GenerationCost {
		err := fmt.Errorf("balance %d below generation cost %d", user.Credits, models.GenerationCost)
		return p.failVideo(ctx, videoID, "insufficient_credits", err)
	}

	// Stage 1: script
	scenes, err := retry.Do(ctx, p.scriptAttempts, p.scriptDelay, retryMultiplier,
		p.retryNotify(videoID, "script"),
		func(ctx context.Context) ([]models.ScriptScene, error) {
			return p.script.GenerateScript(ctx, video.Topic, video.Style, video.Duration)
		})
	if err != nil {
		return p.failVideo(ctx, videoID, "script_generation_failed", err)
	}
	if err := p.advance(ctx, videoID, models.VideoStatusScriptGenerated); err != nil {
		return err
	}

	// Stage 2: narration audio
	narration := joinNarration(scenes)
	audio, err := retry.Do(ctx, p.mediaAttempts, p.mediaDelay, retryMultiplier,
		p.retryNotify(videoID, "audio"),
		func(ctx context.Context) (*services.TTSResponse, error) {
			return services.SynthesizeChunked(ctx, p.tts, narration)
		})
	if err != nil {
		return p.failVideo(ctx, videoID, "audio_generation_failed", err)
	}

	audioPath := p.blobs.GenerateStoragePath(videoID, fmt.Sprintf("narration-%s.mp3", uuid.New()))
	if err := p.blobs.Upload(ctx, audioPath, audio.AudioData, "audio/mpeg"); err != nil {
		return p.failVideo(ctx, videoID, "audio_upload_failed", err)
	}
	audioURL := p.blobs.GetPublicURL(audioPath)
	if err := p.advance(ctx, videoID, models.VideoStatusAudioGenerated); err != nil {
		return err
	}

	// Stage 3: captions
	captions, err := retry.Do(ctx, p.mediaAttempts, p.mediaDelay, retryMultiplier,
		p.retryNotify(videoID, "captions"),
		func(ctx context.Context) ([]models.CaptionWord, error) {
			return p.captions.GenerateCaptions(ctx, audioURL)
		})
	if err != nil {
		return p.failVideo(ctx, videoID, "caption_generation_failed", err)
	}
	if err := p.advance(ctx, videoID, models.VideoStatusCaptionsGenerated); err != nil {
		return err
	}

	// Stage 4: one image per scene, in order
	imageURLs := make([]string, 0, len(scenes))
	for i, scene := range scenes {
		prompt := scene.ImagePrompt
		imageData, err := retry.Do(ctx, p.mediaAttempts, p.mediaDelay, retryMultiplier,
			p.retryNotify(videoID, fmt.Sprintf("image %d", i)),
			func(ctx context.Context) ([]byte, error) {
				return p.images.GenerateImage(ctx, prompt, video.Style)
			})
		if err != nil {
			return p.failVideo(ctx, videoID, "image_generation_failed",
				fmt.Errorf("scene %d: %w", i, err))
		}

		imagePath := p.blobs.GenerateStoragePath(videoID, fmt.Sprintf("scene-%d.png", i))
		if err := p.blobs.Upload(ctx, imagePath, imageData, "image/png"); err != nil {
			return p.failVideo(ctx, videoID, "image_upload_failed",
				fmt.Errorf("scene %d: %w", i, err))
		}
		imageURLs = append(imageURLs, p.blobs.GetPublicURL(imagePath))

		log.Printf("[Pipeline] Video %s: image %d/%d generated", videoID, i+1, len(scenes))
	}
	if err := p.advance(ctx, videoID, models.VideoStatusImagesGenerated); err != nil {
		return err
	}

	// Persist the whole bundle atomically and flip to ready.
	if err := p.store.FinalizeVideo(ctx, videoID, scenes, audioURL, captions, imageURLs); err != nil {
		return p.failVideo(ctx, videoID, "persist_failed", err)
	}

	// Debit after success. A failure here is surfaced but does not unwind the
	// finished video; the user keeps the assets and the balance is untouched.
	if _, err := p.store.DebitCredits(ctx, video.UserID, models.GenerationCost); err != nil {
		log.Printf("[Pipeline] Video %s finished but debit failed for user %s: %v",
			videoID, video.UserID, err)
		return fmt.Errorf("video ready but credit debit failed: %w", err)
	}

	log.Printf("[Pipeline] Video %s ready (%d scenes, %d captions)", videoID, len(scenes), len(captions))
	return nil
}

// ProcessExport renders one export: it pulls the bundle assets back from
// storage, renders them with the same frame timeline the preview uses, and
// uploads the MP4. A failure anywhere marks the export failed; the credits
// debited at initiation are not refunded.
func (p *Pipeline) ProcessExport(ctx context.Context, exportID uuid.UUID) error {
	export, err := p.store.GetExport(ctx, exportID)
	if err != nil {
		return fmt.Errorf("failed to get export: %w", err)
	}

	video, err := p.store.GetVideo(ctx, export.VideoID)
	if err != nil {
		return p.failExport(ctx, exportID, fmt.Errorf("failed to get video: %w", err))
	}
	if video.Status != models.VideoStatusReady || video.AudioFileURL == nil || len(video.ImageURLs) == 0 {
		return p.failExport(ctx, exportID,
			fmt.Errorf("video %s has no renderable bundle (status %s)", video.ID, video.Status))
	}

	if err := p.store.MarkExportProcessing(ctx, exportID); err != nil {
		log.Printf("[Pipeline] Export %s: failed to mark processing: %v", exportID, err)
	}

	images := make([][]byte, 0, len(video.ImageURLs))
	for i, url := range video.ImageURLs {
		data, err := p.fetchAsset(ctx, url)
		if err != nil {
			return p.failExport(ctx, exportID, fmt.Errorf("failed to fetch image %d: %w", i, err))
		}
		images = append(images, data)
	}
	audio, err := p.fetchAsset(ctx, *video.AudioFileURL)
	if err != nil {
		return p.failExport(ctx, exportID, fmt.Errorf("failed to fetch narration audio: %w", err))
	}

	mp4, err := p.renderer.RenderVideo(ctx, services.RenderInput{
		VideoID:  video.ID,
		Images:   images,
		Audio:    audio,
		Captions: video.Captions,
	})
	if err != nil {
		return p.failExport(ctx, exportID, fmt.Errorf("render failed: %w", err))
	}

	exportPath := p.blobs.GenerateStoragePath(video.ID, fmt.Sprintf("export-%s.mp4", exportID))
	if err := p.blobs.Upload(ctx, exportPath, mp4, "video/mp4"); err != nil {
		return p.failExport(ctx, exportID, fmt.Errorf("failed to upload export: %w", err))
	}

	downloadURL := p.blobs.GetPublicURL(exportPath)
	if err := p.store.MarkExportReady(ctx, exportID, exportPath, downloadURL); err != nil {
		return fmt.Errorf("export rendered but not marked ready: %w", err)
	}

	log.Printf("[Pipeline] Export %s ready (video %s, %d bytes)", exportID, video.ID, len(mp4))
	return nil
}

// fetchAsset pulls one bundle asset back: objects in our bucket come straight
// from storage, anything else over HTTP through the bounded fetch queue.
func (p *Pipeline) fetchAsset(ctx context.Context, assetURL string) ([]byte, error) {
	if path, ok := p.blobs.ObjectPathFromURL(assetURL); ok {
		return p.blobs.Download(ctx, path)
	}
	return p.fetcher.Get(ctx, assetURL)
}

func (p *Pipeline) failExport(ctx context.Context, exportID uuid.UUID, cause error) error {
	if dbErr := p.store.MarkExportFailed(ctx, exportID); dbErr != nil {
		log.Printf("[Pipeline] Failed to mark export %s failed: %v", exportID, dbErr)
	}
	return fmt.Errorf("export %s: %w", exportID, cause)
}

func (p *Pipeline) advance(ctx context.Context, videoID uuid.UUID, status models.VideoStatus) error {
	if err := p.store.UpdateVideoStatus(ctx, videoID, status); err != nil {
		return fmt.Errorf("failed to advance video %s to %s: %w", videoID, status, err)
	}
	log.Printf("[Pipeline] Video %s -> %s", videoID, status)
	return nil
}

func (p *Pipeline) failVideo(ctx context.Context, videoID uuid.UUID, code string, cause error) error {
	if dbErr := p.store.UpdateVideoError(ctx, videoID, code, cause.Error()); dbErr != nil {
		log.Printf("[Pipeline] Failed to record error for video %s: %v", videoID, dbErr)
	}
	return fmt.Errorf("%s: %w", code, cause)
}

func (p *Pipeline) retryNotify(videoID uuid.UUID, stage string) retry.Notify {
	return func(attempt, maxAttempts int, wait time.Duration, err error) {
		log.Printf("[Pipeline] Video %s: %s attempt %d/%d failed (%v), retrying in %v",
			videoID, stage, attempt-1, maxAttempts, err, wait)
	}
}

// joinNarration concatenates the per-scene narration into the single text the
// narrator reads.
func joinNarration(scenes []models.ScriptScene) string {
	parts := make([]string, 0, len(scenes))
	for _, s := range scenes {
		if t := strings.TrimSpace(s.ContentText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
