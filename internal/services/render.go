package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/compositor"
	"github.com/reelforge/reelforge/internal/models"
)

const (
	outputWidth  = 1080
	outputHeight = 1920

	// Scale travel of the slow push-in, matching the player's keyframes.
	renderScaleMin = 1.0
	renderScaleMax = 1.8
)

// ASS subtitle style. Colors are &HAABBGGRR (note BGR, not RGB).
const (
	subtitleFontName = "Noto Sans"
	subtitleFontSize = 96

	assColorWhite  = "&H00FFFFFF"
	assColorBlack  = "&H00000000"
	assColorPurple = "&H00CC3299" // #9932CC in BGR

	subtitleOutline = 12
	subtitleMarginV = 220
)

// RenderInput is a finished asset bundle handed to the renderer as raw bytes.
// Images are in scene order; Captions carry the word timings the player uses.
type RenderInput struct {
	VideoID  uuid.UUID
	Images   [][]byte
	Audio    []byte
	Captions []models.CaptionWord
}

// RenderService turns an asset bundle into an MP4 by shelling out to ffmpeg.
// Every visual decision — how long each image holds, which way it scales,
// which caption word is up, where the audio fade starts — comes from the same
// frame timeline the preview player computes, so the file matches what the
// user saw.
type RenderService struct {
	tempDir string
}

func NewRenderService(tempDir string) (*RenderService, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create render temp dir: %w", err)
	}
	return &RenderService{tempDir: tempDir}, nil
}

// RenderVideo renders the bundle and returns the MP4 bytes. All intermediate
// files live under the service temp dir and are removed before returning.
func (s *RenderService) RenderVideo(ctx context.Context, in RenderInput) ([]byte, error) {
	if len(in.Images) == 0 {
		return nil, fmt.Errorf("no images to render")
	}
	if len(in.Audio) == 0 {
		return nil, fmt.Errorf("no narration audio to render")
	}

	workDir, err := os.MkdirTemp(s.tempDir, fmt.Sprintf("export-%s-", in.VideoID))
	if err != nil {
		return nil, fmt.Errorf("failed to create render workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	timeline := compositor.New(in.Captions, len(in.Images), compositor.DefaultFPS)
	windows := timeline.ImageWindows()

	log.Printf("[Render] Video %s: %d images, %d captions, %d frames",
		in.VideoID, len(in.Images), len(in.Captions), timeline.DurationInFrames())

	audioPath := filepath.Join(workDir, "narration.mp3")
	if err := os.WriteFile(audioPath, in.Audio, 0644); err != nil {
		return nil, fmt.Errorf("failed to stage narration audio: %w", err)
	}

	// One clip per image window, each exactly as many frames as the player
	// shows that image for.
	clipPaths := make([]string, 0, len(windows))
	for _, w := range windows {
		imagePath := filepath.Join(workDir, fmt.Sprintf("scene-%d.png", w.Index))
		if err := os.WriteFile(imagePath, in.Images[w.Index], 0644); err != nil {
			return nil, fmt.Errorf("failed to stage image %d: %w", w.Index, err)
		}

		clipPath := filepath.Join(workDir, fmt.Sprintf("clip-%d.mp4", w.Index))
		frames := w.EndFrame - w.StartFrame
		if err := s.renderImageClip(ctx, imagePath, clipPath, w.Index, frames); err != nil {
			return nil, fmt.Errorf("clip %d: %w", w.Index, err)
		}
		clipPaths = append(clipPaths, clipPath)
	}

	concatPath := filepath.Join(workDir, "concat.mp4")
	if err := s.concatClips(ctx, clipPaths, concatPath); err != nil {
		return nil, err
	}

	subtitlePath := ""
	if len(in.Captions) > 0 {
		subtitlePath = filepath.Join(workDir, "captions.ass")
		if err := writeCaptionSubtitles(in.Captions, subtitlePath); err != nil {
			return nil, err
		}
	}

	outputPath := filepath.Join(workDir, "export.mp4")
	if err := s.muxNarration(ctx, concatPath, audioPath, subtitlePath, timeline, outputPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered export: %w", err)
	}
	return data, nil
}

// renderImageClip produces a silent clip from one still. The zoompan
// expression reproduces the player's triangular scale travel: even images run
// 1.0 -> 1.8 -> 1.0 across their window, odd images run the reverse.
func (s *RenderService) renderImageClip(ctx context.Context, imagePath, clipPath string, imageIndex, frames int) error {
	if frames < 2 {
		frames = 2
	}
	span := renderScaleMax - renderScaleMin

	// abs(2*on/(d-1)-1) is 1 at the window edges and 0 at the middle.
	var zExpr string
	if imageIndex%2 == 0 {
		zExpr = fmt.Sprintf("%.1f+%.1f*(1-abs(2*on/%d-1))", renderScaleMin, span, frames-1)
	} else {
		zExpr = fmt.Sprintf("%.1f-%.1f*(1-abs(2*on/%d-1))", renderScaleMax, span, frames-1)
	}

	vf := fmt.Sprintf(
		"zoompan=z='%s':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d",
		zExpr, frames, outputWidth, outputHeight, compositor.DefaultFPS,
	)

	args := []string{
		"-i", imagePath,
		"-vf", vf,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-an",
		"-y",
		clipPath,
	}
	return s.run(ctx, "ffmpeg", args)
}

// concatClips joins the per-image clips without re-encoding.
func (s *RenderService) concatClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listPath := filepath.Join(filepath.Dir(outputPath), "concat_list.txt")
	var sb strings.Builder
	for _, path := range clipPaths {
		fmt.Fprintf(&sb, "file '%s'\n", path)
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}
	return s.run(ctx, "ffmpeg", args)
}

// muxNarration lays the narration under the concatenated video, burns in the
// caption subtitles, and applies the closing fade the player renders. The
// video stream sets the length; audio is padded with silence through the
// trailing buffer and faded out over the final window.
func (s *RenderService) muxNarration(ctx context.Context, videoPath, audioPath, subtitlePath string, timeline *compositor.Timeline, outputPath string) error {
	fps := timeline.FPS
	total := timeline.DurationInFrames()
	fadeFrames := compositor.AudioFadeFrames(fps)
	fadeStartSec := float64(total-fadeFrames) / float64(fps)
	fadeSec := float64(fadeFrames) / float64(fps)

	af := fmt.Sprintf("apad,afade=t=out:st=%.3f:d=%.3f", fadeStartSec, fadeSec)

	args := []string{
		"-i", videoPath,
		"-i", audioPath,
	}
	if subtitlePath != "" {
		args = append(args, "-vf", fmt.Sprintf("ass='%s'", escapeFilterPath(subtitlePath)))
		args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p")
	} else {
		args = append(args, "-c:v", "copy")
	}
	args = append(args,
		"-af", af,
		"-c:a", "aac",
		"-b:a", "192k",
		"-map", "0:v",
		"-map", "1:a",
		"-shortest",
		"-y",
		outputPath,
	)
	return s.run(ctx, "ffmpeg", args)
}

func (s *RenderService) run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (%s)", name, err, truncateString(stderr.String(), 300))
	}
	return nil
}

// writeCaptionSubtitles emits an ASS file showing one word at a time, exactly
// the word the player shows at that instant: bold uppercase in a purple pill,
// bottom-centered.
func writeCaptionSubtitles(words []models.CaptionWord, outputPath string) error {
	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", outputWidth)
	fmt.Fprintf(&sb, "PlayResY: %d\n", outputHeight)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&sb,
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,2,0,1,%d,0,2,40,40,%d,1\n\n",
		subtitleFontName, subtitleFontSize,
		assColorWhite, assColorWhite, assColorPurple, assColorBlack,
		subtitleOutline, subtitleMarginV,
	)

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, w := range words {
		text := strings.ToUpper(strings.TrimSpace(w.Text))
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(w.StartMs), formatASSTime(w.EndMs), text)
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write subtitle file: %w", err)
	}
	return nil
}

// formatASSTime converts milliseconds to the ASS timestamp format H:MM:SS.CC.
func formatASSTime(ms int) string {
	if ms < 0 {
		ms = 0
	}
	totalSec := ms / 1000
	hours := totalSec / 3600
	minutes := (totalSec % 3600) / 60
	secs := totalSec % 60
	centis := (ms % 1000) / 10
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centis)
}

// escapeFilterPath escapes characters ffmpeg filter strings treat specially.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}
