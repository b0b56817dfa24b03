// Package compositor computes the frame timeline for a finished asset bundle:
// which image is on screen, at what scale, with which caption, and at what
// audio gain, for any frame index. It is a pure function of the bundle and
// the frame rate — the interactive preview and the final export both call the
// same code, so the two can never diverge.
package compositor

import (
	"math"

	"github.com/reelforge/reelforge/internal/models"
)

const (
	// DefaultFPS is the frame rate used when the caller does not specify one.
	DefaultFPS = 30

	// DefaultDurationFrames is returned when a bundle has no captions to
	// derive a duration from (4 seconds at 30fps).
	DefaultDurationFrames = 120

	// TrailingBufferMs is the fixed buffer appended after the last caption's
	// end time. Historically this value drifted between revisions; it is now
	// pinned at 850ms with no additional buffer frames.
	TrailingBufferMs = 850

	// audioFadeSeconds is the linear fade-out applied at the end of the
	// composition so the narration does not cut off abruptly.
	audioFadeSeconds = 0.75

	scaleMin = 1.0
	scaleMax = 1.8
)

// Snapshot is the derived view of a single frame.
type Snapshot struct {
	Frame      int
	ImageIndex int
	Scale      float64
	Caption    string
	AudioGain  float64
}

// Timeline derives per-frame state from a caption sequence and an ordered
// image list. The zero ForcedDurationFrames means "derive from captions".
type Timeline struct {
	Captions             []models.CaptionWord
	ImageCount           int
	FPS                  int
	ForcedDurationFrames int
}

func New(captions []models.CaptionWord, imageCount, fps int) *Timeline {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Timeline{Captions: captions, ImageCount: imageCount, FPS: fps}
}

// DurationInFrames is the total composition length. A forced duration wins;
// otherwise it is derived from the last caption's end time plus the fixed
// trailing buffer, rounded up to whole frames.
func (t *Timeline) DurationInFrames() int {
	if t.ForcedDurationFrames > 0 {
		return t.ForcedDurationFrames
	}
	if len(t.Captions) == 0 {
		return DefaultDurationFrames
	}
	last := t.Captions[len(t.Captions)-1]
	seconds := float64(last.EndMs+TrailingBufferMs) / 1000.0
	return int(math.Ceil(seconds * float64(t.FPS)))
}

// imageWindow is the per-image share of the total duration, in frames.
// Every image occupies an equal, contiguous, non-overlapping window.
func (t *Timeline) imageWindow() float64 {
	if t.ImageCount == 0 {
		return float64(t.DurationInFrames())
	}
	return float64(t.DurationInFrames()) / float64(t.ImageCount)
}

// ImageIndexAt returns the index of the image shown at the given frame,
// clamped to the final image at the last frame.
func (t *Timeline) ImageIndexAt(frame int) int {
	if t.ImageCount == 0 {
		return 0
	}
	idx := int(math.Floor(float64(frame) / t.imageWindow()))
	if idx < 0 {
		idx = 0
	}
	if idx > t.ImageCount-1 {
		idx = t.ImageCount - 1
	}
	return idx
}

// ScaleAt returns the on-screen scale of the active image. Within its window
// the scale travels linearly between the keyframes {start, mid, end}: even
// image indices run 1.0 → 1.8 → 1.0, odd indices run 1.8 → 1.0 → 1.8.
func (t *Timeline) ScaleAt(frame int) float64 {
	if t.ImageCount == 0 {
		return scaleMin
	}
	window := t.imageWindow()
	idx := t.ImageIndexAt(frame)
	start := float64(idx) * window

	keys := [3]float64{start, start + window/2, start + window}
	vals := [3]float64{scaleMin, scaleMax, scaleMin}
	if idx%2 != 0 {
		vals = [3]float64{scaleMax, scaleMin, scaleMax}
	}
	return interpolate(float64(frame), keys, vals)
}

// CaptionAt returns the text of the first caption whose [start, end] interval
// contains the frame's playback time, or "" when none matches.
func (t *Timeline) CaptionAt(frame int) string {
	currentMs := float64(frame) / float64(t.FPS) * 1000.0
	for _, w := range t.Captions {
		if currentMs >= float64(w.StartMs) && currentMs <= float64(w.EndMs) {
			return w.Text
		}
	}
	return ""
}

// AudioGainAt returns the narration volume for a frame: full gain until the
// final fade window, then a linear ramp to zero at the last frame.
func (t *Timeline) AudioGainAt(frame int) float64 {
	total := t.DurationInFrames()
	fadeFrames := AudioFadeFrames(t.FPS)
	fadeStart := total - fadeFrames
	return interpolate2(float64(frame), float64(fadeStart), float64(total-1), 1, 0)
}

// At computes the full snapshot for one frame. Preview and export share this.
func (t *Timeline) At(frame int) Snapshot {
	return Snapshot{
		Frame:      frame,
		ImageIndex: t.ImageIndexAt(frame),
		Scale:      t.ScaleAt(frame),
		Caption:    t.CaptionAt(frame),
		AudioGain:  t.AudioGainAt(frame),
	}
}

// ImageWindows reports each image's frame range (end exclusive), for the
// offline timeline endpoint.
func (t *Timeline) ImageWindows() []models.ImageWindow {
	windows := make([]models.ImageWindow, 0, t.ImageCount)
	window := t.imageWindow()
	for i := 0; i < t.ImageCount; i++ {
		windows = append(windows, models.ImageWindow{
			Index:      i,
			StartFrame: int(math.Floor(float64(i) * window)),
			EndFrame:   int(math.Floor(float64(i+1) * window)),
		})
	}
	if t.ImageCount > 0 {
		windows[t.ImageCount-1].EndFrame = t.DurationInFrames()
	}
	return windows
}

// AudioFadeFrames returns the length of the closing audio fade in frames.
func AudioFadeFrames(fps int) int {
	return int(math.Ceil(audioFadeSeconds * float64(fps)))
}

// FormatDuration renders a frame count as "MM:SS", rounding up to whole
// seconds the way the player displays it.
func FormatDuration(frames, fps int) string {
	if fps <= 0 {
		fps = DefaultFPS
	}
	totalSeconds := int(math.Ceil(float64(frames) / float64(fps)))
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	return twoDigits(minutes) + ":" + twoDigits(seconds)
}

func twoDigits(n int) string {
	if n < 0 {
		n = 0
	}
	return string([]byte{byte('0' + (n/10)%10), byte('0' + n%10)})
}

// interpolate maps x across three keyframes with linear segments, clamping
// outside the range.
func interpolate(x float64, keys [3]float64, vals [3]float64) float64 {
	if x <= keys[0] {
		return vals[0]
	}
	if x >= keys[2] {
		return vals[2]
	}
	if x <= keys[1] {
		return interpolate2(x, keys[0], keys[1], vals[0], vals[1])
	}
	return interpolate2(x, keys[1], keys[2], vals[1], vals[2])
}

// interpolate2 maps x from [x0, x1] onto [y0, y1] linearly, clamped.
func interpolate2(x, x0, x1, y0, y1 float64) float64 {
	if x1 <= x0 {
		return y1
	}
	if x <= x0 {
		return y0
	}
	if x >= x1 {
		return y1
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}
