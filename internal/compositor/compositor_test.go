package compositor

import (
	"math"
	"testing"

	"github.com/reelforge/reelforge/internal/models"
)

func testCaptions() []models.CaptionWord {
	return []models.CaptionWord{
		{Text: "hello", StartMs: 0, EndMs: 400},
		{Text: "there", StartMs: 400, EndMs: 900},
		{Text: "world", StartMs: 1000, EndMs: 1500},
		{Text: "again", StartMs: 20000, EndMs: 24500},
	}
}

func TestDurationDerivedFromLastCaption(t *testing.T) {
	tl := New(testCaptions(), 5, 30)

	// (24500 + 850) / 1000 * 30 = 760.5, rounded up.
	want := 761
	if got := tl.DurationInFrames(); got != want {
		t.Fatalf("DurationInFrames = %d, want %d", got, want)
	}
}

func TestDurationDefaultsWithoutCaptions(t *testing.T) {
	tl := New(nil, 3, 30)
	if got := tl.DurationInFrames(); got != DefaultDurationFrames {
		t.Fatalf("DurationInFrames = %d, want %d", got, DefaultDurationFrames)
	}
}

func TestForcedDurationWins(t *testing.T) {
	tl := New(testCaptions(), 5, 30)
	tl.ForcedDurationFrames = 900
	if got := tl.DurationInFrames(); got != 900 {
		t.Fatalf("DurationInFrames = %d, want 900", got)
	}
}

func TestImageWindowsPartitionTheTimeline(t *testing.T) {
	tl := New(testCaptions(), 5, 30)
	total := tl.DurationInFrames()

	// Every frame maps to exactly one image; indices are non-decreasing and
	// the last frame shows the last image.
	prev := 0
	counts := make(map[int]int)
	for f := 0; f < total; f++ {
		idx := tl.ImageIndexAt(f)
		if idx < prev {
			t.Fatalf("image index decreased at frame %d: %d -> %d", f, prev, idx)
		}
		if idx < 0 || idx > 4 {
			t.Fatalf("image index out of range at frame %d: %d", f, idx)
		}
		counts[idx]++
		prev = idx
	}
	if got := tl.ImageIndexAt(total - 1); got != 4 {
		t.Fatalf("last frame image index = %d, want 4", got)
	}
	for i := 0; i < 5; i++ {
		if counts[i] == 0 {
			t.Fatalf("image %d never shown", i)
		}
	}
}

func TestImageWindowsReport(t *testing.T) {
	tl := New(testCaptions(), 5, 30)
	windows := tl.ImageWindows()
	if len(windows) != 5 {
		t.Fatalf("got %d windows, want 5", len(windows))
	}
	if windows[0].StartFrame != 0 {
		t.Fatalf("first window starts at %d, want 0", windows[0].StartFrame)
	}
	if windows[4].EndFrame != tl.DurationInFrames() {
		t.Fatalf("last window ends at %d, want %d", windows[4].EndFrame, tl.DurationInFrames())
	}
	for i := 1; i < 5; i++ {
		if windows[i].StartFrame != windows[i-1].EndFrame {
			t.Fatalf("gap between windows %d and %d", i-1, i)
		}
	}
}

func TestScaleKeyframesByParity(t *testing.T) {
	tl := New(testCaptions(), 4, 30)
	window := float64(tl.DurationInFrames()) / 4

	for idx := 0; idx < 4; idx++ {
		start := int(math.Ceil(float64(idx) * window))
		mid := int(float64(idx)*window + window/2)

		atStart := tl.ScaleAt(start)
		atMid := tl.ScaleAt(mid)

		if idx%2 == 0 {
			if atStart > 1.05 {
				t.Errorf("even image %d: scale at window start = %.3f, want ~1.0", idx, atStart)
			}
			if atMid < 1.7 {
				t.Errorf("even image %d: scale at window mid = %.3f, want ~1.8", idx, atMid)
			}
		} else {
			if atStart < 1.75 {
				t.Errorf("odd image %d: scale at window start = %.3f, want ~1.8", idx, atStart)
			}
			if atMid > 1.1 {
				t.Errorf("odd image %d: scale at window mid = %.3f, want ~1.0", idx, atMid)
			}
		}
	}
}

func TestScaleStaysInRange(t *testing.T) {
	tl := New(testCaptions(), 5, 30)
	for f := 0; f < tl.DurationInFrames(); f++ {
		s := tl.ScaleAt(f)
		if s < 1.0 || s > 1.8 {
			t.Fatalf("scale out of range at frame %d: %.4f", f, s)
		}
	}
}

func TestCaptionSelection(t *testing.T) {
	tl := New(testCaptions(), 5, 30)

	// Frame 6 at 30fps is 200ms: inside "hello".
	if got := tl.CaptionAt(6); got != "hello" {
		t.Fatalf("CaptionAt(6) = %q, want %q", got, "hello")
	}
	// Frame 12 is 400ms: both "hello" and "there" contain it; first wins.
	if got := tl.CaptionAt(12); got != "hello" {
		t.Fatalf("CaptionAt(12) = %q, want %q (first match)", got, "hello")
	}
	// Frame 28 is ~933ms: gap between words.
	if got := tl.CaptionAt(28); got != "" {
		t.Fatalf("CaptionAt(28) = %q, want empty", got)
	}
	// Frame 660 is 22000ms: inside "again".
	if got := tl.CaptionAt(660); got != "again" {
		t.Fatalf("CaptionAt(660) = %q, want %q", got, "again")
	}
}

func TestAudioFade(t *testing.T) {
	tl := New(testCaptions(), 5, 30)
	total := tl.DurationInFrames()
	fadeFrames := int(math.Ceil(0.75 * 30)) // 23

	fadeStart := total - fadeFrames
	if g := tl.AudioGainAt(0); g != 1.0 {
		t.Fatalf("gain at frame 0 = %.3f, want 1.0", g)
	}
	if g := tl.AudioGainAt(fadeStart - 1); g != 1.0 {
		t.Fatalf("gain just before fade = %.3f, want 1.0", g)
	}
	if g := tl.AudioGainAt(total - 1); g != 0.0 {
		t.Fatalf("gain at last frame = %.3f, want 0.0", g)
	}
	mid := fadeStart + fadeFrames/2
	g := tl.AudioGainAt(mid)
	if g <= 0.0 || g >= 1.0 {
		t.Fatalf("gain mid-fade = %.3f, want strictly between 0 and 1", g)
	}
	// Monotonically non-increasing through the fade.
	prev := 1.0
	for f := fadeStart; f < total; f++ {
		cur := tl.AudioGainAt(f)
		if cur > prev {
			t.Fatalf("gain increased at frame %d: %.4f -> %.4f", f, prev, cur)
		}
		prev = cur
	}
}

func TestSnapshotDeterminism(t *testing.T) {
	a := New(testCaptions(), 5, 30)
	b := New(testCaptions(), 5, 30)
	for f := 0; f < a.DurationInFrames(); f += 7 {
		if a.At(f) != b.At(f) {
			t.Fatalf("snapshots diverge at frame %d", f)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		frames, fps int
		want        string
	}{
		{761, 30, "00:26"},
		{120, 30, "00:04"},
		{30, 30, "00:01"},
		{1, 30, "00:01"},
		{3600, 30, "02:00"},
		{3601, 30, "02:01"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.frames, c.fps); got != c.want {
			t.Errorf("FormatDuration(%d, %d) = %q, want %q", c.frames, c.fps, got, c.want)
		}
	}
}
