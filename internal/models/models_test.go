package models

import (
	"testing"
	"time"
)

func TestSceneListJSONBRoundTrip(t *testing.T) {
	scenes := SceneList{
		{ImagePrompt: "a lighthouse at dusk", ContentText: "The lamp turns for the first time."},
		{ImagePrompt: "waves on rocks", ContentText: "Below, the sea keeps its own schedule."},
	}

	value, err := scenes.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var decoded SceneList
	if err := decoded.Scan(value); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(decoded) != 2 || decoded[0] != scenes[0] || decoded[1] != scenes[1] {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestSceneListScanNil(t *testing.T) {
	var s SceneList
	if err := s.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if s != nil {
		t.Fatalf("got %v, want nil", s)
	}
	if err := s.Scan(42); err == nil {
		t.Fatal("Scan(int) should fail")
	}
}

func TestCaptionListJSONBRoundTrip(t *testing.T) {
	captions := CaptionList{
		{Text: "hello", StartMs: 0, EndMs: 420},
		{Text: "world", StartMs: 450, EndMs: 900},
	}

	value, err := captions.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var decoded CaptionList
	if err := decoded.Scan(value); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(decoded) != 2 || decoded[0] != captions[0] || decoded[1] != captions[1] {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestValidStyle(t *testing.T) {
	for _, s := range []VisualStyle{StyleRealistic, StyleCartoon, StyleComic, StyleWaterColor, StyleGTA} {
		if !ValidStyle(s) {
			t.Errorf("ValidStyle(%q) = false", s)
		}
	}
	for _, s := range []VisualStyle{"", "anime", "Realistic"} {
		if ValidStyle(s) {
			t.Errorf("ValidStyle(%q) = true", s)
		}
	}
}

func TestDurationPreset(t *testing.T) {
	cases := map[DurationPreset]int{
		Duration15: 15,
		Duration30: 30,
		Duration60: 60,
	}
	for preset, seconds := range cases {
		if !ValidDuration(preset) {
			t.Errorf("ValidDuration(%q) = false", preset)
		}
		if got := preset.Seconds(); got != seconds {
			t.Errorf("%q.Seconds() = %d, want %d", preset, got, seconds)
		}
	}
	if ValidDuration("45 Seconds") {
		t.Error("ValidDuration accepted an unsupported preset")
	}
	if got := DurationPreset("45 Seconds").Seconds(); got != 0 {
		t.Errorf("unknown preset Seconds() = %d, want 0", got)
	}
}

func TestNeedsMonthlyReset(t *testing.T) {
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	if !NeedsMonthlyReset(nil, now) {
		t.Error("nil last reset should need a reset")
	}

	sameMonth := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	if NeedsMonthlyReset(&sameMonth, now) {
		t.Error("same month should not need a reset")
	}

	prevMonth := time.Date(2026, time.February, 28, 23, 59, 0, 0, time.UTC)
	if !NeedsMonthlyReset(&prevMonth, now) {
		t.Error("previous month should need a reset")
	}

	// Same calendar month a year earlier still resets.
	prevYear := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	if !NeedsMonthlyReset(&prevYear, now) {
		t.Error("same month of previous year should need a reset")
	}
}
