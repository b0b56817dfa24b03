package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reelforge/reelforge/internal/models"
)

func TestWriteCaptionSubtitles(t *testing.T) {
	words := []models.CaptionWord{
		{Text: "hello", StartMs: 0, EndMs: 480},
		{Text: "world", StartMs: 520, EndMs: 1100},
		{Text: "  ", StartMs: 1200, EndMs: 1300},
		{Text: "again", StartMs: 61500, EndMs: 62250},
	}

	path := filepath.Join(t.TempDir(), "captions.ass")
	if err := writeCaptionSubtitles(words, path); err != nil {
		t.Fatalf("writeCaptionSubtitles: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read subtitle file: %v", err)
	}
	content := string(data)

	for _, section := range []string{"[Script Info]", "[V4+ Styles]", "[Events]"} {
		if !strings.Contains(content, section) {
			t.Errorf("missing section %s", section)
		}
	}

	// One dialogue per non-blank word, uppercased, with word-level timing.
	if got := strings.Count(content, "Dialogue:"); got != 3 {
		t.Fatalf("dialogue lines = %d, want 3", got)
	}
	if !strings.Contains(content, "Dialogue: 0,0:00:00.00,0:00:00.48,Default,,0,0,0,,HELLO") {
		t.Errorf("first dialogue line wrong:\n%s", content)
	}
	if !strings.Contains(content, "Dialogue: 0,0:01:01.50,0:01:02.25,Default,,0,0,0,,AGAIN") {
		t.Errorf("minute-crossing dialogue line wrong:\n%s", content)
	}
}

func TestFormatASSTime(t *testing.T) {
	cases := []struct {
		ms   int
		want string
	}{
		{0, "0:00:00.00"},
		{480, "0:00:00.48"},
		{1000, "0:00:01.00"},
		{61500, "0:01:01.50"},
		{3600000, "1:00:00.00"},
		{-50, "0:00:00.00"},
	}
	for _, tc := range cases {
		if got := formatASSTime(tc.ms); got != tc.want {
			t.Errorf("formatASSTime(%d) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}

func TestEscapeFilterPath(t *testing.T) {
	got := escapeFilterPath(`C:\work\it's.ass`)
	if !strings.Contains(got, `\\`) || !strings.Contains(got, `\:`) {
		t.Errorf("escapeFilterPath = %q", got)
	}
}
