package services

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseScenesBareArray(t *testing.T) {
	raw := `[
		{"imagePrompt": "a fox in a forest", "ContentText": "The fox wakes at dawn."},
		{"imagePrompt": "a fox by a river", "ContentText": "It follows the water east."}
	]`

	scenes, err := parseScenes(raw)
	if err != nil {
		t.Fatalf("parseScenes: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("got %d scenes, want 2", len(scenes))
	}
	if scenes[0].ImagePrompt != "a fox in a forest" {
		t.Errorf("scene 0 imagePrompt = %q", scenes[0].ImagePrompt)
	}
	if scenes[1].ContentText != "It follows the water east." {
		t.Errorf("scene 1 ContentText = %q", scenes[1].ContentText)
	}
}

func TestParseScenesWrappedObject(t *testing.T) {
	raw := `{"scenes": [{"imagePrompt": "p1", "ContentText": "c1"}]}`

	scenes, err := parseScenes(raw)
	if err != nil {
		t.Fatalf("parseScenes: %v", err)
	}
	if len(scenes) != 1 || scenes[0].ImagePrompt != "p1" || scenes[0].ContentText != "c1" {
		t.Fatalf("unexpected scenes: %+v", scenes)
	}
}

func TestParseScenesRejectsEmpty(t *testing.T) {
	for _, raw := range []string{`[]`, `{"scenes": []}`, `{"note": "nothing"}`, `not json`} {
		if _, err := parseScenes(raw); err == nil {
			t.Errorf("parseScenes(%q) succeeded, want error", raw)
		}
	}
}

func TestChunkTextShortTextSingleChunk(t *testing.T) {
	chunks := ChunkText("hello world", 4000)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("got %v, want single chunk", chunks)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if chunks := ChunkText("   ", 4000); chunks != nil {
		t.Fatalf("got %v, want nil", chunks)
	}
}

func TestChunkTextSplitsAtWordBoundaries(t *testing.T) {
	text := "alpha bravo charlie delta echo"
	chunks := ChunkText(text, 13)

	joined := ""
	for i, c := range chunks {
		if len(c) > 13 {
			t.Errorf("chunk %d exceeds limit: %q (%d chars)", i, c, len(c))
		}
		if i > 0 {
			joined += " "
		}
		joined += c
	}
	if joined != text {
		t.Fatalf("chunks lose content: %q vs %q", joined, text)
	}
}

func TestChunkTextHardSplitsOversizedWord(t *testing.T) {
	word := ""
	for i := 0; i < 25; i++ {
		word += "x"
	}
	chunks := ChunkText("tiny "+word, 10)
	for i, c := range chunks {
		if len(c) > 10 {
			t.Fatalf("chunk %d exceeds limit: %d chars", i, len(c))
		}
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	// "tiny" plus the 25 x's, whitespace dropped between chunks.
	if total != 4+25 {
		t.Fatalf("total chunk length = %d, want 29", total)
	}
}

func TestChunkTextHardSplitKeepsRunesIntact(t *testing.T) {
	// 3-byte runes with a limit that falls mid-rune: the split must back off
	// to the previous rune boundary instead of emitting broken UTF-8.
	word := strings.Repeat("世", 5) // 15 bytes
	chunks := ChunkText(word, 7)

	joined := ""
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, c)
		}
		if len(c) > 7 {
			t.Fatalf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
		joined += c
	}
	if joined != word {
		t.Fatalf("chunks lose content: %q vs %q", joined, word)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3 (2+2+1 runes)", len(chunks))
	}
}

func TestEstimateAudioDuration(t *testing.T) {
	// 150 words at 150wpm and speed 1.0 is one minute.
	text := ""
	for i := 0; i < 150; i++ {
		text += "word "
	}
	if got := estimateAudioDuration(text, 1.0); got != 60_000 {
		t.Fatalf("estimateAudioDuration = %d, want 60000", got)
	}
	if got := estimateAudioDuration("", 1.0); got != 0 {
		t.Fatalf("empty text duration = %d, want 0", got)
	}
}
