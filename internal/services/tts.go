package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// TTSService — common interface for text-to-speech providers
// The pipeline depends on this interface so a provider can be swapped (or
// faked in tests) without touching the generation flow.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int
	Format     string // "mp3", "wav", etc.
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	// GenerateSpeech converts a single chunk of text (at most TTSChunkLimit
	// characters) to audio using the provider's default voice settings.
	GenerateSpeech(ctx context.Context, text string) (*TTSResponse, error)
}

// TTSChunkLimit is the maximum text length sent to a provider in one request.
// Longer narration is split at word boundaries and the audio concatenated.
const TTSChunkLimit = 4000

// ChunkText splits text into pieces of at most limit characters, breaking at
// whitespace. A single word longer than the limit is hard-split rather than
// producing an oversized chunk.
func ChunkText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = TTSChunkLimit
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	for _, word := range strings.Fields(text) {
		for len(word) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			// Back off to a rune boundary so the split never cuts a
			// multi-byte character in half.
			cut := limit
			for cut > 0 && !utf8.RuneStart(word[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			chunks = append(chunks, word[:cut])
			word = word[cut:]
		}
		if word == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(word) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// SynthesizeChunked generates speech for narration of any length: the text is
// chunked, each chunk synthesized in order, and the audio concatenated in the
// same order. Any chunk failure fails the whole synthesis.
func SynthesizeChunked(ctx context.Context, tts TTSService, text string) (*TTSResponse, error) {
	chunks := ChunkText(text, TTSChunkLimit)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text to synthesize")
	}

	var audio []byte
	var totalMs int
	var format string
	for i, chunk := range chunks {
		resp, err := tts.GenerateSpeech(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d failed: %w", i+1, len(chunks), err)
		}
		audio = append(audio, resp.AudioData...)
		totalMs += resp.DurationMs
		format = resp.Format
	}

	return &TTSResponse{AudioData: audio, DurationMs: totalMs, Format: format}, nil
}

// estimateAudioDuration approximates speech duration in milliseconds from the
// word count at a typical narration pace, adjusted by the playback speed.
func estimateAudioDuration(text string, speed float64) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	if speed <= 0 {
		speed = 1.0
	}
	const wordsPerMinute = 150.0
	return int(float64(words) / (wordsPerMinute * speed) * 60_000)
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
