package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/reelforge/reelforge/internal/fetch"
	"github.com/reelforge/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// AssemblyAI Transcription Service
// Submits the narration audio by URL and polls until the transcript is done,
// returning word-level timestamps in milliseconds for on-screen captions.
// ---------------------------------------------------------------------------

const (
	assemblyAIBaseURL      = "https://api.assemblyai.com"
	assemblyAIPollInterval = 3 * time.Second
	assemblyAIMaxWait      = 5 * time.Minute
)

// CaptionService generates word-level captions from narration audio.
type CaptionService struct {
	apiKey       string
	baseURL      string
	fetcher      *fetch.Client
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewCaptionService(fetcher *fetch.Client, apiKey string) *CaptionService {
	return &CaptionService{
		apiKey:       apiKey,
		baseURL:      assemblyAIBaseURL,
		fetcher:      fetcher,
		pollInterval: assemblyAIPollInterval,
		maxWait:      assemblyAIMaxWait,
	}
}

type assemblyAIWord struct {
	Text  string `json:"text"`
	Start int    `json:"start"` // milliseconds
	End   int    `json:"end"`   // milliseconds
}

type assemblyAITranscript struct {
	ID     string           `json:"id"`
	Status string           `json:"status"` // queued | processing | completed | error
	Error  string           `json:"error,omitempty"`
	Words  []assemblyAIWord `json:"words,omitempty"`
}

// GenerateCaptions submits audioURL for transcription and blocks until the
// transcript completes, fails, or the wait budget runs out. The returned
// words are sorted by start time with non-negative, ordered intervals.
func (s *CaptionService) GenerateCaptions(ctx context.Context, audioURL string) ([]models.CaptionWord, error) {
	submitBody, err := json.Marshal(map[string]string{"audio_url": audioURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transcript request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", s.apiKey)

	data, err := s.fetcher.Do(ctx, &fetch.Request{
		Method:   http.MethodPost,
		URL:      s.baseURL + "/v2/transcript",
		Body:     submitBody,
		Header:   header,
		Priority: fetch.PriorityHigh,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit transcript: %w", err)
	}

	var submitted assemblyAITranscript
	if err := json.Unmarshal(data, &submitted); err != nil {
		return nil, fmt.Errorf("failed to decode transcript submission: %w", err)
	}
	if submitted.ID == "" {
		return nil, fmt.Errorf("transcript submission returned no id")
	}

	log.Printf("[Captions] Transcript submitted (id=%s)", submitted.ID)

	deadline := time.Now().Add(s.maxWait)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transcription cancelled: %w", ctx.Err())
		case <-time.After(s.pollInterval):
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transcription timed out after %s (id=%s)", s.maxWait, submitted.ID)
		}

		data, err := s.fetcher.Do(ctx, &fetch.Request{
			Method:   http.MethodGet,
			URL:      s.baseURL + "/v2/transcript/" + submitted.ID,
			Header:   header.Clone(),
			Priority: fetch.PriorityLow,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to poll transcript %s: %w", submitted.ID, err)
		}

		var tr assemblyAITranscript
		if err := json.Unmarshal(data, &tr); err != nil {
			return nil, fmt.Errorf("failed to decode transcript poll: %w", err)
		}

		switch tr.Status {
		case "completed":
			return wordsToCaptions(tr.Words)
		case "error":
			return nil, fmt.Errorf("transcription failed: %s", tr.Error)
		default:
			// queued or processing; keep polling
		}
	}
}

func wordsToCaptions(words []assemblyAIWord) ([]models.CaptionWord, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("transcript completed with no words")
	}

	captions := make([]models.CaptionWord, 0, len(words))
	for i, w := range words {
		if w.Start < 0 || w.End < w.Start {
			return nil, fmt.Errorf("word %d has invalid interval [%d, %d]", i, w.Start, w.End)
		}
		captions = append(captions, models.CaptionWord{
			Text:    w.Text,
			StartMs: w.Start,
			EndMs:   w.End,
		})
	}

	sort.SliceStable(captions, func(i, j int) bool {
		return captions[i].StartMs < captions[j].StartMs
	})

	log.Printf("[Captions] Transcript complete (%d words, lastEnd=%dms)",
		len(captions), captions[len(captions)-1].EndMs)

	return captions, nil
}
