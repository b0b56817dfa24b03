package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reelforge/reelforge/internal/fetch"
)

func newTestCaptionService(t *testing.T, handler http.Handler) (*CaptionService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc := NewCaptionService(fetch.New(4, 5*time.Second), "test-key")
	svc.baseURL = srv.URL
	svc.pollInterval = 5 * time.Millisecond
	svc.maxWait = 2 * time.Second
	return svc, srv
}

func TestGenerateCaptionsPollsUntilComplete(t *testing.T) {
	var polls int32
	svc, _ := newTestCaptionService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("missing auth header")
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/transcript":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("bad submit body: %v", err)
			}
			if body["audio_url"] != "https://cdn.example.com/narration.mp3" {
				t.Errorf("audio_url = %q", body["audio_url"])
			}
			json.NewEncoder(w).Encode(assemblyAITranscript{ID: "tr_1", Status: "queued"})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/transcript/"):
			n := atomic.AddInt32(&polls, 1)
			if n < 3 {
				json.NewEncoder(w).Encode(assemblyAITranscript{ID: "tr_1", Status: "processing"})
				return
			}
			json.NewEncoder(w).Encode(assemblyAITranscript{
				ID:     "tr_1",
				Status: "completed",
				Words: []assemblyAIWord{
					{Text: "hello", Start: 0, End: 400},
					{Text: "world", Start: 450, End: 900},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))

	words, err := svc.GenerateCaptions(context.Background(), "https://cdn.example.com/narration.mp3")
	if err != nil {
		t.Fatalf("GenerateCaptions: %v", err)
	}
	if len(words) != 2 {
		t.Fatalf("got %d words, want 2", len(words))
	}
	if words[0].Text != "hello" || words[0].StartMs != 0 || words[0].EndMs != 400 {
		t.Errorf("word 0 = %+v", words[0])
	}
	if words[1].Text != "world" || words[1].StartMs != 450 || words[1].EndMs != 900 {
		t.Errorf("word 1 = %+v", words[1])
	}
	if atomic.LoadInt32(&polls) < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls)
	}
}

func TestGenerateCaptionsErrorStatus(t *testing.T) {
	svc, _ := newTestCaptionService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(assemblyAITranscript{ID: "tr_2", Status: "queued"})
			return
		}
		json.NewEncoder(w).Encode(assemblyAITranscript{ID: "tr_2", Status: "error", Error: "audio unreadable"})
	}))

	_, err := svc.GenerateCaptions(context.Background(), "https://cdn.example.com/bad.mp3")
	if err == nil || !strings.Contains(err.Error(), "audio unreadable") {
		t.Fatalf("err = %v, want transcription failure", err)
	}
}

func TestGenerateCaptionsSortsWords(t *testing.T) {
	svc, _ := newTestCaptionService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(assemblyAITranscript{ID: "tr_3", Status: "queued"})
			return
		}
		json.NewEncoder(w).Encode(assemblyAITranscript{
			ID:     "tr_3",
			Status: "completed",
			Words: []assemblyAIWord{
				{Text: "second", Start: 500, End: 900},
				{Text: "first", Start: 0, End: 400},
			},
		})
	}))

	words, err := svc.GenerateCaptions(context.Background(), "https://cdn.example.com/a.mp3")
	if err != nil {
		t.Fatalf("GenerateCaptions: %v", err)
	}
	if words[0].Text != "first" || words[1].Text != "second" {
		t.Fatalf("words not sorted by start: %+v", words)
	}
}

func TestGenerateCaptionsRejectsInvalidIntervals(t *testing.T) {
	if _, err := wordsToCaptions([]assemblyAIWord{{Text: "x", Start: 400, End: 100}}); err == nil {
		t.Fatal("want error for end < start")
	}
	if _, err := wordsToCaptions(nil); err == nil {
		t.Fatal("want error for empty transcript")
	}
}

func TestGenerateCaptionsContextCancelled(t *testing.T) {
	svc, _ := newTestCaptionService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(assemblyAITranscript{ID: "tr_4", Status: "queued"})
			return
		}
		json.NewEncoder(w).Encode(assemblyAITranscript{ID: "tr_4", Status: "processing"})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := svc.GenerateCaptions(ctx, "https://cdn.example.com/slow.mp3")
	if err == nil {
		t.Fatal("want cancellation error")
	}
}
