package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/reelforge/reelforge/internal/models"
)

// ScriptService turns a topic into an ordered list of scenes using OpenAI
// structured output (JSON mode). Each scene carries the narration text and
// the image prompt used to render its visual.
type ScriptService struct {
	client *openai.Client
	model  string
}

func NewScriptService(apiKey string) *ScriptService {
	return &ScriptService{
		client: openai.NewClient(apiKey),
		model:  "gpt-4o-mini",
	}
}

// GenerateScript produces the scene list for a video. The scene count is the
// model's choice; the duration preset only steers pacing through the prompt.
func (s *ScriptService) GenerateScript(ctx context.Context, topic string, style models.VisualStyle, duration models.DurationPreset) ([]models.ScriptScene, error) {
	userPrompt := buildScriptPrompt(topic, style, duration)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: scriptSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content

	scenes, err := parseScenes(rawContent)
	if err != nil {
		log.Printf("[Script] parse failed: %v", err)
		log.Printf("[Script] raw response: %s", truncateString(rawContent, 2000))
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	for i, scene := range scenes {
		var missing []string
		if strings.TrimSpace(scene.ImagePrompt) == "" {
			missing = append(missing, "imagePrompt")
		}
		if strings.TrimSpace(scene.ContentText) == "" {
			missing = append(missing, "ContentText")
		}
		if len(missing) > 0 {
			log.Printf("[Script] scene %d missing required fields: %v", i, missing)
			return nil, fmt.Errorf("scene %d missing required fields: %v", i, missing)
		}
	}

	log.Printf("[Script] script generated: %d scenes (topic=%q, style=%s, duration=%q)",
		len(scenes), truncateString(topic, 60), style, duration)

	return scenes, nil
}

// parseScenes accepts either a bare JSON array of scenes or an object wrapping
// the array under a single key ({"scenes": [...]}) — JSON mode sometimes wraps.
func parseScenes(raw string) ([]models.ScriptScene, error) {
	raw = strings.TrimSpace(raw)

	var scenes []models.ScriptScene
	if err := json.Unmarshal([]byte(raw), &scenes); err == nil {
		if len(scenes) == 0 {
			return nil, fmt.Errorf("script has no scenes")
		}
		return scenes, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
		return nil, fmt.Errorf("response is neither a scene array nor an object: %w", err)
	}
	for _, v := range wrapper {
		if err := json.Unmarshal(v, &scenes); err == nil && len(scenes) > 0 {
			return scenes, nil
		}
	}
	return nil, fmt.Errorf("no scene array found in response object")
}

const scriptSystemPrompt = `You are a short-form video scriptwriter. You write tight, engaging narration divided into scenes, each paired with a detailed AI image generation prompt for its visual. Respond only with JSON.`

func buildScriptPrompt(topic string, style models.VisualStyle, duration models.DurationPreset) string {
	return fmt.Sprintf(`Write a script to generate a %s video on topic: %s along with an AI image prompt in %s format for each scene. Give the result in JSON format with "imagePrompt" and "ContentText" as fields for each scene, no plain text.

- ContentText is the narration for the scene, written to be read aloud.
- imagePrompt is a complete, detailed scene description in the "%s" visual style: subject, setting, lighting, atmosphere, composed for portrait 9:16 framing.
- The narration across all scenes should total roughly %d seconds of speech.`,
		duration, topic, style, style, duration.Seconds())
}
