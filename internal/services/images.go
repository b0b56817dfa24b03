package services

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/genai"

	"github.com/reelforge/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// Gemini Image Generation Service
// Uses the Google Gen AI SDK to render one still image per scene from the
// script's image prompt, in the visual style chosen for the video.
// ---------------------------------------------------------------------------

const defaultImageModel = "gemini-2.5-flash-image"

// ImageService renders scene stills via Gemini. Each call is independent, so
// scenes can be generated back to back without shared client state.
type ImageService struct {
	apiKey string
	model  string
}

// NewImageService creates an image generation service. An empty model name
// uses the default image-capable Gemini model.
func NewImageService(apiKey, model string) *ImageService {
	if model == "" {
		model = defaultImageModel
	}
	return &ImageService{
		apiKey: apiKey,
		model:  model,
	}
}

// styleDirections maps each visual style to the rendering instruction
// appended to the scene prompt.
var styleDirections = map[models.VisualStyle]string{
	models.StyleRealistic:  "hyperrealistic photographic rendering, natural lighting, fine detail",
	models.StyleCartoon:    "vibrant cartoon rendering, bold outlines, saturated flat colors",
	models.StyleComic:      "comic book panel rendering, ink linework, halftone shading, dramatic contrast",
	models.StyleWaterColor: "soft watercolor painting, visible brushwork, gentle washes of color",
	models.StyleGTA:        "stylized video game loading-screen art, airbrushed shading, bold saturated palette",
}

// GenerateImage renders a single scene still and returns the raw image bytes.
func (s *ImageService) GenerateImage(ctx context.Context, prompt string, style models.VisualStyle) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	fullPrompt := composeImagePrompt(prompt, style)

	log.Printf("[Images] Generating image (model=%s, style=%s, promptLen=%d)", s.model, style, len(fullPrompt))

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(fullPrompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates in image response")
	}

	var textParts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			log.Printf("[Images] Image generated (%d bytes, %s)", len(part.InlineData.Data), part.InlineData.MIMEType)
			return part.InlineData.Data, nil
		}
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}

	if len(textParts) > 0 {
		return nil, fmt.Errorf("gemini returned text instead of image: %s", truncateString(textParts[0], 200))
	}
	return nil, fmt.Errorf("no image data found in response (%d parts, none with inline data)",
		len(resp.Candidates[0].Content.Parts))
}

// composeImagePrompt builds the full prompt: scene description plus the style
// direction and framing for portrait playback.
func composeImagePrompt(scenePrompt string, style models.VisualStyle) string {
	direction, ok := styleDirections[style]
	if !ok {
		direction = styleDirections[models.StyleRealistic]
	}
	return fmt.Sprintf("%s\n\nStyle: %s.\nOutput: portrait 9:16 framing, highest quality.", scenePrompt, direction)
}
