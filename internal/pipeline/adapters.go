package pipeline

import (
	"context"
	"fmt"

	"blogpilot/internal/prompts"
)

// ImageGenerator is the model surface the cover adapter needs.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, model, prompt string) ([]byte, string, error)
}

// CoverAdapter renders the cover prompt and asks the image model for a
// picture. It implements CoverGenerator.
type CoverAdapter struct {
	gen     ImageGenerator
	prompts *prompts.Set
	model   string
}

// NewCoverAdapter creates a cover generator for the given image model
func NewCoverAdapter(gen ImageGenerator, set *prompts.Set, model string) *CoverAdapter {
	return &CoverAdapter{gen: gen, prompts: set, model: model}
}

func (a *CoverAdapter) Generate(ctx context.Context, title string) ([]byte, string, error) {
	prompt, err := a.prompts.User("cover_image", map[string]string{"Title": title})
	if err != nil {
		return nil, "", fmt.Errorf("failed to render cover prompt: %w", err)
	}
	data, mimeType, err := a.gen.GenerateImage(ctx, a.model, prompt)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("image model %s returned no image", a.model)
	}
	return data, mimeType, nil
}

// ExtractorAdapter lets a plain function act as a TextExtractor.
type ExtractorAdapter func(path string) (string, error)

func (f ExtractorAdapter) File(path string) (string, error) { return f(path) }
