// Package writer generates articles and related copy with bounded retries and
// a one-shot fallback model.
package writer

import (
	"context"
	"fmt"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/llm"
	"blogpilot/internal/logger"
	"blogpilot/internal/prompts"
	"blogpilot/internal/retry"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	// InputLimit caps the source text sent to the writer, in runes.
	InputLimit = 80000
	// PreviewLimit caps the article text used for promo and SEO prompts, in runes.
	PreviewLimit = 3000
	// ReviewPreviewLimit caps the source and article text sent to the reviewer.
	ReviewPreviewLimit = 6000
)

// Generator is the model surface the writer needs.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, opts llm.TextGenerationOptions) (llm.Generation, error)
}

// Config selects models and limits.
type Config struct {
	Model         string // article generation and rewrites
	FallbackModel string // one extra cycle on non-auth failure; empty disables
	FastModel     string // promo, SEO, tagging, series checks; defaults to Model
	ReviewModel   string // quality review; defaults to FastModel
	MaxTokens     int32
	FastMaxTokens int32
	Temperature   float32
	Policy        retry.Policy
}

// Writer wraps a Generator with prompt rendering, retry and fallback.
type Writer struct {
	gen     Generator
	prompts *prompts.Set
	cfg     Config
	log     zerolog.Logger
}

// New returns a Writer. A nil prompt set loads the embedded templates.
func New(gen Generator, set *prompts.Set, cfg Config) *Writer {
	if set == nil {
		set = prompts.MustLoad()
	}
	if cfg.Model == "" {
		cfg.Model = llm.DefaultModel
	}
	if cfg.FastModel == "" {
		cfg.FastModel = cfg.Model
	}
	if cfg.ReviewModel == "" {
		cfg.ReviewModel = cfg.FastModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.FastMaxTokens == 0 {
		cfg.FastMaxTokens = 2048
	}
	return &Writer{gen: gen, prompts: set, cfg: cfg, log: logger.With("component", "writer")}
}

// Prompts exposes the template set so callers render their own prompts.
func (w *Writer) Prompts() *prompts.Set { return w.prompts }

// Models returns the primary and fallback model names.
func (w *Writer) Models() (primary, fallback string) { return w.cfg.Model, w.cfg.FallbackModel }

// Request is one model call. Validate, when set, runs on the raw text and a
// failure counts as a failed attempt.
type Request struct {
	Task      string
	Model     string
	System    string
	Prompt    string
	Schema    *genai.Schema
	MaxTokens int32
	Validate  func(text string) error
}

// Call runs req on its model with bounded retries. When every attempt fails
// with a non-auth error and a distinct fallback model is configured, one more
// cycle runs on the fallback; if that fails too the error is
// KindFallbackExhaust.
func (w *Writer) Call(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = w.cfg.Model
	}
	text, err := w.cycle(ctx, req, req.Model)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil || core.IsKind(err, core.KindAuth) {
		return "", err
	}

	fallback := w.cfg.FallbackModel
	if fallback == "" || fallback == req.Model {
		return "", err
	}
	w.log.Warn().Err(err).
		Str("task", req.Task).
		Str("model", req.Model).
		Str("fallback", fallback).
		Msg("Primary model failed, switching to fallback")

	text, ferr := w.cycle(ctx, req, fallback)
	if ferr == nil {
		return text, nil
	}
	if ctx.Err() != nil || core.IsKind(ferr, core.KindAuth) {
		return "", ferr
	}
	return "", core.E(core.KindFallbackExhaust, "writer."+req.Task,
		fmt.Sprintf("primary %s and fallback %s both failed (primary: %v)", req.Model, fallback, err), ferr)
}

func (w *Writer) cycle(ctx context.Context, req Request, model string) (string, error) {
	usage := core.UsageFrom(ctx)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = w.cfg.MaxTokens
	}
	opts := llm.TextGenerationOptions{
		Model:             model,
		MaxTokens:         maxTokens,
		Temperature:       w.cfg.Temperature,
		ResponseSchema:    req.Schema,
		SystemInstruction: req.System,
		Task:              req.Task,
	}

	return retry.Do(ctx, w.cfg.Policy, func(attempt int) (string, error) {
		gen, err := w.gen.GenerateText(ctx, req.Prompt, opts)
		if err == nil && req.Validate != nil {
			if verr := req.Validate(gen.Text); verr != nil {
				err = core.E(core.KindTransient, "writer."+req.Task, "unusable model response", verr)
			}
		}

		u := core.TokenUsage{
			Task:             req.Task,
			Model:            model,
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: gen.CompletionTokens,
		}
		if gen.Model != "" {
			u.Model = gen.Model
		}
		if err != nil {
			u.Err = err.Error()
		}
		usage.Add(u)

		if err != nil {
			return "", err
		}
		w.log.Debug().Str("task", req.Task).Str("model", u.Model).Int("attempt", attempt).
			Int("prompt_tokens", u.PromptTokens).Int("completion_tokens", u.CompletionTokens).
			Msg("Model call succeeded")
		return gen.Text, nil
	}, func(err error, next time.Duration) {
		w.log.Warn().Err(err).Str("task", req.Task).Str("model", model).
			Dur("retry_in", next).Msg("Model call failed, retrying")
	})
}

// Ask is a structured-output request rendered from named prompt templates.
type Ask struct {
	Task   string
	System string // system template name, optional
	User   string // user template name
	Data   any
	Schema *genai.Schema
	Model  string // defaults to the fast model
}

// AskJSON renders the prompts, calls the model with the schema and decodes
// the response into out. Decoding failures are retried like any other
// transient failure.
func (w *Writer) AskJSON(ctx context.Context, ask Ask, out any) error {
	var system string
	if ask.System != "" {
		s, err := w.prompts.System(ask.System, ask.Data)
		if err != nil {
			return fmt.Errorf("failed to render %s prompt: %w", ask.System, err)
		}
		system = s
	}
	user, err := w.prompts.User(ask.User, ask.Data)
	if err != nil {
		return fmt.Errorf("failed to render %s prompt: %w", ask.User, err)
	}
	model := ask.Model
	if model == "" {
		model = w.cfg.FastModel
	}
	_, err = w.Call(ctx, Request{
		Task:      ask.Task,
		Model:     model,
		System:    system,
		Prompt:    user,
		Schema:    ask.Schema,
		MaxTokens: w.cfg.FastMaxTokens,
		Validate:  func(text string) error { return DecodeJSON(text, out) },
	})
	return err
}

// ReviewModel is the model used by the quality reviewer.
func (w *Writer) ReviewModel() string { return w.cfg.ReviewModel }

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
