package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// GenerationBackend turns a prompt into candidate test sources.
type GenerationBackend interface {
	// Complete returns at most maxCandidates raw test file sources.
	Complete(ctx context.Context, prompt string, maxCandidates int) ([]string, error)
}

// ErrContentFiltered is returned when the provider refuses the prompt.
var ErrContentFiltered = errors.New("response withheld by content policy")

// ErrNoChoices is returned when the provider answers with nothing usable.
var ErrNoChoices = errors.New("provider returned no choices")

const systemPrompt = "You write Go unit tests. Answer only with complete Go test files, " +
	"each in its own ```go fenced block."

// chatClient is the subset of *openai.Client the backend uses.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIConfig holds the resolved credentials and tuning of the backend.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float32
	RequestsPerMinute float64
}

// OpenAIBackend talks to any OpenAI-compatible chat completion API.
type OpenAIBackend struct {
	client      chatClient
	model       string
	temperature float32
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewOpenAIBackend builds a backend for cfg. The key is used as given; it is
// never read from the environment here.
func NewOpenAIBackend(cfg OpenAIConfig, logger *slog.Logger) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return newOpenAIBackend(openai.NewClientWithConfig(clientCfg), cfg, logger)
}

func newOpenAIBackend(client chatClient, cfg OpenAIConfig, logger *slog.Logger) *OpenAIBackend {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Duration(float64(time.Minute) / cfg.RequestsPerMinute))
	}

	return &OpenAIBackend{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
	}
}

// Model returns the model requests are sent to.
func (b *OpenAIBackend) Model() string {
	return b.model
}

// ResolveModel checks the configured model against the provider's list and
// switches to fallback when it is not offered. A listing failure keeps the
// configured model.
func (b *OpenAIBackend) ResolveModel(ctx context.Context, fallback string) (string, error) {
	list, err := b.client.ListModels(ctx)
	if err != nil {
		return b.model, fmt.Errorf("list models: %w", err)
	}

	available := make(map[string]struct{}, len(list.Models))
	for _, model := range list.Models {
		available[model.ID] = struct{}{}
	}

	if _, ok := available[b.model]; ok {
		return b.model, nil
	}

	if _, ok := available[fallback]; !ok {
		return b.model, fmt.Errorf("neither %q nor fallback %q is offered by the provider", b.model, fallback)
	}

	b.logger.Warn("model not available, using fallback", "model", b.model, "fallback", fallback)
	b.model = fallback

	return b.model, nil
}

// Complete sends one chat request and splits the answer into fenced code
// blocks, one candidate each.
func (b *OpenAIBackend) Complete(ctx context.Context, prompt string, maxCandidates int) ([]string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	b.logger.Debug("requesting completion", "model", b.model, "max_candidates", maxCandidates)

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, ErrContentFiltered
	}

	b.logger.Debug("received completion", "finish_reason", choice.FinishReason)

	blocks := SplitCodeBlocks(choice.Message.Content)
	if len(blocks) == 0 {
		return nil, ErrNoChoices
	}

	if maxCandidates > 0 && len(blocks) > maxCandidates {
		blocks = blocks[:maxCandidates]
	}

	return blocks, nil
}

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

// SplitCodeBlocks returns the bodies of fenced code blocks in content, or the
// whole content when it carries no fences.
func SplitCodeBlocks(content string) []string {
	matches := fencePattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			return nil
		}

		return []string{trimmed}
	}

	blocks := make([]string, 0, len(matches))

	for _, match := range matches {
		if body := strings.TrimSpace(match[1]); body != "" {
			blocks = append(blocks, body)
		}
	}

	return blocks
}
