package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	defaultTagModelName = "gemini-1.5-flash-latest"
	maxSuggestedTags    = 5

	tagSystemInstruction = "You label 3D models used in dental education. " +
		"Given a model name and description, reply with up to 5 short lowercase tags separated by commas. " +
		"Prefer anatomical terms such as molar, incisor, crown, implant or mandible. Return only the tags."
)

// TagSuggester proposes gallery tags for a shared model.
type TagSuggester interface {
	SuggestTags(ctx context.Context, name, description string) ([]string, error)
}

// LLMService suggests tags with Gemini.
type LLMService struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

var _ TagSuggester = (*LLMService)(nil)

func NewLLMService(ctx context.Context, apiKey string, logger *zap.Logger) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LLMService{
		client: client,
		model:  defaultTagModelName,
		logger: logger.With(zap.String("component", "llm")),
	}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("error closing GenAI client", zap.Error(err))
		} else {
			s.logger.Info("GenAI client closed")
		}
	}
}

func (s *LLMService) SuggestTags(ctx context.Context, name, description string) ([]string, error) {
	model := s.client.GenerativeModel(s.model)

	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(tagSystemInstruction)},
	}

	temp := float32(0.2)
	maxTokens := int32(40)

	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	prompt := fmt.Sprintf("Model name: %q\nDescription: %q", name, description)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini tag request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("LLM did not suggest tags (empty response)")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}

	tags := ParseTags(text.String())
	if len(tags) == 0 {
		return nil, fmt.Errorf("LLM returned no usable tags")
	}
	return tags, nil
}

// ParseTags splits a comma or newline separated list into at most five
// unique lowercase tags.
func ParseTags(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})

	seen := make(map[string]bool, len(fields))
	tags := make([]string, 0, maxSuggestedTags)
	for _, f := range fields {
		tag := strings.ToLower(strings.Trim(f, "\"'#*-.\r\t "))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxSuggestedTags {
			break
		}
	}
	return tags
}
