package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examgrade/internal/llm/prompts"
	"github.com/pavelanni/examgrade/internal/model"
)

// suggestion is the JSON object the model is asked to return.
type suggestion struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. The prompt templates must load.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) (*Client, error) {
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}, nil
}

// SuggestScore asks the model for an advisory score on a subjective answer.
func (c *Client) SuggestScore(ctx context.Context, q model.ExaminationQuestion, answer string) (*model.ScoreSuggestion, error) {
	prompt, err := prompts.BuildGradePrompt(c.variant, q, answer)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("LLM returned no choices for grading")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", q.ID, "raw", raw)

	var s suggestion
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	return &model.ScoreSuggestion{
		QuestionID: q.ID,
		Score:      s.Score,
		MaxPoints:  q.Points,
		Feedback:   s.Feedback,
	}, nil
}
