package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"bot-gemini-middleware/internal/upstream"
)

// maxAnswerRunes caps the answer returned to the pipeline; longer
// completions are truncated with a trailing ellipsis.
const maxAnswerRunes = 4000

// GeminiClient talks to Gemini through its OpenAI-compatible endpoint.
type GeminiClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
}

func NewGemini(apiKey, baseURL, model, systemPrompt string, timeout time.Duration) *GeminiClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &GeminiClient{
		client:       openai.NewClientWithConfig(config),
		model:        model,
		systemPrompt: systemPrompt,
		timeout:      timeout,
	}
}

// Complete asks Gemini with a bounded timeout and exactly one retry on
// transient failures. Auth and quota errors surface immediately.
func (c *GeminiClient) Complete(ctx context.Context, contexto, pergunta string) (string, error) {
	if strings.TrimSpace(pergunta) == "" {
		return "", fmt.Errorf("nenhuma pergunta fornecida")
	}

	userContent := fmt.Sprintf("Contexto: %s\n\nPergunta: %s", contexto, pergunta)
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.4,
		TopP:        0.8,
		MaxTokens:   2048,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	}

	text, err := c.generate(ctx, req)
	if err != nil {
		return "", err
	}
	if runes := []rune(text); len(runes) > maxAnswerRunes {
		text = string(runes[:maxAnswerRunes]) + "..."
	}
	return text, nil
}

// Ping sends a tiny completion request and checks for an "OK" answer.
func (c *GeminiClient) Ping(ctx context.Context) error {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		MaxTokens:   10,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Responda apenas 'OK' se você está funcionando."},
		},
	}
	text, err := c.generate(ctx, req)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(text), "ok") {
		return fmt.Errorf("resposta inesperada do Gemini: %q", text)
	}
	return nil
}

func (c *GeminiClient) generate(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	var text string
	err := upstream.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return &upstream.Error{Service: "gemini", Err: errors.New("resposta vazia")}
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	return text, err
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &upstream.Error{Service: "gemini", Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &upstream.Error{Service: "gemini", Status: reqErr.HTTPStatusCode, Err: err}
	}
	return &upstream.Error{Service: "gemini", Err: err}
}
