package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	ollama "github.com/ollama/ollama/api"
)

// Classifier turns a classification prompt into raw model text.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// ChatModelClassifier classifies with any Eino chat model.
type ChatModelClassifier struct {
	model einomodel.BaseChatModel
}

func NewChatModelClassifier(m einomodel.BaseChatModel) *ChatModelClassifier {
	return &ChatModelClassifier{model: m}
}

func (c *ChatModelClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	out, err := c.model.Generate(ctx, []*schema.Message{schema.SystemMessage(prompt)})
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", nil
	}
	return strings.TrimSpace(out.Content), nil
}

// OllamaClassifier asks an Ollama model for JSON-formatted output.
type OllamaClassifier struct {
	client      *ollama.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOllamaClassifier(client *ollama.Client, model string, temperature float32, maxTokens int) *OllamaClassifier {
	return &OllamaClassifier{client: client, model: model, temperature: temperature, maxTokens: maxTokens}
}

func (c *OllamaClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &ollama.GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Format: json.RawMessage(`"json"`),
		Stream: &stream,
		Options: map[string]any{
			"temperature": c.temperature,
			"num_predict": c.maxTokens,
		},
	}
	var b strings.Builder
	err := c.client.Generate(ctx, req, func(r ollama.GenerateResponse) error {
		b.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
