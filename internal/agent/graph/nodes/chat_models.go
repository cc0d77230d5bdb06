package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey         string
	BaseURL        string
	DecisionConfig *model.DecisionModelConfig
	RespConfig     *model.ResponseModelConfig
}

// ChatModels holds the Gemini client and the models built on it. Response
// serves both the primary call and the formatting pass; tools are bound per
// turn through WithTools so the shared instance is never mutated.
type ChatModels struct {
	Client            *genai.Client
	Decision          *gemini.ChatModel
	Response          *gemini.ChatModel
	DecisionModelName string
	ResponseModelName string
}

// NewChatModels creates the decision and response chat models with the given configuration
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.DecisionConfig == nil || config.RespConfig == nil {
		return nil, fmt.Errorf("chat model config is nil")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	// Decision output must be bare JSON, so thoughts stay out of the reply
	chatModelDecision, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.DecisionConfig.Model,
		Temperature: &config.DecisionConfig.Temperature,
		MaxTokens:   &config.DecisionConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating decision model")
		return nil, fmt.Errorf("error creating decision model: %w", err)
	}

	chatModelResponse, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.RespConfig.Model,
		Temperature: &config.RespConfig.Temperature,
		MaxTokens:   &config.RespConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(2000)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Response model")
		return nil, fmt.Errorf("error creating Response model: %w", err)
	}

	return &ChatModels{
		Client:            client,
		Decision:          chatModelDecision,
		Response:          chatModelResponse,
		DecisionModelName: config.DecisionConfig.Model,
		ResponseModelName: config.RespConfig.Model,
	}, nil
}
