package nodes

import (
	"context"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/graph/parsers"
	"github.com/travel-sense/server/internal/agent/graph/prompts"
	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

// Formatter rewrites bare JSON tool output into display text.
type Formatter struct {
	model     einomodel.BaseChatModel
	modelName string
	prompt    model.PromptConfig
	timeout   time.Duration
}

func NewFormatter(m einomodel.BaseChatModel, modelName string, promptCfg model.PromptConfig, timeout time.Duration) *Formatter {
	return &Formatter{model: m, modelName: modelName, prompt: promptCfg, timeout: timeout}
}

// Run inspects the last message of the turn. A JSON object without any rich
// key goes through the formatter model and its reply is returned. Anything
// else passes through and Run returns nil. failed reports that the formatter
// call broke and a generic reply was produced instead.
func (f *Formatter) Run(ctx context.Context, last *schema.Message) (reply *schema.Message, failed bool) {
	if last == nil || !parsers.NeedsFormatting(last.Content) {
		return nil, false
	}

	out, err := f.format(ctx, last.Content)
	if err != nil {
		logx.Error().Err(err).Msg("Response formatting failed")
		return schema.AssistantMessage(FormatterFailureText, nil), true
	}
	return out, false
}

func (f *Formatter) format(ctx context.Context, content string) (*schema.Message, error) {
	if f.model == nil {
		return nil, fmt.Errorf("formatter model is nil")
	}
	sys, err := prompts.RenderFormatter(ctx, f.prompt)
	if err != nil {
		return nil, err
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	out, err := f.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage(content),
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("formatter returned no message")
	}
	out.Role = schema.Assistant
	out.ToolCalls = nil
	return out, nil
}
