package tools

import (
	"context"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

// Invoker executes registry tools and always answers with an envelope.
type Invoker struct {
	registry *Registry
}

func NewInvoker(r *Registry) *Invoker {
	return &Invoker{registry: r}
}

// Registry returns the registry the invoker dispatches to.
func (iv *Invoker) Registry() *Registry {
	return iv.registry
}

// Invoke normalises and validates raw JSON arguments and runs the named tool.
// Errors and panics are converted into status=false envelopes.
func (iv *Invoker) Invoke(ctx context.Context, name, raw string) model.Envelope {
	t, ok := iv.registry.Get(name)
	if !ok {
		logx.Warn().Str("tool_name", name).Msg("Unknown tool requested")
		return model.Failure(fmt.Sprintf("Unknown tool: %s", name), "unknown tool")
	}
	args, err := NormalizeArguments(t, raw)
	if err != nil {
		return model.Failure("Invalid payload: "+err.Error(), err.Error())
	}
	return iv.run(ctx, t, args)
}

func (iv *Invoker) run(ctx context.Context, t *Tool, args map[string]any) (env model.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			logx.Error().Str("tool_name", t.Name).Str("panic", msg).Msg("Tool panicked")
			env = model.Failure(fmt.Sprintf("Error in %s: %s", t.Name, msg), msg)
		}
	}()

	env, err := t.run(ctx, args)
	if err != nil {
		logx.Error().Err(err).Str("tool_name", t.Name).Msg("Tool execution failed")
		return model.Failure(fmt.Sprintf("Error in %s: %v", t.Name, err), err.Error())
	}
	return env
}

// BaseTools adapts every registered tool to eino's InvokableTool so a ToolsNode can run them.
func (iv *Invoker) BaseTools() []einotool.BaseTool {
	out := make([]einotool.BaseTool, 0, len(iv.registry.order))
	for _, name := range iv.registry.order {
		out = append(out, &invokableTool{tool: iv.registry.tools[name], invoker: iv})
	}
	return out
}

type invokableTool struct {
	tool    *Tool
	invoker *Invoker
}

func (t *invokableTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.tool.Info(), nil
}

func (t *invokableTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...einotool.Option) (string, error) {
	return t.invoker.Invoke(ctx, t.tool.Name, argumentsInJSON).JSON(), nil
}
