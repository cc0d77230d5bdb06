package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/travel-sense/server/pkg/logger"
)

// NewAllCallbacks returns the handlers attached to every turn: component
// lifecycle logging for tools, models and prompts, plus per-node timings.
func NewAllCallbacks() []einocb.Handler {
	components := callbackHelper.NewHandlerHelper().
		Tool(newToolHandler()).
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
	return []einocb.Handler{components, NewNodeCallbacks()}
}

type nodeStartKey struct{}

// NewNodeCallbacks logs how long each lambda node of the turn graph took.
func NewNodeCallbacks() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			if info == nil || info.Component != compose.ComponentOfLambda {
				return ctx
			}
			return context.WithValue(ctx, nodeStartKey{}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			if info == nil || info.Component != compose.ComponentOfLambda {
				return ctx
			}
			ev := logx.Debug().Str("node", info.Name)
			if start, ok := ctx.Value(nodeStartKey{}).(time.Time); ok {
				ev = ev.Dur("took", time.Since(start))
			}
			ev.Msg("node end")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			if info == nil || info.Component != compose.ComponentOfLambda {
				return ctx
			}
			logx.Error().Err(err).Str("node", info.Name).Msg("node failed")
			return ctx
		}).
		Build()
}
