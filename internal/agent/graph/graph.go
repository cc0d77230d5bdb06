package graph

import (
	"context"
	"encoding/json"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/graph/conversations"
	"github.com/travel-sense/server/internal/agent/graph/nodes"
	"github.com/travel-sense/server/internal/agent/graph/observers"
	"github.com/travel-sense/server/internal/agent/graph/resolver"
	"github.com/travel-sense/server/internal/agent/graph/retrieval"
	"github.com/travel-sense/server/internal/agent/graph/tools"
	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

// Runner executes one chat turn through the compiled graph.
type Runner interface {
	Invoke(ctx context.Context, in model.TurnInput) (*model.TurnResult, error)
}

// Config holds everything needed to compose the full response graph end-to-end.
// This is a convenience layer over GraphConfig that also builds the retrieval
// index, the resolver and the MessagesManager.
type Config struct {
	Primary            einomodel.ToolCallingChatModel
	PrimaryModelName   string
	Formatter          einomodel.BaseChatModel
	FormatterModelName string
	Classifier         resolver.Classifier
	Embedder           retrieval.Embedder
	Registry           *tools.Registry

	Resolution   model.ResolverConfig
	Response     model.ResponseModelConfig
	Prompt       model.PromptConfig
	Conversation model.ConversationConfig

	ConversationRepo model.ConversationRepository
	// Locker serialises turns of one chat. Nil disables locking.
	Locker model.TurnLocker
	// TokenCounter measures history for the resolver budget. Nil uses tiktoken.
	TokenCounter func(string) int
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Chatbot         *nodes.Chatbot
	ChatbotModel    string
	Formatter       *nodes.Formatter
	Invoker         *tools.Invoker
	MessagesManager *conversations.MessagesManager
	ToolMaxCalls    int
}

// GraphBuilder handles the construction of the agent conversation graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.TurnInput, *schema.Message]
}

type graphRunner struct {
	runnable compose.Runnable[model.TurnInput, *schema.Message]
	locker   model.TurnLocker
}

// NewRunner wraps a compiled graph. locker may be nil.
func NewRunner(runnable compose.Runnable[model.TurnInput, *schema.Message], locker model.TurnLocker) Runner {
	return &graphRunner{runnable: runnable, locker: locker}
}

func (r *graphRunner) Invoke(ctx context.Context, in model.TurnInput) (*model.TurnResult, error) {
	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, in.ChatID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logx.Warn().Err(err).Str("chat_id", in.ChatID).Msg("Failed to release turn lock")
			}
		}()
	}

	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()...))
	if err != nil {
		return nil, err
	}
	return resultFrom(in.ChatID, out), nil
}

// resultFrom reads the bookkeeping the finalize node left on the message.
func resultFrom(chatID string, out *schema.Message) *model.TurnResult {
	res := &model.TurnResult{ChatID: chatID, Message: out}
	if out == nil {
		return res
	}
	res.IntentTool, _ = out.Extra[nodes.ExtraIntentTool].(string)
	res.Saved, _ = out.Extra[nodes.ExtraSaved].(bool)
	res.CostUSD, _ = out.Extra[nodes.ExtraTotalCostUSD].(float64)
	if env, ok := model.ParseEnvelope(out.Content); ok {
		res.Envelope = env
	}
	logx.Debug().
		Str("chat_id", chatID).
		Str("intent_tool", res.IntentTool).
		Bool("saved", res.Saved).
		Float64("usage_cost_total_usd", res.CostUSD).
		Msg("Turn finished")
	return res
}

// BuildResponseGraph wires retrieval, resolution and the chat nodes, builds the graph, and returns a Runner.
func BuildResponseGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.ConversationRepo == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if cfg.Registry == nil || cfg.Embedder == nil || cfg.Classifier == nil {
		return nil, fmt.Errorf("registry, embedder and classifier are required")
	}

	docs := cfg.Registry.Documents()
	index := retrieval.NewMemoryIndex(cfg.Embedder, docs)
	if err := index.Build(ctx); err != nil {
		// retried lazily on the first query
		logx.Warn().Err(err).Msg("Tool index build failed at startup")
	}
	retriever := retrieval.NewRetriever(index, docs, cfg.Resolution.DistanceDivisor)

	count := cfg.TokenCounter
	if count == nil {
		count = conversations.NewTokenizer(cfg.PrimaryModelName).Count
	}
	res := resolver.NewResolver(cfg.Classifier, cfg.Registry, cfg.Resolution, count)

	mm := conversations.NewMessagesManager(cfg.ConversationRepo, cfg.Conversation)

	chatbot, err := nodes.NewChatbot(nodes.ChatbotConfig{
		Retriever:   retriever,
		Resolver:    res,
		Registry:    cfg.Registry,
		Model:       cfg.Primary,
		ModelName:   cfg.PrimaryModelName,
		Prompt:      cfg.Prompt,
		Resolution:  cfg.Resolution,
		MaxMessages: mm.MaxMessages(),
		Timeout:     cfg.Response.Timeout,
	})
	if err != nil {
		return nil, err
	}
	formatter := nodes.NewFormatter(cfg.Formatter, cfg.FormatterModelName, cfg.Prompt, cfg.Response.FormatTimeout)

	runnable, err := BuildGraph(ctx, &GraphConfig{
		Chatbot:         chatbot,
		ChatbotModel:    cfg.PrimaryModelName,
		Formatter:       formatter,
		Invoker:         tools.NewInvoker(cfg.Registry),
		MessagesManager: mm,
		ToolMaxCalls:    cfg.Conversation.Tools.MaxCalls,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Response graph built successfully")
	return NewRunner(runnable, cfg.Locker), nil
}

// BuildGraph constructs and returns the compiled agent graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	// Basic config validation
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Chatbot == nil || config.Formatter == nil || config.Invoker == nil {
		return nil, fmt.Errorf("graph nodes are not properly initialized")
	}
	if config.MessagesManager == nil {
		return nil, fmt.Errorf("messages manager is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.TurnInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.TurnState {
				return &model.TurnState{}
			}),
		),
	}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}
	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// setupTools creates the tools node over the registry
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	invoker := b.config.Invoker
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               invoker.BaseTools(),
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			// Hallucinated or malformed calls still get an envelope back
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call")
			return invoker.Invoke(ctx, name, input).JSON(), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			// Best-effort sanitize; the tool reports anything still invalid
			t, ok := invoker.Registry().Get(name)
			if !ok {
				return arguments, nil
			}
			args, err := tools.NormalizeArguments(t, arguments)
			if err != nil {
				return arguments, nil
			}
			return marshalArgs(args, arguments), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	if err := b.graph.AddToolsNode(nodes.NodeToolExecutor, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolExecutorPreHandler(b.config.ToolMaxCalls)),
		compose.WithStatePostHandler(nodes.NewToolExecutorPostHandler()),
	); err != nil {
		return fmt.Errorf("add tools node: %w", err)
	}
	return nil
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	mm := b.config.MessagesManager
	steps := []struct {
		name string
		add  func() error
	}{
		{nodes.NodeLoad, func() error {
			return b.graph.AddLambdaNode(nodes.NodeLoad, nodes.NewLoadNode(mm),
				compose.WithStatePreHandler(nodes.NewLoadPreHandler()),
				compose.WithStatePostHandler(nodes.NewLoadPostHandler()),
				compose.WithNodeName(nodes.NodeLoad),
			)
		}},
		{nodes.NodeChatbot, func() error {
			return b.graph.AddLambdaNode(nodes.NodeChatbot, nodes.NewChatbotNode(b.config.Chatbot, b.config.ChatbotModel),
				compose.WithNodeName(nodes.NodeChatbot))
		}},
		{nodes.NodeFormatter, func() error {
			return b.graph.AddLambdaNode(nodes.NodeFormatter, nodes.NewFormatterNode(b.config.Formatter),
				compose.WithNodeName(nodes.NodeFormatter))
		}},
		{nodes.NodeFinalize, func() error {
			return b.graph.AddLambdaNode(nodes.NodeFinalize, nodes.NewFinalizeNode(mm),
				compose.WithNodeName(nodes.NodeFinalize))
		}},
	}
	for _, s := range steps {
		if err := s.add(); err != nil {
			return fmt.Errorf("add node %s: %w", s.name, err)
		}
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeLoad},
		{nodes.NodeLoad, nodes.NodeChatbot},
		{nodes.NodeToolExecutor, nodes.NodeFormatter},
		{nodes.NodeFormatter, nodes.NodeFinalize},
		{nodes.NodeFinalize, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	toolBranch := compose.NewGraphBranch(
		nodes.NewToolExecutorCondition(),
		map[string]bool{
			nodes.NodeToolExecutor: true,
			nodes.NodeFinalize:     true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeChatbot, toolBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding tool branch")
		return fmt.Errorf("error adding tool branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	// Limit total run steps to avoid infinite loops in branching or tool retries
	maxSteps := 10 + b.config.ToolMaxCalls*2
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}

func marshalArgs(args map[string]any, fallback string) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fallback
	}
	return string(b)
}
