package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/agentic-pharmacy/server/internal/agent/graph/conversations"
	"github.com/agentic-pharmacy/server/internal/agent/graph/nodes"
	"github.com/agentic-pharmacy/server/internal/agent/graph/observers"
	"github.com/agentic-pharmacy/server/internal/agent/graph/prompts"
	"github.com/agentic-pharmacy/server/internal/agent/model"
	"github.com/agentic-pharmacy/server/internal/agent/tools"
	errx "github.com/agentic-pharmacy/server/internal/core/error"
	"github.com/agentic-pharmacy/server/internal/metrics"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

// Runner executes one chat turn per call and owns thread lifecycle.
type Runner interface {
	Invoke(ctx context.Context, in model.TurnInput) (string, error)
	ClearThread(ctx context.Context, threadID string) error
}

// Config holds everything needed to compose the agent graph end-to-end.
// This is a convenience layer over GraphConfig that also builds the
// MessagesManager and renders the system prompt.
type Config struct {
	ChatModel    einomodel.ToolCallingChatModel
	ModelName    string
	Tools        *tools.Set
	Checkpoints  model.CheckpointStore
	Conversation model.ConversationConfig
	Prompt       model.PromptConfig
	Metrics      *metrics.Metrics
}

// GraphConfig holds all configuration needed to build the graph.
type GraphConfig struct {
	ChatModel       einomodel.ToolCallingChatModel
	ModelName       string
	Tools           *tools.Set
	MessagesManager *conversations.MessagesManager
	SystemPrompt    string
	ToolMaxCalls    int
}

// GraphBuilder handles the construction of the agent graph.
type GraphBuilder struct {
	config    *GraphConfig
	graph     *compose.Graph[model.TurnInput, *schema.Message]
	chatModel einomodel.ToolCallingChatModel
}

type graphRunner struct {
	runnable  compose.Runnable[model.TurnInput, *schema.Message]
	mm        *conversations.MessagesManager
	timeout   time.Duration
	metrics   *metrics.Metrics
	callbacks callbacks.Handler
}

// Invoke runs one turn. Turns on the same thread are serialised so the
// checkpoint read-modify-write is atomic per turn.
func (r *graphRunner) Invoke(ctx context.Context, in model.TurnInput) (string, error) {
	in.ThreadID = strings.TrimSpace(in.ThreadID)
	if in.ThreadID == "" {
		in.ThreadID = model.DefaultThreadID
	}
	if in.TurnID == "" {
		in.TurnID = uuid.NewString()
	}

	unlock := r.mm.Lock(in.ThreadID)
	defer unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(r.callbacks))
	if err != nil {
		err = classifyTurnError(err)
		status := turnStatus(err)
		r.metrics.ObserveTurn(status, time.Since(start))
		logx.Error().
			Err(err).
			Str("thread_id", in.ThreadID).
			Str("turn_id", in.TurnID).
			Str("status", status).
			Msg("Turn failed")
		return "", err
	}
	r.metrics.ObserveTurn("ok", time.Since(start))

	if out == nil {
		return "", nil
	}
	logx.Info().
		Str("thread_id", in.ThreadID).
		Str("turn_id", in.TurnID).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")
	return out.Content, nil
}

func (r *graphRunner) ClearThread(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		threadID = model.DefaultThreadID
	}
	return r.mm.Clear(ctx, threadID)
}

// classifyTurnError restores the sentinels the API maps to statuses. Graph
// execution may wrap node errors without preserving the chain, so the
// message is checked as well.
func classifyTurnError(err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, errx.ErrQuotaExhausted), errors.Is(err, errx.ErrIterationLimit):
		return err
	case strings.Contains(msg, errx.ErrQuotaExhausted.Error()):
		return fmt.Errorf("%w: %s", errx.ErrQuotaExhausted, msg)
	case strings.Contains(msg, errx.ErrIterationLimit.Error()), strings.Contains(msg, "exceeds max steps"):
		return fmt.Errorf("%w: %s", errx.ErrIterationLimit, msg)
	}
	return err
}

func turnStatus(err error) string {
	switch {
	case errors.Is(err, errx.ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, errx.ErrIterationLimit):
		return "iteration_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}

// BuildAgentGraph renders the system prompt, builds the graph and returns a Runner.
func BuildAgentGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is nil")
	}

	handler := observers.NewAllCallbacks()
	promptCtx := callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "SystemPrompt",
		Component: components.ComponentOfPrompt,
	}, handler)
	systemPrompt, err := prompts.RenderSystem(promptCtx, cfg.Prompt)
	if err != nil {
		return nil, err
	}

	mm := conversations.NewMessagesManager(cfg.Checkpoints, cfg.Conversation)

	runnable, err := BuildGraph(ctx, &GraphConfig{
		ChatModel:       cfg.ChatModel,
		ModelName:       cfg.ModelName,
		Tools:           cfg.Tools,
		MessagesManager: mm,
		SystemPrompt:    systemPrompt,
		ToolMaxCalls:    cfg.Conversation.Tools.MaxCalls,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Agent graph built successfully")
	return &graphRunner{
		runnable:  runnable,
		mm:        mm,
		timeout:   cfg.Conversation.TurnTimeout,
		metrics:   cfg.Metrics,
		callbacks: handler,
	}, nil
}

// BuildGraph constructs and returns the compiled agent graph.
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModel == nil {
		return nil, fmt.Errorf("chat model is not initialized")
	}
	if config.Tools == nil {
		return nil, fmt.Errorf("tool set is nil")
	}
	if config.MessagesManager == nil {
		return nil, fmt.Errorf("messages manager is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.TurnInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
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

// setupTools binds the tool set to the chat model and creates the tools node.
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	bound, err := b.config.ChatModel.WithTools(b.config.Tools.Infos())
	if err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools to chat model")
		return fmt.Errorf("failed to bind tools to chat model: %w", err)
	}
	b.chatModel = bound

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               b.config.Tools.Tools(),
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown tool call; returning error result")
			return tools.UnknownToolResult(name), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			kind, ok := tools.ParseKind(name)
			if !ok {
				return arguments, nil
			}
			return tools.NormalizeArguments(kind, arguments), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	if err := b.graph.AddToolsNode(nodes.NodeToolExecutor, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolExecutorPreHandler(b.config.ToolMaxCalls)),
	); err != nil {
		return fmt.Errorf("error adding tools node: %w", err)
	}
	return nil
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	if err := b.graph.AddLambdaNode(nodes.NodeLoadCheckpoint,
		nodes.NewLoadCheckpointNode(b.config.MessagesManager, b.config.SystemPrompt),
		compose.WithStatePreHandler(nodes.NewLoadCheckpointPreHandler()),
	); err != nil {
		return fmt.Errorf("error adding %s node: %w", nodes.NodeLoadCheckpoint, err)
	}

	if err := b.graph.AddChatModelNode(nodes.NodeChatModel, b.chatModel,
		compose.WithStatePreHandler(nodes.NewChatModelPreHandler()),
		compose.WithStatePostHandler(nodes.NewChatModelPostHandler(b.config.ModelName)),
	); err != nil {
		return fmt.Errorf("error adding %s node: %w", nodes.NodeChatModel, err)
	}

	if err := b.graph.AddLambdaNode(nodes.NodeSaveCheckpoint,
		nodes.NewSaveCheckpointNode(b.config.MessagesManager),
	); err != nil {
		return fmt.Errorf("error adding %s node: %w", nodes.NodeSaveCheckpoint, err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeLoadCheckpoint},
		{nodes.NodeLoadCheckpoint, nodes.NodeChatModel},
		{nodes.NodeToolExecutor, nodes.NodeChatModel},
		{nodes.NodeSaveCheckpoint, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches routes the model reply to tool execution or to the checkpoint save.
func (b *GraphBuilder) addBranches() error {
	decisionBranch := compose.NewGraphBranch(
		nodes.NewToolExecutorCondition(),
		map[string]bool{
			nodes.NodeToolExecutor:   true,
			nodes.NodeSaveCheckpoint: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeChatModel, decisionBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding decision branch")
		return fmt.Errorf("error adding decision branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("pharmacy_agent"),
		compose.WithMaxRunSteps(nodes.MaxRunSteps(b.config.ToolMaxCalls)),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
