package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/m4xw311/arcadechat/agent"
	"github.com/m4xw311/arcadechat/agent/terminal"
	"github.com/m4xw311/arcadechat/arcade"
	"github.com/m4xw311/arcadechat/config"
	"github.com/m4xw311/arcadechat/errors"
	"github.com/m4xw311/arcadechat/llm"
	"github.com/m4xw311/arcadechat/session"
	"github.com/m4xw311/arcadechat/tools"
	arcadetools "github.com/m4xw311/arcadechat/tools/arcade"
	"github.com/m4xw311/arcadechat/tools/mcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second signal kills the process even while a read blocks.
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(logOutput)
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "arcadechat stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := llm.New(ctx, cfg.LLMClient, cfg.Model)
	if err != nil {
		return errors.Wrapf(err, "failed to initialize %s client", cfg.LLMClient)
	}

	broker, err := arcade.NewClient(cfg.Arcade.BaseURL, cfg.Arcade.APIKey)
	if err != nil {
		return errors.Wrapf(err, "failed to initialize Arcade client")
	}

	registry := tools.NewToolRegistry()
	arcadeTools, err := arcadetools.Load(ctx, broker, arcade.GetToolsOptions{
		UserID:   cfg.UserID,
		Toolkits: cfg.Toolkits,
		Tools:    cfg.Tools,
		Limit:    cfg.ToolLimit,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to load Arcade tools")
	}
	for _, t := range arcadeTools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}

	mcpClients, err := mcp.StartServers(ctx, cfg.AdditionalMCPServers)
	if err != nil {
		return errors.Wrapf(err, "failed to start MCP servers")
	}
	defer func() {
		for _, c := range mcpClients {
			if err := c.Stop(); err != nil {
				logger.Warn("failed to stop MCP server", "err", err)
			}
		}
	}()
	for _, c := range mcpClients {
		for _, t := range c.Tools() {
			if err := registry.Register(t); err != nil {
				return err
			}
		}
	}
	logger.Info("tools loaded", "count", len(registry.Tools()), "names", registry.Names())

	policy, err := tools.NewApprovalPolicy(cfg.RequireApproval)
	if err != nil {
		return err
	}

	var store session.Store = session.NewMemoryStore()
	if cfg.Checkpoint == config.CheckpointFile {
		if store, err = session.NewFileStore(session.DefaultThreadDir); err != nil {
			return err
		}
	}

	threadID := cfg.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	logger.Info("starting chat", "thread_id", threadID, "llm", cfg.LLMClient, "model", cfg.Model, "checkpoint", cfg.Checkpoint)

	runner := agent.New(client, registry, store,
		agent.WithApprovalPolicy(policy),
		agent.WithSystemPrompt(cfg.SystemPrompt),
		agent.WithLogger(logger),
	)
	waiter := terminal.AuthWaiterFunc(func(ctx context.Context, id string) error {
		_, err := broker.WaitForCompletion(ctx, id)
		return err
	})

	term := terminal.New(runner, waiter, agent.RunConfig{ThreadID: threadID},
		terminal.WithLogger(logger),
		terminal.WithAuthTimeout(cfg.AuthTimeout),
		terminal.WithConcurrentAuthWaits(cfg.ConcurrentAuthWaits),
		terminal.WithMaxResumeRounds(cfg.MaxResumeRounds),
	)
	return term.Run(ctx)
}
