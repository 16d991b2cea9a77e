// Command mcp-client runs the conversational agent service: an HTTP API
// that answers analyst questions by orchestrating LLM reasoning and tool
// calls against a QRadar MCP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/addanuj/mcp-client/pkg/agent"
	"github.com/addanuj/mcp-client/pkg/config"
	"github.com/addanuj/mcp-client/pkg/llms"
	"github.com/addanuj/mcp-client/pkg/logger"
	"github.com/addanuj/mcp-client/pkg/metrics"
	"github.com/addanuj/mcp-client/pkg/server"
	"github.com/addanuj/mcp-client/pkg/session"
	"github.com/addanuj/mcp-client/pkg/shaper"
	"github.com/addanuj/mcp-client/pkg/tools"
)

var version = "dev"

type cli struct {
	Serve   serveCmd   `cmd:"" default:"withargs" help:"Start the HTTP API server."`
	Version versionCmd `cmd:"" help:"Print the version and exit."`
}

type versionCmd struct{}

func (v *versionCmd) Run() error {
	fmt.Println(version)
	return nil
}

type serveCmd struct {
	Config string `short:"c" default:"config.yaml" help:"Path to the YAML configuration file."`
	Debug  bool   `short:"d" help:"Force debug logging."`
	Watch  bool   `default:"true" negatable:"" help:"Reload reloadable settings when the config file changes."`
}

func (s *serveCmd) Run() error {
	if err := config.LoadEnvFiles(); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}

	cfg, loader, err := config.LoadConfigWithLoader(config.LoaderOptions{
		Path:  s.Config,
		Watch: s.Watch,
	})
	if err != nil {
		return err
	}
	defer loader.Stop()

	logCleanup, err := s.setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logCleanup()

	slog.Info("Starting mcp-client", "version", version, "config", s.Config)

	catalog, err := tools.New(&cfg.MCP)
	if err != nil {
		return fmt.Errorf("failed to create tool catalog: %w", err)
	}
	defer catalog.Close()

	provider := llms.NewOpenAIProvider(&cfg.LLM)

	store := session.NewInMemoryStore(session.Limits{
		MaxExchanges:    cfg.Agent.HistoryLimit,
		CacheTTL:        cfg.Agent.CacheTTLDuration(),
		CacheMaxEntries: cfg.Agent.CacheMaxEntries,
		CredentialKeys:  session.DefaultLimits().CredentialKeys,
	})

	m := metrics.New()

	a := agent.New(provider, catalog, store, shaper.New(&cfg.Shaper), m, agent.Config{
		MaxIterations:  cfg.Agent.MaxIterations,
		DedupThreshold: cfg.Agent.DedupThreshold,
		SystemPrompt:   cfg.Agent.SystemPrompt,
		Credentials:    cfg.Credentials,
	})

	// On config change the tool catalog and session memory are dropped so
	// the next turn sees fresh tools. Listener and LLM settings need a
	// restart.
	loader.SetOnChange(func(newCfg *config.Config) error {
		catalog.Invalidate()
		store.Reset()
		slog.Info("Tool catalog and sessions reset after config change")
		return nil
	})

	srv := server.New(&cfg.Server, a, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *serveCmd) setupLogging(cfg *config.Config) (func(), error) {
	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return nil, err
	}
	if s.Debug {
		level = slog.LevelDebug
	}

	output := os.Stderr
	cleanup := func() {}
	if cfg.Logger.Output != "" {
		file, closeFile, err := logger.OpenLogFile(cfg.Logger.Output)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(level, output, cfg.Logger.Format)
	return cleanup, nil
}

func main() {
	ctx := kong.Parse(&cli{},
		kong.Name("mcp-client"),
		kong.Description("Conversational agent for QRadar MCP tools."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
