package cli

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"mcpilot/internal/config"
	"mcpilot/internal/logger"
	"mcpilot/internal/observability"
	"mcpilot/pkg/executor"
	"mcpilot/pkg/orchestrator"
	"mcpilot/pkg/planner"
	"mcpilot/pkg/policy"
	"mcpilot/pkg/registry"
	"mcpilot/pkg/supervisor"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session on stdin/stdout.
All configured providers are spawned first; the session ends on
"quit", "exit" or end of input.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer appLogger.Close()
	zlog := appLogger.GetZerolog()

	// Credential check happens before any provider process spawns, so a
	// misconfigured planner never leaves orphaned subprocesses behind.
	apiKey := cfg.Planner.ResolveAPIKey()
	if apiKey == "" {
		return &supervisor.StartupError{
			ProviderID: "planner",
			Err:        fmt.Errorf("planner credential is not set (provider %q)", cfg.Planner.Provider),
		}
	}

	plan, err := planner.New(planner.Options{
		Provider:     cfg.Planner.Provider,
		Model:        cfg.Planner.Model,
		APIKey:       apiKey,
		SystemPrompt: cfg.Planner.SystemPrompt,
		MaxTokens:    cfg.Planner.MaxTokens,
		Temperature:  cfg.Planner.Temperature,
	})
	if err != nil {
		return fmt.Errorf("init planner: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	specs := make([]supervisor.Spec, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		specs = append(specs, supervisor.Spec{
			ID:      p.ID,
			Command: p.Command,
			Args:    p.Args,
			Timeout: time.Duration(p.TimeoutSeconds) * time.Second,
		})
	}

	group, err := supervisor.New().Start(ctx, specs)
	if err != nil {
		return err
	}
	defer group.Teardown()

	reg, err := registry.Build(group.Handles())
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	zlog.Info().Int("tools", reg.Size()).Int("providers", len(cfg.Providers)).Msg("Registry built")

	classes := make(map[string]policy.Class, len(cfg.Policy.Classes))
	for name, raw := range cfg.Policy.Classes {
		class, err := policy.ParseClass(raw)
		if err != nil {
			return fmt.Errorf("policy class for %q: %w", name, err)
		}
		classes[name] = class
	}
	engine := policy.NewEngine(reg, classes, policy.DefaultPass)

	if cfg.Policy.ClassFile != "" {
		loaded, err := policy.LoadClassFile(cfg.Policy.ClassFile)
		if err != nil {
			return fmt.Errorf("load policy class file: %w", err)
		}
		engine.SetClasses(loaded)

		watcher, err := policy.NewClassWatcher(engine, cfg.Policy.ClassFile, zlog)
		if err != nil {
			return fmt.Errorf("watch policy class file: %w", err)
		}
		defer watcher.Stop()
	}

	if cfg.Metrics.Enabled {
		observability.EnsureRegistered()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				zlog.Warn().Err(err).Msg("Metrics listener stopped")
			}
		}()
	}

	var transcript *orchestrator.Transcript
	if cfg.Session.TranscriptDir != "" {
		transcript, err = orchestrator.NewTranscript(cfg.Session.TranscriptDir)
		if err != nil {
			return fmt.Errorf("init transcript: %w", err)
		}
	}

	exec := executor.New(time.Duration(cfg.Policy.StepTimeoutSeconds) * time.Second)
	eng, err := orchestrator.New(orchestrator.Config{
		Planner:    plan,
		Registry:   reg,
		Policy:     engine,
		Executor:   exec,
		MaxCycles:  cfg.Policy.CycleLimit,
		MaxHistory: cfg.Session.MaxHistory,
		Transcript: transcript,
		Logger:     zlog,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("generate thread id: %w", err)
	}
	threadID := "chat-" + id

	fmt.Printf("mcpilot %s: %d tools from %d providers. Type 'quit' to leave.\n",
		version, reg.Size(), len(cfg.Providers))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		reply, err := eng.HandleMessage(ctx, threadID, line)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read input: %w", err)
	}

	zlog.Info().Str("thread", threadID).Msg("Chat session ended")
	return nil
}
