// AgentDash runs the tool-calling chat agents behind community Telegram
// bots.
//
// It exposes an HTTP API for dashboard chat, custom tool testing, usage
// reporting and the Telegram webhook, plus a CLI for one-shot questions.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	agentdash serve                   Start the API server
//	agentdash init [dir]              Write a starter config.yaml
//	agentdash ask <tenant> <question> Ask a single question as a tenant's agent
//	agentdash version                 Print version and build information
//	agentdash -o json version         Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackmielke/agentdash/internal/agent"
	"github.com/jackmielke/agentdash/internal/api"
	"github.com/jackmielke/agentdash/internal/buildinfo"
	"github.com/jackmielke/agentdash/internal/config"
	"github.com/jackmielke/agentdash/internal/connwatch"
	"github.com/jackmielke/agentdash/internal/observe"
)

// shutdownTimeout bounds the drain of in-flight requests and webhook runs.
const shutdownTimeout = 30 * time.Second

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the agentdash command. ctx controls
// the lifetime of the process; cancelling it triggers graceful
// shutdown. args is os.Args[1:]. Arguments are parsed by hand so run
// holds no global flag state and can be called concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: agentdash ask <tenant> <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0], cmdArgs[1:])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "AgentDash - community chat agents with tools")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: agentdash [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                    Start the API server")
	fmt.Fprintln(w, "  init [dir]               Write a starter config.yaml (default: .)")
	fmt.Fprintln(w, "  ask <tenant> <question>  Ask a single question as a tenant's agent")
	fmt.Fprintln(w, "  version                  Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk handles "agentdash ask <tenant> <question>". It runs one
// invocation against the configured store with the tenant's tools,
// without progress notes, and prints the answer. Useful for smoke tests
// without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt, tenantID string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	tenant, err := a.runner.Tenant(ctx, tenantID)
	if err != nil {
		return err
	}
	resp, err := a.runner.Run(ctx, tenant, &agent.Request{Message: strings.Join(args, " ")})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(stdout, resp.Content)
	return nil
}

// runServe handles "agentdash serve". It loads config, installs
// telemetry, opens storage, builds the agent stack and serves the API
// until ctx is cancelled (SIGINT or SIGTERM). Shutdown drains in-flight
// requests and webhook runs, then flushes telemetry and closes storage.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting AgentDash", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"store", cfg.Store.Driver,
		"default_model", cfg.Models.Default,
	)

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: buildinfo.Version,
		Environment:    cfg.Telemetry.Environment,
		InstanceID:     cfg.Telemetry.InstanceID,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := observe.NewMetrics(telemetry.MeterProvider())
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	a, err := newApp(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close storage failed", "error", err)
		}
	}()

	watch := connwatch.NewManager(a.bus, logger)
	watch.Watch(ctx, "llm", a.llm.Ping, connwatch.DefaultBackoff())
	defer watch.Stop()

	server := api.NewServer(api.Options{
		Address:       cfg.Listen.Address,
		Port:          cfg.Listen.Port,
		APIKey:        cfg.Listen.APIKey,
		WebhookSecret: cfg.Telegram.WebhookSecret,
	}, api.Deps{
		Runner:         a.runner,
		Stores:         a.store,
		Executor:       a.executor,
		Telegram:       a.telegram,
		Usage:          a.usage,
		Bus:            a.bus,
		Metrics:        metrics,
		MetricsHandler: telemetry.MetricsHandler(),
		Health:         watch,
		Pricing:        cfg.Models.Pricing,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("AgentDash stopped")
	return err
}

// newLogger builds the process logger from the configured level and
// format. The level has already been validated by config.Validate.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(w, level, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
