// Command aegish is the entrypoint: flag parsing, config snapshot load,
// and wiring of every component (C1-C11) before starting the REPL.
// Grounded on diillson-chatcli/main.go's overall shape (env/dotenv load,
// logger init, graceful-shutdown signal handling, then hand off to the
// interactive loop) and cmd/serve.go's stdlib flag.NewFlagSet pattern for
// subcommand-style flag parsing.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aegish-sh/aegish/internal/aegerr"
	"github.com/aegish-sh/aegish/internal/audit"
	"github.com/aegish-sh/aegish/internal/config"
	execpkg "github.com/aegish-sh/aegish/internal/exec"
	"github.com/aegish-sh/aegish/internal/history"
	"github.com/aegish-sh/aegish/internal/llmclient"
	"github.com/aegish-sh/aegish/internal/obs"
	"github.com/aegish-sh/aegish/internal/resolve"
	"github.com/aegish-sh/aegish/internal/sandbox"
	"github.com/aegish-sh/aegish/internal/shell"
	"github.com/aegish-sh/aegish/internal/validate"
)

// version identifies the build. aegish carries no self-update or
// release-check logic, so unlike the teacher's version package this is a
// plain constant rather than a GitHub-API-backed check.
const version = "0.1.0"

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if opts.version {
		fmt.Println("aegish", version)
		return
	}

	if opts.dotenvPath != "" || opts.mode == config.ModeDevelopment {
		if err := godotenv.Load(nonEmptyOr(opts.dotenvPath, ".env")); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "aegish: could not load .env: %v\n", err)
		}
	}

	logger, err := obs.NewLogger(opts.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aegish: could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(opts.mode, opts.configPath, opts.dotenvPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if opts.healthCheck {
		os.Exit(runHealthCheck(cfg, logger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installShutdownHandler(cancel, logger)

	s, err := buildShell(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize aegish", zap.Error(err))
	}

	if err := s.Run(ctx); err != nil {
		logger.Error("shell exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// options holds the parsed CLI surface.
type options struct {
	mode        config.Mode
	configPath  string
	dotenvPath  string
	logPath     string
	healthCheck bool
	version     bool
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("aegish", flag.ContinueOnError)
	opts := options{}
	modeStr := fs.String("mode", "", "run mode: development or production")
	fs.StringVar(&opts.configPath, "config", "", "path to the production YAML config file")
	fs.StringVar(&opts.dotenvPath, "dotenv", "", "path to a .env file (development mode)")
	fs.StringVar(&opts.logPath, "log-file", "", "path to the rotated log file")
	fs.BoolVar(&opts.healthCheck, "health-check", false, "probe Landlock/config/binary integrity and exit")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch *modeStr {
	case "production":
		opts.mode = config.ModeProduction
	case "development", "":
		opts.mode = config.ModeDevelopment
	default:
		return options{}, fmt.Errorf("unknown -mode %q", *modeStr)
	}
	return opts, nil
}

func nonEmptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// installShutdownHandler cancels the REPL's context on SIGINT/SIGTERM,
// grounded on diillson-chatcli/main.go's handleGracefulShutdown.
func installShutdownHandler(cancel context.CancelFunc, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()
}

// buildShell wires every C1-C11 component into a ready-to-run Shell.
// spec.md §4.1 treats a missing/unsupported Landlock ABI and a bash/
// sandboxer hash mismatch as fatal startup errors in production, so both
// are checked here — Landlock first, the hashes as soon as the Executor
// exists, both before the Shell is assembled — rather than left to surface
// lazily the first time a command takes the sandboxed spawn path.
func buildShell(ctx context.Context, cfg config.Snapshot, logger *zap.Logger) (*shell.Shell, error) {
	if err := verifyStartupIntegrity(cfg, logger); err != nil {
		return nil, err
	}

	metrics := obs.NewDecisionMetrics()

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	validator := validate.New(cfg)

	startCWD, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving start directory: %w", err)
	}
	executor := execpkg.New(cfg, logger, startCWD)
	if err := executor.VerifyIntegrity(); err != nil {
		return nil, err
	}

	resolver := resolve.New(validator, executor)
	resolver.SetMetrics(metrics)

	llmMgr := llmclient.NewManager(cfg, logger, providers, validator)
	llmMgr.SetMetrics(metrics)

	auditPath := nonEmptyOr(cfg.AuditPath, defaultAuditPath(cfg.Mode))
	auditLog, err := audit.Open(auditPath, cfg.Mode, logger)
	if err != nil {
		return nil, err
	}
	auditLog.SetMetrics(metrics)

	histPath := defaultHistoryPath()
	histMgr := history.New(histPath, logger, history.DefaultMaxSize)

	s := shell.New(cfg, logger, validator, resolver, llmMgr, auditLog, executor, histMgr)
	s.SetMetrics(metrics)
	return s, nil
}

// buildProviders registers one Provider per allowed provider name the
// process has credentials for. A provider that fails to construct (e.g.
// no AWS credential chain) is logged and skipped rather than treated as
// fatal — the fallback chain in internal/llmclient tolerates missing
// candidates.
func buildProviders(ctx context.Context, cfg config.Snapshot, logger *zap.Logger) (map[string]llmclient.Provider, error) {
	providers := make(map[string]llmclient.Provider)

	if len(cfg.AllowedProviders) == 0 || cfg.AllowedProviders["bedrock"] {
		if p, err := llmclient.NewBedrockProvider(ctx); err != nil {
			logger.Warn("bedrock provider unavailable", zap.Error(err))
		} else {
			providers["bedrock"] = p
		}
	}

	if endpoint := os.Getenv("AEGISH_OPENAI_ENDPOINT"); endpoint != "" {
		if len(cfg.AllowedProviders) == 0 || cfg.AllowedProviders["openai"] {
			providers["openai"] = llmclient.NewOpenAIProvider(endpoint, os.Getenv("AEGISH_OPENAI_API_KEY"))
		}
	}

	if len(providers) == 0 && cfg.Mode == config.ModeProduction {
		return nil, aegerr.New(aegerr.ConfigInvalid, "main.buildProviders", fmt.Errorf("no LLM provider available in production"))
	}
	return providers, nil
}

func defaultAuditPath(mode config.Mode) string {
	if mode == config.ModeProduction {
		return "/var/log/aegish/audit.log"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "aegish-audit.log"
	}
	return home + "/.aegish/audit.log"
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aegish_history"
	}
	return home + "/.aegish_history"
}

// verifyStartupIntegrity probes Landlock ABI availability, which spec.md
// §4.1 requires at process startup, not just lazily on the first
// sandboxed spawn (internal/exec.Executor.VerifyIntegrity covers the
// bash/sandboxer hash half of the same requirement and is invoked right
// after the Executor is built). In development, an unavailable Landlock
// ABI is a warning, not a fatal error — development runs are expected to
// proceed without a sandbox.
func verifyStartupIntegrity(cfg config.Snapshot, logger *zap.Logger) error {
	if _, err := sandbox.Build(); err != nil {
		if cfg.Mode == config.ModeProduction {
			return aegerr.New(aegerr.LandlockUnavailable, "main.verifyStartupIntegrity", err)
		}
		logger.Warn("Landlock unavailable; development mode proceeds without a sandbox", zap.Error(err))
	}
	return nil
}

// runHealthCheck probes the parts of aegish that can silently rot between
// deployments: Landlock availability, and (in production) the bash/
// sandboxer binary integrity pins. It never starts the REPL. Exit code 0
// means every probe passed; 1 means at least one failed.
func runHealthCheck(cfg config.Snapshot, logger *zap.Logger) int {
	ok := true

	ruleset, err := sandbox.Build()
	if err != nil {
		fmt.Printf("FAIL landlock: %v\n", err)
		ok = false
	} else {
		fmt.Printf("OK   landlock: ABI v%d\n", ruleset.ABI())
	}

	if cfg.Mode == config.ModeProduction {
		if cfg.RunnerBashSHA256 == "" || cfg.SandboxerSHA256 == "" {
			fmt.Println("FAIL integrity: runner_bash_sha256/sandboxer_sha256 not configured")
			ok = false
		} else {
			if err := verifyHash(cfg.RunnerBashPath, cfg.RunnerBashSHA256); err != nil {
				fmt.Printf("FAIL integrity: runner bash: %v\n", err)
				ok = false
			} else {
				fmt.Println("OK   integrity: runner bash hash matches")
			}
			if err := verifyHash(cfg.SandboxerPath, cfg.SandboxerSHA256); err != nil {
				fmt.Printf("FAIL integrity: sandboxer: %v\n", err)
				ok = false
			} else {
				fmt.Println("OK   integrity: sandboxer hash matches")
			}
		}
	} else {
		fmt.Println("SKIP integrity: development mode")
	}

	fmt.Println("--- metrics ---")
	metricFamilies, err := obs.Registry.Gather()
	if err != nil {
		logger.Warn("could not gather metrics", zap.Error(err))
	}
	for _, mf := range metricFamilies {
		fmt.Printf("%s: %d series\n", mf.GetName(), len(mf.GetMetric()))
	}

	if !ok {
		return 1
	}
	return 0
}

// verifyHash recomputes path's SHA-256 and compares it to want, the same
// check internal/exec.Executor runs before every spawn in production.
func verifyHash(path, want string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != want {
		return fmt.Errorf("hash mismatch: want %s, got %s", want, got)
	}
	return nil
}
