package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Verdict-Labs/verdict/internal/adapter/inbound/httpapi"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/cel"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/memory"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/notify"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/sqlite"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/statefile"
	"github.com/Verdict-Labs/verdict/internal/config"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/chain"
	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
	"github.com/Verdict-Labs/verdict/internal/domain/firewall"
	"github.com/Verdict-Labs/verdict/internal/domain/policy"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
	"github.com/Verdict-Labs/verdict/internal/domain/session"
	"github.com/Verdict-Labs/verdict/internal/domain/verify"
	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
	"github.com/Verdict-Labs/verdict/internal/observability"
	"github.com/Verdict-Labs/verdict/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governance engine",
	Long: `Run the Verdict governance engine and its HTTP API.

The engine evaluates agent actions through the layered pipeline and
serves the management API (policies, audit log, kill switch, wallets,
escalations, event stream) on the configured address.

Examples:
  # Run with config file settings
  verdictd serve

  # Run with a specific config file
  verdictd --config /path/to/verdict.yaml serve

  # Run with the sqlite store
  VERDICT_STORE_DRIVER=sqlite verdictd serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Log to stderr; stdout is reserved for telemetry export when enabled.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.SlogLevel(),
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "verdictd stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("verdictd stopped")
	return nil
}

// run wires stores, services, and the HTTP server together and blocks
// until ctx is cancelled or the listener fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== Telemetry =====
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = Version
	obsCfg.Enabled = cfg.Telemetry.Enabled
	obs, err := observability.New(ctx, obsCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// ===== Stores =====
	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	// ===== Kill switch =====
	// The optional state file mirror survives a lost primary store, so a
	// restart still sees an engaged switch.
	var killOpts []service.KillSwitchOption
	if cfg.Store.StateFile != "" {
		killOpts = append(killOpts, service.WithKillMirror(statefile.New(cfg.Store.StateFile, logger)))
		logger.Info("kill switch mirror enabled", "path", cfg.Store.StateFile)
	}
	kill, err := service.NewKillSwitch(ctx, st.state, logger, killOpts...)
	if err != nil {
		return fmt.Errorf("failed to restore kill switch: %w", err)
	}

	// ===== Policies =====
	compiler, err := cel.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to build condition compiler: %w", err)
	}

	base := service.DefaultBasePolicies()
	if cfg.Policy.BaseFile != "" {
		data, err := os.ReadFile(cfg.Policy.BaseFile)
		if err != nil {
			return fmt.Errorf("failed to read base policy file: %w", err)
		}
		base, err = policy.ParseBase(data)
		if err != nil {
			return fmt.Errorf("failed to parse base policy file %s: %w", cfg.Policy.BaseFile, err)
		}
		logger.Info("base policies loaded", "file", cfg.Policy.BaseFile, "count", len(base))
	}

	policies, err := service.NewPolicyService(ctx, st.policies, compiler, logger,
		service.WithBasePolicies(base),
		service.WithPolicyTTL(cfg.Policy.CacheTTL),
	)
	if err != nil {
		return fmt.Errorf("failed to create policy service: %w", err)
	}

	// ===== Event bus =====
	bus := service.NewBus(logger,
		service.WithSubscriberBuffer(cfg.Events.BufferSize),
		service.WithHeartbeatInterval(cfg.Events.HeartbeatInterval),
	)
	bus.Start(ctx)
	defer bus.Stop()
	observability.RegisterBusStats(registry, bus)

	// ===== Escalations =====
	escalator := service.NewEscalator(st.escalations, st.actions, kill, logger,
		service.WithBlockThreshold(cfg.Escalation.BlockThreshold),
		service.WithRiskThreshold(cfg.Escalation.RiskThreshold),
		service.WithPendingTTL(cfg.Escalation.PendingTTL),
		service.WithNotifiers(
			notify.NewSlog(logger),
			observability.NewEscalationCounter(metrics),
		),
	)
	escalator.Start(ctx)
	defer escalator.Stop()

	// ===== Fees =====
	initial, err := cfg.Fees.InitialAmount()
	if err != nil {
		return fmt.Errorf("invalid fees.initial_balance: %w", err)
	}
	fees := service.NewFeeLedger(st.wallets, logger,
		service.WithFeesEnabled(cfg.Fees.Enabled),
		service.WithInitialBalance(initial),
	)

	// ===== Pipeline layers =====
	fw := firewall.New()
	estimator := risk.NewEstimator()
	sessions := session.NewReconstructor(st.actions, session.Window{
		Duration:   time.Duration(cfg.Session.WindowMinutes) * time.Minute,
		MaxEntries: cfg.Session.MaxEntries,
	})
	chains := chain.NewAnalyzer(chain.WithBudget(cfg.Chain.TimeBudget))

	engine, err := service.NewEngine(service.EngineDeps{
		Kill:      kill,
		Firewall:  fw,
		Policies:  policies,
		Estimator: estimator,
		Sessions:  sessions,
		Chains:    chains,
		Actions:   st.actions,
		Receipts:  st.receipts,
		Bus:       bus,
		Fees:      fees,
		Escalator: escalator,
	}, logger,
		service.WithEngineTracer(obs.Tracer()),
		service.WithDecisionObserver(metrics.ObserveDecision),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	verifier := service.NewVerifier(st.actions, st.verifications, policies, escalator, fw, logger,
		service.WithDiffLimits(verify.Limits{DefaultBytes: cfg.Verify.DiffLimitBytes}),
		service.WithBaselineDepth(cfg.Verify.DriftBaselineDepth),
	)

	// ===== HTTP API =====
	handler, err := httpapi.NewHandler(httpapi.Deps{
		Engine:    engine,
		Verifier:  verifier,
		Policies:  policies,
		Kill:      kill,
		Fees:      fees,
		Escalator: escalator,
		Bus:       bus,
		Actions:   st.actions,
		Firewall:  fw,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create API handler: %w", err)
	}

	srv := httpapi.NewServer(handler, logger,
		httpapi.WithAddr(cfg.Server.HTTPAddr),
		httpapi.WithRegistry(registry),
	)

	active, err := policies.List(ctx, true)
	if err != nil {
		logger.Warn("failed to count active policies", "error", err)
	}

	logger.Info("verdictd starting",
		"version", Version,
		"http_addr", cfg.Server.HTTPAddr,
		"store", cfg.Store.Driver,
		"policies", len(active),
		"fees", cfg.Fees.Enabled,
		"telemetry", cfg.Telemetry.Enabled,
		"kill_switch_engaged", kill.Engaged(),
	)

	printBanner(Version, cfg.Server.HTTPAddr, cfg.Store.Driver, len(active), cfg.Fees.Enabled, kill.Engaged())

	return srv.Start(ctx)
}

// stores bundles the persistence backends behind the domain interfaces
// so run does not care which driver is active.
type stores struct {
	actions       audit.ActionStore
	receipts      audit.ReceiptStore
	verifications audit.VerificationStore
	state         audit.StateStore
	policies      policy.Store
	wallets       wallet.Store
	escalations   escalation.Store

	db *sql.DB // nil for the memory driver
}

// Close releases the backing database, if any.
func (s *stores) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// openStores builds the store set for the configured driver.
func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Info("store opened", "driver", "memory")
		return &stores{
			actions:       memory.NewActionStore(),
			receipts:      memory.NewReceiptStore(),
			verifications: memory.NewVerificationStore(),
			state:         memory.NewStateStore(),
			policies:      memory.NewPolicyStore(),
			wallets:       memory.NewWalletStore(),
			escalations:   memory.NewEscalationStore(),
		}, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.Info("store opened", "driver", "sqlite", "path", cfg.Store.SQLitePath)
		return &stores{
			actions:       sqlite.NewActionStore(db),
			receipts:      sqlite.NewReceiptStore(db),
			verifications: sqlite.NewVerificationStore(db),
			state:         sqlite.NewStateStore(db),
			policies:      sqlite.NewPolicyStore(db),
			wallets:       sqlite.NewWalletStore(db),
			escalations:   sqlite.NewEscalationStore(db),
			db:            db,
		}, nil

	default:
		return nil, fmt.Errorf("invalid store driver: %s (must be 'memory' or 'sqlite')", cfg.Store.Driver)
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// address, store driver, and engine state.
func printBanner(version, httpAddr, driver string, policyCount int, feesEnabled, killEngaged bool) {
	const (
		reset = "\033[0m"
		bold  = "\033[1m"
		cyan  = "\033[36m"
		green = "\033[32m"
		red   = "\033[31m"
		dim   = "\033[2m"
	)

	apiURL := fmt.Sprintf("http://%s/v1", httpAddr)
	if strings.HasPrefix(httpAddr, ":") {
		apiURL = fmt.Sprintf("http://localhost%s/v1", httpAddr)
	}

	switchStr := green + "released" + reset
	if killEngaged {
		switchStr = red + "ENGAGED" + reset
	}

	feesStr := "off"
	if feesEnabled {
		feesStr = "on"
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s Verdict %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "API:", apiURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Store:", driver)
	fmt.Fprintf(os.Stderr, "  %-14s %d active\n", "Policies:", policyCount)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Fees:", feesStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Kill switch:", switchStr)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the verdictd PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".verdict", "verdictd.pid")
	}
	return filepath.Join(os.TempDir(), "verdictd.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
