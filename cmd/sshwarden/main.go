package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sshwarden/sshwarden/internal/adapters/enforce"
	"github.com/sshwarden/sshwarden/internal/adapters/input"
	"github.com/sshwarden/sshwarden/internal/adapters/output"
	"github.com/sshwarden/sshwarden/internal/adapters/state"
	"github.com/sshwarden/sshwarden/internal/app"
	"github.com/sshwarden/sshwarden/internal/domain"
	"github.com/sshwarden/sshwarden/internal/engine"
	"github.com/sshwarden/sshwarden/internal/ports"
)

var (
	cfgFile       string
	logFile       string
	dryRun        bool
	fromBeginning bool

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sshwarden",
	Short: "Adaptive SSH brute-force detection and mitigation",
	Long: `sshwarden watches authentication logs for failed SSH login attempts,
blocks sources that exceed a sliding-window threshold, and correlates
attempts across sources to catch distributed attacks against a single
account.

Blocks expire on their own, survive restarts via a state snapshot, and
never touch whitelisted addresses.`,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the auth log and mitigate continuously",
	Long: `Watch tails the auth log, blocking and unblocking in real time until
interrupted.

Examples:
  sshwarden watch --log /var/log/auth.log
  sshwarden watch --dry-run
  SSHWARDEN_DETECTION_THRESHOLD=3 sshwarden watch`,
	RunE: runWatch,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Analyze a static log file once and exit",
	Long: `Scan reads the log file from the beginning, applies detection, emits
decisions, persists state, and exits. Useful for dry-run analysis of
historical logs.

Examples:
  sshwarden scan --log ./auth.log --dry-run`,
	RunE: runScan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sshwarden %s\n", Version)
		fmt.Printf("Commit:  %s\n", Commit)
		fmt.Printf("Built:   %s\n", BuildTime)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "config-init [path]",
	Short: "Write a sample configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "sshwarden.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", path)
		}
		if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
			return err
		}
		fmt.Printf("Sample configuration written to %s\n", path)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sshwarden.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "log", "l", "", "auth log file to watch")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log enforcement actions without running them")
	rootCmd.PersistentFlags().BoolVar(&fromBeginning, "from-beginning", false, "read the log from the beginning")

	viper.BindPFlag("input.log_path", rootCmd.PersistentFlags().Lookup("log"))
	viper.BindPFlag("input.from_beginning", rootCmd.PersistentFlags().Lookup("from-beginning"))

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configInitCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("sshwarden")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/sshwarden")
	}

	app.SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Msg("Error reading config file")
		}
	}

	viper.SetEnvPrefix("SSHWARDEN")
	viper.AutomaticEnv()
}

func setupLogging(cfg *app.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch cfg.Logging.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}

// buildSupervisor wires the whole pipeline from configuration: whitelist,
// engine, enforcer, sinks, dispatcher, state store, tailer.
func buildSupervisor(cfg *app.Config) (*app.Supervisor, *engine.WhitelistIndex, func(), error) {
	whitelist := engine.NewWhitelistIndex()
	loaded := whitelist.Load(cfg.Whitelist)
	log.Info().Int("entries", loaded).Msg("Whitelist loaded")

	registry := engine.NewBlockRegistry(whitelist, cfg.Detection.MaxBlockLifetime)
	tracker := engine.NewSlidingWindowTracker(cfg.Detection.Window)
	correlator := engine.NewAttackCorrelator(cfg.Correlation.Window)

	metrics := domain.NewEngineMetrics()

	var enforcer ports.Enforcer
	if dryRun || cfg.Enforce.Mode == "dryrun" {
		enforcer = enforce.NewDryRunEnforcer()
		log.Info().Msg("Dry-run mode: no enforcement commands will run")
	} else {
		enforcer = enforce.NewExecEnforcer(
			cfg.Enforce.BlockCommand,
			cfg.Enforce.UnblockCommand,
			cfg.Enforce.MaxAttempts,
			cfg.Enforce.Timeout,
		)
	}

	var sinks []ports.DecisionSink
	var cleanups []func()

	if cfg.Output.JSONPath != "" || cfg.Output.Stdout {
		jsonSink, err := output.NewJSONSink(output.JSONSinkConfig{
			FilePath: cfg.Output.JSONPath,
			Stdout:   cfg.Output.Stdout,
			Pretty:   cfg.Output.Pretty,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating JSON sink: %w", err)
		}
		sinks = append(sinks, jsonSink)
	}

	if cfg.Audit.Enabled && cfg.Audit.Path != "" {
		sinks = append(sinks, output.NewAuditSink(output.AuditSinkConfig{
			FilePath:   cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		}))
	}

	dispatcher := app.NewDispatcher(app.DispatcherConfig{
		WorkerCount:   cfg.Dispatch.Workers,
		BufferSize:    cfg.Dispatch.BufferSize,
		SubmitTimeout: cfg.Dispatch.SubmitTimeout,
		SpillPath:     cfg.Dispatch.SpillPath,
	}, enforcer, sinks, metrics)

	eng := engine.New(cfg.EngineConfig(), engine.Components{
		Whitelist:  whitelist,
		Tracker:    tracker,
		Registry:   registry,
		Correlator: correlator,
	}, func(decision domain.Decision) {
		if !dispatcher.Submit(decision) {
			log.Error().Str("decision_id", decision.ID).Msg("Decision dropped: dispatch queue saturated")
		}
	}, metrics)

	if cfg.Metrics.Enabled {
		promMetrics := output.NewPrometheusMetrics("sshwarden", metrics, registry.Len)
		dispatcher.AddSubscriber(promMetrics)
		if err := promMetrics.StartServer(output.MetricsConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to start metrics server")
		}
		cleanups = append(cleanups, func() { promMetrics.StopServer() })
	}

	parser := input.NewAuthLogParser()
	tailer := input.NewAuthLogTailer(cfg.Input.LogPath, parser, cfg.Input.FromBeginning)

	store := state.NewFileStore(cfg.State.Path)

	supervisor := app.NewSupervisor(eng, tailer, dispatcher, store, cfg.Sweep.Interval)

	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}
	return supervisor, whitelist, cleanup, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := app.LoadFromViper()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	log.Info().
		Str("log", cfg.Input.LogPath).
		Int("threshold", cfg.Detection.Threshold).
		Dur("window", cfg.Detection.Window).
		Dur("block_duration", cfg.Detection.BlockDuration).
		Str("enforce", cfg.Enforce.Mode).
		Msg("sshwarden started")

	supervisor, whitelist, cleanup, err := buildSupervisor(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	app.WatchWhitelist(whitelist)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go supervisor.WaitForSignal()

	return supervisor.Run(ctx)
}

func runScan(cmd *cobra.Command, args []string) error {
	viper.Set("input.from_beginning", true)

	cfg, err := app.LoadFromViper()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if cfg.Input.LogPath == "" {
		return fmt.Errorf("log file path required: use --log")
	}

	log.Info().Str("log", cfg.Input.LogPath).Msg("Scanning log file")

	supervisor, _, cleanup, err := buildSupervisor(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	return supervisor.RunOnce(ctx, 2*time.Second)
}

const sampleConfig = `# sshwarden configuration
detection:
  threshold: 5          # failed attempts before a block
  window: 5m            # sliding window for counting attempts
  block_duration: 24h   # initial block length
  max_block_lifetime: 168h

correlation:
  enabled: true
  min_sources: 5        # distinct sources targeting one account
  window: 60m

sweep:
  interval: 30s

whitelist:
  - 127.0.0.1
  - ::1
  - 10.0.0.0/8

input:
  log_path: /var/log/auth.log
  from_beginning: false

enforce:
  mode: dryrun          # dryrun or exec
  block_command: "iptables -I INPUT -s %IP% -j DROP"
  unblock_command: "iptables -D INPUT -s %IP% -j DROP"
  max_attempts: 3
  timeout: 10s

state:
  path: /var/lib/sshwarden/state.json

audit:
  enabled: true
  path: /var/log/sshwarden/audit.log
  max_size_mb: 10
  max_backups: 5
  max_age_days: 30

output:
  json:
    path: ""
    stdout: false
    pretty: false

metrics:
  enabled: false
  port: ":9090"
  path: /metrics

dispatch:
  workers: 4
  buffer_size: 1024
  submit_timeout: 100ms
  spill_path: ""

logging:
  level: info
`

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
