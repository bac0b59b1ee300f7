// bookguard — a market-data integrity black box.
//
// It maintains a bit-exact replica of one or more remote order books served
// over a streaming wire protocol, verifies each incremental update against
// the server-supplied CRC32 of the canonical top-of-book slice, and produces
// forensic evidence bundles when integrity is lost.
//
// Architecture:
//
//	cmd/bookguard/main.go   — entry point: live and replay subcommands
//	engine/engine.go        — orchestrator: wires feed/replay → book → checksum → health → frames
//	fixedpoint/decimal.go   — exact decimal wrapper + canonical checksum formatting
//	book/book.go            — per-symbol bid/ask ladder under snapshot-then-delta semantics
//	checksum/verifier.go    — canonical string builder + CRC32 verification with integrity proofs
//	health/health.go        — per-symbol health score and status (monitor.go: background monitor)
//	frames/ring.go          — bounded frame rings feeding incident bundle capture
//	replay/replayer.go      — deterministic NDJSON replay with fault injection
//	recorder/recorder.go    — NDJSON frame log writer (what replay reads back)
//	feed/feed.go            — WebSocket client with auto-reconnect
//	api/server.go           — HTTP/WebSocket observability surface
//	store/store.go          — JSON file persistence for instrument descriptors
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"bookguard/internal/api"
	"bookguard/internal/config"
	"bookguard/internal/engine"
	"bookguard/internal/replay"
)

var (
	cfgPath string

	liveSymbols []string
	liveDepth   int
	recordPath  string

	replayInput string
	replaySpeed float64
	faultSpec   string
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML config file")

	rootCmd.AddCommand(liveCmd)
	liveCmd.Flags().StringSliceVar(&liveSymbols, "symbols", nil, "Symbols to subscribe to (comma-separated)")
	liveCmd.Flags().IntVar(&liveDepth, "depth", 0, "Book depth per side (rounded up to a supported tier)")
	liveCmd.Flags().StringVar(&recordPath, "record", "", "Record every frame to this NDJSON file")

	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Recorded NDJSON frame log to replay")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Pacing multiplier (0 = as fast as possible)")
	replayCmd.Flags().StringVar(&faultSpec, "fault", "", "Fault rule, e.g. every:2:drop, once:3:reorder, every:5:mutate:-10")
	replayCmd.MarkFlagRequired("input")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "bookguard",
	Short:         "bookguard verifies streamed order books against vendor checksums",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Connect to the live feed and verify book integrity in real time",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		if len(liveSymbols) > 0 {
			cfg.Symbols = liveSymbols
		}
		if cmd.Flags().Changed("depth") {
			cfg.Depth = config.NormalizeDepth(liveDepth)
		}
		if recordPath != "" {
			cfg.Record.Enabled = true
			cfg.Record.Path = recordPath
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		eng := engine.New(*cfg, logger)
		return runUntilSignal(eng, cfg, logger)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded frame log deterministically, with optional fault injection",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := os.Open(replayInput)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		log, err := replay.LoadFrames(f)
		f.Close()
		if err != nil {
			return err
		}
		if len(log) == 0 {
			return fmt.Errorf("input %s contains no frames", replayInput)
		}

		rule, err := parseFaultRule(faultSpec)
		if err != nil {
			return err
		}

		pacing := replay.Realtime()
		switch {
		case replaySpeed == 0:
			pacing = replay.AsFastAsPossible()
		case replaySpeed != 1.0:
			pacing = replay.AtSpeed(replaySpeed)
		}

		// Replay never re-records; symbols come from the recording itself,
		// so the live-mode symbol requirement doesn't apply.
		cfg.Record.Enabled = false
		if cfg.Dashboard.Enabled && (cfg.Dashboard.Port <= 0 || cfg.Dashboard.Port > 65535) {
			return fmt.Errorf("invalid config: dashboard.port out of range")
		}

		logger.Info("replaying frame log", "input", replayInput, "frames", len(log), "speed", replaySpeed)
		eng := engine.NewReplay(*cfg, logger, log, pacing, rule)
		return runUntilSignal(eng, cfg, logger)
	},
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	return cfg, logger, nil
}

func runUntilSignal(eng *engine.Engine, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("bookguard started", "symbols", cfg.Symbols, "depth", cfg.Depth)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	cancel()
	eng.Stop()
	return nil
}

// parseFaultRule parses the --fault flag:
//
//	every:<n>:drop|reorder
//	every:<n>:mutate:<delta_ticks>
//	once:<index>:drop|reorder
//	once:<index>:mutate:<delta_ticks>
//
// An empty spec means no fault injection.
func parseFaultRule(spec string) (replay.FaultRule, error) {
	if spec == "" {
		return replay.NoFault(), nil
	}

	parts := strings.Split(spec, ":")
	if len(parts) < 3 {
		return replay.FaultRule{}, fmt.Errorf("invalid fault rule %q", spec)
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil || n <= 0 {
		return replay.FaultRule{}, fmt.Errorf("invalid fault rule %q: bad index %q", spec, parts[1])
	}

	var fault replay.Fault
	switch parts[2] {
	case "drop":
		fault = replay.Drop()
	case "reorder":
		fault = replay.Reorder()
	case "mutate":
		if len(parts) != 4 {
			return replay.FaultRule{}, fmt.Errorf("invalid fault rule %q: mutate needs a delta", spec)
		}
		delta, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return replay.FaultRule{}, fmt.Errorf("invalid fault rule %q: bad delta %q", spec, parts[3])
		}
		fault = replay.MutateQty(delta)
	default:
		return replay.FaultRule{}, fmt.Errorf("invalid fault rule %q: unknown fault %q", spec, parts[2])
	}

	switch parts[0] {
	case "every":
		return replay.Every(n, fault), nil
	case "once":
		return replay.OnceAt(n, fault), nil
	default:
		return replay.FaultRule{}, fmt.Errorf("invalid fault rule %q: unknown trigger %q", spec, parts[0])
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
