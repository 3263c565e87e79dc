// Command rtsp-to-wyoming listens to a camera's RTSP audio, transcribes speech
// with a Wyoming ASR server and runs the matching Home Assistant services.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/app"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/config"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/homeassistant"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/observe"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/source"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad/energy"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad/webrtc"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/data/options.json", "path to the add-on options file (JSON or YAML)")
	watchInterval := flag.Duration("watch-interval", 5*time.Second, "how often the options file is checked for changes")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "rtsp-to-wyoming: options file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rtsp-to-wyoming: %v\n", err)
		}
		return 1
	}
	level.Set(app.SlogLevel(cfg.LogLevel))

	slog.Info("rtsp-to-wyoming starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)
	logEnvironment()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinVAD(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers,
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler()),
		app.WithLevelVar(&level),
		app.WithConfigWatch(*configPath, *watchInterval),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("listening for voice commands, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// registerBuiltinVAD wires the VAD engines that ship with the binary into reg.
func registerBuiltinVAD(reg *config.Registry) {
	reg.RegisterVAD(config.VADEngineWebRTC, func(*config.Config) (vad.Engine, error) {
		return webrtc.New(), nil
	})
	reg.RegisterVAD(config.VADEngineEnergy, func(*config.Config) (vad.Engine, error) {
		return energy.New(), nil
	})
	slog.Debug("registered vad engines", "names", reg.VADNames())
}

// logEnvironment reports which credential variables are present without
// printing their values.
func logEnvironment() {
	for _, name := range []string{homeassistant.EnvSupervisorToken, homeassistant.EnvHassioToken} {
		_, ok := os.LookupEnv(name)
		slog.Info("environment", "var", name, "present", ok)
	}
	if homeassistant.TokenFromEnv() == "" {
		slog.Warn("no Home Assistant token found, service calls will fail")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	mode := "vad / " + cfg.VADEngine
	if !cfg.VADEnabled {
		mode = fmt.Sprintf("chunks / %gs", cfg.ChunkDuration)
	}
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = "(disabled)"
	}
	debugDir := cfg.DebugDir
	if debugDir == "" {
		debugDir = "(disabled)"
	}

	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║        rtsp-to-wyoming  startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════════════╣")
	printRow("Stream", source.RedactURL(cfg.RTSPURL))
	printRow("Wyoming", cfg.WyomingAddr())
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.SampleRate))
	printRow("Segmentation", mode)
	printRow("Commands", fmt.Sprintf("%d", len(cfg.Commands)))
	printRow("HTTP", httpAddr)
	printRow("Debug WAVs", debugDir)
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 29 {
		value = string(r[:28]) + "…"
	}
	fmt.Printf("║  %-12s : %-29s ║\n", label, value)
}
