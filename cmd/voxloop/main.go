// Command voxloop captures speech from a microphone, transcribes each
// utterance, speaks it back through a TTS back-end and plays the clip.
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
	"text/tabwriter"
	"time"

	"github.com/MrWong99/voxloop/internal/app"
	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/audio/miniaudio"
	"github.com/MrWong99/voxloop/pkg/audio/speaker"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the audio device directory and exit")
	listVoices := flag.Bool("list-voices", false, "print the voices of the configured TTS back-end and exit")
	flag.Parse()

	// ── Audio back-end ────────────────────────────────────────────────────────
	// Device listing must work without a config file.
	backend, err := miniaudio.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		return 1
	}
	defer backend.Close()

	if *listDevices {
		return printDevices(backend)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloop: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("voxloop starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "voxloop",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, telemetry.Metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		_ = telemetry.Shutdown(context.Background())
		return 1
	}

	if *listVoices {
		defer telemetry.Shutdown(context.Background())
		return printVoices(providers.TTS)
	}

	// ── Player ────────────────────────────────────────────────────────────────
	var player audio.Player
	switch cfg.Audio.OutputBackend {
	case config.BackendSpeaker:
		p, err := speaker.New()
		if err != nil {
			slog.Error("failed to open speaker output", "err", err)
			_ = telemetry.Shutdown(context.Background())
			return 1
		}
		player = p
	default:
		player = backend.NewPlayer()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithInputDriver(backend),
		app.WithPlayer(player),
		app.WithTelemetry(telemetry),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		application.Reload(diff)
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("listening, press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if code == 0 {
		slog.Info("goodbye")
	}
	return code
}

func printDevices(dir audio.Directory) int {
	devs, err := dir.Devices(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		return 1
	}
	if err := audio.WriteDeviceList(os.Stdout, devs); err != nil {
		fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		return 1
	}
	return 0
}

func printVoices(s tts.Synthesizer) int {
	lister, ok := s.(tts.VoiceLister)
	if !ok {
		fmt.Fprintln(os.Stderr, "voxloop: the configured TTS back-end cannot list voices")
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	voices, err := lister.ListVoices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROVIDER")
	for _, v := range voices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.ID, v.Name, v.Provider)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxloop startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printRow("Fallbacks", fmt.Sprintf("stt:%d tts:%d",
		len(cfg.Providers.STT.Fallbacks), len(cfg.Providers.TTS.Fallbacks)))
	printRow("Input", orDefault(cfg.Audio.InputDevice))
	printRow("Output", orDefault(cfg.Audio.OutputDevice)+" ("+string(cfg.Audio.OutputBackend)+")")
	printRow("Silence", fmt.Sprintf("%.3f / %s", cfg.Detector.SilenceThreshold, cfg.Detector.SilenceDuration))
	printRow("Retention", cfg.Retention.Period.String())
	if cfg.Server.AdminAddr != "" {
		printRow("Admin addr", cfg.Server.AdminAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
