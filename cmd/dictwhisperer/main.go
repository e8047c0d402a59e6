package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
	"github.com/80nF1R3H34D/dictwhisperer/internal/runtime"
	"github.com/80nF1R3H34D/dictwhisperer/internal/session"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath    string
		vaultPath     string
		subfolder     string
		modelSize     string
		chunkDuration int
		quiet         bool
		showVersion   bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&vaultPath, "vault-path", "", "Path to the Obsidian vault")
	flag.StringVar(&subfolder, "subfolder", "", "Vault subfolder for session notes")
	flag.StringVar(&modelSize, "model-size", "", "Whisper model size (tiny, base, small, medium, large)")
	flag.IntVar(&chunkDuration, "chunk-duration", 0, "Chunk duration in seconds")
	flag.BoolVar(&quiet, "quiet", false, "Suppress the live countdown")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dictwhisperer: %v\n", err)
		os.Exit(1)
	}

	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	applyFlags(&cfg, setFlags, vaultPath, subfolder, modelSize, chunkDuration)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "dictwhisperer: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Telemetry)

	display := &console{out: os.Stdout, quiet: quiet}
	rt := runtime.New(cfg, logger, session.Callbacks{
		OnState:      display.state,
		OnProgress:   display.countdown,
		OnTranscript: display.transcript,
		OnError:      display.chunkError,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("session failed", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "dictwhisperer: %v\n", err)
		os.Exit(1)
	}

	if path := rt.NotePath(); path != "" {
		fmt.Fprintf(os.Stdout, "\nDictation saved to %s\n", path)
	}
}

// applyFlags overrides config values with the flags the user actually
// set. Presence is tracked explicitly so a zero or negative value still
// reaches Validate instead of being mistaken for an absent flag.
func applyFlags(cfg *config.Config, set map[string]bool, vaultPath, subfolder, modelSize string, chunkDuration int) {
	if set["vault-path"] {
		cfg.Vault.Path = vaultPath
	}
	if set["subfolder"] {
		cfg.Vault.Subfolder = subfolder
	}
	if set["model-size"] {
		cfg.STT.ModelSize = modelSize
	}
	if set["chunk-duration"] {
		cfg.Session.ChunkDuration = chunkDuration
	}
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// console renders session progress on a single rewritten line so the
// countdown does not scroll the terminal.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	quiet   bool
	lineLen int
}

func (c *console) state(s session.State) {
	switch s {
	case session.StateRecording:
		c.printLine("Recording...")
	case session.StateProcessing:
		c.printLine("Transcribing...")
	case session.StateStopping:
		c.printLine("Finishing up...")
		c.endLine()
	}
}

func (c *console) countdown(remaining time.Duration) {
	secs := int(remaining.Round(time.Second) / time.Second)
	c.printLine(fmt.Sprintf("Recording: %ds remaining (Ctrl+C to stop)", secs))
}

func (c *console) transcript(text string) {
	c.endLine()
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "> %s\n", text)
}

func (c *console) chunkError(err error) {
	c.endLine()
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "! chunk error: %v\n", err)
}

func (c *console) printLine(text string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pad := c.lineLen - len(text)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(c.out, "\r%s%s", text, strings.Repeat(" ", pad))
	c.lineLen = len(text)
}

func (c *console) endLine() {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lineLen > 0 {
		fmt.Fprint(c.out, "\n")
		c.lineLen = 0
	}
}
