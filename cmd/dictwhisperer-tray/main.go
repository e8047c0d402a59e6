package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
	"github.com/80nF1R3H34D/dictwhisperer/internal/runtime"
	"github.com/80nF1R3H34D/dictwhisperer/internal/session"
)

// app owns the tray state. One dictation session runs at a time; the
// Start item becomes Stop while it is active.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	toggleItem *systray.MenuItem
	statusItem *systray.MenuItem
	lastItem   *systray.MenuItem
	modelItems map[string]*systray.MenuItem
}

var application *app

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application = &app{cfg: cfg, logger: logger, modelItems: map[string]*systray.MenuItem{}}
	systray.Run(application.onReady, application.onExit)
}

func (a *app) onReady() {
	systray.SetTitle("DW")
	systray.SetTooltip("DictWhisperer")

	a.toggleItem = systray.AddMenuItem("Start Dictation", "Begin a dictation session")
	a.statusItem = systray.AddMenuItem("Idle", "Session state")
	a.statusItem.Disable()
	a.lastItem = systray.AddMenuItem("No transcript yet", "Most recent transcript")
	a.lastItem.Disable()

	systray.AddSeparator()
	modelMenu := systray.AddMenuItem("Model Size", "Whisper model size")
	for _, size := range config.ModelSizes {
		item := modelMenu.AddSubMenuItemCheckbox(size, "", size == a.cfg.STT.ModelSize)
		a.modelItems[size] = item
		go a.watchModelItem(size, item)
	}

	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Quit DictWhisperer")

	go func() {
		for range a.toggleItem.ClickedCh {
			a.toggle()
		}
	}()
	go func() {
		<-quit.ClickedCh
		systray.Quit()
	}()
}

func (a *app) onExit() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *app) watchModelItem(size string, item *systray.MenuItem) {
	for range item.ClickedCh {
		a.mu.Lock()
		if a.running {
			a.mu.Unlock()
			continue // model changes apply to the next session
		}
		a.cfg.STT.ModelSize = size
		a.mu.Unlock()
		for s, it := range a.modelItems {
			if s == size {
				it.Check()
			} else {
				it.Uncheck()
			}
		}
	}
}

func (a *app) toggle() {
	a.mu.Lock()
	if a.running {
		if a.cancel != nil {
			a.cancel()
		}
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running = true
	cfg := a.cfg
	a.mu.Unlock()

	a.toggleItem.SetTitle("Stop Dictation")
	go a.runSession(ctx, cfg)
}

func (a *app) runSession(ctx context.Context, cfg config.Config) {
	rt := runtime.New(cfg, a.logger, session.Callbacks{
		OnState:      a.showState,
		OnProgress:   a.showCountdown,
		OnTranscript: a.showTranscript,
		OnError:      a.showError,
	})

	err := rt.Start(ctx)

	a.mu.Lock()
	a.running = false
	a.cancel = nil
	a.mu.Unlock()

	a.toggleItem.SetTitle("Start Dictation")
	if err != nil {
		a.logger.Error("session failed", slog.String("error", err.Error()))
		a.statusItem.SetTitle(fmt.Sprintf("Error: %v", err))
		return
	}
	if path := rt.NotePath(); path != "" {
		a.statusItem.SetTitle("Saved: " + truncate(path, 48))
	} else {
		a.statusItem.SetTitle("Idle")
	}
}

func (a *app) showState(s session.State) {
	switch s {
	case session.StateProcessing:
		a.statusItem.SetTitle("Transcribing...")
	case session.StateStopping:
		a.statusItem.SetTitle("Finishing up...")
	}
}

func (a *app) showCountdown(remaining time.Duration) {
	secs := int(remaining.Round(time.Second) / time.Second)
	a.statusItem.SetTitle(fmt.Sprintf("Recording: %ds", secs))
}

func (a *app) showTranscript(text string) {
	a.lastItem.SetTitle(truncate(text, 64))
}

func (a *app) showError(err error) {
	a.statusItem.SetTitle(fmt.Sprintf("Chunk error: %v", err))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
