package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/80nF1R3H34D/dictwhisperer/internal/audio"
	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
	"github.com/80nF1R3H34D/dictwhisperer/internal/gate"
	"github.com/80nF1R3H34D/dictwhisperer/internal/journal"
	"github.com/80nF1R3H34D/dictwhisperer/internal/note"
	"github.com/80nF1R3H34D/dictwhisperer/internal/session"
	"github.com/80nF1R3H34D/dictwhisperer/internal/stt"
)

// Runtime wires configuration, telemetry, audio, model and note into
// one dictation session and runs it until the context is cancelled.
// Every error returned from Start before the loop begins is
// startup-fatal; once the loop runs, chunk errors stay inside it.
type Runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	callbacks session.Callbacks

	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup

	mu       sync.Mutex
	notePath string
}

func New(cfg config.Config, logger *slog.Logger, callbacks session.Callbacks) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
	}
}

// NotePath returns the session note's location once the session has
// started, for final status output.
func (r *Runtime) NotePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notePath
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg.Telemetry, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	// Deferred so telemetry is released on every startup-fatal return,
	// not only after the session loop has run.
	defer func() {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFlush()
		if err := shutdownTelemetry(flushCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("starting pre-flight checks")

	noteDir, err := note.VerifyVault(r.cfg.Vault.Path, r.cfg.Vault.Subfolder)
	if err != nil {
		return err
	}

	if err := stt.VerifyCommand(r.cfg.STT); err != nil {
		return err
	}

	recorder, err := audio.NewRecorder(r.cfg.Audio, r.logger)
	if err != nil {
		return err
	}
	defer recorder.Close()

	writer, err := note.Create(noteDir, time.Now())
	if err != nil {
		return err
	}
	defer writer.Close()
	r.mu.Lock()
	r.notePath = writer.Path()
	r.mu.Unlock()
	r.logger.Info("session note created", slog.String("path", writer.Path()))

	recognizer, err := r.buildRecognizer(ctx)
	if err != nil {
		return err
	}

	jrnl, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jrnl.Close()

	g, err := gate.New(r.cfg.Gate.Threshold)
	if err != nil {
		return err
	}

	if r.cfg.Telemetry.DebugBind != "" {
		r.startDebugServer(metricsHandler)
	}

	sess := session.New(session.Options{
		Config:     r.cfg.Session,
		Capturer:   recorder,
		Gate:       g,
		Recognizer: recognizer,
		Note:       writer,
		Journal:    jrnl,
		SampleRate: r.cfg.Audio.SampleRate,
		STTTimeout: time.Duration(r.cfg.STT.TimeoutMS) * time.Millisecond,
		Logger:     r.logger,
		Callbacks:  r.callbacks,
	})

	r.ready.Store(true)
	r.logger.Info("recording in chunks",
		slog.Int("chunk_duration_s", r.cfg.Session.ChunkDuration),
		slog.String("model_size", r.cfg.STT.ModelSize))

	runErr := sess.Run(ctx)

	stats := g.Stats()
	r.logger.Info("session ended",
		slog.Uint64("chunks_seen", stats.ChunksSeen),
		slog.Uint64("chunks_skipped", stats.ChunksSkipped),
		slog.String("note", writer.Path()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("debug server shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	return runErr
}

// buildRecognizer resolves the model weights (downloading them on first
// use of the configured size) and constructs the recognizer.
func (r *Runtime) buildRecognizer(ctx context.Context) (stt.Recognizer, error) {
	modelPath := ""
	if r.cfg.STT.Mode == "exec" {
		manager, err := stt.NewModelManager(r.cfg.STT, r.logger)
		if err != nil {
			return nil, err
		}
		modelPath, err = manager.Ensure(ctx, r.cfg.STT.ModelSize)
		if err != nil {
			return nil, err
		}
		r.logger.Info("model ready",
			slog.String("size", r.cfg.STT.ModelSize),
			slog.String("path", modelPath))
	}
	return stt.New(r.cfg.STT, modelPath)
}

func (r *Runtime) startDebugServer(metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	r.httpServer = &http.Server{
		Addr:              r.cfg.Telemetry.DebugBind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("debug server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("debug server listening", slog.String("addr", r.cfg.Telemetry.DebugBind))
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
