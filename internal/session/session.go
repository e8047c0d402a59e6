package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/80nF1R3H34D/dictwhisperer/internal/audio"
	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
	"github.com/80nF1R3H34D/dictwhisperer/internal/gate"
	"github.com/80nF1R3H34D/dictwhisperer/internal/journal"
	"github.com/80nF1R3H34D/dictwhisperer/internal/stt"
)

// State models the dictation lifecycle. Recording and Processing
// alternate per chunk; Stopping is entered on interrupt from either and
// Stopped is terminal.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
)

// Capturer records one fixed-duration chunk of mono PCM.
type Capturer interface {
	Record(ctx context.Context, duration time.Duration) (audio.Chunk, error)
}

// NoteWriter receives transcript fragments in chunk order.
type NoteWriter interface {
	Append(fragment string) error
	Path() string
}

// Callbacks are pure view hooks for the CLI and tray front ends. All
// fields are optional and carry no business logic. OnState,
// OnTranscript and OnError are invoked from the session goroutine;
// OnProgress fires from the countdown goroutine and may run
// concurrently with them.
type Callbacks struct {
	OnState      func(State)
	OnProgress   func(remaining time.Duration)
	OnTranscript func(text string)
	OnError      func(err error)
}

// Session drives capture, gate, transcription and note writing
// strictly sequentially: the next chunk's capture does not begin until
// the previous chunk's append has completed.
type Session struct {
	id         string
	cfg        config.SessionConfig
	capturer   Capturer
	gate       *gate.Gate
	recognizer stt.Recognizer
	note       NoteWriter
	journal    *journal.Journal
	sampleRate int
	sttTimeout time.Duration
	logger     *slog.Logger
	callbacks  Callbacks

	tracer trace.Tracer

	chunksCaptured    metric.Int64Counter
	chunksSkipped     metric.Int64Counter
	chunksTranscribed metric.Int64Counter
	chunkFailures     metric.Int64Counter

	mu    sync.Mutex
	state State
}

type Options struct {
	Config     config.SessionConfig
	Capturer   Capturer
	Gate       *gate.Gate
	Recognizer stt.Recognizer
	Note       NoteWriter
	Journal    *journal.Journal
	SampleRate int
	STTTimeout time.Duration
	Logger     *slog.Logger
	Callbacks  Callbacks
}

func New(opts Options) *Session {
	meter := otel.Meter("dictwhisperer/session")
	captured, _ := meter.Int64Counter("dictwhisperer.chunks.captured")
	skipped, _ := meter.Int64Counter("dictwhisperer.chunks.skipped")
	transcribed, _ := meter.Int64Counter("dictwhisperer.chunks.transcribed")
	failures, _ := meter.Int64Counter("dictwhisperer.chunks.failed")

	id := uuid.NewString()
	return &Session{
		id:                id,
		cfg:               opts.Config,
		capturer:          opts.Capturer,
		gate:              opts.Gate,
		recognizer:        opts.Recognizer,
		note:              opts.Note,
		journal:           opts.Journal,
		sampleRate:        opts.SampleRate,
		sttTimeout:        opts.STTTimeout,
		logger:            opts.Logger.With(slog.String("session_id", id)),
		callbacks:         opts.Callbacks,
		tracer:            otel.Tracer("dictwhisperer/session"),
		chunksCaptured:    captured,
		chunksSkipped:     skipped,
		chunksTranscribed: transcribed,
		chunkFailures:     failures,
		state:             StateIdle,
	}
}

// ID returns the session identifier used in the journal and logs.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	if s.callbacks.OnState != nil {
		s.callbacks.OnState(next)
	}
}

// Run executes the chunk loop until ctx is cancelled. Chunk-level
// failures are reported and the loop continues; only the interrupt ends
// it. Run always moves through Stopping to Stopped before returning.
func (s *Session) Run(ctx context.Context) error {
	if err := s.journal.AppendSession(ctx, s.id); err != nil {
		s.logger.Warn("journal session start failed", slog.String("error", err.Error()))
	}

	duration := time.Duration(s.cfg.ChunkDuration) * time.Second
	index := 0

	for ctx.Err() == nil {
		s.setState(StateRecording)
		chunk, err := s.recordWithCountdown(ctx, duration)
		if err != nil {
			if errors.Is(err, audio.ErrInterrupted) || ctx.Err() != nil {
				break
			}
			s.reportChunkError(ctx, index, fmt.Errorf("capture chunk: %w", err))
			index++
			continue
		}
		s.chunksCaptured.Add(ctx, 1)

		s.setState(StateProcessing)
		s.processChunk(ctx, index, chunk)
		index++
	}

	s.setState(StateStopping)
	s.logger.Info("session stopping",
		slog.Int("chunks", index),
		slog.String("note", s.note.Path()))
	if err := s.journal.AppendEvent(context.Background(), journal.Event{
		SessionID: s.id,
		Type:      journal.EventSessionStopped,
	}); err != nil {
		s.logger.Warn("journal session stop failed", slog.String("error", err.Error()))
	}
	s.setState(StateStopped)
	return nil
}

func (s *Session) recordWithCountdown(ctx context.Context, duration time.Duration) (audio.Chunk, error) {
	done := make(chan struct{})
	if s.callbacks.OnProgress != nil {
		go func() {
			start := time.Now()
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					remaining := duration - time.Since(start)
					if remaining < 0 {
						remaining = 0
					}
					s.callbacks.OnProgress(remaining)
				}
			}
		}()
	}
	chunk, err := s.capturer.Record(ctx, duration)
	close(done)
	return chunk, err
}

// processChunk runs gate, recognizer and note append for one chunk.
// Interrupt during processing is honored after the chunk completes: the
// in-flight fragment is either fully appended or not appended at all.
func (s *Session) processChunk(ctx context.Context, index int, chunk audio.Chunk) {
	spanCtx, span := s.tracer.Start(ctx, "process_chunk",
		trace.WithAttributes(attribute.Int("chunk.index", index)))
	defer span.End()

	decision := s.gate.Check(chunk.Samples)
	span.SetAttributes(attribute.Float64("chunk.level", decision.Level))
	if !decision.Pass {
		s.chunksSkipped.Add(ctx, 1)
		s.logger.Debug("silence detected, skipping chunk",
			slog.Int("chunk", index),
			slog.Float64("level", decision.Level),
			slog.Float64("threshold", s.gate.Threshold()))
		s.journalChunk(index, journal.EventChunkSkipped, decision.Level)
		return
	}

	// The recognizer gets its own deadline so a hung subprocess cannot
	// stall the session. The parent ctx is deliberately not used here:
	// an interrupt must not produce a half-written fragment.
	ttCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), s.sttTimeout)
	defer cancel()

	result, err := s.recognizer.Transcribe(ttCtx, chunk.Samples, s.sampleRate)
	if err != nil {
		s.reportChunkError(ctx, index, fmt.Errorf("transcribe chunk: %w", err))
		return
	}
	if result.Text == "" {
		s.logger.Info("no speech decoded in chunk", slog.Int("chunk", index))
		return
	}

	if err := s.note.Append(result.Text); err != nil {
		s.reportChunkError(ctx, index, fmt.Errorf("append fragment: %w", err))
		return
	}

	s.chunksTranscribed.Add(ctx, 1)
	s.logger.Info("fragment appended",
		slog.Int("chunk", index),
		slog.String("text", result.Text))
	s.journalChunk(index, journal.EventChunkTranscribed, decision.Level)

	if s.callbacks.OnTranscript != nil {
		s.callbacks.OnTranscript(result.Text)
	}
}

func (s *Session) reportChunkError(ctx context.Context, index int, err error) {
	s.chunkFailures.Add(ctx, 1)
	s.logger.Warn("chunk failed, continuing",
		slog.Int("chunk", index),
		slog.String("error", err.Error()))
	s.journalChunk(index, journal.EventChunkFailed, 0)
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

func (s *Session) journalChunk(index int, eventType string, level float64) {
	err := s.journal.AppendEvent(context.Background(), journal.Event{
		SessionID:  s.id,
		Type:       eventType,
		ChunkIndex: index,
		Level:      level,
	})
	if err != nil {
		s.logger.Warn("journal append failed", slog.String("error", err.Error()))
	}
}
