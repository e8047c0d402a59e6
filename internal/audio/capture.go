package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
)

// ErrNoInputDevice is returned when the host has no usable microphone.
// It is a startup-fatal condition: the session must not begin.
var ErrNoInputDevice = errors.New("no audio input device available")

// ErrInterrupted is returned when a recording is cancelled mid-chunk.
// The partially captured chunk is discarded by the caller.
var ErrInterrupted = errors.New("recording interrupted")

// Chunk is one fixed-duration segment of captured audio. It is created
// here, consumed by the gate and the recognizer, and then discarded.
type Chunk struct {
	Samples  []int16
	Start    time.Time
	Duration time.Duration
}

// Recorder captures mono PCM from the default input device at the sample
// rate the transcription model expects.
type Recorder struct {
	cfg    config.AudioConfig
	logger *slog.Logger
	stream *portaudio.Stream
	frames []int16
}

// NewRecorder initializes PortAudio and opens the default input stream.
// Returns ErrNoInputDevice when no microphone is present.
func NewRecorder(cfg config.AudioConfig, logger *slog.Logger) (*Recorder, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil || device == nil || device.MaxInputChannels < 1 {
		portaudio.Terminate()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
		}
		return nil, ErrNoInputDevice
	}

	frames := make([]int16, cfg.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), len(frames), frames)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	logger.Info("audio input ready",
		slog.String("device", device.Name),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("channels", cfg.Channels))

	return &Recorder{
		cfg:    cfg,
		logger: logger,
		stream: stream,
		frames: frames,
	}, nil
}

// Record captures one chunk of the given nominal duration. Cancellation
// is observed between frame reads; on cancellation the partial buffer is
// dropped and ErrInterrupted is returned.
func (r *Recorder) Record(ctx context.Context, duration time.Duration) (Chunk, error) {
	want := int(duration.Seconds() * float64(r.cfg.SampleRate))
	if want <= 0 {
		return Chunk{}, fmt.Errorf("invalid chunk duration %v", duration)
	}

	chunk := Chunk{
		Samples:  make([]int16, 0, want),
		Start:    time.Now(),
		Duration: duration,
	}

	if err := r.stream.Start(); err != nil {
		return Chunk{}, fmt.Errorf("start input stream: %w", err)
	}
	defer func() {
		if err := r.stream.Stop(); err != nil {
			r.logger.Warn("stop input stream", slog.String("error", err.Error()))
		}
	}()

	for len(chunk.Samples) < want {
		select {
		case <-ctx.Done():
			return Chunk{}, ErrInterrupted
		default:
		}

		if err := r.stream.Read(); err != nil {
			// Overflow means the host dropped frames while we were busy;
			// the chunk is still usable.
			if err != portaudio.InputOverflowed {
				return Chunk{}, fmt.Errorf("read input stream: %w", err)
			}
		}
		chunk.Samples = append(chunk.Samples, r.frames...)
	}

	chunk.Samples = chunk.Samples[:want]
	return chunk, nil
}

// Close releases the stream and tears down PortAudio.
func (r *Recorder) Close() {
	if r.stream != nil {
		_ = r.stream.Close()
		r.stream = nil
	}
	portaudio.Terminate()
}
