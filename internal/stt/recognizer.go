package stt

import (
	"context"
	"fmt"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
)

// TranscriptResult captures recognizer output for one chunk. Empty text
// is a valid result and produces no note fragment.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts the speech model. Implementations receive one
// chunk of mono PCM and return the decoded text.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (TranscriptResult, error)
}

// New builds the recognizer selected by the configuration. modelPath is
// the resolved on-disk weight file for the configured model size.
func New(cfg config.STTConfig, modelPath string) (Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecRecognizer(cfg, modelPath)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
