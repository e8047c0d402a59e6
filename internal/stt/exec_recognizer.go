package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/80nF1R3H34D/dictwhisperer/internal/config"
)

type execRecognizer struct {
	cmd       []string
	cfg       config.STTConfig
	modelPath string
	mu        sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecRecognizer wraps a whisper.cpp style CLI. The audio is handed
// over as a temporary WAV file and the transcript is read back as JSON
// on stdout.
func NewExecRecognizer(cfg config.STTConfig, modelPath string) (Recognizer, error) {
	args, err := resolveCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	return &execRecognizer{cmd: args, cfg: cfg, modelPath: modelPath}, nil
}

// VerifyCommand checks that the configured transcriber binary is
// installed. Run as a pre-flight so a missing binary fails the session
// before any note file exists, instead of failing every chunk.
func VerifyCommand(cfg config.STTConfig) error {
	if cfg.Mode != "exec" {
		return nil
	}
	_, err := resolveCommand(cfg.Command)
	return err
}

func resolveCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("transcriber %q not found: %w; install whisper.cpp or adjust stt.command", args[0], err)
	}
	return args, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, samples []int16, sampleRate int) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp("", "dictwhisperer_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, samples, sampleRate); err != nil {
		return TranscriptResult{}, err
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.modelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.modelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return TranscriptResult{Text: strings.TrimSpace(resp.Text), Confidence: resp.Confidence}, nil
}

func writePCMToWav(file *os.File, samples []int16, sampleRate int) error {
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate}}
	buffer.Data = make([]int, len(samples))
	for i, s := range samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
