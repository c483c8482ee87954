package feedback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/fitpulse/fitvoice/internal/config"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"
)

// execSynthesizer shells out to an external TTS command. The command receives
// the text on stdin and must write a WAV file to stdout. {voice} in the
// command line is replaced with the configured voice.
type execSynthesizer struct {
	cfg    config.FeedbackConfig
	argv   []string
	logger *slog.Logger
}

func newExecSynthesizer(cfg config.FeedbackConfig, logger *slog.Logger) (*execSynthesizer, error) {
	command := strings.ReplaceAll(cfg.Command, "{voice}", cfg.Voice)
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse feedback command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("feedback command is empty")
	}
	return &execSynthesizer{
		cfg:    cfg,
		argv:   argv,
		logger: logger.With(slog.String("component", "feedback-exec")),
	}, nil
}

func (e *execSynthesizer) Name() string { return "exec" }

func (e *execSynthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	cmd := exec.CommandContext(runCtx, e.argv[0], e.argv[1:]...)
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		cancel()
		return nil, fmt.Errorf("feedback command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	cancel()
	e.logger.Debug("synthesis complete",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("bytes", stdout.Len()))

	pcm, err := decodeWAV(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	chunkDuration := time.Duration(e.cfg.ChunkDurationMS) * time.Millisecond
	if chunkDuration <= 0 {
		chunkDuration = 400 * time.Millisecond
	}
	bytesPerSecond := e.cfg.SampleRate * e.cfg.Channels * 2
	chunkBytes := int(float64(bytesPerSecond) * chunkDuration.Seconds())
	if chunkBytes <= 0 {
		chunkBytes = len(pcm)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for offset := 0; offset < len(pcm); offset += chunkBytes {
			end := offset + chunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			select {
			case out <- pcm[offset:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// decodeWAV extracts 16-bit little-endian PCM from WAV bytes.
func decodeWAV(data []byte) ([]byte, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode synthesized wav: %w", err)
	}
	pcm := make([]byte, 0, len(buf.Data)*2)
	for _, sample := range buf.Data {
		pcm = append(pcm, byte(sample), byte(sample>>8))
	}
	return pcm, nil
}
