package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"omnirelay/internal/types"
)

// minAudioBytes rejects inputs too small to be real audio before the external
// process is even invoked.
const minAudioBytes = 128

// minOggBytes is the larger floor for ogg inputs, whose header structure must
// be intact for the transcoder to seek.
const minOggBytes = 512

// maxDiagnosticLen bounds the captured transcoder output included in errors.
const maxDiagnosticLen = 512

// Transcoder converts arbitrary audio bytes to the canonical output encoding
// (mp3, 128 kbit/s, 44.1 kHz, stereo) by invoking an external ffmpeg process.
//
// Transcoding failure is non-fatal to callers: the acquirer falls back to the
// original bytes so a message is never dropped for a cosmetic format issue.
type Transcoder struct {
	ffmpegPath string
	timeout    time.Duration
	logger     types.Logger
}

// NewTranscoder creates a Transcoder invoking the given ffmpeg binary with a
// bounded per-invocation timeout.
func NewTranscoder(ffmpegPath string, timeout time.Duration, logger types.Logger) *Transcoder {
	return &Transcoder{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		logger:     logger,
	}
}

// Convert transcodes input audio to the canonical encoding and returns the
// output bytes. All temp files live in a per-call directory removed on every
// exit path.
func (t *Transcoder) Convert(ctx context.Context, input []byte) ([]byte, error) {
	if len(input) < minAudioBytes {
		return nil, types.NewAppError(types.ErrCodeMediaTranscode,
			fmt.Sprintf("input too small to be audio (%d bytes)", len(input)), nil)
	}

	format := DetectFormat(input)
	if format == types.FormatOgg && len(input) < minOggBytes {
		return nil, types.NewAppError(types.ErrCodeMediaTranscode,
			fmt.Sprintf("ogg input below minimum size (%d bytes)", len(input)), nil)
	}

	dir, err := os.MkdirTemp("", "omnirelay-transcode-")
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeMediaTranscode, "temp dir creation failed", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in"+extensionForFormat(format))
	outPath := filepath.Join(dir, "out.mp3")

	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, types.NewAppError(types.ErrCodeMediaTranscode, "temp file write failed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-y",
		"-i", inPath,
		"-b:a", "128k",
		"-ar", "44100",
		"-ac", "2",
		outPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		diag := truncateDiagnostic(string(output))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewAppError(types.ErrCodeMediaTranscode,
				"transcoder timed out: "+diag, ctx.Err())
		}
		return nil, types.NewAppError(types.ErrCodeMediaTranscode,
			"transcoder exited with error: "+diag, err)
	}

	converted, err := os.ReadFile(outPath)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeMediaTranscode, "transcoder output unreadable", err)
	}

	t.logger.Info("audio transcoded",
		"input_format", string(format),
		"input_bytes", len(input),
		"output_bytes", len(converted),
	)

	return converted, nil
}

// truncateDiagnostic keeps the tail of transcoder output, where ffmpeg puts
// the actual error.
func truncateDiagnostic(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDiagnosticLen {
		return s
	}
	return "..." + s[len(s)-maxDiagnosticLen:]
}
