package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/types"
)

func TestConvert_RejectsTinyInput(t *testing.T) {
	tr := NewTranscoder("ffmpeg", time.Second, nopLogger{})

	_, err := tr.Convert(context.Background(), []byte("tiny"))
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeMediaTranscode, appErr.Code)
	assert.Contains(t, appErr.Message, "too small")
}

func TestConvert_OggBelowMinimumSize(t *testing.T) {
	tr := NewTranscoder("ffmpeg", time.Second, nopLogger{})

	// Valid ogg magic, above the generic floor, below the ogg floor.
	input := append([]byte("OggS"), make([]byte, 200)...)
	_, err := tr.Convert(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum size")
}

func TestConvert_MissingBinaryReturnsStructuredError(t *testing.T) {
	tr := NewTranscoder("/nonexistent/ffmpeg-binary", time.Second, nopLogger{})

	input := append([]byte("OggS"), make([]byte, 1024)...)
	_, err := tr.Convert(context.Background(), input)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeMediaTranscode, appErr.Code)
}

func TestTruncateDiagnostic(t *testing.T) {
	short := "brief error"
	assert.Equal(t, short, truncateDiagnostic(short+"\n"))

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateDiagnostic(string(long))
	assert.LessOrEqual(t, len(got), maxDiagnosticLen+3)
	assert.Contains(t, got, "...")
}
