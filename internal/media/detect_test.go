package media

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"omnirelay/internal/types"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want types.AudioFormat
	}{
		{"id3 mp3", []byte("ID3\x04\x00rest"), types.FormatMP3},
		{"mpeg sync mp3", []byte{0xFF, 0xFB, 0x90, 0x00}, types.FormatMP3},
		{"ogg", []byte("OggS\x00\x02trailing"), types.FormatOgg},
		{"wav", []byte("RIFF\x24\x08\x00\x00WAVEfmt "), types.FormatWav},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), types.FormatFlac},
		{"amr", []byte("#!AMR\n"), types.FormatAMR},
		{"random bytes", []byte{0x01, 0x02, 0x03, 0x04}, types.FormatUnknown},
		{"riff without wave", []byte("RIFF\x24\x08\x00\x00AVI fmt "), types.FormatUnknown},
		{"empty", nil, types.FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.in))
		})
	}
}

func TestExtensionForFormat_DefaultsToOgg(t *testing.T) {
	assert.Equal(t, ".ogg", extensionForFormat(types.FormatUnknown))
	assert.Equal(t, ".mp3", extensionForFormat(types.FormatMP3))
	assert.Equal(t, ".wav", extensionForFormat(types.FormatWav))
}
