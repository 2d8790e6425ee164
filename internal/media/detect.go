package media

import (
	"bytes"

	"omnirelay/internal/types"
)

// DetectFormat classifies audio bytes by their leading magic sequence.
// Returns FormatUnknown when no known signature matches.
func DetectFormat(b []byte) types.AudioFormat {
	switch {
	case len(b) >= 3 && bytes.Equal(b[:3], []byte("ID3")):
		return types.FormatMP3
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		// MPEG frame sync without an ID3 header.
		return types.FormatMP3
	case len(b) >= 4 && bytes.Equal(b[:4], []byte("OggS")):
		return types.FormatOgg
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return types.FormatWav
	case len(b) >= 4 && bytes.Equal(b[:4], []byte("fLaC")):
		return types.FormatFlac
	case len(b) >= 5 && bytes.Equal(b[:5], []byte("#!AMR")):
		return types.FormatAMR
	default:
		return types.FormatUnknown
	}
}

// extensionForFormat maps a detected format to the temp-file extension handed
// to the external transcoder. Unknown defaults to ogg, the dominant real-world
// case for gateway voice notes.
func extensionForFormat(f types.AudioFormat) string {
	switch f {
	case types.FormatMP3:
		return ".mp3"
	case types.FormatOgg:
		return ".ogg"
	case types.FormatWav:
		return ".wav"
	case types.FormatFlac:
		return ".flac"
	case types.FormatAMR:
		return ".amr"
	default:
		return ".ogg"
	}
}
