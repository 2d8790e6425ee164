package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"omnirelay/internal/types"
)

// Descriptor is a channel-native media reference: a remote URL and/or an
// inline base64 payload, plus the decryption key and declared metadata the
// channel provided.
type Descriptor struct {
	RemoteURL    string
	InlineBase64 string
	MediaKey     string
	ExpectedHash string
	MimeType     string
	DeclaredSize int64
}

// Result is a successfully acquired attachment: durable bytes behind a stable
// storage-relative reference.
type Result struct {
	LocalRef string
	Filename string
	Size     int64
}

// Acquirer resolves media descriptors into decrypted, transcoded, durably
// stored bytes. Failures are structured, never panics: a failed attachment
// degrades to an unresolved URL and must not abort the rest of the message.
type Acquirer struct {
	httpClient *http.Client
	store      types.BlobStore
	transcoder *Transcoder
	clock      types.Clock
	logger     types.Logger
	maxFetch   int64
}

// NewAcquirer wires the acquisition pipeline. The http client must carry a
// bounded timeout; maxFetch caps remote payload size.
func NewAcquirer(httpClient *http.Client, store types.BlobStore, transcoder *Transcoder, maxFetch int64, logger types.Logger) *Acquirer {
	return &Acquirer{
		httpClient: httpClient,
		store:      store,
		transcoder: transcoder,
		clock:      types.RealClock{},
		logger:     logger,
		maxFetch:   maxFetch,
	}
}

// SetClock overrides the clock for testing (storage path partitioning).
func (a *Acquirer) SetClock(c types.Clock) {
	a.clock = c
}

// Acquire resolves a descriptor for the given category. Sources are tried in
// order, first success wins: remote fetch, then inline payload. Encrypted
// payloads are detected by signature and decrypted; audio is always piped
// through the transcoder (with original-bytes fallback on failure); the result
// is persisted under a category/year/month partition with a random filename.
func (a *Acquirer) Acquire(ctx context.Context, d Descriptor, category types.MediaCategory) (*Result, error) {
	data, err := a.resolveBytes(ctx, d, category)
	if err != nil {
		return nil, err
	}

	ext := a.extensionFor(d, category)
	if category == types.CategoryAudio {
		converted, convErr := a.transcoder.Convert(ctx, data)
		if convErr != nil {
			// Non-fatal: keep the original bytes, named for what they are.
			a.logger.Warn("audio transcode failed, keeping original bytes",
				"error", convErr.Error(),
				"size", len(data),
			)
			ext = extensionForFormat(DetectFormat(data))
		} else {
			data = converted
			ext = ".mp3"
		}
	}

	now := a.clock.Now()
	filename := uuid.New().String() + ext
	storagePath := path.Join(string(category), fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", now.Month()), filename)

	locator, err := a.store.Save(ctx, storagePath, data)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeMediaAcquisition, "storage write failed", err)
	}

	return &Result{
		LocalRef: locator,
		Filename: filename,
		Size:     int64(len(data)),
	}, nil
}

// resolveBytes produces plaintext media bytes from whichever source the
// descriptor carries.
func (a *Acquirer) resolveBytes(ctx context.Context, d Descriptor, category types.MediaCategory) ([]byte, error) {
	if d.RemoteURL != "" {
		data, err := a.fetch(ctx, d.RemoteURL)
		if err == nil {
			return a.maybeDecrypt(d, category, data)
		}
		a.logger.Warn("remote media fetch failed",
			"url", d.RemoteURL,
			"error", err.Error(),
		)
		// Fall through to the inline source if present.
	}

	if d.InlineBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(stripDataURLPrefix(d.InlineBase64))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeMediaAcquisition, "inline payload is not valid base64", err)
		}
		return a.maybeDecrypt(d, category, data)
	}

	return nil, types.NewAppError(types.ErrCodeMediaAcquisition, "no usable media source in descriptor", nil)
}

// maybeDecrypt applies the signature heuristic: when a media key is present
// and the payload does not open with the expected unencrypted signature for
// its category, it is treated as an encrypted gateway blob.
func (a *Acquirer) maybeDecrypt(d Descriptor, category types.MediaCategory, data []byte) ([]byte, error) {
	if d.MediaKey == "" || looksUnencrypted(category, data) {
		return data, nil
	}

	plaintext, err := Decrypt(d.MediaKey, category, data, a.logger)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (a *Acquirer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxFetch))
	if err != nil {
		return nil, fmt.Errorf("reading media body: %w", err)
	}
	return data, nil
}

// looksUnencrypted reports whether the payload opens with a plaintext
// signature expected for its category. Encrypted gateway blobs are
// indistinguishable from noise, so any recognized signature means the payload
// is already plaintext.
func looksUnencrypted(category types.MediaCategory, b []byte) bool {
	switch category {
	case types.CategoryAudio:
		return DetectFormat(b) != types.FormatUnknown
	case types.CategoryImage:
		return hasPrefix(b, []byte{0xFF, 0xD8, 0xFF}) || // JPEG
			hasPrefix(b, []byte{0x89, 'P', 'N', 'G'}) || // PNG
			hasPrefix(b, []byte("GIF8")) ||
			hasPrefix(b, []byte("RIFF")) // WebP container
	case types.CategoryVideo:
		// ISO BMFF: "ftyp" at offset 4.
		return len(b) >= 8 && bytes.Equal(b[4:8], []byte("ftyp"))
	case types.CategoryDocument:
		return hasPrefix(b, []byte("%PDF")) ||
			hasPrefix(b, []byte("PK\x03\x04")) // OOXML/zip
	default:
		return false
	}
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && bytes.Equal(b[:len(prefix)], prefix)
}

// extensionFor picks the stored filename extension: mime type first, then a
// category default. Audio is named in Acquire once the transcode outcome is
// known: mp3 when converted, the detected source format otherwise.
func (a *Acquirer) extensionFor(d Descriptor, category types.MediaCategory) string {
	if ext, ok := mimeExtensions[strings.ToLower(strings.TrimSpace(strings.Split(d.MimeType, ";")[0]))]; ok {
		return ext
	}

	switch category {
	case types.CategoryImage:
		return ".jpg"
	case types.CategoryVideo:
		return ".mp4"
	default:
		return ".bin"
	}
}

var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/3gpp":      ".3gp",
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
	"text/plain": ".txt",
}

// stripDataURLPrefix removes a "data:<mime>;base64," prefix when channels send
// inline payloads as data URLs.
func stripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
