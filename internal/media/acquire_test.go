package media

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/types"
)

// memStore is an in-memory types.BlobStore for tests.
type memStore struct {
	saved map[string][]byte
	fail  bool
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string][]byte)}
}

func (m *memStore) Save(_ context.Context, path string, data []byte) (string, error) {
	if m.fail {
		return "", assert.AnError
	}
	m.saved[path] = data
	return path, nil
}

func (m *memStore) URLFor(locator string) string { return "/media/" + locator }

// fixedClock pins the storage partition for assertions.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestAcquirer(store *memStore) *Acquirer {
	transcoder := NewTranscoder("/nonexistent/ffmpeg", time.Second, nopLogger{})
	a := NewAcquirer(&http.Client{Timeout: 5 * time.Second}, store, transcoder, 1<<20, nopLogger{})
	a.SetClock(fixedClock{t: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)})
	return a
}

func TestAcquire_RemoteImage(t *testing.T) {
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("fake jpeg body")...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(jpeg)
	}))
	defer server.Close()

	store := newMemStore()
	a := newTestAcquirer(store)

	res, err := a.Acquire(context.Background(), Descriptor{
		RemoteURL: server.URL,
		MimeType:  "image/jpeg",
	}, types.CategoryImage)
	require.NoError(t, err)

	assert.Equal(t, jpeg, store.saved[res.LocalRef])
	assert.Contains(t, res.LocalRef, "image/2026/03/")
	assert.Contains(t, res.Filename, ".jpg")
	assert.Equal(t, int64(len(jpeg)), res.Size)
}

func TestAcquire_InlineBase64Fallback(t *testing.T) {
	pdf := []byte("%PDF-1.7 content")
	store := newMemStore()
	a := newTestAcquirer(store)

	res, err := a.Acquire(context.Background(), Descriptor{
		InlineBase64: base64.StdEncoding.EncodeToString(pdf),
		MimeType:     "application/pdf",
	}, types.CategoryDocument)
	require.NoError(t, err)

	assert.Equal(t, pdf, store.saved[res.LocalRef])
	assert.Contains(t, res.Filename, ".pdf")
}

func TestAcquire_RemoteFailureFallsBackToInline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	png := append([]byte{0x89, 'P', 'N', 'G'}, []byte("body")...)
	store := newMemStore()
	a := newTestAcquirer(store)

	res, err := a.Acquire(context.Background(), Descriptor{
		RemoteURL:    server.URL,
		InlineBase64: base64.StdEncoding.EncodeToString(png),
		MimeType:     "image/png",
	}, types.CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, png, store.saved[res.LocalRef])
}

func TestAcquire_EncryptedPayloadIsDecrypted(t *testing.T) {
	key := testKeyB64(t)
	plaintext := append([]byte{0xFF, 0xD8, 0xFF}, []byte("decrypted jpeg")...)
	blob := encryptFixture(t, key, types.CategoryImage, plaintext)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(blob)
	}))
	defer server.Close()

	store := newMemStore()
	a := newTestAcquirer(store)

	res, err := a.Acquire(context.Background(), Descriptor{
		RemoteURL: server.URL,
		MediaKey:  key,
		MimeType:  "image/jpeg",
	}, types.CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, plaintext, store.saved[res.LocalRef])
}

func TestAcquire_UnencryptedSignatureSkipsDecryption(t *testing.T) {
	// Media key present, but the payload already opens with a JPEG signature:
	// the heuristic must leave it alone.
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE1}, []byte("already plaintext")...)
	store := newMemStore()
	a := newTestAcquirer(store)

	res, err := a.Acquire(context.Background(), Descriptor{
		InlineBase64: base64.StdEncoding.EncodeToString(jpeg),
		MediaKey:     testKeyB64(t),
		MimeType:     "image/jpeg",
	}, types.CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, jpeg, store.saved[res.LocalRef])
}

func TestAcquire_AudioTranscodeFailureKeepsOriginalBytes(t *testing.T) {
	// The test transcoder binary does not exist, so Convert always fails;
	// acquisition must still persist the original bytes, named for the
	// detected source format rather than the transcode target.
	ogg := append([]byte("OggS"), make([]byte, 1024)...)
	store := newMemStore()
	a := newTestAcquirer(store)

	res, err := a.Acquire(context.Background(), Descriptor{
		InlineBase64: base64.StdEncoding.EncodeToString(ogg),
		MimeType:     "audio/ogg",
	}, types.CategoryAudio)
	require.NoError(t, err)
	assert.Equal(t, ogg, store.saved[res.LocalRef])
	assert.Contains(t, res.Filename, ".ogg")
	assert.NotContains(t, res.Filename, ".mp3")
}

func TestAcquire_NoUsableSource(t *testing.T) {
	a := newTestAcquirer(newMemStore())

	_, err := a.Acquire(context.Background(), Descriptor{}, types.CategoryImage)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeMediaAcquisition, appErr.Code)
}

func TestAcquire_StorageFailure(t *testing.T) {
	store := newMemStore()
	store.fail = true
	a := newTestAcquirer(store)

	_, err := a.Acquire(context.Background(), Descriptor{
		InlineBase64: base64.StdEncoding.EncodeToString([]byte("%PDF doc")),
	}, types.CategoryDocument)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage write failed")
}

func TestStripDataURLPrefix(t *testing.T) {
	assert.Equal(t, "QUJD", stripDataURLPrefix("data:image/png;base64,QUJD"))
	assert.Equal(t, "QUJD", stripDataURLPrefix("QUJD"))
}
