// Package media implements the inbound media pipeline: authenticated
// decryption of gateway media blobs, audio transcoding to the canonical
// encoding, and acquisition of channel media descriptors into durable storage.
package media

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/hkdf"

	"omnirelay/internal/types"
)

// macTagLen is the length of the truncated authentication tag appended to
// every encrypted media blob by the gateway protocol.
const macTagLen = 10

// keyMaterialLen is the total HKDF output: iv(16) + cipherKey(32) + macKey(32)
// + refKey(32). The trailing reference key is mandated by the protocol but
// unused here.
const keyMaterialLen = 112

// hkdfInfo maps a media category to the protocol-fixed expansion label.
var hkdfInfo = map[types.MediaCategory]string{
	types.CategoryAudio:    "WhatsApp Audio Keys",
	types.CategoryImage:    "WhatsApp Image Keys",
	types.CategoryVideo:    "WhatsApp Video Keys",
	types.CategoryDocument: "WhatsApp Document Keys",
}

// mediaKeys is the derived key material for one message's media blob.
type mediaKeys struct {
	iv        []byte // 16 bytes
	cipherKey []byte // 32 bytes
	macKey    []byte // 32 bytes
}

// deriveKeys expands the shared media key into per-message key material using
// HKDF-SHA256 with an all-zero 32-byte salt and the category label as info.
func deriveKeys(mediaKey []byte, category types.MediaCategory) (*mediaKeys, error) {
	info, ok := hkdfInfo[category]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeMediaDecryption,
			"unknown media category "+string(category), nil)
	}

	salt := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, mediaKey, salt, []byte(info))

	material := make([]byte, keyMaterialLen)
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, types.NewAppError(types.ErrCodeMediaDecryption, "key derivation failed", err)
	}

	return &mediaKeys{
		iv:        material[0:16],
		cipherKey: material[16:48],
		macKey:    material[48:80],
	}, nil
}

// Decrypt recovers the plaintext of an encrypted gateway media blob.
//
// The blob's final 10 bytes are a truncated HMAC-SHA256 tag over iv||ciphertext.
// A tag mismatch is logged and tolerated: many real payloads decrypt correctly
// despite cosmetic mismatches, and failing them would drop valid media. The
// only hard failures are a malformed base64 key, a blob too short to carry the
// tag, and a ciphertext that is not block-aligned.
func Decrypt(keyB64 string, category types.MediaCategory, blob []byte, logger types.Logger) ([]byte, error) {
	mediaKey, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeMediaDecryption, "malformed base64 media key", err)
	}

	if len(blob) < macTagLen {
		return nil, types.NewAppError(types.ErrCodeMediaDecryption,
			"ciphertext shorter than authentication tag", nil)
	}

	keys, err := deriveKeys(mediaKey, category)
	if err != nil {
		return nil, err
	}

	ciphertext := blob[:len(blob)-macTagLen]
	tag := blob[len(blob)-macTagLen:]

	mac := hmac.New(sha256.New, keys.macKey)
	mac.Write(keys.iv)
	mac.Write(ciphertext)
	expected := mac.Sum(nil)[:macTagLen]

	if !hmac.Equal(tag, expected) {
		// Deliberate leniency: warn and continue.
		logger.Warn("media MAC mismatch, continuing decryption",
			"category", string(category),
			"blob_size", len(blob),
		)
	}

	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, types.NewAppError(types.ErrCodeMediaDecryption,
			"ciphertext is not block-aligned", nil)
	}

	block, err := aes.NewCipher(keys.cipherKey)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeMediaDecryption, "cipher init failed", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, keys.iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext), nil
}

// stripPKCS7 removes PKCS#7 padding leniently. If the padding length byte is
// out of range or the trailing bytes are inconsistent, the buffer is returned
// unmodified; corrupt padding must degrade gracefully, not abort the pipeline.
func stripPKCS7(b []byte) []byte {
	if len(b) == 0 {
		return b
	}

	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return b
	}

	for _, pad := range b[len(b)-n:] {
		if int(pad) != n {
			return b
		}
	}

	return b[:len(b)-n]
}
