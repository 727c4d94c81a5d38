package images

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNoImageData      = errors.New("no image data")
	ErrImageTooLarge    = errors.New("image is too large")
	ErrUnsupportedImage = errors.New("unsupported image type")
)

var allowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Decode accepts a base64 payload, optionally wrapped in a data URL, and
// returns the bytes with their sniffed content type. The declared type in a
// data URL is ignored.
func Decode(data string, maxBytes int64) ([]byte, string, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, "", ErrNoImageData
	}
	if _, payload, ok := strings.Cut(data, ","); ok && strings.HasPrefix(data, "data:") {
		data = payload
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(data))) > maxBytes+2 {
		return nil, "", ErrImageTooLarge
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if len(decoded) == 0 {
		return nil, "", ErrNoImageData
	}
	if maxBytes > 0 && int64(len(decoded)) > maxBytes {
		return nil, "", ErrImageTooLarge
	}
	mtype := mimetype.Detect(decoded)
	for _, allowed := range allowedTypes {
		if mtype.Is(allowed) {
			return decoded, allowed, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mtype.String())
}

// Encode renders image bytes as a data URL.
func Encode(contentType string, data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
