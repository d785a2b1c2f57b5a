// Package handle converts raw audio bytes into a self-contained playback
// handle. The bytes are inlined as a data URI rather than referenced by a
// transient locator, so the handle stays playable across the consumer's
// lifecycle without re-fetching.
package handle

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Handle is an embeddable representation of synthesized audio. Once
// non-zero it can be given to any audio-playing consumer at any later time.
type Handle struct {
	URI      string
	MimeType string
}

// ConversionError marks bytes that could not be embedded into a handle, or
// a handle whose embedded payload could not be recovered.
type ConversionError struct {
	Reason string
}

func (e *ConversionError) Error() string {
	return "playback handle conversion: " + e.Reason
}

// FromBytes embeds the audio bytes into a data URI.
func FromBytes(data []byte, mimeType string) (Handle, error) {
	if len(data) == 0 {
		return Handle{}, &ConversionError{Reason: "empty audio payload"}
	}
	if mimeType == "" {
		return Handle{}, &ConversionError{Reason: "missing mime type"}
	}
	uri := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	return Handle{URI: uri, MimeType: mimeType}, nil
}

// IsZero reports whether no handle has been published.
func (h Handle) IsZero() bool { return h.URI == "" }

// Extract recovers the original audio bytes from the handle, byte for byte.
func (h Handle) Extract() ([]byte, error) {
	prefix := fmt.Sprintf("data:%s;base64,", h.MimeType)
	if !strings.HasPrefix(h.URI, prefix) {
		return nil, &ConversionError{Reason: "malformed data uri"}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(h.URI, prefix))
	if err != nil {
		return nil, &ConversionError{Reason: "invalid base64 payload: " + err.Error()}
	}
	return data, nil
}
