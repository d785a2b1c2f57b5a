// Package audioprobe extracts playback duration from encoded audio bytes.
package audioprobe

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// DecodeError marks audio bytes that could not be parsed into a timed buffer.
type DecodeError struct {
	MimeType string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s audio: %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Duration decodes just enough of the audio to report its playback length.
func Duration(data []byte, mimeType string) (time.Duration, error) {
	switch normalizeMime(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return wavDuration(data, mimeType)
	case "audio/mpeg", "audio/mp3":
		return mp3Duration(data, mimeType)
	default:
		return 0, &DecodeError{MimeType: mimeType, Err: fmt.Errorf("unsupported mime type")}
	}
}

func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func wavDuration(data []byte, mimeType string) (time.Duration, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	dur, err := decoder.Duration()
	if err != nil {
		return 0, &DecodeError{MimeType: mimeType, Err: err}
	}
	if dur < 0 {
		return 0, &DecodeError{MimeType: mimeType, Err: fmt.Errorf("negative duration")}
	}
	return dur, nil
}

func mp3Duration(data []byte, mimeType string) (time.Duration, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, &DecodeError{MimeType: mimeType, Err: err}
	}
	// The decoder always emits 16-bit stereo frames, 4 bytes per frame.
	frames := decoder.Length() / 4
	if frames <= 0 || decoder.SampleRate() <= 0 {
		return 0, &DecodeError{MimeType: mimeType, Err: fmt.Errorf("empty stream")}
	}
	seconds := float64(frames) / float64(decoder.SampleRate())
	return time.Duration(seconds * float64(time.Second)), nil
}

// EncodeWAV renders 16-bit PCM samples as a complete WAV byte stream.
// Used by the mock backend and by tests that need real fixtures.
func EncodeWAV(samples []int, sampleRate, channels int) ([]byte, error) {
	buf := &writeSeekBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, 16, channels, 1)
	pcm := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(pcm); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return buf.data, nil
}

// writeSeekBuffer adapts an in-memory byte slice to the io.WriteSeeker the
// wav encoder needs for header back-patching.
type writeSeekBuffer struct {
	data []byte
	pos  int
}

func (b *writeSeekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case 0:
		next = offset
	case 1:
		next = int64(b.pos) + offset
	case 2:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = int(next)
	return next, nil
}
