// Package audio decodes compressed audio into mono float32 samples.
package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DecodeError reports audio that could not be decoded.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type FileOptions struct {
	// TempDir holds intermediate WAV files for formats decoded by ffmpeg.
	TempDir string
	// SampleRate is the rate ffmpeg resamples to.
	SampleRate int
}

// DecodeFile decodes a whole file. MP3 and WAV are decoded in process;
// anything else is converted to mono WAV with ffmpeg first.
func DecodeFile(ctx context.Context, path string, opts FileOptions) ([]float32, int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3", ".wav":
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		if ext == ".mp3" {
			return DecodeMP3Reader(f)
		}
		return DecodeWAVReader(f)
	}

	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	wavPath, err := ConvertToMonoWAV(ctx, path, opts.TempDir, ConvertWAVConfig{SampleRate: opts.SampleRate})
	if err != nil {
		return nil, 0, &DecodeError{Format: strings.TrimPrefix(ext, "."), Err: err}
	}
	defer os.Remove(wavPath)

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, 0, fmt.Errorf("opening converted wav: %w", err)
	}
	defer f.Close()
	return DecodeWAVReader(f)
}

// IsAudioFile reports whether path has an extension DecodeFile handles
// without guessing.
func IsAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".wav", ".flac", ".m4a", ".ogg", ".opus", ".aac", ".webm":
		return true
	}
	return false
}
