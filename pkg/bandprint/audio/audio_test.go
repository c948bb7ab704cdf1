package audio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV encodes 16-bit PCM frames (interleaved) to a file.
func writeWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeWAVStereoToMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, 8000, 2, []int{16384, 0, -16384, -16384, 32767, 32767})

	samples, rate, err := DecodeFile(t.Context(), path, FileOptions{})
	if err != nil {
		t.Fatalf("DecodeFile() error: %v", err)
	}
	if rate != 8000 {
		t.Errorf("rate = %d, want 8000", rate)
	}
	want := []float32{0.25, -0.5, 32767.0 / 32768}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, samples[i], want[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAV([]byte("definitely not a riff file"))
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if decErr.Format != "wav" {
		t.Errorf("format = %q", decErr.Format)
	}
}

func TestDecodeMP3RejectsGarbage(t *testing.T) {
	var decErr *DecodeError
	if _, err := DecodeMP3(nil); !errors.As(err, &decErr) {
		t.Errorf("empty input: error = %v, want *DecodeError", err)
	}
	if _, err := DecodeMP3(bytes.Repeat([]byte{0x00}, 64)); !errors.As(err, &decErr) {
		t.Errorf("zeros: error = %v, want *DecodeError", err)
	}
}

func TestStereo16ToMono(t *testing.T) {
	// L=0x4000 R=0x0000, L=0xC000 R=0xC000
	pcm := []byte{0x00, 0x40, 0x00, 0x00, 0x00, 0xC0, 0x00, 0xC0, 0xFF}
	got := stereo16ToMono(pcm)
	want := []float32{0.25, -0.5}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSongID(t *testing.T) {
	if got := SongID(" Sandstorm ", "Darude "); got != "Sandstorm - Darude" {
		t.Errorf("SongID() = %q", got)
	}
	if got := SongID("Untitled", ""); got != "Untitled" {
		t.Errorf("SongID() = %q", got)
	}

	meta := YTMetadata{ID: "x", Title: "Video Title", Track: "Track", Uploader: "Uploader"}
	if got := meta.SongID(); got != "Track - Uploader" {
		t.Errorf("YTMetadata.SongID() = %q", got)
	}
}

func TestSongIDForFileFallsBackToName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Some Song - Someone.wav")
	writeWAV(t, path, 8000, 1, []int{1, 2, 3})
	if got := SongIDForFile(path); got != "Some Song - Someone" {
		t.Errorf("SongIDForFile() = %q", got)
	}
}

func TestParseInfoJSON(t *testing.T) {
	out := "[download] 100%\n{\"id\": \"abc\", \"title\": \"T\", \"channel\": \"C\"}\n"
	meta, err := parseInfoJSON(out)
	if err != nil {
		t.Fatalf("parseInfoJSON() error: %v", err)
	}
	if meta.ID != "abc" || meta.SongID() != "T - C" {
		t.Errorf("meta = %+v", meta)
	}
	if _, err := parseInfoJSON("nothing here"); err == nil {
		t.Error("expected error without JSON")
	}
}
