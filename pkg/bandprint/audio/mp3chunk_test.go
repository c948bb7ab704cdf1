package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// frameHeader is an MPEG-1 Layer III, 128 kbps, 44.1 kHz header without
// padding; its frame is 417 bytes long.
var frameHeader = []byte{0xFF, 0xFB, 0x90, 0x00}

func fakeFrame() []byte {
	f := make([]byte, 417)
	copy(f, frameHeader)
	return f
}

func TestParseMP3Header(t *testing.T) {
	length, samples, ok := parseMP3Header(frameHeader)
	if !ok || length != 417 || samples != 1152 {
		t.Fatalf("parseMP3Header() = %d, %d, %v", length, samples, ok)
	}

	padded := []byte{0xFF, 0xFB, 0x92, 0x00}
	if length, _, _ := parseMP3Header(padded); length != 418 {
		t.Errorf("padded length = %d, want 418", length)
	}

	// MPEG-2 Layer III, 64 kbps, 22.05 kHz
	mpeg2 := []byte{0xFF, 0xF3, 0x80, 0x00}
	length, samples, ok = parseMP3Header(mpeg2)
	if !ok || samples != 576 || length != 72*64000/22050 {
		t.Errorf("mpeg2 = %d, %d, %v", length, samples, ok)
	}

	for _, bad := range [][]byte{
		{0xFF, 0xFB},             // short
		{0xFE, 0xFB, 0x90, 0x00}, // no sync
		{0xFF, 0xFD, 0x90, 0x00}, // layer II
		{0xFF, 0xFB, 0xF0, 0x00}, // bad bitrate
		{0xFF, 0xFB, 0x0C, 0x00}, // free format, reserved rate
		{0xFF, 0xEB, 0x90, 0x00}, // reserved version
	} {
		if _, _, ok := parseMP3Header(bad); ok {
			t.Errorf("parseMP3Header(% x) accepted", bad)
		}
	}
}

func TestSplitFramesSkipsLeadingGarbage(t *testing.T) {
	buf := []byte{0x01, 0xFF, 0xFB, 0x00, 0x42}
	for range 3 {
		buf = append(buf, fakeFrame()...)
	}
	buf = append(buf, frameHeader...) // start of an incomplete frame

	frames := splitFrames(buf)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.offset != 5+i*417 || f.length != 417 {
			t.Errorf("frame %d = %+v", i, f)
		}
	}
}

func TestChunkDecoderCarriesPartialFrames(t *testing.T) {
	d := NewMP3ChunkDecoder()

	samples, err := d.Decode(fakeFrame()[:200])
	if err != nil || samples != nil {
		t.Fatalf("partial frame: %v, %v", samples, err)
	}
	if len(d.pending) != 200 {
		t.Errorf("pending = %d bytes, want 200", len(d.pending))
	}

	d.Reset()
	if d.pending != nil || d.primer != nil {
		t.Error("Reset() kept state")
	}
}

func TestChunkDecoderBoundsPending(t *testing.T) {
	d := NewMP3ChunkDecoder()
	for range 4 {
		if _, err := d.Decode(make([]byte, 5000)); err != nil {
			t.Fatal(err)
		}
	}
	if len(d.pending) > maxPending {
		t.Errorf("pending grew to %d bytes", len(d.pending))
	}
}

func decodeInChunks(t *testing.T, data []byte, size int) []float32 {
	t.Helper()
	d := NewMP3ChunkDecoder()
	var out []float32
	for start := 0; start < len(data); start += size {
		samples, err := d.Decode(data[start:min(start+size, len(data))])
		if err != nil {
			t.Fatalf("Decode(chunk at %d) error = %v", start, err)
		}
		out = append(out, samples...)
	}
	return out
}

func TestChunkDecoderMatchesWholeFile(t *testing.T) {
	files := []string{"joint-stereo-128k.mp3", "mpeg2-mono-48k.mp3"}
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join("testdata", name))
		if err != nil {
			t.Fatal(err)
		}
		whole, err := DecodeMP3(data)
		if err != nil {
			t.Fatalf("%s: DecodeMP3() error = %v", name, err)
		}

		for _, size := range []int{16 << 10, 5000, 700} {
			chunked := decodeInChunks(t, data, size)
			if len(chunked) != len(whole) {
				t.Errorf("%s/%d: %d samples, whole file has %d", name, size, len(chunked), len(whole))
				continue
			}
			if e := relativeError(chunked, whole); e > 1e-4 {
				t.Errorf("%s/%d: relative error %.4g", name, size, e)
			}
		}
	}
}

func relativeError(got, want []float32) float64 {
	var diff, norm float64
	for i := range want {
		d := float64(got[i] - want[i])
		diff += d * d
		norm += float64(want[i]) * float64(want[i])
	}
	if norm == 0 {
		return math.Sqrt(diff)
	}
	return math.Sqrt(diff / norm)
}

func TestPrimerStartCoversReservoir(t *testing.T) {
	// Each frame carries 100 main data bytes and borrows 150, so a frame
	// decodes cleanly only after two others.
	frames := make([]mp3Frame, 10)
	for i := range frames {
		frames[i] = mp3Frame{dataBegin: 150, dataSize: 100, samples: 1152}
	}
	if got := primerStart(frames); got != 6 {
		t.Errorf("primerStart() = %d, want 6", got)
	}

	frames[8].dataBegin = 0
	frames[9].dataBegin = 50
	if got := primerStart(frames); got != 8 {
		t.Errorf("primerStart() with a self-contained frame = %d, want 8", got)
	}
}

func TestMuteFrameKeepsReservoirPointer(t *testing.T) {
	f := fakeFrame()
	for i := 4; i < 4+32; i++ {
		f[i] = 0xFF
	}
	f[40] = 0x5A // main data

	muteFrame(f)
	begin, size := mainDataLayout(f)
	if begin != 511 || size != 417-4-32 {
		t.Errorf("mainDataLayout() = %d, %d", begin, size)
	}
	if f[5] != 0x80 || f[6] != 0 || f[35] != 0 {
		t.Errorf("side info not cleared: % x", f[4:36])
	}
	if f[40] != 0x5A {
		t.Error("main data changed")
	}
}
