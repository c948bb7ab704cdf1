package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes a self-contained MP3 byte slice.
func DecodeMP3(data []byte) ([]float32, error) {
	samples, _, err := DecodeMP3Reader(bytes.NewReader(data))
	return samples, err
}

// DecodeMP3Reader decodes MP3 from r and returns mono samples and the
// sample rate.
func DecodeMP3Reader(r io.Reader) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, &DecodeError{Format: "mp3", Err: err}
	}
	pcm, err := io.ReadAll(dec)
	// A stream cut inside its last frame still yields the frames before it.
	if err != nil && !(errors.Is(err, io.ErrUnexpectedEOF) && len(pcm) > 0) {
		return nil, 0, &DecodeError{Format: "mp3", Err: err}
	}
	return stereo16ToMono(pcm), dec.SampleRate(), nil
}

// stereo16ToMono averages go-mp3's interleaved 16-bit little-endian stereo
// output into one channel in [-1, 1).
func stereo16ToMono(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/4)
	for i := range out {
		l := int16(binary.LittleEndian.Uint16(pcm[4*i:]))
		r := int16(binary.LittleEndian.Uint16(pcm[4*i+2:]))
		out[i] = (float32(l) + float32(r)) / 2 / 32768
	}
	return out
}
