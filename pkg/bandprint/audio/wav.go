package audio

import (
	"bytes"
	"errors"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV decodes a complete WAV file held in memory.
func DecodeWAV(data []byte) ([]float32, error) {
	samples, _, err := DecodeWAVReader(bytes.NewReader(data))
	return samples, err
}

// DecodeWAVReader decodes PCM WAV and mixes all channels down to mono.
func DecodeWAVReader(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, &DecodeError{Format: "wav", Err: errors.New("not a valid wav file")}
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, &DecodeError{Format: "wav", Err: err}
	}
	return intBufferToMono(buf, int(dec.BitDepth)), int(dec.SampleRate), nil
}

func intBufferToMono(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))
	// 8-bit PCM is unsigned
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}

	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += float32(buf.Data[i*channels+c] - offset)
		}
		out[i] = sum / float32(channels) / scale
	}
	return out
}
