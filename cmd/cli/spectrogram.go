package main

import (
	"fmt"
	"image"
	"image/draw"
	"path/filepath"

	"github.com/eligwz/spectrogram"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/bandprint/pkg/bandprint/audio"
	"github.com/himanishpuri/bandprint/pkg/utils"
)

var (
	specOutput string
	specWidth  int
	specHeight int
)

var spectrogramCmd = &cobra.Command{
	Use:   "spectrogram <audio_file>",
	Short: "Render a PNG spectrogram of an audio file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpectrogram,
}

func init() {
	f := spectrogramCmd.Flags()
	f.StringVarP(&specOutput, "output", "o", "", "PNG path (default <file>.png)")
	f.IntVar(&specWidth, "width", 2048, "image width")
	f.IntVar(&specHeight, "height", 512, "image height, one row per frequency bin")
}

func runSpectrogram(cmd *cobra.Command, args []string) error {
	path := args[0]
	samples, rate, err := audio.DecodeFile(cmd.Context(), path, audio.FileOptions{
		TempDir:    cfg.TempDir,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("spectrogram: %s has no samples", path)
	}

	out := specOutput
	if out == "" {
		out = utils.StripExt(filepath.Base(path)) + ".png"
	}
	if err := renderSpectrogram(samples, rate, out); err != nil {
		return err
	}
	fmt.Printf("Saved spectrogram to %s\n", out)
	return nil
}

func renderSpectrogram(samples []float32, rate int, out string) error {
	data := make([]float64, len(samples))
	for i, s := range samples {
		data[i] = float64(s)
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, specWidth, specHeight))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, linear magnitude
	spectrogram.Drawfft(
		img,
		data,
		uint32(rate),
		uint32(specHeight),
		false, // RECTANGLE
		false, // DFT
		true,  // MAG
		false, // LOG10
	)
	return spectrogram.SavePng(img, out)
}
