package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/bandprint/pkg/bandprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/audio"
	"github.com/himanishpuri/bandprint/pkg/utils"
)

var (
	indexSongID  string
	indexYouTube string
)

var indexCmd = &cobra.Command{
	Use:   "index [file|dir]...",
	Short: "Fingerprint songs and add them to the repository",
	Long: `Index audio files or whole directories. Song ids come from the title and
artist tags, or the file name when a file has no tags.

  bandprint index song.mp3 --id "Song - Artist"
  bandprint index ~/Music
  bandprint index --youtube "https://youtu.be/dQw4w9WgXcQ"`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexSongID, "id", "", "song id for a single file")
	indexCmd.Flags().StringVar(&indexYouTube, "youtube", "", "download and index a YouTube video")
}

func runIndex(cmd *cobra.Command, args []string) error {
	if indexYouTube == "" && len(args) == 0 {
		return errors.New("index: a file, a directory or --youtube is required")
	}

	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx := cmd.Context()

	if indexYouTube != "" {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		fmt.Println("Downloading audio from YouTube...")
		id, n, err := svc.IndexYouTube(ctx, indexYouTube)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %q (%d fingerprints)\n", id, n)
	}

	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		found, err := utils.FindFiles(arg, audio.IsAudioFile)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", arg, err)
		}
		files = append(files, found...)
	}
	if indexSongID != "" && len(files) != 1 {
		return errors.New("index: --id needs exactly one file")
	}

	switch len(files) {
	case 0:
		return nil
	case 1:
		n, err := svc.IndexFile(ctx, files[0], indexSongID)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %s (%d fingerprints)\n", files[0], n)
		return nil
	}
	return indexMany(ctx, svc, files)
}

// indexMany indexes files one after another behind a progress bar. A file
// that fails is logged and skipped.
func indexMany(ctx context.Context, svc *bandprint.Service, files []string) error {
	p := mpb.NewWithContext(ctx, mpb.WithWidth(64))
	bar := p.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Indexing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)

	failed := 0
	for _, path := range files {
		start := time.Now()
		if _, err := svc.IndexFile(ctx, path, ""); err != nil {
			if ctx.Err() != nil {
				bar.Abort(false)
				p.Wait()
				return ctx.Err()
			}
			failed++
			log.Warnf("Skipping %s: %v", path, err)
		}
		bar.EwmaIncrement(time.Since(start))
	}
	p.Wait()

	fmt.Printf("Indexed %d of %d files\n", len(files)-failed, len(files))
	return nil
}
