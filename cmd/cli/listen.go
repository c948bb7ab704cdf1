package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/bandprint/pkg/bandprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
)

var (
	listenName      string
	listenChunks    int
	listenChunkSize int
	listenFor       time.Duration
)

var listenCmd = &cobra.Command{
	Use:   "listen <stream_url>",
	Short: "Identify songs playing on a live stream",
	Long: `Pull an MP3 or HLS stream, decode it chunk by chunk and identify the audio
every --chunks decoded chunks. Stops on Ctrl-C, after --for, or when the
stream ends.`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.StringVar(&listenName, "name", "", "display name of the stream")
	f.IntVar(&listenChunks, "chunks", 0, "decoded chunks per identification (default from config)")
	f.IntVar(&listenChunkSize, "chunk-size", 0, "bytes read per chunk (default from config)")
	f.DurationVar(&listenFor, "for", 0, "stop after this long (0 means until interrupted)")
}

func runListen(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	chunks := cfg.Stream.Chunks
	if listenChunks > 0 {
		chunks = listenChunks
	}
	chunkSize := cfg.Stream.ChunkSize
	if listenChunkSize > 0 {
		chunkSize = listenChunkSize
	}

	opts := []stream.ListenerOption{stream.WithChunkSize(chunkSize)}
	if listenName != "" {
		opts = append(opts, stream.WithName(listenName))
	}
	l := svc.NewListener(args[0], opts...)
	defer l.Close()

	ctx := cmd.Context()
	if listenFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, listenFor)
		defer cancel()
	}

	rx := l.Subscribe()
	w, err := l.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Listening to %s\n", l.Name())

	go func() {
		<-w.Done()
		l.Close()
	}()

	last := ""
	err = svc.Watch(ctx, rx, bandprint.WatchOptions{
		Chunks: chunks,
		OnResult: func(res bandprint.Result) {
			if !res.Found || res.Best.SongID == last {
				return
			}
			last = res.Best.SongID
			fmt.Printf("[%s] %s (%.1f%%)\n", time.Now().Format(time.TimeOnly), res.Best.SongID, res.Confidence)
		},
	})
	l.Deactivate()
	if werr := w.Wait(); werr != nil {
		return werr
	}
	if err != nil && ctx.Err() != nil {
		stats := w.Stats()
		log.Infof("Stopped after %d chunks (%d dropped)", stats.Chunks, stats.Dropped)
		return nil
	}
	return err
}
