package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/himanishpuri/bandprint/pkg/utils"
)

// YTMetadata is the part of yt-dlp's info JSON used to name a song.
type YTMetadata struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Track    string  `json:"track"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
}

// SongID names the download: track over title, then the first artist-like
// field that is set.
func (m YTMetadata) SongID() string {
	title := m.Track
	if strings.TrimSpace(title) == "" {
		title = m.Title
	}
	for _, artist := range []string{m.Artist, m.Channel, m.Uploader} {
		if strings.TrimSpace(artist) != "" {
			return SongID(title, artist)
		}
	}
	return SongID(title, "")
}

// DownloadYouTube fetches the audio of a single video as MP3 into
// outputDir. yt-dlp and ffmpeg must be installed.
func DownloadYouTube(ctx context.Context, url, outputDir string) (string, *YTMetadata, error) {
	url, err := utils.YouTubeWatchURL(url)
	if err != nil {
		return "", nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
	}
	if err := utils.MakeDir(outputDir); err != nil {
		return "", nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	res, err := ytdlp.New().
		NoPlaylist().
		ExtractAudio().
		AudioFormat("mp3").
		PrintJSON().
		Output(filepath.Join(outputDir, "%(id)s.%(ext)s")).
		Run(ctx, url)
	if err != nil {
		return "", nil, fmt.Errorf("yt-dlp failed: %w", err)
	}

	meta, err := parseInfoJSON(res.Stdout)
	if err != nil {
		return "", nil, err
	}
	return filepath.Join(outputDir, meta.ID+".mp3"), meta, nil
}

// parseInfoJSON takes the last JSON object yt-dlp printed.
func parseInfoJSON(stdout string) (*YTMetadata, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var meta YTMetadata
		if err := json.Unmarshal([]byte(line), &meta); err != nil {
			return nil, fmt.Errorf("failed to parse yt-dlp JSON: %w", err)
		}
		if strings.TrimSpace(meta.ID) == "" {
			return nil, fmt.Errorf("missing video ID in yt-dlp output")
		}
		return &meta, nil
	}
	return nil, fmt.Errorf("no info JSON in yt-dlp output")
}
