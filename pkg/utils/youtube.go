package utils

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrNotYouTube is returned for URLs that do not name a single YouTube video.
var ErrNotYouTube = errors.New("not a YouTube video URL")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

func isYouTubeHost(host string) bool {
	host = strings.ToLower(host)
	for _, domain := range []string{"youtube.com", "youtu.be"} {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// YouTubeVideoID returns the 11-character id of a watch, youtu.be or
// shorts URL.
func YouTubeVideoID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotYouTube, err)
	}
	if !isYouTubeHost(u.Hostname()) {
		return "", fmt.Errorf("%w: host %q", ErrNotYouTube, u.Host)
	}

	var id string
	switch path := strings.TrimSuffix(u.Path, "/"); {
	case strings.HasSuffix(strings.ToLower(u.Hostname()), "youtu.be"):
		id = strings.TrimPrefix(path, "/")
	case path == "/watch":
		id = u.Query().Get("v")
	case strings.HasPrefix(path, "/shorts/"):
		id = strings.TrimPrefix(path, "/shorts/")
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: no video id in %s", ErrNotYouTube, raw)
	}
	return id, nil
}

// YouTubeWatchURL rewrites any accepted form to the canonical watch URL,
// dropping playlist and timestamp parameters.
func YouTubeWatchURL(raw string) (string, error) {
	id, err := YouTubeVideoID(raw)
	if err != nil {
		return "", err
	}
	return "https://www.youtube.com/watch?v=" + id, nil
}
