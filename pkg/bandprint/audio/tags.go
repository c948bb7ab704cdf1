package audio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/himanishpuri/bandprint/pkg/utils"
)

var ErrNoTitle = errors.New("audio: no title tag")

// SongID builds the "Title - Artist" identifier used for indexed songs.
func SongID(title, artist string) string {
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)
	if artist == "" {
		return title
	}
	return title + " - " + artist
}

// SongIDFromTags reads ID3/MP4/FLAC/OGG tags of path.
func SongIDFromTags(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(m.Title()) == "" {
		return "", ErrNoTitle
	}
	return SongID(m.Title(), m.Artist()), nil
}

// SongIDForFile prefers tags and falls back to the file name.
func SongIDForFile(path string) string {
	if id, err := SongIDFromTags(path); err == nil {
		return id
	}
	return utils.StripExt(filepath.Base(path))
}
