package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStripExt(t *testing.T) {
	tests := map[string]string{
		"song.mp3":        "song",
		"a.b.wav":         "a.b",
		"noext":           "noext",
		"Artist - X.flac": "Artist - X",
	}
	for in, want := range tests {
		if got := StripExt(in); got != want {
			t.Errorf("StripExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mp3", "a.wav", "notes.txt", "sub/c.mp3"} {
		path := filepath.Join(dir, name)
		if err := MakeDir(filepath.Dir(path)); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := FindFiles(dir, func(p string) bool { return !strings.HasSuffix(p, ".txt") })
	if err != nil {
		t.Fatalf("FindFiles() error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.wav"),
		filepath.Join(dir, "b.mp3"),
		filepath.Join(dir, "sub", "c.mp3"),
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("FindFiles() = %v, want %v", got, want)
	}

	single, err := FindFiles(want[0], func(string) bool { return false })
	if err != nil || len(single) != 1 || single[0] != want[0] {
		t.Errorf("FindFiles(file) = %v, %v", single, err)
	}

	if _, err := FindFiles(filepath.Join(dir, "missing"), nil); err == nil {
		t.Error("expected error for missing root")
	}
}
