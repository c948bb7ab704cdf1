package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelsFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: WARN, Output: &buf})

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below WARN were written: %q", out)
	}
	if !strings.Contains(out, "warn 3") || !strings.Contains(out, "error 4") {
		t.Errorf("missing messages: %q", out)
	}
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("error record not at ERROR level: %q", out)
	}

	buf.Reset()
	l.SetLevel(DEBUG)
	l.Debugf("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("SetLevel(DEBUG) had no effect: %q", buf.String())
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		format string
		args   []any
		want   string
	}{
		{"100% done", nil, "100% done"},
		{"indexed %d of %d", []any{3, 4}, "indexed 3 of 4"},
		{"rate %d%%", []any{50}, "rate 50%"},
	}
	for _, tt := range tests {
		if got := message(tt.format, tt.args); got != tt.want {
			t.Errorf("message(%q, %v) = %q, want %q", tt.format, tt.args, got, tt.want)
		}
	}
}

func TestMessageWithoutArgsIsWrittenVerbatim(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: INFO, Output: &buf})
	l.sl.Info(message("100% done", nil))
	if !strings.Contains(buf.String(), "100% done") {
		t.Errorf("record = %q", buf.String())
	}
}

func TestJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: INFO, Output: &buf, JSON: true, Prefix: "stream"}).With("listener", "abc")
	l.Infof("started")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if rec["msg"] != "started" || rec["listener"] != "abc" || rec["component"] != "stream" {
		t.Errorf("record = %v", rec)
	}
}

func TestFatalfExits(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: INFO, Output: &buf})
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatalf("giving up: %s", "reason")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "level=FATAL") {
		t.Errorf("fatal record: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{" Warning ", WARN, true},
		{"ERROR", ERROR, true},
		{"verbose", INFO, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, ok)
		}
	}
}
