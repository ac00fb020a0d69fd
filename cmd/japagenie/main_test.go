package main

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"japagenie/internal/config"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"Schengen visa question", 8, "Schengen..."},
		{"₦8m savings", 3, "₦8m..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "japagenie.log")
	log, closeLog, err := newLogger(config.GeneralConfig{LogLevel: "debug", LogFile: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("hello", "chat_id", "42")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("expected debug line in log file")
	}
}

func TestCheckBackend_InvalidURL(t *testing.T) {
	if err := checkBackend("not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestExisting_SkipsMissingAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jsonl")
	if err := os.WriteFile(a, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := existing([]string{a, "", filepath.Join(dir, "missing.db"), a, dir})
	if !slices.Equal(got, []string{a}) {
		t.Errorf("expected only %s, got %v", a, got)
	}
}

func TestCreateTarGz(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "visa_intelligence.jsonl")
	cfgPath := filepath.Join(dir, "config.json")
	os.WriteFile(logPath, []byte(`{"keywords":["visa"]}`+"\n"), 0o644)
	os.WriteFile(cfgPath, []byte(`{}`), 0o600)

	out := filepath.Join(dir, "backup.tar.gz")
	if err := createTarGz(out, []string{logPath, cfgPath}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)

	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name)
	}
	if !slices.Equal(names, []string{"visa_intelligence.jsonl", "config.json"}) {
		t.Errorf("unexpected archive entries %v", names)
	}
}
