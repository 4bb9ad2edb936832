package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "macros.json")
	body := `{"colonoscopy": "Indication: {indication}\nFindings: {findings}", "note": "Seen today."}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := runValidate(&out, path); err != nil {
		t.Fatalf("validate: %v", err)
	}
	got := out.String()
	for _, want := range []string{"colonoscopy: 2 fields indication,findings", "note: 0 fields (no placeholders)", "2 templates valid"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunValidateRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{empty, filepath.Join(dir, "missing.json")} {
		if err := runValidate(&bytes.Buffer{}, path); err == nil {
			t.Fatalf("%s: expected an error", path)
		}
	}
}
