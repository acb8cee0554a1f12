package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsImageFile(t *testing.T) {
	tests := map[string]bool{
		"scene.png":                          true,
		"TCI_10m.TIF":                        true,
		"scene.webp":                         true,
		"notes.txt":                          false,
		"noext":                              false,
		"https://example.com/tci.jpg?sig=ab": true,
	}
	for name, want := range tests {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestGenerateOutputFilename(t *testing.T) {
	got := GenerateOutputFilename("/data/toulon:2020.png", "out", "_overlay", "")
	want := filepath.Join("out", "toulon_2020_overlay.jpg")
	if got != want {
		t.Errorf("GenerateOutputFilename() = %s, want %s", got, want)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename(" a/b*c. "); got != "a_b_c" {
		t.Errorf("SanitizeFilename() = %q", got)
	}
}

func TestEnsureDirAndFileExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if FileExists(dir) {
		t.Error("A directory is not a file")
	}

	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("x"), 0644)
	if !FileExists(path) {
		t.Error("Expected file to exist")
	}
}
