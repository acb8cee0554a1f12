package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true, "tif": true, "tiff": true,
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// GetFileExtension returns the lower-case file extension without the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsImageFile reports whether a path or URL names a scene format we can decode
func IsImageFile(filename string) bool {
	if i := strings.IndexAny(filename, "?#"); i >= 0 && strings.Contains(filename, "://") {
		filename = filename[:i]
	}
	return imageExts[GetFileExtension(filename)]
}

// GenerateOutputFilename builds <outputDir>/<input base><suffix>.<format>
func GenerateOutputFilename(inputFile, outputDir, suffix, format string) string {
	baseName := filepath.Base(inputFile)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))

	if format == "" {
		format = "jpg"
	}

	outputName := fmt.Sprintf("%s%s.%s", SanitizeFilename(nameWithoutExt), suffix, format)
	return filepath.Join(outputDir, outputName)
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// SanitizeFilename replaces characters that are invalid in file names
func SanitizeFilename(filename string) string {
	result := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, filename)

	return strings.Trim(result, " .")
}
