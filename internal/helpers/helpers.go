package helpers

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConvertToSlug lowercases a string and reduces it to a filesystem-safe
// slug: spaces become underscores, runs of separators collapse, and
// anything outside [a-z0-9._-] is dropped.
func ConvertToSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prevSep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			prevSep = false
		case r == ' ', r == '_', r == '|':
			if !prevSep {
				b.WriteRune('_')
			}
			prevSep = true
		default:
			// dropped
		}
	}
	return strings.Trim(b.String(), "_-")
}

// BytesToSize renders a byte count with binary-unit suffixes, two decimal
// places ("1.50MB").
func BytesToSize(bytes uint64) string {
	const unit = 1024
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(unit)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(unit, float64(i)), sizes[i])
}

// SanitizePath cleans a path and strips any parent-directory traversal.
func SanitizePath(path string) string {
	cleaned := filepath.Clean(path)
	cleaned = strings.ReplaceAll(cleaned, "..", "")
	return filepath.Clean(cleaned)
}

// CheckAndMakeDir ensures a directory exists, creating it (and parents)
// when missing. Returns false if creation failed.
func CheckAndMakeDir(dir string) bool {
	if _, err := os.Stat(dir); err == nil {
		return true
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.WithError(err).Errorf("Failed to create directory %s", dir)
		return false
	}
	return true
}

// CounterWriter wraps a writer and counts bytes written, used to report
// download sizes.
type CounterWriter struct {
	Writer io.Writer
	Total  uint64
}

func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}
