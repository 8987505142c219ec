package helpers

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestConvertToSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple string",
			input:    "Hello World",
			expected: "hello_world",
		},
		{
			name:     "already lowercase",
			input:    "hello world",
			expected: "hello_world",
		},
		{
			name:     "with numbers",
			input:    "Avatar V2.0",
			expected: "avatar_v2.0",
		},
		{
			name:     "pipes become underscores",
			input:    "user@example.com|male|180",
			expected: "userexample.com_male_180",
		},
		{
			name:     "special characters removed",
			input:    "Test@Name#With$Special%Chars",
			expected: "testnamewithspecialchars",
		},
		{
			name:     "multiple spaces collapse",
			input:    "Hello   World",
			expected: "hello_world",
		},
		{
			name:     "underscores preserved",
			input:    "test_model_name",
			expected: "test_model_name",
		},
		{
			name:     "dashes preserved",
			input:    "my-cool-avatar",
			expected: "my-cool-avatar",
		},
		{
			name:     "leading and trailing separators removed",
			input:    "__test__",
			expected: "test",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertToSlug(tt.input)
			if got != tt.expected {
				t.Errorf("ConvertToSlug(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name     string
		input    uint64
		expected string
	}{
		{name: "zero", input: 0, expected: "0B"},
		{name: "bytes", input: 512, expected: "512.00B"},
		{name: "kilobytes", input: 1536, expected: "1.50KB"},
		{name: "megabytes", input: 1572864, expected: "1.50MB"},
		{name: "gigabytes", input: 1610612736, expected: "1.50GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesToSize(tt.input)
			if got != tt.expected {
				t.Errorf("BytesToSize(%d) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "traversal stripped", input: "../../etc/passwd"},
		{name: "embedded traversal", input: "models/../../secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePath(tt.input)
			if filepath.IsAbs(got) {
				t.Errorf("SanitizePath(%q) = %q, expected a relative path", tt.input, got)
			}
			for _, part := range filepath.SplitList(got) {
				if part == ".." {
					t.Errorf("SanitizePath(%q) = %q still contains traversal", tt.input, got)
				}
			}
		})
	}
}

func TestCheckAndMakeDir(t *testing.T) {
	tmpDir := t.TempDir()

	nested := filepath.Join(tmpDir, "a", "b", "c")
	if !CheckAndMakeDir(nested) {
		t.Fatalf("Expected CheckAndMakeDir to create %s", nested)
	}

	info, err := os.Stat(nested)
	if err != nil {
		t.Fatalf("Expected directory to exist: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("Expected %s to be a directory", nested)
	}

	// Idempotent on an existing directory.
	if !CheckAndMakeDir(nested) {
		t.Error("Expected CheckAndMakeDir to succeed on an existing directory")
	}
}

func TestCounterWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := &CounterWriter{Writer: &buf}

	payload := []byte("some counted bytes")
	n, err := cw.Write(payload)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(payload) {
		t.Errorf("Expected %d bytes written, got %d", len(payload), n)
	}
	if cw.Total != uint64(len(payload)) {
		t.Errorf("Expected total %d, got %d", len(payload), cw.Total)
	}

	cw.Write([]byte("more"))
	if cw.Total != uint64(len(payload)+4) {
		t.Errorf("Expected running total %d, got %d", len(payload)+4, cw.Total)
	}
}
