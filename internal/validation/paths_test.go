package validation

import (
	"testing"
)

func TestValidateFilename(t *testing.T) {
	testCases := []struct {
		name        string
		filename    string
		expectValid bool
	}{
		{"simple", "file.txt", true},
		{"with_dots", "mesh.v1.2.3.geo", true},
		{"hidden_file", ".bashrc", true},
		{"spaces", "run output.log", true},
		{"contains_dots", "file..txt", true},
		{"colon", "results:2024.csv", true},

		{"empty", "", false},
		{"parent_dir", "..", false},
		{"current_dir", ".", false},
		{"unix_separator", "dir/file.txt", false},
		{"windows_separator", "dir\\file.txt", false},
		{"traversal_attempt", "../etc/passwd", false},
		{"null_byte", "file\x00.txt", false},
		{"absolute_path", "/etc/passwd", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateFilename(tc.filename)
			if tc.expectValid && err != nil {
				t.Errorf("Expected %q to be valid, got error: %v", tc.filename, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("Expected %q to be rejected", tc.filename)
			}
		})
	}
}

func TestLocalName(t *testing.T) {
	testCases := []struct {
		remotePath string
		expected   string
		expectErr  bool
	}{
		{"/data/results.tar.gz", "results.tar.gz", false},
		{"data/run/", "run", false},
		{"/a/../b.txt", "b.txt", false},
		{`\win\style.txt`, "style.txt", false},
		{"/", "", true},
		{"/..", "", true},
		{"", "", true},
		{"/data/bad\x00name", "", true},
	}

	for _, tc := range testCases {
		got, err := LocalName(tc.remotePath)
		if tc.expectErr {
			if err == nil {
				t.Errorf("LocalName(%q) = %q, expected error", tc.remotePath, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("LocalName(%q) unexpected error: %v", tc.remotePath, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("LocalName(%q) = %q, expected %q", tc.remotePath, got, tc.expected)
		}
	}
}
