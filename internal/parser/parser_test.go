package parser

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseManifest(t *testing.T) {
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:4",
		"",
		"  seg_000.ts  ",
		"/movies/m1/720p/seg_001.m4s?token=abc",
		"https://cdn.example.com/a/seg_002.ts",
		"seg_003",
		"seg_001.ts",
		".hidden",
		"seg_004.part.ts",
	}, "\r\n")

	got, err := ParseManifest(strings.NewReader(manifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	want := []string{"seg_000", "seg_001", "seg_002", "seg_003", ".hidden", "seg_004"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestParseManifest_Empty(t *testing.T) {
	got, err := ParseManifest(strings.NewReader("#EXTM3U\n\n# only comments\n"))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no segments, got %v", got)
	}
}

func TestSegmentIDFromLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"seg_1.ts", "seg_1"},
		{"dir/", ""},
		{"?only=query", ""},
		{"# comment", ""},
		{"a/b/c", "c"},
	}
	for _, tt := range tests {
		if got := SegmentIDFromLine(tt.line); got != tt.want {
			t.Errorf("SegmentIDFromLine(%q): expected %q, got %q", tt.line, tt.want, got)
		}
	}
}

func TestReadManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	if err := os.WriteFile(path, []byte("s1.ts\ns2.ts\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := ReadManifestFile(path)
	if err != nil {
		t.Fatalf("ReadManifestFile failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"s1", "s2"}) {
		t.Errorf("unexpected segments %v", got)
	}

	if _, err := ReadManifestFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseStreamDescriptor(t *testing.T) {
	tests := []struct {
		in   string
		want StreamDescriptor
	}{
		{"m1_720p", StreamDescriptor{StreamID: "m1_720p", MovieID: "m1", Quality: "720p"}},
		{" m1_hd_extra ", StreamDescriptor{StreamID: "m1_hd_extra", MovieID: "m1", Quality: "hd_extra"}},
		{"legacy", StreamDescriptor{StreamID: "legacy"}},
		{"_720p", StreamDescriptor{StreamID: "_720p"}},
		{"m1_", StreamDescriptor{StreamID: "m1_"}},
	}
	for _, tt := range tests {
		got := ParseStreamDescriptor(tt.in)
		if got != tt.want {
			t.Errorf("ParseStreamDescriptor(%q): expected %+v, got %+v", tt.in, tt.want, got)
		}
	}

	if ParseStreamDescriptor("legacy").HasCatalogKey() {
		t.Error("legacy id should not have a catalog key")
	}
	if !ParseStreamDescriptor("m1_720p").HasCatalogKey() {
		t.Error("expected catalog key")
	}
}
