package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

/*
	Format of a manifest

one segment reference per line, for example

	#EXTM3U
	#EXTINF:4.0,
	seg_000.ts
	/movies/m1/720p/seg_001.m4s?token=abc
	seg_002

blank lines and lines starting with # are skipped
the query string is dropped, then the last path element is taken
the segment id is that element up to its first dot (a leading dot is kept)
ids seen before are skipped, the first occurrence keeps its position
*/

const maxManifestLine = 1024 * 1024

// ParseManifest reads segment ids from r in playlist order.
func ParseManifest(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxManifestLine)

	seen := make(map[string]struct{})
	segments := make([]string, 0)
	for scanner.Scan() {
		id := SegmentIDFromLine(scanner.Text())
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		segments = append(segments, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return segments, nil
}

// SegmentIDFromLine returns the segment id referenced by one manifest line,
// or "" when the line holds none.
func SegmentIDFromLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	if i := strings.IndexByte(line, '?'); i >= 0 {
		line = line[:i]
	}
	name := line
	if i := strings.LastIndexByte(line, '/'); i >= 0 {
		name = line[i+1:]
	}
	if dot := strings.IndexByte(name, '.'); dot > 0 {
		name = name[:dot]
	}
	return name
}

func ReadManifestFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	return ParseManifest(f)
}
