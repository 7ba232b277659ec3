package parser

import "strings"

// StreamDescriptor identifies a stream. MovieID and Quality are only set
// when the stream id has the <movieId>_<quality> form.
type StreamDescriptor struct {
	StreamID string
	MovieID  string
	Quality  string
}

// ParseStreamDescriptor splits streamID on its first underscore. Ids without
// a usable separator are kept as legacy ids.
func ParseStreamDescriptor(streamID string) StreamDescriptor {
	trimmed := strings.TrimSpace(streamID)
	desc := StreamDescriptor{StreamID: trimmed}

	sep := strings.IndexByte(trimmed, '_')
	if sep <= 0 || sep == len(trimmed)-1 {
		return desc
	}
	desc.MovieID = trimmed[:sep]
	desc.Quality = trimmed[sep+1:]
	return desc
}

// HasCatalogKey reports whether the movie catalog can be consulted.
func (d StreamDescriptor) HasCatalogKey() bool {
	return d.MovieID != "" && d.Quality != ""
}
