package playlist

import "net/url"

// ByteRange identifies the sub-range of a resource holding one segment.
type ByteRange struct {
	Length int64
	Offset int64
}

// EncryptionInfo carries the raw EXT-X-KEY attributes governing a segment.
// Interpretation (method support, IV parsing, key retrieval) belongs to the
// keys package.
type EncryptionInfo struct {
	Method string
	KeyURI string
	IV     string
}

// Segment is one entry of a media playlist. Index is 0-based playlist order
// and defines the final output ordering; it never changes once assigned.
type Segment struct {
	Index      int
	URI        string
	Duration   float64
	ByteRange  *ByteRange
	Encryption *EncryptionInfo
}

// Media is a fully resolved media playlist: ordered segments with absolute
// URIs plus the encryption metadata encountered while parsing.
type Media struct {
	Source   string
	Base     *url.URL
	Segments []Segment
}

// Encrypted reports whether any segment carries encryption metadata.
func (m *Media) Encrypted() bool {
	for i := range m.Segments {
		if m.Segments[i].Encryption != nil {
			return true
		}
	}
	return false
}

// Variant describes one rendition listed in a master playlist.
type Variant struct {
	URI        string
	Bandwidth  uint32
	Resolution string
	Codecs     string
}

// Resolved is the outcome of playlist resolution: the media playlist to
// download, plus variant details when the root document was a master.
type Resolved struct {
	Media        *Media
	Variant      *Variant
	VariantCount int
}
