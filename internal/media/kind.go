// Package media holds the value types shared by the demux engine: stream
// kinds, codec parameters, rational time bases, presentation time and
// packets.
package media

import "fmt"

// Kind identifies the class of elementary stream a sink carries.
type Kind uint8

const (
	KindVideo Kind = iota
	KindAudio
	KindSubtitle
)

// Kinds lists the routable kinds in registry order.
var Kinds = [...]Kind{KindVideo, KindAudio, KindSubtitle}

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// MediaType is the container's classification of a stream before the
// registry filters it down to a Kind.
type MediaType uint8

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
	MediaTypeSubtitle
	MediaTypeData
	MediaTypeAttachment
)

// String returns the string representation of MediaType
func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeData:
		return "data"
	case MediaTypeAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// Kind maps a media type onto a routable Kind. Data, attachment and unknown
// streams have no kind.
func (t MediaType) Kind() (Kind, bool) {
	switch t {
	case MediaTypeVideo:
		return KindVideo, true
	case MediaTypeAudio:
		return KindAudio, true
	case MediaTypeSubtitle:
		return KindSubtitle, true
	default:
		return 0, false
	}
}

// MarshalText encodes a Kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a Kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	kind, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown stream kind %q", b)
	}
	*k = kind
	return nil
}

// ParseKind parses a Kind name.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
