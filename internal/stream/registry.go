// Package stream holds the per-kind stream registry built once when a
// container is loaded.
package stream

import (
	"fmt"
	"strings"

	"github.com/zsiec/splitter/internal/media"
)

// Descriptor is one routable container stream. Descriptors are immutable
// after Populate.
type Descriptor struct {
	ID           int               `json:"id"`
	Kind         media.Kind        `json:"kind"`
	Codec        media.CodecParams `json:"codec"`
	TimeBase     media.Rational    `json:"time_base"`
	Language     string            `json:"language,omitempty"`
	Title        string            `json:"title,omitempty"`
	FrameCount   int64             `json:"frame_count,omitempty"`
	IndexEntries int               `json:"index_entries,omitempty"`
}

// Format returns the sink format that carries this stream.
func (d Descriptor) Format() media.Format {
	return media.Format{
		Kind:     d.Kind,
		Codec:    d.Codec,
		TimeBase: d.TimeBase,
		Language: d.Language,
	}
}

// Describe returns a display name, e.g. "S: English [eng] (subrip)".
func (d Descriptor) Describe() string {
	var b strings.Builder
	switch d.Kind {
	case media.KindVideo:
		b.WriteString("V: ")
	case media.KindAudio:
		b.WriteString("A: ")
	case media.KindSubtitle:
		b.WriteString("S: ")
	}
	if d.Title != "" {
		b.WriteString(d.Title)
		b.WriteByte(' ')
	}
	if d.Language != "" {
		fmt.Fprintf(&b, "[%s] ", d.Language)
	}
	fmt.Fprintf(&b, "(%s)", d.Codec)
	return b.String()
}

// Registry holds the descriptors of one container, grouped into the fixed
// Video, Audio and Subtitle sequences. The global index order is all video
// streams, then audio, then subtitle.
type Registry struct {
	video    []Descriptor
	audio    []Descriptor
	subtitle []Descriptor
}

// Populate classifies container streams into the three kinds. Streams of
// any other media type are dropped.
func Populate(streams []media.StreamInfo) *Registry {
	r := &Registry{}
	for _, s := range streams {
		codec := normalizeCodec(s.Codec)

		kind, ok := s.Type.Kind()
		if !ok {
			continue
		}

		d := Descriptor{
			ID:           s.Index,
			Kind:         kind,
			Codec:        codec,
			TimeBase:     s.TimeBase,
			Language:     s.Metadata["language"],
			Title:        s.Metadata["title"],
			FrameCount:   s.FrameCount,
			IndexEntries: s.IndexEntries,
		}

		switch kind {
		case media.KindVideo:
			r.video = append(r.video, d)
		case media.KindAudio:
			r.audio = append(r.audio, d)
		case media.KindSubtitle:
			r.subtitle = append(r.subtitle, d)
		}
	}
	return r
}

// normalizeCodec maps the scripted subtitle codec onto plain text so
// downstream consumers never see the scripted variant.
func normalizeCodec(c media.CodecParams) media.CodecParams {
	if c.ID == media.CodecSSA {
		c.ID = media.CodecText
	}
	return c
}

func (r *Registry) list(kind media.Kind) []Descriptor {
	switch kind {
	case media.KindVideo:
		return r.video
	case media.KindAudio:
		return r.audio
	case media.KindSubtitle:
		return r.subtitle
	default:
		return nil
	}
}

// Streams returns a copy of the descriptors of one kind.
func (r *Registry) Streams(kind media.Kind) []Descriptor {
	l := r.list(kind)
	out := make([]Descriptor, len(l))
	copy(out, l)
	return out
}

// First returns the first descriptor of a kind.
func (r *Registry) First(kind media.Kind) (Descriptor, bool) {
	l := r.list(kind)
	if len(l) == 0 {
		return Descriptor{}, false
	}
	return l[0], true
}

// FindByID looks a descriptor up by container stream index.
func (r *Registry) FindByID(id int) (Descriptor, bool) {
	for _, kind := range media.Kinds {
		for _, d := range r.list(kind) {
			if d.ID == id {
				return d, true
			}
		}
	}
	return Descriptor{}, false
}

// Count returns the number of registered streams across all kinds.
func (r *Registry) Count() int {
	return len(r.video) + len(r.audio) + len(r.subtitle)
}

// CountOf returns the number of registered streams of one kind.
func (r *Registry) CountOf(kind media.Kind) int {
	return len(r.list(kind))
}

// Empty reports whether no stream survived classification.
func (r *Registry) Empty() bool {
	return r.Count() == 0
}

// KindOf maps a global index onto its kind and index within that kind.
func (r *Registry) KindOf(index int) (media.Kind, int, bool) {
	if index < 0 {
		return 0, 0, false
	}
	for _, kind := range media.Kinds {
		n := len(r.list(kind))
		if index < n {
			return kind, index, true
		}
		index -= n
	}
	return 0, 0, false
}

// At returns the descriptor at a global index.
func (r *Registry) At(index int) (Descriptor, bool) {
	kind, local, ok := r.KindOf(index)
	if !ok {
		return Descriptor{}, false
	}
	return r.list(kind)[local], true
}

// All returns every descriptor in global index order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, r.Count())
	for _, kind := range media.Kinds {
		out = append(out, r.list(kind)...)
	}
	return out
}
